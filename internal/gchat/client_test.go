package gchat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestPostReplyThreaded(t *testing.T) {
	t.Parallel()

	var gotPath, gotQuery, gotAuth string
	var gotBody chatMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("messageReplyOption")
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	tokens := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok"})
	client := NewReplyClient(nil, srv.URL, tokens, 0)

	err := client.PostReply(context.Background(), ReplyTarget{
		Space:  "spaces/AAA",
		Thread: "spaces/AAA/threads/T1",
	}, "the reply")
	require.NoError(t, err)

	assert.Equal(t, "/v1/spaces/AAA/messages", gotPath)
	assert.Equal(t, replyFallback, gotQuery)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "the reply", gotBody.Text)
	require.NotNil(t, gotBody.Thread)
	assert.Equal(t, "spaces/AAA/threads/T1", gotBody.Thread.Name)
}

func TestPostReplyTopLevel(t *testing.T) {
	t.Parallel()

	var gotQuery string
	var gotBody chatMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewReplyClient(nil, srv.URL, nil, 0)

	err := client.PostReply(context.Background(), ReplyTarget{Space: "spaces/AAA"}, "hi")
	require.NoError(t, err)

	assert.Empty(t, gotQuery)
	assert.Nil(t, gotBody.Thread)
}

func TestPostReplyServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewReplyClient(nil, srv.URL, nil, 0)
	err := client.PostReply(context.Background(), ReplyTarget{Space: "spaces/AAA"}, "hi")
	assert.Error(t, err)
}

func TestPostReplyMissingSpace(t *testing.T) {
	t.Parallel()

	client := NewReplyClient(nil, "http://127.0.0.1:0", nil, 0)
	err := client.PostReply(context.Background(), ReplyTarget{}, "hi")
	assert.Error(t, err)
}
