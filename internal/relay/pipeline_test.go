package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaybot/chatrelay/internal/assistant"
	"github.com/relaybot/chatrelay/internal/gchat"
)

type fakeConversations struct {
	mu       sync.Mutex
	handles  map[string]assistant.ConversationHandle
	calls    []string
	keys     []string
	appended []string
	runGate  chan struct{} // when set, ExecuteRun blocks until closed
	failOn   string
	reply    string
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{
		handles: map[string]assistant.ConversationHandle{},
		reply:   "the reply",
	}
}

func (f *fakeConversations) EnsureConversation(ctx context.Context, key, displayName string) (assistant.ConversationHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "ensure")
	f.keys = append(f.keys, key)
	if f.failOn == "ensure" {
		return assistant.ConversationHandle{}, errors.New("remote down")
	}
	handle, ok := f.handles[key]
	if !ok {
		handle = assistant.ConversationHandle{UserID: "u", ConversationID: "c-" + key[:6]}
		f.handles[key] = handle
	}
	return handle, nil
}

func (f *fakeConversations) AppendMessage(ctx context.Context, conversationID, text, senderName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "append")
	if f.failOn == "append" {
		return errors.New("remote down")
	}
	f.appended = append(f.appended, text)
	return nil
}

func (f *fakeConversations) ExecuteRun(ctx context.Context, conversationID string) (string, error) {
	f.mu.Lock()
	gate := f.runGate
	f.calls = append(f.calls, "run")
	fail := f.failOn == "run"
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if fail {
		return "", errors.New("generation timed out")
	}
	return f.reply, nil
}

func (f *fakeConversations) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeReplies struct {
	mu        sync.Mutex
	delivered []gchat.ReplyTarget
	texts     []string
	done      chan struct{}
	fail      bool
}

func newFakeReplies() *fakeReplies {
	return &fakeReplies{done: make(chan struct{}, 16)}
}

func (f *fakeReplies) PostReply(ctx context.Context, target gchat.ReplyTarget, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	defer func() { f.done <- struct{}{} }()
	if f.fail {
		return errors.New("chat unreachable")
	}
	f.delivered = append(f.delivered, target)
	f.texts = append(f.texts, text)
	return nil
}

func waitDelivered(t *testing.T, replies *fakeReplies) {
	t.Helper()
	select {
	case <-replies.done:
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not finish in time")
	}
}

func messageEvent(thread string) gchat.Event {
	return gchat.Event{
		Kind:   gchat.EventMessage,
		Space:  "spaces/AAA",
		Thread: thread,
		Sender: "alice",
		Text:   "hello",
	}
}

func startedPipeline(t *testing.T, conversations *fakeConversations, replies *fakeReplies) *Pipeline {
	t.Helper()
	p := New(nil, conversations, replies, 2, 8)
	p.Start(context.Background())
	t.Cleanup(p.Stop)
	return p
}

func TestPipelineDeliversInOrder(t *testing.T) {
	t.Parallel()

	conversations := newFakeConversations()
	replies := newFakeReplies()
	p := startedPipeline(t, conversations, replies)

	require.NoError(t, p.Enqueue(context.Background(), messageEvent("spaces/AAA/threads/T1")))
	waitDelivered(t, replies)

	assert.Equal(t, []string{"ensure", "append", "run"}, conversations.callLog())
	assert.Equal(t, []string{"hello"}, conversations.appended)
	require.Len(t, replies.delivered, 1)
	assert.Equal(t, "spaces/AAA/threads/T1", replies.delivered[0].Thread)
	assert.Equal(t, []string{"the reply"}, replies.texts)
}

func TestAckOnlyEventSkipsAssistant(t *testing.T) {
	t.Parallel()

	conversations := newFakeConversations()
	replies := newFakeReplies()
	p := startedPipeline(t, conversations, replies)

	require.NoError(t, p.Enqueue(context.Background(), gchat.Event{
		Kind:    gchat.EventAddedToSpace,
		Space:   "spaces/AAA",
		AckOnly: true,
	}))

	// Give the worker a beat; nothing should have been called.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, conversations.callLog())
	assert.Empty(t, replies.delivered)
}

func TestSameThreadSharesKey(t *testing.T) {
	t.Parallel()

	conversations := newFakeConversations()
	replies := newFakeReplies()
	p := startedPipeline(t, conversations, replies)

	ev1 := messageEvent("spaces/AAA/threads/TX")
	ev2 := messageEvent("spaces/AAA/threads/TX")
	ev2.Sender = "bob"

	require.NoError(t, p.Enqueue(context.Background(), ev1))
	waitDelivered(t, replies)
	require.NoError(t, p.Enqueue(context.Background(), ev2))
	waitDelivered(t, replies)

	require.Len(t, conversations.keys, 2)
	assert.Equal(t, conversations.keys[0], conversations.keys[1])
	assert.Len(t, conversations.handles, 1)
}

func TestEnqueueReturnsBeforeRunCompletes(t *testing.T) {
	t.Parallel()

	conversations := newFakeConversations()
	conversations.runGate = make(chan struct{})
	replies := newFakeReplies()
	p := startedPipeline(t, conversations, replies)

	start := time.Now()
	require.NoError(t, p.Enqueue(context.Background(), messageEvent("")))
	assert.Less(t, time.Since(start), 100*time.Millisecond, "enqueue must not wait for the run")

	close(conversations.runGate)
	waitDelivered(t, replies)
}

func TestPipelineSurvivesCanceledRequestContext(t *testing.T) {
	t.Parallel()

	conversations := newFakeConversations()
	replies := newFakeReplies()
	p := startedPipeline(t, conversations, replies)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Enqueue(ctx, messageEvent("")))
	cancel() // webhook response already sent; pipeline must keep going

	waitDelivered(t, replies)
	assert.Len(t, replies.delivered, 1)
}

func TestFailureIsTerminal(t *testing.T) {
	t.Parallel()

	conversations := newFakeConversations()
	conversations.failOn = "append"
	replies := newFakeReplies()
	p := startedPipeline(t, conversations, replies)

	require.NoError(t, p.Enqueue(context.Background(), messageEvent("")))
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, []string{"ensure", "append"}, conversations.callLog())
	assert.Empty(t, replies.delivered)
}

func TestEnqueueQueueFull(t *testing.T) {
	t.Parallel()

	conversations := newFakeConversations()
	conversations.runGate = make(chan struct{})
	defer close(conversations.runGate)
	replies := newFakeReplies()

	p := New(nil, conversations, replies, 1, 1)
	p.Start(context.Background())
	t.Cleanup(p.Stop)

	// First event occupies the worker, second the queue slot.
	require.NoError(t, p.Enqueue(context.Background(), messageEvent("")))
	require.Eventually(t, func() bool {
		return len(conversations.callLog()) > 0
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Enqueue(context.Background(), messageEvent("")))

	err := p.Enqueue(context.Background(), messageEvent(""))
	assert.Error(t, err)
}

func TestEnqueueBeforeStart(t *testing.T) {
	t.Parallel()

	p := New(nil, newFakeConversations(), newFakeReplies(), 1, 1)
	assert.Error(t, p.Enqueue(context.Background(), messageEvent("")))
}
