// Package gchat owns the Google Chat boundary: webhook event decoding and
// classification, inbound request verification, and reply delivery.
package gchat

import (
	"errors"
	"regexp"
	"strings"
)

// EventType is the webhook event kind reported by Chat.
type EventType string

const (
	EventMessage          EventType = "MESSAGE"
	EventAddedToSpace     EventType = "ADDED_TO_SPACE"
	EventRemovedFromSpace EventType = "REMOVED_FROM_SPACE"
)

// Classification errors. ErrUnsupportedEvent marks well-formed payloads the
// relay does not process; the webhook still acknowledges those with 200.
var (
	ErrUnsupportedEvent = errors.New("gchat: unsupported event type")
	ErrMissingSpace     = errors.New("gchat: event has no space or thread identifier")
	ErrMissingSender    = errors.New("gchat: message event has no sender display name")
	ErrEmptyMessage     = errors.New("gchat: message event has no message body")
)

// WebhookPayload is the raw event body posted by Chat. Two envelopes are in
// the wild: the legacy top-level format (type/message/space) and the newer
// interaction-event format nested under "chat". Both are accepted.
type WebhookPayload struct {
	Type    string       `json:"type"`
	Message *Message     `json:"message,omitempty"`
	Space   *Space       `json:"space,omitempty"`
	User    *User        `json:"user,omitempty"`
	Chat    *ChatPayload `json:"chat,omitempty"`
}

// ChatPayload is the interaction-event envelope.
type ChatPayload struct {
	MessagePayload      *MessagePayload `json:"messagePayload,omitempty"`
	AddedToSpacePayload *SpacePayload   `json:"addedToSpacePayload,omitempty"`
}

// MessagePayload wraps the message and space of an interaction event.
type MessagePayload struct {
	Message *Message `json:"message,omitempty"`
	Space   *Space   `json:"space,omitempty"`
}

// SpacePayload wraps the space of a membership interaction event.
type SpacePayload struct {
	Space *Space `json:"space,omitempty"`
}

// Message is a Chat message resource.
type Message struct {
	Name   string  `json:"name,omitempty"`
	Text   string  `json:"text,omitempty"`
	Sender *User   `json:"sender,omitempty"`
	Thread *Thread `json:"thread,omitempty"`
	Space  *Space  `json:"space,omitempty"`
}

// User is a Chat user resource.
type User struct {
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Type        string `json:"type,omitempty"`
}

// Space is a Chat space resource. Older payloads report Type ("DM"/"ROOM"),
// newer ones SpaceType ("DIRECT_MESSAGE"/"SPACE").
type Space struct {
	Name        string `json:"name,omitempty"`
	Type        string `json:"type,omitempty"`
	SpaceType   string `json:"spaceType,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// Direct reports whether the space is a 1:1 direct-message space.
func (s *Space) Direct() bool {
	if s == nil {
		return false
	}
	return strings.EqualFold(s.Type, "DM") || strings.EqualFold(s.SpaceType, "DIRECT_MESSAGE")
}

// Thread is a Chat thread resource.
type Thread struct {
	Name string `json:"name,omitempty"`
}

// Event is the normalized inbound event handed to the delivery pipeline.
// It is immutable after classification.
type Event struct {
	Kind    EventType
	Space   string // space resource name, e.g. "spaces/AAAA"
	Thread  string // thread resource name, empty outside threaded spaces
	Sender  string // sender display name
	Text    string // message text with mention markup stripped
	Direct  bool   // true for 1:1 direct-message spaces
	AckOnly bool   // membership events: confirm receipt, no assistant calls
}

// ReplyTarget identifies where the generated reply is posted.
type ReplyTarget struct {
	Space  string
	Thread string
}

// ReplyTarget returns the space/thread pair the reply must go to.
func (e Event) ReplyTarget() ReplyTarget {
	return ReplyTarget{Space: e.Space, Thread: e.Thread}
}

// Bot mentions arrive inline as "<users/{id}>". The id varies per
// deployment, so the token is matched structurally, never by value.
var mentionPattern = regexp.MustCompile(`<users/[^>]+>`)

// StripMentions removes user-mention markup and normalizes the surrounding
// whitespace, leaving only what the user actually typed.
func StripMentions(text string) string {
	cleaned := mentionPattern.ReplaceAllString(text, " ")
	return strings.Join(strings.Fields(cleaned), " ")
}
