package assistant

import "errors"

// ErrNotFound is returned by FindUser when no remote identity exists for a
// conversation key. Checked with errors.Is.
var ErrNotFound = errors.New("assistant: not found")

// UserHandle is the assistant API's identifier for a registered identity.
type UserHandle struct {
	ID string `json:"id"`
}

// ConversationHandle pairs a remote conversation with the user it belongs
// to. Both identifiers are owned by the assistant API; the relay only holds
// them for the duration of one pipeline run.
type ConversationHandle struct {
	ConversationID string
	UserID         string
}

type lookupResponse struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
}

type createUserRequest struct {
	ExternalID  string `json:"external_id"`
	DisplayName string `json:"display_name,omitempty"`
}

type createConversationRequest struct {
	UserID string `json:"user_id"`
}

type createConversationResponse struct {
	ID string `json:"id"`
}

type appendMessageRequest struct {
	Text       string `json:"text"`
	SenderName string `json:"sender_name,omitempty"`
}

type runResponse struct {
	Reply string `json:"reply"`
}
