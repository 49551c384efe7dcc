package gchat

import "strings"

// Classify validates a webhook payload and normalizes it into an Event.
//
// Interaction-event envelopes are unwrapped first, then the legacy format.
// Membership events become ack-only Events that never reach the assistant.
// Payloads missing the identifiers needed for addressing are rejected so no
// pipeline is started for them.
func Classify(payload WebhookPayload) (Event, error) {
	if payload.Chat != nil {
		return classifyInteraction(*payload.Chat)
	}

	switch EventType(payload.Type) {
	case EventMessage:
		return classifyMessage(payload.Message, payload.Space)
	case EventAddedToSpace:
		return classifyMembership(payload.Space)
	default:
		return Event{}, ErrUnsupportedEvent
	}
}

func classifyInteraction(chat ChatPayload) (Event, error) {
	if chat.MessagePayload != nil {
		space := chat.MessagePayload.Space
		if space == nil && chat.MessagePayload.Message != nil {
			space = chat.MessagePayload.Message.Space
		}
		return classifyMessage(chat.MessagePayload.Message, space)
	}
	if chat.AddedToSpacePayload != nil {
		return classifyMembership(chat.AddedToSpacePayload.Space)
	}
	return Event{}, ErrUnsupportedEvent
}

func classifyMessage(msg *Message, space *Space) (Event, error) {
	if msg == nil {
		return Event{}, ErrEmptyMessage
	}
	if space == nil {
		space = msg.Space
	}

	ev := Event{Kind: EventMessage}
	if space != nil {
		ev.Space = strings.TrimSpace(space.Name)
		ev.Direct = space.Direct()
	}
	if msg.Thread != nil {
		ev.Thread = strings.TrimSpace(msg.Thread.Name)
	}
	if ev.Space == "" && ev.Thread == "" {
		return Event{}, ErrMissingSpace
	}

	if msg.Sender != nil {
		ev.Sender = strings.TrimSpace(msg.Sender.DisplayName)
	}
	if ev.Sender == "" {
		return Event{}, ErrMissingSender
	}

	ev.Text = StripMentions(msg.Text)
	return ev, nil
}

func classifyMembership(space *Space) (Event, error) {
	ev := Event{Kind: EventAddedToSpace, AckOnly: true}
	if space != nil {
		ev.Space = strings.TrimSpace(space.Name)
		ev.Direct = space.Direct()
	}
	if ev.Space == "" {
		return Event{}, ErrMissingSpace
	}
	return ev, nil
}
