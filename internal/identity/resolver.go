// Package identity derives stable conversation keys from chat event metadata.
//
// The key correlates a Chat space or thread with a conversation on the
// assistant API. The relay keeps no storage, so the derivation must be
// deterministic across restarts: same (space, thread) or (space, sender)
// always hashes to the same key.
//
//	Thread:           sha256("thread" US {thread})
//	Direct message:   sha256("dm" US {space} US {sender})
//	Space, no thread: sha256("space" US {space})
//
// US is the unit separator (0x1f), which cannot occur in Chat resource
// names. The mode tag keeps a DM key from ever colliding with a space key
// that happens to share the bare space identifier.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const sep = "\x1f"

// Mode tags, one per derivation path.
const (
	modeThread = "thread"
	modeDirect = "dm"
	modeSpace  = "space"
)

// Key is a fixed-width conversation key. It is recomputed on every event
// and never persisted locally.
type Key [sha256.Size]byte

// String returns the key as lowercase hex, the form sent to the assistant API.
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// ResolveKey derives the conversation key for an event.
//
// A present thread wins: every participant of the thread shares one
// assistant context. Without a thread, a direct-message space is keyed per
// (space, sender) so reused DM space identifiers stay isolated per user.
// A group space without a thread falls back to the space alone.
func ResolveKey(space, thread, sender string, directMessage bool) Key {
	thread = strings.TrimSpace(thread)
	space = strings.TrimSpace(space)
	sender = strings.TrimSpace(sender)

	switch {
	case thread != "":
		return digest(modeThread, thread)
	case directMessage:
		return digest(modeDirect, space, sender)
	default:
		return digest(modeSpace, space)
	}
}

func digest(mode string, fields ...string) Key {
	h := sha256.New()
	h.Write([]byte(mode))
	for _, f := range fields {
		h.Write([]byte(sep))
		h.Write([]byte(f))
	}
	var k Key
	copy(k[:], h.Sum(nil))
	return k
}
