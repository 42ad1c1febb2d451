package chat

import "time"

// Conversation is one row of a viewer's thread list, built from the most recent
// message of a thread.
type Conversation struct {
	Key             ThreadKey
	ListingID       string
	ListingName     string
	ParticipantID   string
	ParticipantName string
	LastMessageID   string
	LastSenderID    string
	LastMessageBody string
	LastMessageAt   time.Time
	// UnreadCount is always zero; read state is not tracked.
	UnreadCount int
}

// EntityKind selects the namespace of a display-name lookup.
type EntityKind string

const (
	EntityUser    EntityKind = "user"
	EntityListing EntityKind = "listing"
)
