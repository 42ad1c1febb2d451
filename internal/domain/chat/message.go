package chat

import (
	"sort"
	"time"
)

// Message is a single direct message about a listing. Messages are append-only:
// once stored they are never mutated or deleted by this subsystem.
type Message struct {
	ID         string
	SenderID   string
	ReceiverID string
	ListingID  string
	Body       string
	SentAt     time.Time
	// ReadCount is carried by the data model but never computed.
	ReadCount int
}

// Counterpart returns the other participant of m as seen by viewer.
func (m Message) Counterpart(viewer string) string {
	if m.ReceiverID == viewer {
		return m.SenderID
	}
	return m.ReceiverID
}

// Involves reports whether viewer sent or received m.
func Involves(m Message, viewer string) bool {
	return viewer != "" && (m.SenderID == viewer || m.ReceiverID == viewer)
}

// Pair is an unordered pair of participants.
type Pair struct {
	A string
	B string
}

// NewPair builds a pair with members in canonical order.
func NewPair(a, b string) Pair {
	if b < a {
		a, b = b, a
	}
	return Pair{A: a, B: b}
}

// Contains reports whether both ids are the two members of the pair.
func (p Pair) Contains(x, y string) bool {
	return (p.A == x && p.B == y) || (p.A == y && p.B == x)
}

// ThreadKey identifies a conversation from one viewer's perspective.
type ThreadKey struct {
	ListingID     string
	CounterpartID string
}

// DeriveKey maps a message to the thread it belongs to for viewer.
func DeriveKey(m Message, viewer string) ThreadKey {
	return ThreadKey{ListingID: m.ListingID, CounterpartID: m.Counterpart(viewer)}
}

// Pair returns the participant pair of the thread for viewer.
func (k ThreadKey) Pair(viewer string) Pair {
	return NewPair(viewer, k.CounterpartID)
}

// String renders the key as "listing/counterpart".
func (k ThreadKey) String() string {
	return k.ListingID + "/" + k.CounterpartID
}

// Less orders keys by listing, then counterpart.
func (k ThreadKey) Less(o ThreadKey) bool {
	if k.ListingID != o.ListingID {
		return k.ListingID < o.ListingID
	}
	return k.CounterpartID < o.CounterpartID
}

// Before orders messages by (SentAt, ID).
func Before(a, b Message) bool {
	if !a.SentAt.Equal(b.SentAt) {
		return a.SentAt.Before(b.SentAt)
	}
	return a.ID < b.ID
}

// SortMessages sorts in place by (SentAt, ID) ascending.
func SortMessages(messages []Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return Before(messages[i], messages[j])
	})
}
