package chat

// MessageQuery selects stored messages. Empty fields do not constrain the result;
// a query with several Pairs matches a message belonging to any of them.
type MessageQuery struct {
	ListingID   string
	Pairs       []Pair
	Participant string
}

// ThreadQuery returns the history query for one thread seen by viewer.
func ThreadQuery(key ThreadKey, viewer string) MessageQuery {
	return MessageQuery{
		ListingID: key.ListingID,
		Pairs:     []Pair{key.Pair(viewer)},
	}
}

// Matches reports whether m satisfies the query.
func (q MessageQuery) Matches(m Message) bool {
	if q.ListingID != "" && m.ListingID != q.ListingID {
		return false
	}
	if q.Participant != "" && !Involves(m, q.Participant) {
		return false
	}
	if len(q.Pairs) == 0 {
		return true
	}
	for _, p := range q.Pairs {
		if p.Contains(m.SenderID, m.ReceiverID) {
			return true
		}
	}
	return false
}

// SubscriptionFilter selects inserts delivered to a subscriber. Feeds subscribe by
// listing (broader than the thread) and narrow client-side; inboxes subscribe by
// participant.
type SubscriptionFilter struct {
	ListingID   string
	Participant string
}

// Matches reports whether m should be delivered under the filter.
func (f SubscriptionFilter) Matches(m Message) bool {
	if f.ListingID != "" && m.ListingID != f.ListingID {
		return false
	}
	if f.Participant != "" && !Involves(m, f.Participant) {
		return false
	}
	return true
}
