package inbox

import (
	"context"
	"log/slog"
	"sort"

	"campus-messaging/internal/domain/chat"
)

const fallbackIDLength = 8

// Aggregator folds a viewer's messages into one Conversation per thread.
type Aggregator struct {
	Directory chat.Directory
	Logger    *slog.Logger
}

// Aggregate groups messages by thread key, keeps the most recent message of each
// thread and enriches the rows with display names. Enrichment failures fall back
// to synthesized names; a thread is never dropped. Messages that do not involve
// viewer are ignored.
func (a Aggregator) Aggregate(ctx context.Context, messages []chat.Message, viewer string) []chat.Conversation {
	latest := make(map[chat.ThreadKey]chat.Message)
	for _, m := range messages {
		if !chat.Involves(m, viewer) {
			continue
		}
		key := chat.DeriveKey(m, viewer)
		current, ok := latest[key]
		if !ok || chat.Before(current, m) {
			latest[key] = m
		}
	}
	conversations := make([]chat.Conversation, 0, len(latest))
	if len(latest) == 0 {
		return conversations
	}

	userIDs := make([]string, 0, len(latest))
	listingIDs := make([]string, 0, len(latest))
	seenUsers := make(map[string]struct{}, len(latest))
	seenListings := make(map[string]struct{}, len(latest))
	for key := range latest {
		if _, ok := seenUsers[key.CounterpartID]; !ok {
			seenUsers[key.CounterpartID] = struct{}{}
			userIDs = append(userIDs, key.CounterpartID)
		}
		if _, ok := seenListings[key.ListingID]; !ok {
			seenListings[key.ListingID] = struct{}{}
			listingIDs = append(listingIDs, key.ListingID)
		}
	}
	sort.Strings(userIDs)
	sort.Strings(listingIDs)
	userNames := a.lookup(ctx, chat.EntityUser, userIDs)
	listingNames := a.lookup(ctx, chat.EntityListing, listingIDs)

	for key, m := range latest {
		conversations = append(conversations, chat.Conversation{
			Key:             key,
			ListingID:       key.ListingID,
			ListingName:     nameOr(listingNames, key.ListingID, "Listing "),
			ParticipantID:   key.CounterpartID,
			ParticipantName: nameOr(userNames, key.CounterpartID, "User "),
			LastMessageID:   m.ID,
			LastSenderID:    m.SenderID,
			LastMessageBody: m.Body,
			LastMessageAt:   m.SentAt,
		})
	}
	sort.Slice(conversations, func(i, j int) bool {
		a, b := conversations[i], conversations[j]
		if !a.LastMessageAt.Equal(b.LastMessageAt) {
			return a.LastMessageAt.After(b.LastMessageAt)
		}
		return a.Key.Less(b.Key)
	})
	return conversations
}

func (a Aggregator) lookup(ctx context.Context, kind chat.EntityKind, ids []string) map[string]string {
	if a.Directory == nil || len(ids) == 0 {
		return nil
	}
	names, err := a.Directory.DisplayNames(ctx, kind, ids)
	if err != nil {
		if a.Logger != nil {
			a.Logger.Warn("display name lookup failed, using fallback names", "kind", string(kind), "count", len(ids), "error", err)
		}
		return nil
	}
	return names
}

func nameOr(names map[string]string, id, prefix string) string {
	if name, ok := names[id]; ok && name != "" {
		return name
	}
	return FallbackName(prefix, id)
}

// FallbackName synthesizes a display name from a truncated id.
func FallbackName(prefix, id string) string {
	runes := []rune(id)
	if len(runes) > fallbackIDLength {
		runes = runes[:fallbackIDLength]
	}
	return prefix + string(runes)
}
