package conversation

import (
	"sort"

	"github.com/saurabhrjk/admin-connect-chat/internal/domain"
)

// Group buckets msgs by the peer of current, dropping messages current may
// not observe. Each bucket is ordered by timestamp; equal timestamps keep
// their input order.
func Group(current *domain.User, adminID string, msgs []domain.Message) map[string][]domain.Message {
	threads := make(map[string][]domain.Message)
	if current == nil {
		return threads
	}
	for _, m := range msgs {
		if !Visible(current, adminID, m) {
			continue
		}
		peer := PeerOf(current.ID, m)
		threads[peer] = append(threads[peer], m)
	}
	for peer := range threads {
		SortThread(threads[peer])
	}
	return threads
}

// SortThread orders a conversation by timestamp ascending, stable on ties.
func SortThread(thread []domain.Message) {
	sort.SliceStable(thread, func(i, j int) bool {
		return thread[i].Timestamp.Before(thread[j].Timestamp)
	})
}

// Unread counts messages in thread authored by peerID that are not read yet.
func Unread(thread []domain.Message, peerID string) int {
	n := 0
	for _, m := range thread {
		if m.SenderID == peerID && !m.IsRead {
			n++
		}
	}
	return n
}

// Summarize fills in the last message preview and unread count of every
// contact from its thread in threads.
func Summarize(contacts []domain.Contact, threads map[string][]domain.Message) []domain.Contact {
	out := make([]domain.Contact, len(contacts))
	for i, c := range contacts {
		thread := threads[c.ID]
		c.UnreadCount = Unread(thread, c.ID)
		if len(thread) > 0 {
			last := thread[len(thread)-1]
			preview := Preview(last.Content, last.Type)
			ts := last.Timestamp
			c.LastMessage = &preview
			c.LastMessageTime = &ts
		}
		out[i] = c
	}
	return out
}
