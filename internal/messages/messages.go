// Package messages defines the chat transcript records produced by the
// session core and the store collaborator that owns them.
package messages

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lumachat/engage/pkg/types"
)

// Kind discriminates transcript records.
type Kind string

const (
	// KindChat is a plain chat message from either party.
	KindChat Kind = "chat"
	// KindSystem is a local system notice (queueing, closed, rejected call).
	KindSystem Kind = "system"
	// KindQuickReplies is an agent message carrying quick-reply options.
	KindQuickReplies Kind = "quick-replies"
	// KindTemplate is an agent message carrying a structured template.
	KindTemplate Kind = "template"
)

// AttachmentMeta describes an attachment carried by a chat message.
type AttachmentMeta struct {
	URL          string `json:"url"`
	OriginalURL  string `json:"originalUrl,omitempty"`
	OriginalName string `json:"originalName,omitempty"`
	Desc         string `json:"desc,omitempty"`
	MimeType     string `json:"mimeType,omitempty"`
	Size         int64  `json:"size,omitempty"`
}

// ResolvedURL prefers the original upload URL over the proxied one.
func (m AttachmentMeta) ResolvedURL() string {
	if m.OriginalURL != "" {
		return m.OriginalURL
	}
	return m.URL
}

// Message is one transcript record.
type Message struct {
	ID       string          `json:"id"`
	Kind     Kind            `json:"kind"`
	Body     string          `json:"body"`
	IsAgent  bool            `json:"isAgent"`
	FromID   string          `json:"fromId,omitempty"`
	FromNick string          `json:"fromNick,omitempty"`
	SentAt   time.Time       `json:"sentAt"`
	Meta     *AttachmentMeta `json:"meta,omitempty"`
	// QuickReplies holds the selectable options of a quick-replies message.
	QuickReplies []types.PostBack `json:"quickReplies,omitempty"`
	// ReplyPicked marks a quick-replies message whose option was used.
	ReplyPicked bool `json:"replyPicked,omitempty"`
	// Template holds the raw template payload of a template message.
	Template map[string]any `json:"template,omitempty"`
}

// Store is the message store collaborator. Implementations must be safe for
// concurrent use; the session runtime appends from the actor loop while
// hosts read for rendering.
type Store interface {
	// Append adds the message, assigning an ID when empty, and returns the ID.
	Append(msg Message) string
	// Remove deletes the message with the given ID. Unknown IDs are ignored.
	Remove(id string)
	// MarkReplyPicked flags a quick-replies message as used.
	MarkReplyPicked(id string)
	// List returns all messages in append order.
	List() []Message
}

// MemoryStore is the in-memory Store used by the widget and the tests.
type MemoryStore struct {
	mu    sync.Mutex
	seq   int
	order map[string]int
	byID  map[string]Message
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		order: make(map[string]int),
		byID:  make(map[string]Message),
	}
}

// Append implements Store.
func (s *MemoryStore) Append(msg Message) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}
	if _, exists := s.byID[msg.ID]; !exists {
		s.order[msg.ID] = s.seq
		s.seq++
	}
	s.byID[msg.ID] = msg
	return msg.ID
}

// Remove implements Store.
func (s *MemoryStore) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
	delete(s.order, id)
}

// MarkReplyPicked implements Store.
func (s *MemoryStore) MarkReplyPicked(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.byID[id]
	if !ok {
		return
	}
	msg.ReplyPicked = true
	s.byID[id] = msg
}

// List implements Store.
func (s *MemoryStore) List() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, 0, len(s.byID))
	for id := range s.byID {
		out = append(out, s.byID[id])
	}
	sort.Slice(out, func(i, j int) bool {
		return s.order[out[i].ID] < s.order[out[j].ID]
	})
	return out
}
