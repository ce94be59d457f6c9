package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/florianilch/mindline/internal/resources"
)

// DefaultPollInterval is how often Poll refreshes when no interval is given.
const DefaultPollInterval = 4 * time.Second

var (
	// ErrEmptyMessage is returned by Send for blank text.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrNotRetryable is returned by Retry for an unknown or non-failed message.
	ErrNotRetryable = errors.New("message is not awaiting retry")
)

// Status is the delivery state of an entry.
type Status string

const (
	StatusSent    Status = "sent"
	StatusPending Status = "pending"
	StatusFailed  Status = "failed"
)

// Entry is a message as shown to the user.
type Entry struct {
	resources.Message
	Status Status
	// Err is the send failure of a failed entry.
	Err error
}

// API is the subset of the resource layer a conversation needs.
type API interface {
	GetConversation(ctx context.Context, id string) (*resources.Conversation, error)
	SendMessage(ctx context.Context, conversationID string, req resources.SendMessageRequest) (*resources.Message, error)
}

// Compile-time check that the resource service satisfies API.
var _ API = (*resources.Service)(nil)

// Option configures a Conversation.
type Option func(*Conversation)

// WithLogger sets the logger used for poll failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Conversation) {
		c.logger = logger
	}
}

// WithClientIDs replaces the generator for client message IDs.
func WithClientIDs(next func() string) Option {
	return func(c *Conversation) {
		c.newClientID = next
	}
}

// Conversation is the local state of one conversation. Safe for concurrent use.
type Conversation struct {
	id          string
	api         API
	logger      *slog.Logger
	newClientID func() string
	now         func() time.Time

	mu        sync.Mutex
	confirmed []resources.Message
	local     []Entry
	// sent holds messages confirmed by deliver, tagged with the generation at which
	// they were confirmed, until a refresh that started later has seen them.
	sent       []sentMessage
	generation uint64
}

type sentMessage struct {
	generation uint64
	msg        resources.Message
}

// New creates an empty view of the conversation with the given ID. Call Refresh or
// Poll to load it.
func New(api API, id string, opts ...Option) *Conversation {
	c := &Conversation{
		id:          id,
		api:         api,
		newClientID: uuid.NewString,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// ID returns the conversation ID.
func (c *Conversation) ID() string {
	return c.id
}

// Messages returns confirmed messages in server order, followed by local pending
// and failed messages in the order they were sent.
func (c *Conversation) Messages() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := make([]Entry, 0, len(c.confirmed)+len(c.local))
	for _, m := range c.confirmed {
		entries = append(entries, Entry{Message: m, Status: StatusSent})
	}
	return append(entries, c.local...)
}

// Send shows text as pending and posts it. On success the pending entry becomes the
// server's message; on failure it stays as failed until retried.
func (c *Conversation) Send(ctx context.Context, text string) (Entry, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Entry{}, ErrEmptyMessage
	}

	entry := Entry{
		Message: resources.Message{
			ConversationID: c.id,
			Content:        text,
			ClientID:       c.newClientID(),
			CreatedAt:      c.now(),
		},
		Status: StatusPending,
	}

	c.mu.Lock()
	c.local = append(c.local, entry)
	c.mu.Unlock()

	return c.deliver(ctx, entry)
}

// Retry re-sends a failed message identified by its client ID.
func (c *Conversation) Retry(ctx context.Context, clientID string) (Entry, error) {
	c.mu.Lock()
	i := c.localIndex(clientID)
	if i < 0 || c.local[i].Status != StatusFailed {
		c.mu.Unlock()
		return Entry{}, fmt.Errorf("%w: %s", ErrNotRetryable, clientID)
	}
	c.local[i].Status = StatusPending
	c.local[i].Err = nil
	entry := c.local[i]
	c.mu.Unlock()

	return c.deliver(ctx, entry)
}

func (c *Conversation) deliver(ctx context.Context, entry Entry) (Entry, error) {
	msg, err := c.api.SendMessage(ctx, c.id, resources.SendMessageRequest{
		Content:  entry.Content,
		ClientID: entry.ClientID,
	})

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		entry.Status = StatusFailed
		entry.Err = err
		if i := c.localIndex(entry.ClientID); i >= 0 {
			c.local[i] = entry
		}
		return entry, err
	}

	// A refresh may have already picked up the server copy.
	c.local = slices.DeleteFunc(c.local, func(e Entry) bool { return e.ClientID == entry.ClientID })
	if !slices.ContainsFunc(c.confirmed, func(m resources.Message) bool { return m.ID == msg.ID }) {
		c.confirmed = append(c.confirmed, *msg)
	}
	c.generation++
	c.sent = append(c.sent, sentMessage{generation: c.generation, msg: *msg})
	return Entry{Message: *msg, Status: StatusSent}, nil
}

// Refresh replaces the confirmed messages with the server's and drops pending
// entries the server now reports. Messages confirmed by Send while the fetch was in
// flight are kept even if the fetched list predates them. It reports whether the
// visible list changed.
func (c *Conversation) Refresh(ctx context.Context) (bool, error) {
	c.mu.Lock()
	started := c.generation
	c.mu.Unlock()

	conv, err := c.api.GetConversation(ctx, c.id)
	if err != nil {
		return false, err
	}

	fetched := make(map[string]struct{}, len(conv.Messages))
	delivered := make(map[string]struct{}, len(conv.Messages))
	for _, m := range conv.Messages {
		fetched[m.ID] = struct{}{}
		if m.ClientID != "" {
			delivered[m.ClientID] = struct{}{}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Sends confirmed before the fetch started are covered by the fetched list.
	c.sent = slices.DeleteFunc(c.sent, func(s sentMessage) bool {
		_, seen := fetched[s.msg.ID]
		return seen || s.generation <= started
	})
	messages := slices.Clone(conv.Messages)
	for _, s := range c.sent {
		messages = append(messages, s.msg)
	}

	changed := !slices.EqualFunc(c.confirmed, messages, func(a, b resources.Message) bool {
		return a.ID == b.ID && a.Content == b.Content
	})

	before := len(c.local)
	c.local = slices.DeleteFunc(c.local, func(e Entry) bool {
		_, ok := delivered[e.ClientID]
		return ok
	})
	changed = changed || len(c.local) != before

	c.confirmed = messages
	return changed, nil
}

// Poll refreshes immediately and then every interval until ctx is done, calling
// onChange with the current messages whenever they changed. Refresh failures are
// logged and polling continues. A non-positive interval uses DefaultPollInterval.
func (c *Conversation) Poll(ctx context.Context, interval time.Duration, onChange func([]Entry)) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		changed, err := c.Refresh(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			c.logger.WarnContext(ctx, "conversation refresh failed", "conversation_id", c.id, "error", err)
		case changed && onChange != nil:
			onChange(c.Messages())
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// localIndex finds a local entry by client ID. Callers hold mu.
func (c *Conversation) localIndex(clientID string) int {
	return slices.IndexFunc(c.local, func(e Entry) bool { return e.ClientID == clientID })
}
