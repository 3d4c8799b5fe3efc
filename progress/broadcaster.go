package progress

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/poiesic/docvec/core"
)

// DefaultBuffer is the per-subscription channel capacity.
const DefaultBuffer = 64

// Subscription is a stream of events. Read from Events until it is closed.
type Subscription struct {
	ch         chan core.ProgressEvent
	userID     string
	documentID string
	closed     bool // guarded by the broadcaster's mutex
	dropped    atomic.Int64
	b          *Broadcaster
}

// Events returns the channel events are delivered on.
func (s *Subscription) Events() <-chan core.ProgressEvent {
	return s.ch
}

// Dropped returns how many events were discarded because the buffer was full.
func (s *Subscription) Dropped() int {
	return int(s.dropped.Load())
}

// Close unsubscribes and closes the channel. Safe to call more than once.
func (s *Subscription) Close() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.remove(s)
}

// Broadcaster delivers progress events to user and document subscribers.
type Broadcaster struct {
	mu       sync.Mutex
	buffer   int
	users    map[string]map[*Subscription]struct{}
	docs     map[string]map[*Subscription]struct{}
	percents map[string]int
	closed   bool
	logger   *slog.Logger
}

// Option configures a Broadcaster.
type Option func(*Broadcaster) error

// WithBuffer sets the per-subscription channel capacity.
func WithBuffer(n int) Option {
	return func(b *Broadcaster) error {
		b.buffer = max(n, 1)
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broadcaster) error {
		if logger == nil {
			logger = slog.Default()
		}
		b.logger = logger.With("component", "progress")
		return nil
	}
}

// NewBroadcaster creates a Broadcaster.
func NewBroadcaster(opts ...Option) (*Broadcaster, error) {
	b := &Broadcaster{
		buffer:   DefaultBuffer,
		users:    make(map[string]map[*Subscription]struct{}),
		docs:     make(map[string]map[*Subscription]struct{}),
		percents: make(map[string]int),
		logger:   slog.Default().With("component", "progress"),
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// SubscribeUser streams every event for userID, including collection signals.
func (b *Broadcaster) SubscribeUser(userID string) *Subscription {
	return b.subscribe(userID, "")
}

// SubscribeDocument streams progress for one document. The channel is closed
// after the document's terminal event.
func (b *Broadcaster) SubscribeDocument(documentID string) *Subscription {
	return b.subscribe("", documentID)
}

func (b *Broadcaster) subscribe(userID, documentID string) *Subscription {
	s := &Subscription{
		userID:     userID,
		documentID: documentID,
		b:          b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	s.ch = make(chan core.ProgressEvent, b.buffer)
	if b.closed {
		s.closed = true
		close(s.ch)
		return s
	}
	if documentID != "" {
		addSub(b.docs, documentID, s)
	} else {
		addSub(b.users, userID, s)
	}
	return s
}

func addSub(m map[string]map[*Subscription]struct{}, key string, s *Subscription) {
	set, ok := m[key]
	if !ok {
		set = make(map[*Subscription]struct{})
		m[key] = set
	}
	set[s] = struct{}{}
}

// remove must be called with mu held.
func (b *Broadcaster) remove(s *Subscription) {
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)

	m, key := b.users, s.userID
	if s.documentID != "" {
		m, key = b.docs, s.documentID
	}
	if set, ok := m[key]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(m, key)
		}
	}
}

// Publish delivers event. Progress percentages are raised to the highest
// value already published for the document, so a retried run never moves a
// subscriber's progress backwards.
func (b *Broadcaster) Publish(event core.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	terminal := event.Type == core.EventProgress && event.Stage.IsTerminal()
	if event.Type == core.EventProgress && event.DocumentID != "" {
		if last, ok := b.percents[event.DocumentID]; ok && event.Percent < last {
			event.Percent = last
		}
		if terminal {
			delete(b.percents, event.DocumentID)
		} else {
			b.percents[event.DocumentID] = event.Percent
		}
	}

	for s := range b.users[event.UserID] {
		b.deliver(s, event)
	}
	if event.DocumentID == "" {
		return
	}
	for s := range b.docs[event.DocumentID] {
		b.deliver(s, event)
		if terminal {
			b.remove(s)
		}
	}
}

// deliver must be called with mu held. A full buffer loses its oldest event.
func (b *Broadcaster) deliver(s *Subscription, event core.ProgressEvent) {
	select {
	case s.ch <- event:
		return
	default:
	}
	select {
	case <-s.ch:
		if n := s.dropped.Add(1); n == 1 || n%100 == 0 {
			b.logger.Warn("slow subscriber, dropping events", "user", s.userID, "document", s.documentID, "dropped", n)
		}
	default:
	}
	s.ch <- event
}

// Subscribers returns the number of open subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, set := range b.users {
		n += len(set)
	}
	for _, set := range b.docs {
		n += len(set)
	}
	return n
}

// Close closes every subscription. Later publishes are ignored.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, m := range []map[string]map[*Subscription]struct{}{b.users, b.docs} {
		for _, set := range m {
			for s := range set {
				b.remove(s)
			}
		}
	}
}
