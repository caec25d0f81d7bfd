package layer

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/bft-labs/chanext/pkg/log"
)

var memoryExtensions = []Extension{ExtensionGroups, ExtensionFlush}

// Memory is a single-process channel layer backed by in-memory queues.
//
// Each channel is a FIFO bounded by CapacityFor(channel). Messages expire
// Expiry seconds after they are sent; when a channel loses an expired message
// it is also removed from every group. Group memberships last GroupExpiry
// seconds.
type Memory struct {
	Base

	mu       sync.Mutex
	channels map[string]*queue
	groups   map[string]map[string]time.Time

	now    func() time.Time
	logger log.Logger
}

type entry struct {
	expires time.Time
	msg     Message
}

// queue is a channel's backlog. ready is closed and replaced on every send
// so that blocked receivers wake up and retry.
type queue struct {
	items   []entry
	ready   chan struct{}
	waiters int
}

// MemoryOption configures a Memory layer.
type MemoryOption func(*Memory)

// WithClock sets the time source used for expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// WithMemoryLogger sets the logger used for dropped messages.
func WithMemoryLogger(logger log.Logger) MemoryOption {
	return func(m *Memory) {
		m.logger = log.OrNoop(logger)
	}
}

// NewMemory creates an in-memory layer.
func NewMemory(cfg Config, opts ...MemoryOption) *Memory {
	m := &Memory{
		Base:     NewBase(cfg),
		channels: make(map[string]*queue),
		groups:   make(map[string]map[string]time.Time),
		now:      time.Now,
		logger:   log.NoopLogger{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Send appends a copy of msg to channel. It returns ErrChannelFull when the
// channel already holds CapacityFor(channel) messages.
func (m *Memory) Send(ctx context.Context, channel string, msg Message) error {
	if err := ValidChannelName(channel); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.cleanExpiredLocked(now)

	q := m.queueLocked(channel)
	if len(q.items) >= m.CapacityFor(channel) {
		return ErrChannelFull
	}
	q.items = append(q.items, entry{
		expires: now.Add(time.Duration(m.Expiry()) * time.Second),
		msg:     copyMessage(msg),
	})
	close(q.ready)
	q.ready = make(chan struct{})
	return nil
}

// Receive returns the oldest unexpired message on channel, blocking until one
// is sent or ctx is done.
func (m *Memory) Receive(ctx context.Context, channel string) (Message, error) {
	if err := ValidChannelName(channel); err != nil {
		return nil, err
	}

	for {
		m.mu.Lock()
		m.cleanExpiredLocked(m.now())
		q := m.queueLocked(channel)
		if len(q.items) > 0 {
			e := q.items[0]
			q.items[0] = entry{}
			q.items = q.items[1:]
			m.pruneLocked(channel, q)
			m.mu.Unlock()
			return e.msg, nil
		}
		ready := q.ready
		q.waiters++
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			m.mu.Lock()
			q.waiters--
			m.pruneLocked(channel, q)
			m.mu.Unlock()
			return nil, ctx.Err()
		case <-ready:
			m.mu.Lock()
			q.waiters--
			m.mu.Unlock()
		}
	}
}

// NewChannel returns "<prefix>.inmemory!<12 random characters>".
func (m *Memory) NewChannel(ctx context.Context, prefix string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return specificName(prefix, "inmemory"), nil
}

// Flush drops every queued message and every group. Blocked receivers keep
// waiting.
func (m *Memory) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for name, q := range m.channels {
		q.items = nil
		m.pruneLocked(name, q)
	}
	m.groups = make(map[string]map[string]time.Time)
	return nil
}

// GroupAdd adds channel to group, refreshing the membership if present.
func (m *Memory) GroupAdd(ctx context.Context, group, channel string) error {
	if err := ValidGroupName(group); err != nil {
		return err
	}
	if err := ValidChannelName(channel); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	members, ok := m.groups[group]
	if !ok {
		members = make(map[string]time.Time)
		m.groups[group] = members
	}
	members[channel] = m.now()
	return nil
}

// GroupDiscard removes channel from group.
func (m *Memory) GroupDiscard(ctx context.Context, group, channel string) error {
	if err := ValidGroupName(group); err != nil {
		return err
	}
	if err := ValidChannelName(channel); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if members, ok := m.groups[group]; ok {
		delete(members, channel)
		if len(members) == 0 {
			delete(m.groups, group)
		}
	}
	return nil
}

// GroupSend sends msg to every member of group. Full channels are skipped.
func (m *Memory) GroupSend(ctx context.Context, group string, msg Message) error {
	if err := ValidGroupName(group); err != nil {
		return err
	}

	m.mu.Lock()
	m.cleanExpiredLocked(m.now())
	members := lo.Keys(m.groups[group])
	m.mu.Unlock()
	slices.Sort(members)

	for _, channel := range members {
		err := m.Send(ctx, channel, msg)
		if errors.Is(err, ErrChannelFull) {
			m.logger.Debug("group send skipped full channel",
				log.String("group", group), log.Channel(channel))
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Extensions returns groups and flush.
func (m *Memory) Extensions() []Extension {
	return append([]Extension(nil), memoryExtensions...)
}

// queueLocked returns the queue for channel, creating it if needed.
func (m *Memory) queueLocked(channel string) *queue {
	q, ok := m.channels[channel]
	if !ok {
		q = &queue{ready: make(chan struct{})}
		m.channels[channel] = q
	}
	return q
}

// pruneLocked forgets an empty queue nobody is waiting on.
func (m *Memory) pruneLocked(channel string, q *queue) {
	if len(q.items) == 0 && q.waiters == 0 && m.channels[channel] == q {
		delete(m.channels, channel)
	}
}

// cleanExpiredLocked drops expired messages and memberships.
func (m *Memory) cleanExpiredLocked(now time.Time) {
	for name, q := range m.channels {
		n := 0
		for n < len(q.items) && q.items[n].expires.Before(now) {
			n++
		}
		if n == 0 {
			continue
		}
		q.items = slices.Delete(q.items, 0, n)
		m.logger.Debug("expired messages dropped", log.Channel(name), log.Int("count", n))
		m.removeFromGroupsLocked(name)
		m.pruneLocked(name, q)
	}

	ttl := time.Duration(m.Config().GroupExpiry) * time.Second
	for group, members := range m.groups {
		for channel, added := range members {
			if now.Sub(added) > ttl {
				delete(members, channel)
			}
		}
		if len(members) == 0 {
			delete(m.groups, group)
		}
	}
}

func (m *Memory) removeFromGroupsLocked(channel string) {
	for group, members := range m.groups {
		delete(members, channel)
		if len(members) == 0 {
			delete(m.groups, group)
		}
	}
}

// copyMessage deep-copies the maps, slices and byte slices of msg.
func copyMessage(msg Message) Message {
	if msg == nil {
		return nil
	}
	return copyValue(msg).(Message)
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = copyValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = copyValue(val)
		}
		return out
	case []byte:
		return slices.Clone(t)
	default:
		return v
	}
}

var _ Layer = (*Memory)(nil)
