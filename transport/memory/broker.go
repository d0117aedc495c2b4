// Package memory provides an in-process broker with Kafka-like semantics:
// every topic is split into partitions, the routing key picks the partition,
// and each consumer group reads every partition through exactly one member at
// a time, in order, with redelivery on nack.
package memory

import (
	"context"
	"errors"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/simabus/internal/runtime/metadata"
)

// DefaultPartitions is used when a broker is created with a non-positive count.
const DefaultPartitions = 4

const defaultNackDelay = 10 * time.Millisecond

var ErrClosed = errors.New("memory: broker is closed")

// Broker is safe for concurrent use.
type Broker struct {
	partitions int
	nackDelay  time.Duration
	logger     watermill.LoggerAdapter

	mu      sync.Mutex
	topics  map[string]*topicState
	closed  bool
	closing chan struct{}
	wg      sync.WaitGroup
}

type Option func(*Broker)

// WithNackDelay sets the pause before a nacked message is offered again.
func WithNackDelay(d time.Duration) Option {
	return func(b *Broker) {
		if d >= 0 {
			b.nackDelay = d
		}
	}
}

func WithLogger(logger watermill.LoggerAdapter) Option {
	return func(b *Broker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

func NewBroker(partitions int, opts ...Option) *Broker {
	if partitions <= 0 {
		partitions = DefaultPartitions
	}
	b := &Broker{
		partitions: partitions,
		nackDelay:  defaultNackDelay,
		logger:     watermill.NopLogger{},
		topics:     make(map[string]*topicState),
		closing:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type topicState struct {
	parts  []*partitionLog
	next   uint64
	groups map[string]*groupState
}

type partitionLog struct {
	records  []record
	appended chan struct{}
}

type record struct {
	uuid     string
	payload  []byte
	metadata message.Metadata
}

type groupState struct {
	members []*member
	changed chan struct{}
	offsets []int64
}

type member struct {
	in   chan *message.Message
	out  chan *message.Message
	done chan struct{}
	once sync.Once
}

func (m *member) stop() {
	m.once.Do(func() { close(m.done) })
}

func (b *Broker) Partitions() int { return b.partitions }

func (b *Broker) topicLocked(name string) *topicState {
	ts, ok := b.topics[name]
	if ok {
		return ts
	}
	ts = &topicState{
		parts:  make([]*partitionLog, b.partitions),
		groups: make(map[string]*groupState),
	}
	for i := range ts.parts {
		ts.parts[i] = &partitionLog{appended: make(chan struct{})}
	}
	b.topics[name] = ts
	return ts
}

// PartitionFor returns the partition a key maps to. Keyless messages are
// spread round-robin and report -1 here.
func (b *Broker) PartitionFor(key string) int {
	if key == "" {
		return -1
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(b.partitions))
}

// Publish appends messages to topic. It never blocks on consumers.
func (b *Broker) Publish(topic string, messages ...*message.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	ts := b.topicLocked(topic)
	for _, msg := range messages {
		idx := b.PartitionFor(metadata.PartitionKey(msg))
		if idx < 0 {
			idx = int(ts.next % uint64(b.partitions))
			ts.next++
		}

		md := make(message.Metadata, len(msg.Metadata))
		for k, v := range msg.Metadata {
			md[k] = v
		}
		p := ts.parts[idx]
		p.records = append(p.records, record{
			uuid:     msg.UUID,
			payload:  append([]byte(nil), msg.Payload...),
			metadata: md,
		})
		close(p.appended)
		p.appended = make(chan struct{})
	}
	return nil
}

// Subscribe joins group on topic. The returned channel is closed once ctx is
// done or the broker shuts down.
func (b *Broker) Subscribe(ctx context.Context, topic, group string) (<-chan *message.Message, error) {
	m, err := b.join(ctx, topic, group)
	if err != nil {
		return nil, err
	}
	return m.out, nil
}

func (b *Broker) join(ctx context.Context, topic, group string) (*member, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}

	ts := b.topicLocked(topic)
	g, ok := ts.groups[group]
	if !ok {
		g = &groupState{changed: make(chan struct{}), offsets: make([]int64, len(ts.parts))}
		ts.groups[group] = g
		for i, p := range ts.parts {
			b.wg.Add(1)
			go b.runCursor(topic, group, g, p, i)
		}
	}

	m := &member{
		in:   make(chan *message.Message),
		out:  make(chan *message.Message),
		done: make(chan struct{}),
	}
	g.members = append(g.members, m)
	close(g.changed)
	g.changed = make(chan struct{})

	b.wg.Add(1)
	b.mu.Unlock()

	go b.runMember(ctx, g, m)
	return m, nil
}

func (b *Broker) leave(g *groupState, m *member) {
	m.stop()

	b.mu.Lock()
	defer b.mu.Unlock()
	for i, candidate := range g.members {
		if candidate == m {
			g.members = append(g.members[:i], g.members[i+1:]...)
			break
		}
	}
	close(g.changed)
	g.changed = make(chan struct{})
}

func (b *Broker) runMember(ctx context.Context, g *groupState, m *member) {
	defer b.wg.Done()
	defer close(m.out)
	defer b.leave(g, m)

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.closing:
			return
		case <-m.done:
			return
		case msg := <-m.in:
			select {
			case m.out <- msg:
			case <-ctx.Done():
				return
			case <-b.closing:
				return
			case <-m.done:
				return
			}
		}
	}
}

// runCursor feeds one partition to its current owner in group, one message
// at a time. The offset only moves after an ack.
func (b *Broker) runCursor(topic, group string, g *groupState, p *partitionLog, idx int) {
	defer b.wg.Done()

	var offset int64
	for {
		rec, ok := b.waitRecord(p, offset)
		if !ok {
			return
		}

		for delivered := false; !delivered; {
			owner, ok := b.waitOwner(g, idx)
			if !ok {
				return
			}

			msg := rec.message(idx, offset)
			select {
			case owner.in <- msg:
			case <-owner.done:
				continue
			case <-b.closing:
				return
			}

			select {
			case <-msg.Acked():
				delivered = true
			case <-msg.Nacked():
				b.logger.Debug("Message nacked, redelivering", watermill.LogFields{
					"topic": topic, "group": group, "partition": idx, "offset": offset,
				})
				if !b.pause() {
					return
				}
			case <-owner.done:
				// An ack that raced the member leaving still counts.
				select {
				case <-msg.Acked():
					delivered = true
				default:
				}
			case <-b.closing:
				return
			}
		}

		offset++
		b.mu.Lock()
		g.offsets[idx] = offset
		b.mu.Unlock()
	}
}

func (b *Broker) pause() bool {
	if b.nackDelay <= 0 {
		return true
	}
	timer := time.NewTimer(b.nackDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-b.closing:
		return false
	}
}

func (b *Broker) waitRecord(p *partitionLog, offset int64) (record, bool) {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return record{}, false
		}
		if offset < int64(len(p.records)) {
			rec := p.records[offset]
			b.mu.Unlock()
			return rec, true
		}
		appended := p.appended
		b.mu.Unlock()

		select {
		case <-appended:
		case <-b.closing:
			return record{}, false
		}
	}
}

// waitOwner assigns partition idx to member idx mod len(members), so members
// hold disjoint partition sets.
func (b *Broker) waitOwner(g *groupState, idx int) (*member, bool) {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, false
		}
		if n := len(g.members); n > 0 {
			owner := g.members[idx%n]
			b.mu.Unlock()
			return owner, true
		}
		changed := g.changed
		b.mu.Unlock()

		select {
		case <-changed:
		case <-b.closing:
			return nil, false
		}
	}
}

func (r record) message(partition int, offset int64) *message.Message {
	msg := message.NewMessage(r.uuid, r.payload)
	for k, v := range r.metadata {
		msg.Metadata.Set(k, v)
	}
	msg.Metadata.Set(metadata.KeyPartition, strconv.Itoa(partition))
	msg.Metadata.Set(metadata.KeyOffset, strconv.FormatInt(offset, 10))
	return msg
}

// Len reports how many messages were published to topic.
func (b *Broker) Len(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	ts, ok := b.topics[topic]
	if !ok {
		return 0
	}
	total := 0
	for _, p := range ts.parts {
		total += len(p.records)
	}
	return total
}

// CommittedOffsets returns the next offset per partition for group on topic.
func (b *Broker) CommittedOffsets(topic, group string) []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	ts, ok := b.topics[topic]
	if !ok {
		return nil
	}
	g, ok := ts.groups[group]
	if !ok {
		return nil
	}
	return append([]int64(nil), g.offsets...)
}

// Close stops every cursor and member and waits for them. It is idempotent.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.closing)
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}
