package mq

import (
	"context"
	"errors"
	"strings"
	"sync"
)

const defaultMemoryBuffer = 256

// ErrClosed is returned when publishing to a closed backend.
var ErrClosed = errors.New("message queue is closed")

// Memory is an in-process backend. Messages live only as long as the process
// and a failed message is redelivered once.
type Memory struct {
	mu     sync.Mutex
	queues map[string]chan Message
	buffer int
	done   chan struct{}
	closed bool
}

// NewMemory returns a Memory backend whose channels hold up to buffer
// undelivered messages each.
func NewMemory(buffer int) *Memory {
	if buffer <= 0 {
		buffer = defaultMemoryBuffer
	}
	return &Memory{
		queues: map[string]chan Message{},
		buffer: buffer,
		done:   make(chan struct{}),
	}
}

func (m *Memory) queue(name string) (chan Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	q, ok := m.queues[name]
	if !ok {
		q = make(chan Message, m.buffer)
		m.queues[name] = q
	}
	return q, nil
}

// Publish enqueues a message, blocking while the channel is full.
func (m *Memory) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("memory channel is required")
	}
	q, err := m.queue(channel)
	if err != nil {
		return "", err
	}

	msg := Message{ID: newMessageID(), Data: data, Attributes: copyAttributes(attrs)}
	select {
	case q <- msg:
		return msg.ID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-m.done:
		return "", ErrClosed
	}
}

// Subscribe delivers messages to handler until ctx is done or the backend is
// closed.
func (m *Memory) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("memory channel is required")
	}
	q, err := m.queue(channel)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.done:
			return ErrClosed
		case msg := <-q:
			if err := handler(ctx, msg); err != nil && msg.Attributes[AttrRedelivered] == "" {
				msg.Attributes = copyAttributes(msg.Attributes)
				msg.Attributes[AttrRedelivered] = "true"
				select {
				case q <- msg:
				default:
				}
			}
		}
	}
}

// Close stops subscribers and rejects further publishes.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}

func copyAttributes(attrs map[string]string) map[string]string {
	out := make(map[string]string, len(attrs)+1)
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
