package hub

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrChannelClosed = errors.New("channel closed")
	ErrQueueFull     = errors.New("channel queue full")
)

const (
	FrameUpdate   = "update"
	FrameSnapshot = "snapshot"
	FrameError    = "error"
)

// Frame is a single event pushed to a channel.
type Frame struct {
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Username string          `json:"username,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// OverflowPolicy decides what happens when a channel's queue is full.
type OverflowPolicy int

const (
	// CloseOnOverflow closes the channel; the client reconnects and refetches the snapshot.
	CloseOnOverflow OverflowPolicy = iota
	// DropOldest discards the oldest queued frame to make room for the new one.
	DropOldest
)

func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch s {
	case "", "close":
		return CloseOnOverflow, nil
	case "drop-oldest":
		return DropOldest, nil
	}
	return CloseOnOverflow, errors.New("unknown overflow policy: " + s)
}

func (p OverflowPolicy) String() string {
	if p == DropOldest {
		return "drop-oldest"
	}
	return "close"
}

// Channel is a live outbound endpoint attached to exactly one room for its lifetime.
// Transports drain Frames until Done is closed and call Close when their connection ends.
type Channel struct {
	id       string
	roomID   string
	overflow OverflowPolicy
	queue    chan Frame
	done     chan struct{}

	mu       sync.Mutex
	label    string
	labelSet bool
	closed   bool
	onClose  func(*Channel)
}

// NewChannel creates a channel for roomID with a queue of queueSize frames.
func NewChannel(roomID string, queueSize int, overflow OverflowPolicy) *Channel {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Channel{
		id:       uuid.NewString(),
		roomID:   roomID,
		overflow: overflow,
		queue:    make(chan Frame, queueSize),
		done:     make(chan struct{}),
	}
}

func (c *Channel) ID() string     { return c.id }
func (c *Channel) RoomID() string { return c.roomID }

// Label returns the presence label, or "" when none has been set.
func (c *Channel) Label() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.label
}

// Frames is the outbound queue. It is never closed; select on Done as well.
func (c *Channel) Frames() <-chan Frame { return c.queue }

// Done is closed once the channel is closed.
func (c *Channel) Done() <-chan struct{} { return c.done }

func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// setLabel assigns the label once. Callers hold the hub lock.
func (c *Channel) setLabel(label string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.labelSet || c.closed || label == "" {
		return false
	}
	c.label = label
	c.labelSet = true
	return true
}

// bind installs the close hook. It reports false if the channel is already closed.
func (c *Channel) bind(onClose func(*Channel)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.onClose = onClose
	return true
}

// Send queues f without blocking. A full queue is handled by the overflow policy:
// DropOldest evicts one frame and reports dropped, CloseOnOverflow closes the channel
// and returns ErrQueueFull.
func (c *Channel) Send(f Frame) (dropped bool, err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, ErrChannelClosed
	}

	select {
	case c.queue <- f:
		c.mu.Unlock()
		return false, nil
	default:
	}

	if c.overflow == DropOldest {
		select {
		case <-c.queue:
		default:
		}
		// Only Send pushes and it holds mu, so there is room now.
		c.queue <- f
		c.mu.Unlock()
		return true, nil
	}

	c.mu.Unlock()
	c.Close()
	return false, ErrQueueFull
}

// Close stops delivery and runs the detach hook exactly once.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	onClose := c.onClose
	c.onClose = nil
	c.mu.Unlock()

	if onClose != nil {
		onClose(c)
	}
}
