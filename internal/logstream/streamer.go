// Package logstream provides concurrent streaming of job output lines.
// Multiple clients can subscribe to a Streamer; each receives the retained
// backlog from the beginning, then live lines as they are published.
package logstream

import (
	"sync"
	"time"
)

// DefaultCapacity is the number of lines retained for late-subscriber
// replay.
// TODO: Observe and tune based on typical Spectronaut output volume.
const DefaultCapacity = 4096

// Source identifies which stream of the child process a line came from.
type Source string

const (
	SourceStdout Source = "stdout"
	SourceStderr Source = "stderr"
)

// Line is a single line of job output. Ordering by Seq is the authoritative
// order regardless of source stream; lines are immutable once published.
type Line struct {
	Seq    uint64    `json:"seq"`
	Text   string    `json:"text"`
	Stream Source    `json:"stream"`
	Time   time.Time `json:"time"`
}

// Streamer is responsible for fanning out job output lines. Publish is
// single-writer (only the process runner's pipe readers call it); Subscribe
// and subscription reads are safe from any number of goroutines.
//
// The retained backlog is bounded: once more than capacity lines have been
// published, the oldest are dropped and a slow or late subscriber resumes
// from the oldest retained line. Sequence numbers stay monotonic either way.
type Streamer struct {
	mu   sync.Mutex
	cond sync.Cond

	ring  []Line
	first uint64 // sequence number of ring[0]
	next  uint64 // sequence number assigned to the next published line

	closed bool
}

// NewStreamer creates a Streamer retaining up to capacity lines. A
// non-positive capacity selects DefaultCapacity.
func NewStreamer(capacity int) *Streamer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	s := &Streamer{
		ring: make([]Line, 0, capacity),
	}
	s.cond.L = &s.mu

	return s
}

// Publish appends a line to the stream and wakes any blocked subscribers.
// Publishing to a closed Streamer is a no-op.
func (s *Streamer) Publish(text string, source Source) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	line := Line{
		Seq:    s.next,
		Text:   text,
		Stream: source,
		Time:   time.Now(),
	}
	s.next++

	if len(s.ring) == cap(s.ring) {
		// Drop the oldest line. Shifting in place keeps ring[0] at
		// sequence s.first without a separate head index.
		copy(s.ring, s.ring[1:])
		s.ring[len(s.ring)-1] = line
		s.first++
	} else {
		s.ring = append(s.ring, line)
	}

	s.cond.Broadcast()
}

// Close ends the stream. Subscribers drain whatever is retained and then see
// the stream terminate. Close is idempotent.
func (s *Streamer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.closed = true
	s.cond.Broadcast()
}

// Closed reports whether the stream has ended.
func (s *Streamer) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

// Subscribe returns a Subscription positioned at the oldest retained line.
// Subscribers never affect each other's position.
func (s *Streamer) Subscribe() *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	return &Subscription{s: s, cursor: s.first}
}

// Subscription is a single client's cursor into the stream. Safe for
// concurrent use, though lines are handed out in cursor order so concurrent
// Next calls race for delivery.
type Subscription struct {
	s      *Streamer
	cursor uint64
	closed bool
}

// Next blocks until a line is available and returns it. It returns ok=false
// once the stream is closed and the backlog is drained, or after the
// subscription itself is closed.
func (sub *Subscription) Next() (Line, bool) {
	sub.s.mu.Lock()
	defer sub.s.mu.Unlock()

	for {
		if sub.closed {
			return Line{}, false
		}

		// A slow subscriber that fell behind the ring resumes from the
		// oldest retained line.
		if sub.cursor < sub.s.first {
			sub.cursor = sub.s.first
		}

		if sub.cursor < sub.s.next {
			line := sub.s.ring[sub.cursor-sub.s.first]
			sub.cursor++

			return line, true
		}

		if sub.s.closed {
			return Line{}, false
		}

		sub.s.cond.Wait()
	}
}

// Close cancels the subscription and unblocks any pending Next call.
func (sub *Subscription) Close() {
	sub.s.mu.Lock()
	defer sub.s.mu.Unlock()

	sub.closed = true
	sub.s.cond.Broadcast()
}
