package rtc

import (
	"sync"
	"sync/atomic"
)

const defaultSubscriptionBuffer = 64

// TrackInfo is the wire description of a published track.
type TrackInfo struct {
	SID        string    `json:"sid"`
	Name       string    `json:"name,omitempty"`
	Kind       TrackKind `json:"kind"`
	SampleRate int       `json:"sample_rate,omitempty"`
	Owner      string    `json:"owner"`
}

// Track is one published media stream. Audio tracks carry signed 16-bit
// little-endian mono PCM at SampleRate.
type Track struct {
	info TrackInfo

	mu     sync.Mutex
	sinks  map[uint64]*Subscription
	nextID uint64
	closed bool

	dropped atomic.Uint64
	done    chan struct{}
}

func newTrack(info TrackInfo) *Track {
	return &Track{
		info:  info,
		sinks: make(map[uint64]*Subscription),
		done:  make(chan struct{}),
	}
}

func (t *Track) SID() string { return t.info.SID }
func (t *Track) Name() string { return t.info.Name }
func (t *Track) Kind() TrackKind { return t.info.Kind }
func (t *Track) SampleRate() int { return t.info.SampleRate }
func (t *Track) Owner() string { return t.info.Owner }
func (t *Track) Info() TrackInfo { return t.info }
func (t *Track) Dropped() uint64 { return t.dropped.Load() }
func (t *Track) Done() <-chan struct{} { return t.done }

// Subscribe attaches a new sink. A subscription to a closed track is
// returned already closed.
func (t *Track) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultSubscriptionBuffer
	}
	sub := &Subscription{track: t, frames: make(chan []byte, buffer)}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		sub.closed = true
		close(sub.frames)
		return sub
	}
	t.nextID++
	sub.id = t.nextID
	t.sinks[sub.id] = sub
	return sub
}

// WriteFrame fans a frame out to every subscriber. It never blocks: a
// subscriber whose buffer is full misses the frame.
func (t *Track) WriteFrame(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTrackClosed
	}
	for _, sub := range t.sinks {
		select {
		case sub.frames <- frame:
		default:
			t.dropped.Add(1)
		}
	}
	return nil
}

// Close ends the track and every subscription to it.
func (t *Track) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for id, sub := range t.sinks {
		sub.closed = true
		close(sub.frames)
		delete(t.sinks, id)
	}
	close(t.done)
}

func (t *Track) unsubscribe(sub *Subscription) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	delete(t.sinks, sub.id)
	close(sub.frames)
}

// Subscription receives one track's frames.
type Subscription struct {
	track  *Track
	id     uint64
	frames chan []byte
	closed bool // guarded by track.mu
}

// Track returns the subscribed track.
func (s *Subscription) Track() *Track {
	return s.track
}

// Frames yields frames until the subscription or track is closed.
func (s *Subscription) Frames() <-chan []byte {
	return s.frames
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.track.unsubscribe(s)
}
