package rtc

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// DefaultLocalIdentity names the agent participant unless overridden.
const DefaultLocalIdentity = "agent"

// EventType names a room event.
type EventType string

const (
	EventParticipantJoined EventType = "participant_joined"
	EventParticipantLeft   EventType = "participant_left"
	EventTrackPublished    EventType = "track_published"
	EventTrackUnpublished  EventType = "track_unpublished"
)

// Event is a change in room membership or published tracks.
type Event struct {
	Type        EventType  `json:"type"`
	Participant string     `json:"identity"`
	Track       *TrackInfo `json:"track,omitempty"`
}

// TrackSubscription is a remote track the local participant was subscribed
// to by Connect.
type TrackSubscription struct {
	Participant  *Participant
	Track        *Track
	Subscription *Subscription
}

// RoomOption configures a room.
type RoomOption func(*Room)

// WithLocalIdentity sets the local participant's identity.
func WithLocalIdentity(identity string) RoomOption {
	return func(r *Room) {
		if s := strings.TrimSpace(identity); s != "" {
			r.localIdentity = s
		}
	}
}

// WithLogger sets the room logger.
func WithLogger(logger *slog.Logger) RoomOption {
	return func(r *Room) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithSubscriptionBuffer sets the per-subscription frame buffer.
func WithSubscriptionBuffer(n int) RoomOption {
	return func(r *Room) {
		if n > 0 {
			r.subBuffer = n
		}
	}
}

// Room is a named set of participants.
type Room struct {
	name          string
	localIdentity string
	logger        *slog.Logger
	subBuffer     int

	mu        sync.Mutex
	local     *Participant
	remotes   map[string]*Participant
	trackSeq  uint64
	connected bool
	mode      AutoSubscribe
	closed    bool
	listeners map[uint64]chan Event
	listenSeq uint64

	subs chan TrackSubscription
	done chan struct{}
}

// NewRoom creates an open room with a local participant.
func NewRoom(name string, opts ...RoomOption) *Room {
	r := &Room{
		name:          name,
		localIdentity: DefaultLocalIdentity,
		logger:        slog.New(slog.DiscardHandler),
		subBuffer:     defaultSubscriptionBuffer,
		remotes:       make(map[string]*Participant),
		listeners:     make(map[uint64]chan Event),
		subs:          make(chan TrackSubscription, 16),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.local = newParticipant(r, r.localIdentity, true)
	r.logger = r.logger.With("room", name)
	return r
}

// Name returns the room name.
func (r *Room) Name() string {
	return r.name
}

// LocalParticipant returns the in-process participant.
func (r *Room) LocalParticipant() *Participant {
	return r.local
}

// RemoteParticipants returns remote participants ordered by identity.
func (r *Room) RemoteParticipants() []*Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Participant, 0, len(r.remotes))
	for _, p := range r.remotes {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].identity < out[j].identity })
	return out
}

// Participant finds a participant, local or remote, by identity.
func (r *Room) Participant(identity string) (*Participant, bool) {
	if identity == r.local.identity {
		return r.local, true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.remotes[identity]
	return p, ok
}

// Track finds a published track by sid.
func (r *Room) Track(sid string) (*Track, bool) {
	if t, ok := r.local.Track(sid); ok {
		return t, true
	}
	for _, p := range r.RemoteParticipants() {
		if t, ok := p.Track(sid); ok {
			return t, true
		}
	}
	return nil, false
}

// Snapshot describes every participant, local first.
func (r *Room) Snapshot() []ParticipantInfo {
	out := []ParticipantInfo{r.local.Info()}
	for _, p := range r.RemoteParticipants() {
		out = append(out, p.Info())
	}
	return out
}

// Join adds a remote participant.
func (r *Room) Join(identity string) (*Participant, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, fmt.Errorf("rtc: identity is required")
	}
	if len(identity) > 128 {
		return nil, fmt.Errorf("rtc: identity is longer than 128 bytes")
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRoomClosed
	}
	if _, exists := r.remotes[identity]; exists || identity == r.local.identity {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrDuplicateIdentity, identity)
	}
	p := newParticipant(r, identity, false)
	r.remotes[identity] = p
	r.emitLocked(Event{Type: EventParticipantJoined, Participant: identity})
	r.mu.Unlock()

	r.logger.Info("participant joined", "identity", identity)
	return p, nil
}

// Leave removes a remote participant and unpublishes its tracks. It returns
// the number of remote participants still in the room.
func (r *Room) Leave(identity string) int {
	r.mu.Lock()
	p, ok := r.remotes[identity]
	if !ok {
		n := len(r.remotes)
		r.mu.Unlock()
		return n
	}
	delete(r.remotes, identity)
	tracks := p.removeAllTracks()
	for _, t := range tracks {
		info := t.Info()
		r.emitLocked(Event{Type: EventTrackUnpublished, Participant: identity, Track: &info})
	}
	r.emitLocked(Event{Type: EventParticipantLeft, Participant: identity})
	n := len(r.remotes)
	r.mu.Unlock()

	for _, t := range tracks {
		t.Close()
	}
	r.logger.Info("participant left", "identity", identity, "remaining", n)
	return n
}

// Connect subscribes the local participant to every current and future
// remote track mode allows. Subscriptions arrive on TrackSubscriptions.
func (r *Room) Connect(mode AutoSubscribe) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRoomClosed
	}
	if r.connected {
		r.mu.Unlock()
		return ErrAlreadyConnected
	}
	r.connected = true
	r.mode = mode

	var pending []TrackSubscription
	identities := make([]string, 0, len(r.remotes))
	for id := range r.remotes {
		identities = append(identities, id)
	}
	sort.Strings(identities)
	for _, id := range identities {
		p := r.remotes[id]
		for _, t := range p.Tracks() {
			if mode.Allows(t.Kind()) {
				pending = append(pending, TrackSubscription{Participant: p, Track: t, Subscription: t.Subscribe(r.subBuffer)})
			}
		}
	}
	r.mu.Unlock()

	r.logger.Info("room connected", "auto_subscribe", mode.String(), "existing_tracks", len(pending))
	for _, s := range pending {
		r.deliver(s)
	}
	return nil
}

// Connected reports whether Connect succeeded.
func (r *Room) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

// AutoSubscribe returns the mode given to Connect.
func (r *Room) AutoSubscribe() AutoSubscribe {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

// TrackSubscriptions delivers the local participant's subscriptions. It is
// never closed; select on Done as well.
func (r *Room) TrackSubscriptions() <-chan TrackSubscription {
	return r.subs
}

// Listen registers for room events. Events are dropped for a listener whose
// buffer is full. The channel is closed by cancel or when the room closes.
func (r *Room) Listen(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	r.listenSeq++
	id := r.listenSeq
	r.listeners[id] = ch
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if c, ok := r.listeners[id]; ok {
				delete(r.listeners, id)
				close(c)
			}
		})
	}
}

// Close unpublishes every track and closes the room. Safe to call more than
// once.
func (r *Room) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	tracks := r.local.removeAllTracks()
	for id, p := range r.remotes {
		tracks = append(tracks, p.removeAllTracks()...)
		delete(r.remotes, id)
	}
	for id, c := range r.listeners {
		delete(r.listeners, id)
		close(c)
	}
	close(r.done)
	r.mu.Unlock()

	for _, t := range tracks {
		t.Close()
	}
	r.logger.Info("room closed")
}

// Closed reports whether Close was called.
func (r *Room) Closed() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Done is closed when the room closes.
func (r *Room) Done() <-chan struct{} {
	return r.done
}

func (r *Room) publish(p *Participant, name string, kind TrackKind, sampleRate int) (*Track, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("rtc: unknown track kind %q", kind)
	}
	if kind == KindAudio && sampleRate <= 0 {
		return nil, fmt.Errorf("rtc: audio track sample rate must be > 0")
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRoomClosed
	}
	if !p.local {
		if cur, ok := r.remotes[p.identity]; !ok || cur != p {
			r.mu.Unlock()
			return nil, fmt.Errorf("rtc: %q is not in the room", p.identity)
		}
	}
	r.trackSeq++
	t := newTrack(TrackInfo{
		SID:        fmt.Sprintf("TR_%06d", r.trackSeq),
		Name:       name,
		Kind:       kind,
		SampleRate: sampleRate,
		Owner:      p.identity,
	})
	p.addTrack(t)
	info := t.Info()
	r.emitLocked(Event{Type: EventTrackPublished, Participant: p.identity, Track: &info})

	var sub *TrackSubscription
	if r.connected && !p.local && r.mode.Allows(kind) {
		sub = &TrackSubscription{Participant: p, Track: t, Subscription: t.Subscribe(r.subBuffer)}
	}
	r.mu.Unlock()

	r.logger.Debug("track published", "identity", p.identity, "sid", info.SID, "kind", kind)
	if sub != nil {
		r.deliver(*sub)
	}
	return t, nil
}

func (r *Room) unpublish(p *Participant, sid string) error {
	r.mu.Lock()
	t, ok := p.removeTrack(sid)
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTrackNotFound, sid)
	}
	info := t.Info()
	r.emitLocked(Event{Type: EventTrackUnpublished, Participant: p.identity, Track: &info})
	r.mu.Unlock()

	t.Close()
	return nil
}

func (r *Room) deliver(s TrackSubscription) {
	select {
	case r.subs <- s:
	case <-r.done:
		s.Subscription.Close()
	}
}

func (r *Room) emitLocked(ev Event) {
	for _, c := range r.listeners {
		select {
		case c <- ev:
		default:
			r.logger.Warn("room event dropped", "type", ev.Type, "identity", ev.Participant)
		}
	}
}
