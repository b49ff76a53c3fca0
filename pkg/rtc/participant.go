package rtc

import (
	"sort"
	"sync"
)

// ParticipantInfo is the wire description of a participant.
type ParticipantInfo struct {
	Identity string      `json:"identity"`
	Local    bool        `json:"local,omitempty"`
	Tracks   []TrackInfo `json:"tracks"`
}

// Participant is a member of a room.
type Participant struct {
	identity string
	local    bool
	room     *Room

	mu     sync.Mutex
	tracks map[string]*Track
}

func newParticipant(room *Room, identity string, local bool) *Participant {
	return &Participant{
		identity: identity,
		local:    local,
		room:     room,
		tracks:   make(map[string]*Track),
	}
}

// Identity is unique within the room.
func (p *Participant) Identity() string {
	return p.identity
}

// IsLocal reports whether p is the room's in-process participant.
func (p *Participant) IsLocal() bool {
	return p.local
}

// Tracks returns the published tracks ordered by sid.
func (p *Participant) Tracks() []*Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Track, 0, len(p.tracks))
	for _, t := range p.tracks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SID() < out[j].SID() })
	return out
}

// Track looks up a published track.
func (p *Participant) Track(sid string) (*Track, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tracks[sid]
	return t, ok
}

// Info snapshots p for the wire.
func (p *Participant) Info() ParticipantInfo {
	tracks := p.Tracks()
	info := ParticipantInfo{Identity: p.identity, Local: p.local, Tracks: make([]TrackInfo, 0, len(tracks))}
	for _, t := range tracks {
		info.Tracks = append(info.Tracks, t.Info())
	}
	return info
}

// PublishTrack publishes a new track. Subscribers are attached according to
// each side's auto-subscribe mode.
func (p *Participant) PublishTrack(name string, kind TrackKind, sampleRate int) (*Track, error) {
	return p.room.publish(p, name, kind, sampleRate)
}

// UnpublishTrack closes and removes a track.
func (p *Participant) UnpublishTrack(sid string) error {
	return p.room.unpublish(p, sid)
}

func (p *Participant) addTrack(t *Track) {
	p.mu.Lock()
	p.tracks[t.SID()] = t
	p.mu.Unlock()
}

func (p *Participant) removeTrack(sid string) (*Track, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tracks[sid]
	if ok {
		delete(p.tracks, sid)
	}
	return t, ok
}

func (p *Participant) removeAllTracks() []*Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Track, 0, len(p.tracks))
	for sid, t := range p.tracks {
		out = append(out, t)
		delete(p.tracks, sid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SID() < out[j].SID() })
	return out
}
