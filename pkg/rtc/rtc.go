// Package rtc is a small room transport: participants join a named room,
// publish audio or video tracks and subscribe to each other's tracks.
//
// Media is opaque. Frames are moved as-is between publishers and
// subscribers; nothing here decodes codecs or buffers for jitter. A room's
// local participant is the in-process agent, every other participant is
// remote and usually backed by a websocket connection.
package rtc

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrRoomClosed        = errors.New("rtc: room closed")
	ErrAlreadyConnected  = errors.New("rtc: room already connected")
	ErrDuplicateIdentity = errors.New("rtc: identity already in room")
	ErrTrackClosed       = errors.New("rtc: track closed")
	ErrTrackNotFound     = errors.New("rtc: track not found")
)

// TrackKind is the media type carried by a track.
type TrackKind string

const (
	KindAudio TrackKind = "audio"
	KindVideo TrackKind = "video"
)

// Valid reports whether k is a known kind.
func (k TrackKind) Valid() bool {
	return k == KindAudio || k == KindVideo
}

// AutoSubscribe selects which remote tracks a participant receives without
// asking for them.
type AutoSubscribe int

const (
	SubscribeAll AutoSubscribe = iota
	SubscribeNone
	AudioOnly
	VideoOnly
)

// Allows reports whether tracks of kind are subscribed under a.
func (a AutoSubscribe) Allows(kind TrackKind) bool {
	switch a {
	case SubscribeAll:
		return true
	case AudioOnly:
		return kind == KindAudio
	case VideoOnly:
		return kind == KindVideo
	default:
		return false
	}
}

func (a AutoSubscribe) String() string {
	switch a {
	case SubscribeAll:
		return "subscribe_all"
	case SubscribeNone:
		return "subscribe_none"
	case AudioOnly:
		return "audio_only"
	case VideoOnly:
		return "video_only"
	default:
		return fmt.Sprintf("auto_subscribe(%d)", int(a))
	}
}

// ParseAutoSubscribe parses the names produced by String. Empty means
// SubscribeAll.
func ParseAutoSubscribe(s string) (AutoSubscribe, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "subscribe_all", "all":
		return SubscribeAll, nil
	case "subscribe_none", "none":
		return SubscribeNone, nil
	case "audio_only", "audio":
		return AudioOnly, nil
	case "video_only", "video":
		return VideoOnly, nil
	default:
		return SubscribeAll, fmt.Errorf("rtc: unknown auto_subscribe mode %q", s)
	}
}
