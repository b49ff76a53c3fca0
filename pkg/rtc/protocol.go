package rtc

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ProtocolVersion1 is the only wire protocol version.
const ProtocolVersion1 = "1"

// MaxSIDLength bounds a track sid so it fits the media frame header.
const MaxSIDLength = 255

// DecodeError is a client protocol violation. Code is sent back to the
// client in an error message.
type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// ClientJoin is the first message on a connection.
type ClientJoin struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Identity        string `json:"identity"`
	AutoSubscribe   string `json:"auto_subscribe,omitempty"`
}

// ClientPublish asks to publish a track.
type ClientPublish struct {
	Type       string    `json:"type"`
	Name       string    `json:"name,omitempty"`
	Kind       TrackKind `json:"kind"`
	SampleRate int       `json:"sample_rate,omitempty"`
}

// ClientUnpublish removes one of the client's tracks.
type ClientUnpublish struct {
	Type string `json:"type"`
	SID  string `json:"sid"`
}

// ClientLeave ends the connection cleanly.
type ClientLeave struct {
	Type string `json:"type"`
}

// DecodeClientMessage decodes a JSON client message into one of the Client*
// types.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "join":
		var msg ClientJoin
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid join frame", "")
		}
		if err := ValidateJoin(msg); err != nil {
			return nil, err
		}
		msg.Identity = strings.TrimSpace(msg.Identity)
		return msg, nil
	case "publish":
		var msg ClientPublish
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid publish frame", "")
		}
		if !msg.Kind.Valid() {
			return nil, unsupported("unsupported track kind", "kind")
		}
		if msg.Kind == KindAudio && msg.SampleRate <= 0 {
			return nil, badRequest("publish.sample_rate must be > 0 for audio", "sample_rate")
		}
		return msg, nil
	case "unpublish":
		var msg ClientUnpublish
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid unpublish frame", "")
		}
		if strings.TrimSpace(msg.SID) == "" {
			return nil, badRequest("unpublish.sid is required", "sid")
		}
		return msg, nil
	case "leave":
		return ClientLeave{Type: typ}, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

// ValidateJoin checks a join message.
func ValidateJoin(msg ClientJoin) error {
	if strings.TrimSpace(msg.ProtocolVersion) == "" {
		return badRequest("join.protocol_version is required", "protocol_version")
	}
	if msg.ProtocolVersion != ProtocolVersion1 {
		return unsupported("unsupported protocol version", "protocol_version")
	}
	if strings.TrimSpace(msg.Identity) == "" {
		return badRequest("join.identity is required", "identity")
	}
	if _, err := ParseAutoSubscribe(msg.AutoSubscribe); err != nil {
		return unsupported("unsupported auto_subscribe mode", "auto_subscribe")
	}
	return nil
}

// ServerLimits advertises inbound limits to a client.
type ServerLimits struct {
	MaxFrameBytes       int `json:"max_frame_bytes"`
	MaxJSONMessageBytes int `json:"max_json_message_bytes"`
	MaxFramesPerSecond  int `json:"max_frames_per_second,omitempty"`
}

// ServerJoined acknowledges a join.
type ServerJoined struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	Room            string            `json:"room"`
	Identity        string            `json:"identity"`
	Participants    []ParticipantInfo `json:"participants"`
	Limits          *ServerLimits     `json:"limits,omitempty"`
}

// ServerPublished acknowledges a publish with the assigned sid.
type ServerPublished struct {
	Type  string    `json:"type"`
	Track TrackInfo `json:"track"`
}

// ServerSubscribed tells the client frames for Track follow.
type ServerSubscribed struct {
	Type  string    `json:"type"`
	Track TrackInfo `json:"track"`
}

// ServerEvent relays a room event.
type ServerEvent struct {
	Type     EventType  `json:"type"`
	Identity string     `json:"identity"`
	Track    *TrackInfo `json:"track,omitempty"`
}

// ServerError reports a failure. Close means the server is about to close
// the connection.
type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
	Close   bool   `json:"close,omitempty"`
}

// EncodeMediaFrame builds a binary frame: one length byte, the sid, then
// the payload.
func EncodeMediaFrame(sid string, payload []byte) ([]byte, error) {
	if sid == "" {
		return nil, badRequest("media frame sid is required", "sid")
	}
	if len(sid) > MaxSIDLength {
		return nil, badRequest("media frame sid is too long", "sid")
	}
	out := make([]byte, 0, 1+len(sid)+len(payload))
	out = append(out, byte(len(sid)))
	out = append(out, sid...)
	out = append(out, payload...)
	return out, nil
}

// DecodeMediaFrame splits a binary frame. The payload aliases data.
func DecodeMediaFrame(data []byte) (sid string, payload []byte, err error) {
	if len(data) < 2 {
		return "", nil, badRequest("media frame is too short", "")
	}
	n := int(data[0])
	if n == 0 {
		return "", nil, badRequest("media frame sid is empty", "sid")
	}
	if len(data) < 1+n {
		return "", nil, badRequest("media frame sid is truncated", "sid")
	}
	return string(data[1 : 1+n]), data[1+n:], nil
}
