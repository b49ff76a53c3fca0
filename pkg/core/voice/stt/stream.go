package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// errStreamDone is returned by a decoder when the provider ends the session.
var errStreamDone = errors.New("stream done")

type decodeFunc func(data []byte) ([]TranscriptDelta, error)

type wsStreamConfig struct {
	decode decodeFunc

	finalizeMsg []byte
	closeMsg    []byte

	keepAliveMsg      []byte
	keepAliveInterval time.Duration

	logger *slog.Logger
}

// wsStream is the websocket plumbing shared by the provider adapters.
type wsStream struct {
	conn        *websocket.Conn
	cfg         wsStreamConfig
	transcripts chan TranscriptDelta
	done        chan struct{}
	closed      atomic.Bool
	writeMu     sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc

	errMu sync.Mutex
	err   error
}

func dialStream(ctx context.Context, rawURL string, headers http.Header) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, rawURL, headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			if len(body) > 0 {
				return nil, fmt.Errorf("websocket connect (status %d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("websocket connect: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket connect: %w", err)
	}
	return conn, nil
}

func newWSStream(ctx context.Context, conn *websocket.Conn, cfg wsStreamConfig) *wsStream {
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &wsStream{
		conn:        conn,
		cfg:         cfg,
		transcripts: make(chan TranscriptDelta, 100),
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
	go s.readLoop()
	if len(cfg.keepAliveMsg) > 0 && cfg.keepAliveInterval > 0 {
		go s.keepAliveLoop()
	}
	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()
	return s
}

func (s *wsStream) readLoop() {
	defer func() {
		close(s.transcripts)
		close(s.done)
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.setErr(err)
			}
			return
		}

		deltas, err := s.cfg.decode(data)
		if errors.Is(err, errStreamDone) {
			return
		}
		if err != nil {
			s.setErr(err)
			return
		}
		for _, d := range deltas {
			select {
			case s.transcripts <- d:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

func (s *wsStream) keepAliveLoop() {
	ticker := time.NewTicker(s.cfg.keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.writeText(s.cfg.keepAliveMsg); err != nil {
				s.cfg.logger.Debug("stt keepalive failed", "error", err)
				return
			}
		}
	}
}

func (s *wsStream) writeText(msg []byte) error {
	if s.closed.Load() {
		return ErrStreamClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, msg)
}

func (s *wsStream) setErr(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

// SendAudio writes one binary audio frame.
func (s *wsStream) SendAudio(pcm []byte) error {
	if s.closed.Load() {
		return ErrStreamClosed
	}
	if len(pcm) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, pcm)
}

// Finalize flushes buffered audio without closing the session.
func (s *wsStream) Finalize() error {
	return s.writeText(s.cfg.finalizeMsg)
}

// Transcripts returns the channel of transcript deltas.
func (s *wsStream) Transcripts() <-chan TranscriptDelta {
	return s.transcripts
}

// Done is closed when the read loop exits.
func (s *wsStream) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that ended the stream, if any.
func (s *wsStream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close sends the provider's close message and tears down the socket.
func (s *wsStream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.cancel()

	s.writeMu.Lock()
	deadline := time.Now().Add(time.Second)
	_ = s.conn.SetWriteDeadline(deadline)
	if len(s.cfg.closeMsg) > 0 {
		_ = s.conn.WriteMessage(websocket.TextMessage, s.cfg.closeMsg)
	}
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	s.writeMu.Unlock()

	return s.conn.Close()
}
