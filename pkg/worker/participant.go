package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/vango-go/letta-voice/pkg/rtc"
)

const (
	maxRoomNameBytes  = 128
	controlQueueSize  = 64
	mediaQueueSize    = 256
	subscriberBuffer  = 64
	errCodeBadRequest = "bad_request"
)

var errClientLeft = errors.New("participant left")

func (w *Worker) handleRoom(rw http.ResponseWriter, r *http.Request) {
	roomName := strings.TrimSpace(r.PathValue("room"))
	if roomName == "" || len(roomName) > maxRoomNameBytes {
		writeJSONError(rw, r, http.StatusBadRequest, "invalid_room", "room name must be 1-128 bytes")
		return
	}
	if w.Draining() {
		w.metrics.JoinsRejected.WithLabelValues("draining").Inc()
		writeJSONError(rw, r, http.StatusServiceUnavailable, "draining", "worker is draining")
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	readLimit := w.cfg.MaxJSONBytes
	if n := int64(w.cfg.MaxFrameBytes + 1 + rtc.MaxSIDLength); n > readLimit {
		readLimit = n
	}
	conn.SetReadLimit(readLimit)

	handshakeTimeout := w.cfg.HandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = 5 * time.Second
	}
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	messageType, first, err := conn.ReadMessage()
	if err != nil {
		w.writeWSError(conn, errCodeBadRequest, "failed to read join", "")
		return
	}
	if messageType != websocket.TextMessage {
		w.writeWSError(conn, errCodeBadRequest, "first frame must be join", "")
		return
	}
	decoded, err := rtc.DecodeClientMessage(first)
	if err != nil {
		var de *rtc.DecodeError
		if errors.As(err, &de) {
			w.writeWSError(conn, de.Code, de.Message, de.Param)
		} else {
			w.writeWSError(conn, errCodeBadRequest, "invalid join frame", "")
		}
		return
	}
	join, ok := decoded.(rtc.ClientJoin)
	if !ok {
		w.writeWSError(conn, errCodeBadRequest, "first frame must be join", "type")
		return
	}
	mode, _ := rtc.ParseAutoSubscribe(join.AutoSubscribe)

	entry, self, err := w.join(roomName, join.Identity)
	switch {
	case err == nil:
	case errors.Is(err, rtc.ErrDuplicateIdentity):
		w.metrics.JoinsRejected.WithLabelValues("identity_taken").Inc()
		w.writeWSError(conn, "identity_taken", "identity is already in the room", "identity")
		return
	case errors.Is(err, ErrTooManyRooms):
		w.metrics.JoinsRejected.WithLabelValues("capacity").Inc()
		w.writeWSError(conn, "capacity", "worker is at its room limit", "")
		return
	case errors.Is(err, rtc.ErrRoomClosed):
		w.metrics.JoinsRejected.WithLabelValues("draining").Inc()
		w.writeWSError(conn, "draining", "worker is draining", "")
		return
	default:
		w.writeWSError(conn, errCodeBadRequest, err.Error(), "identity")
		return
	}
	defer w.leave(entry, self.Identity())

	w.metrics.ParticipantsActive.Inc()
	defer w.metrics.ParticipantsActive.Dec()

	reqID, _ := RequestIDFrom(r.Context())
	pc := &participantConn{
		w:        w,
		conn:     conn,
		room:     entry.room,
		self:     self,
		mode:     mode,
		logger:   w.logger.With("room", roomName, "identity", self.Identity(), "request_id", reqID),
		control:  make(chan outboundFrame, controlQueueSize),
		media:    make(chan outboundFrame, mediaQueueSize),
		limiter:  newFrameLimiter(w.cfg.MaxFramesPerSecond, w.cfg.FrameBurst),
		subs:     make(map[string]*rtc.Subscription),
		maxFrame: w.cfg.MaxFrameBytes,
	}

	_ = conn.SetReadDeadline(time.Time{})
	if err := pc.run(r.Context()); err != nil && !errors.Is(err, errClientLeft) {
		pc.logger.Info("participant disconnected", "error", err)
	}
}

func (w *Worker) writeWSError(conn *websocket.Conn, code, message, param string) {
	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_ = conn.WriteJSON(rtc.ServerError{Type: "error", Code: code, Message: message, Param: param, Close: true})
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), time.Now().Add(2*time.Second))
}

func newFrameLimiter(perSecond, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst < 1 {
		burst = perSecond
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// participantConn relays one remote participant between its websocket and
// the room.
type participantConn struct {
	w        *Worker
	conn     *websocket.Conn
	room     *rtc.Room
	self     *rtc.Participant
	mode     rtc.AutoSubscribe
	logger   *slog.Logger
	control  chan outboundFrame
	media    chan outboundFrame
	limiter  *rate.Limiter
	maxFrame int

	// subs is owned by the event goroutine.
	subs map[string]*rtc.Subscription
}

func (pc *participantConn) run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// Register before the snapshot so no publish is missed; duplicates are
	// filtered by sid.
	events, stopEvents := pc.room.Listen(128)
	defer stopEvents()

	if err := pc.sendControl(rtc.ServerJoined{
		Type:            "joined",
		ProtocolVersion: rtc.ProtocolVersion1,
		Room:            pc.room.Name(),
		Identity:        pc.self.Identity(),
		Participants:    pc.room.Snapshot(),
		Limits: &rtc.ServerLimits{
			MaxFrameBytes:       pc.maxFrame,
			MaxJSONMessageBytes: int(pc.w.cfg.MaxJSONBytes),
			MaxFramesPerSecond:  pc.w.cfg.MaxFramesPerSecond,
		},
	}); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	writer := &outboundWriter{
		ws:           pc.conn,
		ctx:          gctx,
		pingInterval: pc.w.cfg.PingInterval,
		writeTimeout: pc.w.cfg.WriteTimeout,
		priority:     pc.control,
		normal:       pc.media,
	}
	g.Go(writer.Run)
	g.Go(func() error { return pc.readLoop(gctx) })
	g.Go(func() error { return pc.eventLoop(gctx, events) })
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-pc.room.Done():
			return rtc.ErrRoomClosed
		}
	})
	g.Go(func() error {
		// ReadMessage only returns once the socket closes.
		<-gctx.Done()
		_ = pc.conn.SetReadDeadline(time.Now())
		return nil
	})

	err := g.Wait()
	for _, sub := range pc.subs {
		sub.Close()
	}
	return err
}

func (pc *participantConn) readLoop(ctx context.Context) error {
	for {
		messageType, data, err := pc.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		switch messageType {
		case websocket.BinaryMessage:
			pc.handleMedia(data)
		case websocket.TextMessage:
			if int64(len(data)) > pc.w.cfg.MaxJSONBytes {
				pc.queueError(errCodeBadRequest, "json message too large", "", true)
				return errors.New("json message too large")
			}
			if err := pc.handleControl(data); err != nil {
				return err
			}
		}
	}
}

func (pc *participantConn) handleMedia(data []byte) {
	if pc.maxFrame > 0 && len(data) > pc.maxFrame+1+rtc.MaxSIDLength {
		pc.w.metrics.recordDrop("too_large")
		return
	}
	if !pc.limiter.Allow() {
		pc.w.metrics.recordDrop("rate_limited")
		return
	}
	sid, payload, err := rtc.DecodeMediaFrame(data)
	if err != nil {
		pc.w.metrics.recordDrop("malformed")
		return
	}
	if pc.maxFrame > 0 && len(payload) > pc.maxFrame {
		pc.w.metrics.recordDrop("too_large")
		return
	}
	track, ok := pc.self.Track(sid)
	if !ok {
		pc.w.metrics.recordDrop("unknown_track")
		return
	}
	if err := track.WriteFrame(payload); err != nil {
		pc.w.metrics.recordDrop("track_closed")
		return
	}
	pc.w.metrics.recordFrame("inbound", len(payload))
}

func (pc *participantConn) handleControl(data []byte) error {
	msg, err := rtc.DecodeClientMessage(data)
	if err != nil {
		var de *rtc.DecodeError
		if errors.As(err, &de) {
			pc.queueError(de.Code, de.Message, de.Param, false)
			return nil
		}
		return err
	}

	switch m := msg.(type) {
	case rtc.ClientPublish:
		track, err := pc.self.PublishTrack(m.Name, m.Kind, m.SampleRate)
		if err != nil {
			pc.queueError("publish_failed", err.Error(), "", false)
			return nil
		}
		pc.logger.Info("track published", "sid", track.SID(), "kind", track.Kind(), "sample_rate", track.SampleRate())
		return pc.sendControl(rtc.ServerPublished{Type: "published", Track: track.Info()})
	case rtc.ClientUnpublish:
		if err := pc.self.UnpublishTrack(m.SID); err != nil {
			pc.queueError("not_found", "track not found", "sid", false)
		}
		return nil
	case rtc.ClientLeave:
		return errClientLeft
	case rtc.ClientJoin:
		pc.queueError(errCodeBadRequest, "already joined", "type", false)
		return nil
	default:
		return nil
	}
}

// eventLoop relays room events and keeps subscriptions in step with the
// participant's auto-subscribe mode.
func (pc *participantConn) eventLoop(ctx context.Context, events <-chan rtc.Event) error {
	for _, p := range pc.room.Snapshot() {
		if p.Identity == pc.self.Identity() {
			continue
		}
		for _, info := range p.Tracks {
			pc.subscribe(ctx, info)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Participant == pc.self.Identity() {
				continue
			}
			switch ev.Type {
			case rtc.EventTrackPublished:
				if ev.Track != nil {
					pc.subscribe(ctx, *ev.Track)
				}
			case rtc.EventTrackUnpublished:
				if ev.Track != nil {
					if sub, ok := pc.subs[ev.Track.SID]; ok {
						sub.Close()
						delete(pc.subs, ev.Track.SID)
					}
				}
			}
			if err := pc.sendControl(rtc.ServerEvent{Type: ev.Type, Identity: ev.Participant, Track: ev.Track}); err != nil {
				return err
			}
		}
	}
}

func (pc *participantConn) subscribe(ctx context.Context, info rtc.TrackInfo) {
	if !pc.mode.Allows(info.Kind) {
		return
	}
	if _, ok := pc.subs[info.SID]; ok {
		return
	}
	track, ok := pc.room.Track(info.SID)
	if !ok {
		return
	}
	sub := track.Subscribe(subscriberBuffer)
	pc.subs[info.SID] = sub
	_ = pc.sendControl(rtc.ServerSubscribed{Type: "subscribed", Track: info})

	go pc.forward(ctx, sub)
}

// forward copies a subscription into the media queue, dropping frames the
// socket cannot keep up with.
func (pc *participantConn) forward(ctx context.Context, sub *rtc.Subscription) {
	sid := sub.Track().SID()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub.Frames():
			if !ok {
				return
			}
			frame, err := rtc.EncodeMediaFrame(sid, payload)
			if err != nil {
				return
			}
			select {
			case pc.media <- outboundFrame{binary: frame}:
				pc.w.metrics.recordFrame("outbound", len(payload))
			default:
				pc.w.metrics.recordDrop("backpressure")
			}
		}
	}
}

func (pc *participantConn) sendControl(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case pc.control <- outboundFrame{text: data}:
		return nil
	default:
		return errors.New("control queue full")
	}
}

func (pc *participantConn) queueError(code, message, param string, closing bool) {
	_ = pc.sendControl(rtc.ServerError{Type: "error", Code: code, Message: message, Param: param, Close: closing})
}
