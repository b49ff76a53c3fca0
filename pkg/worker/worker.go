// Package worker runs voice agent jobs. Remote participants join rooms over
// websockets; the first participant in an idle room dispatches one job, and
// the job ends when the room empties.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vango-go/letta-voice/pkg/config"
	"github.com/vango-go/letta-voice/pkg/rtc"
)

// ErrTooManyRooms is returned when a join would open more than MaxRooms.
var ErrTooManyRooms = errors.New("worker: room limit reached")

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the worker logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// Worker dispatches jobs for rooms and serves the room transport.
type Worker struct {
	cfg     config.Worker
	entry   Entrypoint
	logger  *slog.Logger
	metrics *Metrics

	draining atomic.Bool
	tracker  *jobTracker

	mu    sync.Mutex
	rooms map[string]*roomEntry

	baseCtx    context.Context
	baseCancel context.CancelFunc
}

type roomEntry struct {
	room   *rtc.Room
	job    Job
	cancel context.CancelFunc
}

// New creates a worker running entry for each room.
func New(cfg config.Worker, entry Entrypoint, opts ...Option) *Worker {
	w := &Worker{
		cfg:     cfg,
		entry:   entry,
		logger:  slog.Default(),
		metrics: NewMetrics(""),
		tracker: newJobTracker(),
		rooms:   make(map[string]*roomEntry),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.baseCtx, w.baseCancel = context.WithCancel(context.Background())
	return w
}

// Handler returns the HTTP handler with middlewares applied.
func (w *Worker) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", w.handleHealth)
	mux.HandleFunc("GET /readyz", w.handleReady)
	mux.Handle("GET /metrics", w.metrics.Handler())
	mux.HandleFunc("GET /rooms/{room}", w.handleRoom)

	var h http.Handler = mux
	h = Recover(w.logger, h)
	h = AccessLog(w.logger, h)
	h = RequestID(h)
	return h
}

// ListenAndServe serves until ctx ends, then drains.
func (w *Worker) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", w.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", w.cfg.Addr, err)
	}
	return w.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx ends. It then stops accepting,
// waits up to the shutdown grace period for jobs to finish, and cancels the
// rest.
func (w *Worker) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           w.Handler(),
		ReadHeaderTimeout: w.cfg.ReadHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(w.logger.Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() {
		w.logger.Info("worker listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	w.draining.Store(true)
	grace := w.cfg.ShutdownGrace
	if grace <= 0 {
		grace = 30 * time.Second
	}
	w.logger.Info("worker draining", "jobs", w.tracker.Count(), "grace", grace.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		w.logger.Warn("http shutdown", "error", err)
	}
	if !w.tracker.Wait(shutdownCtx) {
		w.logger.Warn("grace period elapsed, canceling jobs", "jobs", w.tracker.Count())
	}
	w.Close()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	w.tracker.Wait(waitCtx)
	w.logger.Info("worker stopped")
	return nil
}

// Close cancels every job and closes every room.
func (w *Worker) Close() {
	w.draining.Store(true)
	w.baseCancel()
	w.tracker.CancelAll()

	w.mu.Lock()
	entries := make([]*roomEntry, 0, len(w.rooms))
	for name, e := range w.rooms {
		entries = append(entries, e)
		delete(w.rooms, name)
	}
	w.mu.Unlock()

	for _, e := range entries {
		e.cancel()
		e.room.Close()
		w.metrics.RoomsActive.Dec()
	}
}

// Draining reports whether the worker stopped taking new participants.
func (w *Worker) Draining() bool {
	return w.draining.Load()
}

// ActiveJobs returns the number of running jobs.
func (w *Worker) ActiveJobs() int {
	return w.tracker.Count()
}

// Rooms returns the names of open rooms.
func (w *Worker) Rooms() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.rooms))
	for name := range w.rooms {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// join adds a remote participant, opening the room and dispatching its job
// if the room is idle.
func (w *Worker) join(roomName, identity string) (*roomEntry, *rtc.Participant, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.draining.Load() {
		return nil, nil, rtc.ErrRoomClosed
	}

	e := w.rooms[roomName]
	if e != nil && e.room.Closed() {
		delete(w.rooms, roomName)
		w.metrics.RoomsActive.Dec()
		e = nil
	}
	if e != nil {
		p, err := e.room.Join(identity)
		if err != nil {
			return nil, nil, err
		}
		return e, p, nil
	}

	if w.cfg.MaxRooms > 0 && len(w.rooms) >= w.cfg.MaxRooms {
		return nil, nil, ErrTooManyRooms
	}

	room := rtc.NewRoom(roomName, rtc.WithLogger(w.logger))
	p, err := room.Join(identity)
	if err != nil {
		room.Close()
		return nil, nil, err
	}

	job := Job{ID: "job_" + uuid.NewString(), RoomName: roomName, CreatedAt: time.Now()}
	ctx, cancel := context.WithCancel(w.baseCtx)
	e = &roomEntry{room: room, job: job, cancel: cancel}
	w.rooms[roomName] = e
	w.metrics.RoomsActive.Inc()

	unregister := w.tracker.Register(job.ID, cancel)
	go w.runJob(ctx, e, unregister)
	return e, p, nil
}

// leave removes a participant. The last one out ends the job.
func (w *Worker) leave(e *roomEntry, identity string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if remaining := e.room.Leave(identity); remaining > 0 {
		return
	}
	w.dropRoomLocked(e)
}

func (w *Worker) dropRoom(e *roomEntry) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dropRoomLocked(e)
}

func (w *Worker) dropRoomLocked(e *roomEntry) {
	if w.rooms[e.job.RoomName] == e {
		delete(w.rooms, e.job.RoomName)
		w.metrics.RoomsActive.Dec()
	}
	e.cancel()
	e.room.Close()
}

func (w *Worker) runJob(ctx context.Context, e *roomEntry, unregister func()) {
	defer unregister()

	logger := w.logger.With("job_id", e.job.ID, "room", e.job.RoomName)
	w.metrics.JobsActive.Inc()
	defer w.metrics.JobsActive.Dec()
	start := time.Now()
	defer func() {
		w.metrics.JobDuration.Observe(time.Since(start).Seconds())
	}()

	logger.Info("job started")
	status := "completed"
	err := w.runEntrypoint(ctx, NewJobContext(e.job, e.room, logger))
	if err != nil && ctx.Err() == nil {
		status = "failed"
		logger.Error("entrypoint failed", "error", err)
		w.dropRoom(e)
	} else {
		select {
		case <-ctx.Done():
		case <-e.room.Done():
		}
	}
	e.cancel()
	w.metrics.JobsTotal.WithLabelValues(status).Inc()
	logger.Info("job ended", "status", status, "duration_ms", time.Since(start).Milliseconds())
}

func (w *Worker) runEntrypoint(ctx context.Context, jc *JobContext) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("entrypoint panic: %v", v)
		}
	}()
	if w.entry == nil {
		return errors.New("worker: no entrypoint")
	}
	return w.entry(ctx, jc)
}

func (w *Worker) handleHealth(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	rw.WriteHeader(http.StatusOK)
	_, _ = rw.Write([]byte("ok\n"))
}

func (w *Worker) handleReady(rw http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK       bool     `json:"ok"`
		Draining bool     `json:"draining"`
		Jobs     int      `json:"jobs"`
		Rooms    int      `json:"rooms"`
		Issues   []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)
	if w.entry == nil {
		issues = append(issues, "no entrypoint configured")
	}
	if w.cfg.MaxFrameBytes <= 0 {
		issues = append(issues, "max_frame_bytes must be > 0")
	}
	if w.cfg.MaxJSONBytes <= 0 {
		issues = append(issues, "max_json_message_bytes must be > 0")
	}
	if w.cfg.MaxRooms <= 0 {
		issues = append(issues, "max_rooms must be > 0")
	}
	draining := w.Draining()
	if draining {
		issues = append(issues, "worker is draining")
	}

	w.mu.Lock()
	rooms := len(w.rooms)
	w.mu.Unlock()

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	writeJSON(rw, status, readyResp{
		OK:       ok,
		Draining: draining,
		Jobs:     w.tracker.Count(),
		Rooms:    rooms,
		Issues:   issues,
	})
}

type errorBody struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id,omitempty"`
	} `json:"error"`
}

func writeJSONError(rw http.ResponseWriter, r *http.Request, status int, code, message string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	body.Error.RequestID, _ = RequestIDFrom(r.Context())
	writeJSON(rw, status, body)
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}
