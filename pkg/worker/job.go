package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vango-go/letta-voice/pkg/rtc"
)

// Job is one dispatch of the entrypoint to a room.
type Job struct {
	ID        string
	RoomName  string
	CreatedAt time.Time
}

// Entrypoint runs once per job. It returns once the job is set up; the job
// itself lasts until its context is canceled, which happens when the room
// empties or the worker shuts down. An error ends the job and closes the
// room.
type Entrypoint func(ctx context.Context, job *JobContext) error

// JobContext is what an entrypoint gets to work with.
type JobContext struct {
	job    Job
	room   *rtc.Room
	logger *slog.Logger
}

// NewJobContext binds a job to its room.
func NewJobContext(job Job, room *rtc.Room, logger *slog.Logger) *JobContext {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &JobContext{job: job, room: room, logger: logger}
}

// Job returns the job description.
func (j *JobContext) Job() Job {
	return j.job
}

// Room returns the job's room. The agent is its local participant.
func (j *JobContext) Room() *rtc.Room {
	return j.room
}

// Logger is scoped to the job.
func (j *JobContext) Logger() *slog.Logger {
	return j.logger
}

// Connect joins the agent to the room media, subscribing per mode.
func (j *JobContext) Connect(ctx context.Context, mode rtc.AutoSubscribe) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := j.room.Connect(mode); err != nil {
		return err
	}
	j.logger.Info("connected to room", "auto_subscribe", mode.String())
	return nil
}
