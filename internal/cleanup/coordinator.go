// Package cleanup reconciles expired rooms with their stored files.
//
// A pass lists every room whose lifetime has elapsed, deletes the file
// objects referenced by its messages, then removes the room record. File
// deletion failures are logged and skipped: they never stop the room
// record from being removed, and one room's failure never stops the
// rest of the pass.
package cleanup

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"droproom/internal/room"
)

// ErrSweepInProgress is returned when a sweep is requested while another
// one is still running.
var ErrSweepInProgress = errors.New("cleanup already running")

// Rooms is the part of the room store the coordinator needs.
type Rooms interface {
	ExpiredRooms(ctx context.Context) ([]room.Room, error)
	DeleteRoom(ctx context.Context, id string) error
}

// Files deletes stored objects by locator.
type Files interface {
	Delete(ctx context.Context, locator string) error
}

// Recorder observes sweep outcomes.
type Recorder interface {
	SweepFinished(rooms, fileFailures int, err error)
}

// Result summarizes one pass.
type Result struct {
	Rooms        int
	FilesDeleted int
	FileFailures int
	RoomFailures int
}

type Coordinator struct {
	rooms    Rooms
	files    Files
	logger   *slog.Logger
	recorder Recorder
	timeout  time.Duration
	running  atomic.Bool
}

type Option func(*Coordinator)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) { c.recorder = r }
}

// WithTimeout bounds each individual store or file call.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.timeout = d }
}

func New(rooms Rooms, files Files, opts ...Option) *Coordinator {
	c := &Coordinator{
		rooms:   rooms,
		files:   files,
		logger:  slog.Default(),
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "cleanup")
	return c
}

// Running reports whether a sweep is in progress.
func (c *Coordinator) Running() bool { return c.running.Load() }

// Sweep runs one reconciliation pass. It returns ErrSweepInProgress
// without doing anything if another pass has not finished.
func (c *Coordinator) Sweep(ctx context.Context) (Result, error) {
	if !c.running.CompareAndSwap(false, true) {
		return Result{}, ErrSweepInProgress
	}
	defer c.running.Store(false)

	started := time.Now()
	res, err := c.sweep(ctx)
	if c.recorder != nil {
		c.recorder.SweepFinished(res.Rooms, res.FileFailures, err)
	}
	if err != nil {
		c.logger.Error("sweep failed", "error", err, "rooms", res.Rooms)
		return res, err
	}
	if res.Rooms > 0 || res.FileFailures > 0 || res.RoomFailures > 0 {
		c.logger.Info("sweep finished",
			"rooms", res.Rooms,
			"files", res.FilesDeleted,
			"file_failures", res.FileFailures,
			"room_failures", res.RoomFailures,
			"took", time.Since(started))
	} else {
		c.logger.Debug("sweep finished", "rooms", 0)
	}
	return res, nil
}

func (c *Coordinator) sweep(ctx context.Context) (Result, error) {
	var res Result

	listCtx, cancel := context.WithTimeout(ctx, c.timeout)
	expired, err := c.rooms.ExpiredRooms(listCtx)
	cancel()
	if err != nil {
		return res, err
	}

	for _, r := range expired {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		for _, f := range r.Files() {
			if err := c.deleteFile(ctx, f.Locator); err != nil {
				res.FileFailures++
				c.logger.Warn("file delete failed", "room", r.ID, "locator", f.Locator, "error", err)
				continue
			}
			res.FilesDeleted++
		}

		delCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := c.rooms.DeleteRoom(delCtx, r.ID)
		cancel()
		if err != nil {
			res.RoomFailures++
			c.logger.Error("room delete failed", "room", r.ID, "error", err)
			continue
		}
		res.Rooms++
	}
	return res, nil
}

func (c *Coordinator) deleteFile(ctx context.Context, locator string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.files.Delete(ctx, locator)
}

// Run sweeps on every tick of the schedule until ctx is done. A tick
// that finds a sweep already running is skipped.
func (c *Coordinator) Run(ctx context.Context, schedule Schedule) {
	c.logger.Info("cleanup scheduled", "schedule", schedule.String())
	for {
		next, err := schedule.Next(time.Now())
		if err != nil {
			c.logger.Error("next tick", "schedule", schedule.String(), "error", err)
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			c.logger.Info("cleanup stopped")
			return
		case <-timer.C:
		}

		if _, err := c.Sweep(ctx); errors.Is(err, ErrSweepInProgress) {
			c.logger.Warn("sweep skipped, previous run still in progress")
		}
	}
}
