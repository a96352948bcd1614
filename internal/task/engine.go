package task

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/videodoc/platform/internal/errors"
	"github.com/videodoc/platform/internal/syncx"
	"github.com/videodoc/platform/internal/trace"
)

// handle tracks a running task. Cancellation is cooperative: the flag is
// checked at stage boundaries only, never mid-stage.
type handle struct {
	cancelled atomic.Bool
}

// Engine owns the task lifecycle: submission, stage execution with bounded
// worker concurrency, resume, cancellation, and progress events.
type Engine struct {
	store    *Store
	ws       *Workspace
	pipeline *Pipeline
	events   *broadcaster

	handles *syncx.RWGuard[map[string]*handle]
	workers chan struct{}

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewEngine(store *Store, ws *Workspace, pipeline *Pipeline, workers int) *Engine {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:    store,
		ws:       ws,
		pipeline: pipeline,
		events:   newBroadcaster(),
		handles:  syncx.NewGuard(make(map[string]*handle)),
		workers:  make(chan struct{}, workers),
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Subscribe returns a channel of progress events and a cancel func.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	return e.events.Subscribe()
}

// Submit registers a new pending task for a video file.
func (e *Engine) Submit(ctx context.Context, videoPath string) (*Task, error) {
	info, err := os.Stat(videoPath)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeInvalidInput, "video file %s", videoPath)
	}
	if info.IsDir() {
		return nil, errors.Newf(errors.CodeInvalidInput, "%s is a directory", videoPath)
	}

	now := time.Now().UTC()
	t := &Task{
		ID:        ulid.Make().String(),
		VideoPath: videoPath,
		Status:    StatusPending,
		Stage:     StageExtract,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.Create(ctx, t); err != nil {
		return nil, err
	}
	if _, err := e.ws.EnsureTaskDir(t.ID); err != nil {
		return nil, err
	}
	trace.Logger(ctx).Info("task submitted", "task_id", t.ID, "video", videoPath)
	e.emit(t)
	return t, nil
}

// Start launches or resumes a task at the given stage. An empty stage means
// the beginning of the pipeline. Validation happens before any state change:
// a processing task cannot be started again, and resuming mid-pipeline
// requires every upstream artifact to exist.
func (e *Engine) Start(ctx context.Context, taskID string, from Stage) (*Task, error) {
	if from == "" {
		from = StageExtract
	}
	if !from.Valid() {
		return nil, errors.Newf(errors.CodeInvalidInput, "unknown stage %q", from)
	}

	t, err := e.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status == StatusProcessing {
		return nil, errors.Newf(errors.CodeInvalidState, "task %s is already processing", taskID)
	}
	if missing := e.ws.MissingArtifacts(taskID, from); len(missing) > 0 {
		return nil, errors.Newf(errors.CodeMissingDependency,
			"cannot start at %s, missing artifacts: %v", from, missing)
	}

	t.Status = StatusProcessing
	t.Stage = from
	t.Detail = ""
	t.Progress = progressBefore(from)
	if err := e.store.Update(ctx, t); err != nil {
		return nil, err
	}
	e.emit(t)

	h := &handle{}
	e.handles.Write(func(m *map[string]*handle) { (*m)[t.ID] = h })

	// The goroutine mutates its own copy; the returned record never changes
	// under the caller.
	run := *t
	e.wg.Add(1)
	go e.run(&run, from, h)
	return t, nil
}

// Cancel requests cooperative cancellation of a processing task. The task
// keeps running until the current stage finishes.
func (e *Engine) Cancel(ctx context.Context, taskID string) (*Task, error) {
	t, err := e.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusProcessing {
		return nil, errors.Newf(errors.CodeInvalidState, "task %s is %s, not processing", taskID, t.Status)
	}
	e.handles.Read(func(m map[string]*handle) any {
		if h, ok := m[taskID]; ok {
			h.cancelled.Store(true)
		}
		return nil
	})
	trace.Logger(ctx).Info("task cancellation requested", "task_id", taskID)
	return t, nil
}

// Get returns the current task record.
func (e *Engine) Get(ctx context.Context, taskID string) (*Task, error) {
	return e.store.Get(ctx, taskID)
}

// List returns all tasks, newest first.
func (e *Engine) List(ctx context.Context) ([]*Task, error) {
	return e.store.List(ctx)
}

// ArtifactPath resolves the primary artifact of a stage for a task.
func (e *Engine) ArtifactPath(ctx context.Context, taskID string, stage Stage) (string, error) {
	if !stage.Valid() {
		return "", errors.Newf(errors.CodeInvalidInput, "unknown stage %q", stage)
	}
	if _, err := e.store.Get(ctx, taskID); err != nil {
		return "", err
	}
	artifacts := stage.Artifacts()
	name := artifacts[len(artifacts)-1]
	if !e.ws.Exists(taskID, name) {
		return "", errors.Newf(errors.CodeNotFound, "artifact %s not produced for task %s", name, taskID)
	}
	return e.ws.ArtifactPath(taskID, name), nil
}

// Shutdown stops accepting stage transitions and waits for running tasks.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.cancel()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run executes stages sequentially under the worker limit, persisting
// progress after each stage and honoring cancellation between stages.
func (e *Engine) run(t *Task, from Stage, h *handle) {
	defer e.wg.Done()
	defer e.handles.Write(func(m *map[string]*handle) { delete(*m, t.ID) })

	select {
	case e.workers <- struct{}{}:
		defer func() { <-e.workers }()
	case <-e.baseCtx.Done():
		e.fail(t, errors.Wrap(e.baseCtx.Err(), errors.CodeCancelled, "engine shutting down"))
		return
	}

	ctx, _ := trace.EnsureContext(e.baseCtx)
	log := trace.Logger(ctx)

	for _, stage := range Stages[StageIndex(from):] {
		if h.cancelled.Load() {
			e.fail(t, errors.New(errors.CodeCancelled, "cancelled by user"))
			return
		}
		if err := e.baseCtx.Err(); err != nil {
			e.fail(t, errors.Wrap(err, errors.CodeCancelled, "engine shutting down"))
			return
		}

		t.Stage = stage
		e.update(ctx, t)

		started := time.Now()
		if err := e.pipeline.RunStage(ctx, t, stage); err != nil {
			log.Error("stage failed", "task_id", t.ID, "stage", stage, "error", err)
			e.fail(t, err)
			return
		}
		log.Info("stage complete", "task_id", t.ID, "stage", stage, "duration", time.Since(started))

		t.Progress = progressAfter(stage)
		e.update(ctx, t)
	}

	t.Status = StatusCompleted
	t.Progress = 1
	e.update(ctx, t)
	log.Info("task completed", "task_id", t.ID)
}

func (e *Engine) fail(t *Task, err error) {
	t.Status = StatusFailed
	t.Detail = fmt.Sprintf("%s: %s", errors.CodeOf(err), err.Error())
	e.update(context.Background(), t)
}

func (e *Engine) update(ctx context.Context, t *Task) {
	// Persistence uses a fresh context so terminal states survive shutdown.
	if err := e.store.Update(context.WithoutCancel(ctx), t); err != nil {
		trace.Logger(ctx).Error("task state update failed", "task_id", t.ID, "error", err)
	}
	e.emit(t)
}

func (e *Engine) emit(t *Task) {
	e.events.publish(Event{
		TaskID:   t.ID,
		Status:   t.Status,
		Stage:    t.Stage,
		Progress: t.Progress,
		Detail:   t.Detail,
		Time:     time.Now().UTC(),
	})
}
