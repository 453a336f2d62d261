package movement

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/micebot/micebot/internal/command"
	"github.com/micebot/micebot/internal/event"
	"github.com/micebot/micebot/internal/input"
	"github.com/micebot/micebot/internal/utils"
	"github.com/micebot/micebot/internal/window"
)

type TaskKind string

const (
	TaskWalk  TaskKind = "walk"
	TaskSpam  TaskKind = "spam"
	TaskCombo TaskKind = "combo"
)

// Calibration holds the timing constants used to turn abstract commands into
// key holds.
type Calibration struct {
	PixelsPerSecond int
	MinHold         time.Duration
	JumpHold        time.Duration
	SpamDelay       time.Duration
	ComboDelay      time.Duration
}

func DefaultCalibration() Calibration {
	return Calibration{
		PixelsPerSecond: 100,
		MinHold:         100 * time.Millisecond,
		JumpHold:        200 * time.Millisecond,
		SpamDelay:       100 * time.Millisecond,
		ComboDelay:      200 * time.Millisecond,
	}
}

// TaskStatus describes the active repeating task for the status surface.
type TaskStatus struct {
	ID        string
	Kind      TaskKind
	StartedAt time.Time
}

type repeatingTask struct {
	id        uuid.UUID
	kind      TaskKind
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// Engine executes discrete movement actions and owns the single repeating
// task slot. Starting a new repeating task cancels the previous one and
// waits for its done acknowledgement before launching, so two tasks never
// drive the same window. Task starts are issued from the orchestrator's
// serialized dispatch, one at a time.
type Engine struct {
	logger   *slog.Logger
	injector *input.Injector
	cal      Calibration

	mu      sync.Mutex
	task    *repeatingTask
	lastErr error
}

func NewEngine(logger *slog.Logger, injector *input.Injector, cal Calibration) *Engine {
	if cal.PixelsPerSecond <= 0 {
		cal = DefaultCalibration()
	}
	return &Engine{
		logger:   logger,
		injector: injector,
		cal:      cal,
	}
}

func dirKey(dir command.Direction) input.Key {
	switch dir {
	case command.DirLeft:
		return input.Left
	case command.DirRight:
		return input.Right
	case command.DirUp:
		return input.Up
	default:
		return input.Down
	}
}

// Move holds the direction key for a duration proportional to the requested
// pixel distance.
func (e *Engine) Move(w window.Window, dir command.Direction, distancePx int) error {
	hold := time.Duration(float64(distancePx)/float64(e.cal.PixelsPerSecond)*1000) * time.Millisecond
	if hold < e.cal.MinHold {
		hold = e.cal.MinHold
	}
	e.logger.Debug("move", slog.String("direction", string(dir)), slog.Int("px", distancePx), slog.Duration("hold", hold))
	return e.injector.SendKey(w, dirKey(dir), hold)
}

// Jump taps the up key.
func (e *Engine) Jump(w window.Window) error {
	return e.injector.SendKey(w, input.Up, e.cal.JumpHold)
}

// StartWalk begins continuous walking: the direction key is re-asserted down
// until the task is cancelled, then explicitly released.
func (e *Engine) StartWalk(w window.Window, dir command.Direction) TaskStatus {
	key := dirKey(dir)
	return e.start(TaskWalk, func(ctx context.Context) {
		defer e.injector.KeyUp(w, key) //nolint:errcheck
		for {
			if err := e.injector.KeyDown(w, key); err != nil {
				e.fail(w, err)
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
			}
		}
	})
}

// Spam executes action count times with a small delay between repetitions.
// Cancellation is honored between repetitions, never mid-keypress.
func (e *Engine) Spam(w window.Window, action command.Action, count int) TaskStatus {
	return e.start(TaskSpam, func(ctx context.Context) {
		for n := 0; n < count; n++ {
			if err := e.perform(w, action); err != nil {
				e.fail(w, err)
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(utils.Humanize(e.cal.SpamDelay)):
			}
		}
	})
}

// Combo executes each action once, in order. Cancellation takes effect
// between actions.
func (e *Engine) Combo(w window.Window, actions []command.Action) TaskStatus {
	return e.start(TaskCombo, func(ctx context.Context) {
		for _, action := range actions {
			if err := e.perform(w, action); err != nil {
				e.fail(w, err)
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(utils.Humanize(e.cal.ComboDelay)):
			}
		}
	})
}

func (e *Engine) perform(w window.Window, action command.Action) error {
	switch action {
	case command.ActJump:
		return e.Jump(w)
	case command.ActSpace:
		return e.injector.SendKey(w, input.Space, e.cal.JumpHold)
	default:
		return e.injector.SendKey(w, dirKey(command.Direction(action)), e.cal.MinHold)
	}
}

func (e *Engine) start(kind TaskKind, run func(ctx context.Context)) TaskStatus {
	e.stopTask()

	ctx, cancel := context.WithCancel(context.Background())
	t := &repeatingTask{
		id:        uuid.New(),
		kind:      kind,
		startedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	e.mu.Lock()
	e.task = t
	e.lastErr = nil
	e.mu.Unlock()

	event.Send(event.TaskStarted(t.id.String(), string(kind)))

	go func() {
		defer func() {
			cancel()
			e.mu.Lock()
			if e.task == t {
				e.task = nil
			}
			e.mu.Unlock()
			close(t.done)
			event.Send(event.TaskStopped(t.id.String(), string(kind)))
		}()
		run(ctx)
	}()

	return TaskStatus{ID: t.id.String(), Kind: kind, StartedAt: t.startedAt}
}

// stopTask cancels the active task and waits for it to acknowledge. The wait
// only spans the in-flight atomic step, since every loop checks cancellation
// between steps.
func (e *Engine) stopTask() {
	e.mu.Lock()
	t := e.task
	e.mu.Unlock()
	if t == nil {
		return
	}
	t.cancel()
	<-t.done
}

// Stop cancels any active repeating task and forces every tracked key on the
// window back up.
func (e *Engine) Stop(w window.Window) error {
	e.stopTask()
	return e.injector.ReleaseAll(w)
}

// Active returns the running repeating task, if any.
func (e *Engine) Active() (TaskStatus, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.task == nil {
		return TaskStatus{}, false
	}
	return TaskStatus{ID: e.task.id.String(), Kind: e.task.kind, StartedAt: e.task.startedAt}, true
}

// LastError returns the error that terminated the most recent repeating
// task, if any. Cleared when the next task starts.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

func (e *Engine) fail(w window.Window, err error) {
	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()
	e.logger.Error("repeating task aborted", slog.Any("error", err))
	if err == input.ErrStaleWindow {
		event.Send(event.StaleWindow(w.Title))
	}
}
