package movement

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/lxn/win"
	"github.com/micebot/micebot/internal/command"
	"github.com/micebot/micebot/internal/input"
	"github.com/micebot/micebot/internal/window"
)

// recordingPoster counts key transitions and can block a gate channel to let
// tests cancel a task while a repetition is in flight.
type recordingPoster struct {
	mu      sync.Mutex
	downs   map[input.Key]int
	ups     map[input.Key]int
	started chan struct{} // closed-once signal on first key-down
	once    sync.Once
}

func newRecordingPoster() *recordingPoster {
	return &recordingPoster{
		downs:   make(map[input.Key]int),
		ups:     make(map[input.Key]int),
		started: make(chan struct{}),
	}
}

func (p *recordingPoster) KeyDown(_ win.HWND, key input.Key) error {
	p.mu.Lock()
	p.downs[key]++
	p.mu.Unlock()
	p.once.Do(func() { close(p.started) })
	return nil
}

func (p *recordingPoster) KeyUp(_ win.HWND, key input.Key) error {
	p.mu.Lock()
	p.ups[key]++
	p.mu.Unlock()
	return nil
}

func (p *recordingPoster) Char(win.HWND, rune) error { return nil }

func (p *recordingPoster) counts(key input.Key) (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.downs[key], p.ups[key]
}

var testWin = window.Window{Index: 1, HWND: win.HWND(7), Title: "Transformice"}

func testEngine() (*Engine, *recordingPoster) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	poster := newRecordingPoster()
	inj := input.NewInjectorWithPoster(logger, poster)
	cal := Calibration{
		PixelsPerSecond: 100000, // keep holds tiny in tests
		MinHold:         time.Millisecond,
		JumpHold:        time.Millisecond,
		SpamDelay:       5 * time.Millisecond,
		ComboDelay:      5 * time.Millisecond,
	}
	return NewEngine(logger, inj, cal), poster
}

func waitIdle(t *testing.T, e *Engine) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if _, running := e.Active(); !running {
			return
		}
		select {
		case <-deadline:
			t.Fatal("task did not finish")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestSpamRunsExactlyCountTimes(t *testing.T) {
	e, poster := testEngine()

	e.Spam(testWin, command.ActJump, 5)
	waitIdle(t, e)

	downs, ups := poster.counts(input.Up)
	if downs != 5 || ups != 5 {
		t.Errorf("expected 5 jumps, got %d downs / %d ups", downs, ups)
	}
}

func TestSpamCancelCompletesInFlightRepetition(t *testing.T) {
	e, poster := testEngine()

	e.Spam(testWin, command.ActJump, 1000)
	<-poster.started
	if err := e.Stop(testWin); err != nil {
		t.Fatalf("stop: %v", err)
	}
	waitIdle(t, e)

	downs, ups := poster.counts(input.Up)
	if downs == 0 || downs >= 1000 {
		t.Errorf("expected a partial run, got %d repetitions", downs)
	}
	if downs != ups {
		t.Errorf("in-flight repetition left key state unbalanced: %d downs / %d ups", downs, ups)
	}
}

func TestStopDoesNotWaitOutTheSpamDelay(t *testing.T) {
	e, poster := testEngine()
	e.cal.SpamDelay = 2 * time.Second

	e.Spam(testWin, command.ActJump, 1000)
	<-poster.started

	start := time.Now()
	if err := e.Stop(testWin); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("stop waited out the inter-repetition delay: %v", elapsed)
	}

	downs, ups := poster.counts(input.Up)
	if downs != 1 || ups != 1 {
		t.Errorf("expected the single in-flight repetition, got %d downs / %d ups", downs, ups)
	}
}

func TestWalkThenStopLeavesNoHeldKeys(t *testing.T) {
	e, poster := testEngine()

	e.StartWalk(testWin, command.DirRight)
	<-poster.started
	if err := e.Stop(testWin); err != nil {
		t.Fatalf("stop: %v", err)
	}
	waitIdle(t, e)

	downs, ups := poster.counts(input.Right)
	if downs == 0 {
		t.Fatal("walk never pressed the key")
	}
	if downs != ups {
		t.Errorf("stuck key: %d downs / %d ups", downs, ups)
	}
}

func TestComboCancelStopsBeforeNextAction(t *testing.T) {
	e, poster := testEngine()
	e.cal.ComboDelay = 200 * time.Millisecond

	e.Combo(testWin, []command.Action{command.ActRight, command.ActJump})
	<-poster.started // first action (right) has started
	if err := e.Stop(testWin); err != nil {
		t.Fatalf("stop: %v", err)
	}
	waitIdle(t, e)

	if downs, _ := poster.counts(input.Up); downs != 0 {
		t.Errorf("jump executed after cancellation, %d presses", downs)
	}
	if downs, ups := poster.counts(input.Right); downs != 1 || ups != 1 {
		t.Errorf("first combo action should complete exactly once: %d downs / %d ups", downs, ups)
	}
}

func TestNewTaskSupersedesPrevious(t *testing.T) {
	e, poster := testEngine()

	e.StartWalk(testWin, command.DirLeft)
	<-poster.started
	e.Spam(testWin, command.ActJump, 3)
	waitIdle(t, e)

	// Walk must have released its key before spam took over.
	downs, ups := poster.counts(input.Left)
	if downs != ups {
		t.Errorf("superseded walk left key state unbalanced: %d downs / %d ups", downs, ups)
	}
	if downs, ups := poster.counts(input.Up); downs != 3 || ups != 3 {
		t.Errorf("superseding spam ran %d/%d times", downs, ups)
	}
}

func TestMoveHoldProportionalToDistance(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	poster := newRecordingPoster()
	inj := input.NewInjectorWithPoster(logger, poster)
	e := NewEngine(logger, inj, Calibration{
		PixelsPerSecond: 1000,
		MinHold:         time.Millisecond,
		JumpHold:        time.Millisecond,
	})

	start := time.Now()
	if err := e.Move(testWin, command.DirRight, 100); err != nil {
		t.Fatalf("move: %v", err)
	}
	elapsed := time.Since(start)

	// 100 px at 1000 px/s is a 100 ms hold.
	if elapsed < 90*time.Millisecond {
		t.Errorf("hold too short: %v", elapsed)
	}
	if downs, ups := poster.counts(input.Right); downs != 1 || ups != 1 {
		t.Errorf("move pressed %d/%d times", downs, ups)
	}
}
