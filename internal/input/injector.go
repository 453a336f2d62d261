package input

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lxn/win"
	"github.com/micebot/micebot/internal/utils"
	"github.com/micebot/micebot/internal/utils/winproc"
	"github.com/micebot/micebot/internal/window"
)

// Key is a Windows virtual-key code.
type Key uint32

const (
	Left  Key = win.VK_LEFT
	Right Key = win.VK_RIGHT
	Up    Key = win.VK_UP
	Down  Key = win.VK_DOWN
	Space Key = win.VK_SPACE
	Enter Key = win.VK_RETURN
)

// ErrStaleWindow means the target window handle no longer refers to a live
// window. Callers must re-resolve through the registry, never retry blindly.
var ErrStaleWindow = errors.New("window handle is stale")

// Poster posts raw input messages to a window. Implemented over PostMessage
// so input lands in the target window's queue without touching focus or
// z-order; replaced by a fake in tests.
type Poster interface {
	KeyDown(hwnd win.HWND, key Key) error
	KeyUp(hwnd win.HWND, key Key) error
	Char(hwnd win.HWND, ch rune) error
}

type win32Poster struct{}

func (win32Poster) KeyDown(hwnd win.HWND, key Key) error {
	return post(hwnd, win.WM_KEYDOWN, uintptr(key))
}

func (win32Poster) KeyUp(hwnd win.HWND, key Key) error {
	return post(hwnd, win.WM_KEYUP, uintptr(key))
}

func (win32Poster) Char(hwnd win.HWND, ch rune) error {
	return post(hwnd, win.WM_CHAR, uintptr(ch))
}

func post(hwnd win.HWND, msg uint32, wParam uintptr) error {
	if ok, _, _ := winproc.IsWindow.Call(uintptr(hwnd)); ok == 0 {
		return ErrStaleWindow
	}
	if win.PostMessage(hwnd, msg, wParam, 0) == 0 {
		return fmt.Errorf("PostMessage(%#x, %#x) failed", hwnd, msg)
	}
	return nil
}

// Injector drives keyboard input into specific windows. Calls against the
// same window are serialized by a window-scoped mutex so two tasks cannot
// interleave key state; different windows run truly in parallel.
type Injector struct {
	logger *slog.Logger
	poster Poster

	mu     sync.Mutex
	states map[win.HWND]*windowState
}

type windowState struct {
	mu   sync.Mutex
	held map[Key]int
}

func NewInjector(logger *slog.Logger) *Injector {
	return NewInjectorWithPoster(logger, win32Poster{})
}

func NewInjectorWithPoster(logger *slog.Logger, poster Poster) *Injector {
	return &Injector{
		logger: logger,
		poster: poster,
		states: make(map[win.HWND]*windowState),
	}
}

func (i *Injector) state(hwnd win.HWND) *windowState {
	i.mu.Lock()
	defer i.mu.Unlock()
	st, ok := i.states[hwnd]
	if !ok {
		st = &windowState{held: make(map[Key]int)}
		i.states[hwnd] = st
	}
	return st
}

// SendKey posts key-down, holds for the given duration, then posts key-up.
func (i *Injector) SendKey(w window.Window, key Key, hold time.Duration) error {
	st := i.state(w.HWND)
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := i.keyDownLocked(st, w.HWND, key); err != nil {
		return err
	}
	time.Sleep(hold)

	return i.keyUpLocked(st, w.HWND, key)
}

// KeyDown asserts a key down without releasing it. The held state is tracked
// so ReleaseAll can guarantee a matching key-up later.
func (i *Injector) KeyDown(w window.Window, key Key) error {
	st := i.state(w.HWND)
	st.mu.Lock()
	defer st.mu.Unlock()
	return i.keyDownLocked(st, w.HWND, key)
}

// KeyUp releases a key previously asserted with KeyDown.
func (i *Injector) KeyUp(w window.Window, key Key) error {
	st := i.state(w.HWND)
	st.mu.Lock()
	defer st.mu.Unlock()
	return i.keyUpLocked(st, w.HWND, key)
}

func (i *Injector) keyDownLocked(st *windowState, hwnd win.HWND, key Key) error {
	if err := i.poster.KeyDown(hwnd, key); err != nil {
		return err
	}
	st.held[key]++
	return nil
}

func (i *Injector) keyUpLocked(st *windowState, hwnd win.HWND, key Key) error {
	err := i.poster.KeyUp(hwnd, key)
	if st.held[key] > 0 {
		st.held[key]--
		if st.held[key] == 0 {
			delete(st.held, key)
		}
	}
	return err
}

// ReleaseAll posts key-up for every key currently tracked as held on the
// window. Guarantees no stuck keys after stop/reset, even if a repeating
// task was cancelled mid-hold.
func (i *Injector) ReleaseAll(w window.Window) error {
	st := i.state(w.HWND)
	st.mu.Lock()
	defer st.mu.Unlock()

	var firstErr error
	for key, n := range st.held {
		for ; n > 0; n-- {
			if err := i.poster.KeyUp(w.HWND, key); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		delete(st.held, key)
	}

	return firstErr
}

// HeldKeys returns the keys currently tracked as held on the window.
func (i *Injector) HeldKeys(w window.Window) []Key {
	st := i.state(w.HWND)
	st.mu.Lock()
	defer st.mu.Unlock()

	keys := make([]Key, 0, len(st.held))
	for key := range st.held {
		keys = append(keys, key)
	}
	return keys
}

// SendText types a chat line into the window: Enter to open the chat box,
// one WM_CHAR per character with humanized inter-key delays, Enter to send.
// This blocks for the full duration of the string, so callers must run it
// off the dispatch path.
func (i *Injector) SendText(w window.Window, text string) error {
	st := i.state(w.HWND)
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := i.tapLocked(st, w.HWND, Enter, 100*time.Millisecond); err != nil {
		return err
	}
	time.Sleep(utils.RandDuration(100*time.Millisecond, 200*time.Millisecond))

	for n, ch := range []rune(text) {
		if ch == ' ' {
			if err := i.tapLocked(st, w.HWND, Space, utils.RandDuration(10*time.Millisecond, 20*time.Millisecond)); err != nil {
				return err
			}
		} else if err := i.poster.Char(w.HWND, ch); err != nil {
			return err
		}
		time.Sleep(utils.TypingDelay(ch, n))
	}

	// Brief pause before sending, as if reviewing the line.
	time.Sleep(utils.RandDuration(100*time.Millisecond, 300*time.Millisecond))

	return i.tapLocked(st, w.HWND, Enter, 50*time.Millisecond)
}

func (i *Injector) tapLocked(st *windowState, hwnd win.HWND, key Key, hold time.Duration) error {
	if err := i.keyDownLocked(st, hwnd, key); err != nil {
		return err
	}
	time.Sleep(hold)
	return i.keyUpLocked(st, hwnd, key)
}
