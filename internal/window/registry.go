package window

import (
	"errors"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"unsafe"

	"github.com/lxn/win"
	"github.com/micebot/micebot/internal/event"
	"github.com/micebot/micebot/internal/utils/winproc"
)

// Window is one enumerated game-client window. Index is 1-based and stable
// only within the snapshot that produced it; re-enumeration renumbers.
type Window struct {
	Index int
	HWND  win.HWND
	Title string
}

var ErrNotFound = errors.New("window not found")

type enumerateFunc func() []Window

// Registry enumerates game-client windows and tracks the selected one. It
// never sends input itself; callers hand the selected Window to the injector.
type Registry struct {
	logger     *slog.Logger
	signatures []string
	enumerate  enumerateFunc

	mu          sync.Mutex
	snapshot    []Window
	selected    int // index into the latest snapshot, 0 = none
	lastMatches int // title matches seen by the last substring Select

	enumMu      sync.Mutex
	enumCB      uintptr
	enumResults []Window
}

func NewRegistry(logger *slog.Logger, signatures []string) *Registry {
	r := newRegistry(logger, signatures, nil)
	r.enumerate = r.enumTopLevel
	// The callback is created once; EnumWindows calls are serialized by
	// enumMu so the shared results slice is safe.
	r.enumCB = syscall.NewCallback(func(hwnd uintptr, _ uintptr) uintptr {
		if visible, _, _ := winproc.IsWindowVisible.Call(hwnd); visible == 0 {
			return 1
		}
		title := windowTitle(hwnd)
		lower := strings.ToLower(title)
		for _, sig := range r.signatures {
			if strings.Contains(lower, sig) {
				r.enumResults = append(r.enumResults, Window{HWND: win.HWND(hwnd), Title: title})
				break
			}
		}
		return 1
	})
	return r
}

func newRegistry(logger *slog.Logger, signatures []string, enumerate enumerateFunc) *Registry {
	lowered := make([]string, 0, len(signatures))
	for _, sig := range signatures {
		lowered = append(lowered, strings.ToLower(sig))
	}
	return &Registry{
		logger:     logger,
		signatures: lowered,
		enumerate:  enumerate,
	}
}

// Enumerate refreshes the snapshot from the OS. An empty result is a valid
// "no windows" state, not an error. A previous selection survives only if
// its handle is still present; it is renumbered to the new index.
func (r *Registry) Enumerate() []Window {
	wins := r.enumerate()
	for i := range wins {
		wins[i].Index = i + 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var selectedHWND win.HWND
	if cur, ok := r.currentLocked(); ok {
		selectedHWND = cur.HWND
	}

	r.snapshot = wins
	r.selected = 0
	for _, w := range wins {
		if selectedHWND != 0 && w.HWND == selectedHWND {
			r.selected = w.Index
		}
	}

	r.logger.Debug("enumerated game windows", slog.Int("count", len(wins)))

	return slices.Clone(wins)
}

// Select resolves selector against the latest snapshot: a numeric selector
// must match an index exactly, anything else is a case-insensitive substring
// match on titles (first match wins on ties, the ambiguity is recorded for
// the status surface). Enumerates first if no snapshot exists yet.
func (r *Registry) Select(selector string) (Window, error) {
	r.mu.Lock()
	empty := len(r.snapshot) == 0
	r.mu.Unlock()
	if empty {
		r.Enumerate()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastMatches = 0

	if idx, err := strconv.Atoi(selector); err == nil {
		for _, w := range r.snapshot {
			if w.Index == idx {
				r.lastMatches = 1
				r.selectLocked(w)
				return w, nil
			}
		}
		return Window{}, ErrNotFound
	}

	needle := strings.ToLower(selector)
	var first *Window
	for i := range r.snapshot {
		if strings.Contains(strings.ToLower(r.snapshot[i].Title), needle) {
			r.lastMatches++
			if first == nil {
				first = &r.snapshot[i]
			}
		}
	}
	if first == nil {
		return Window{}, ErrNotFound
	}
	if r.lastMatches > 1 {
		r.logger.Warn("window selector is ambiguous, using first match",
			slog.String("selector", selector), slog.Int("matches", r.lastMatches))
	}
	r.selectLocked(*first)

	return *first, nil
}

func (r *Registry) selectLocked(w Window) {
	r.selected = w.Index
	event.Send(event.WindowSelected(w.Index, w.Title))
}

// Current returns the selected window from the latest snapshot.
func (r *Registry) Current() (Window, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentLocked()
}

func (r *Registry) currentLocked() (Window, bool) {
	if r.selected == 0 {
		return Window{}, false
	}
	for _, w := range r.snapshot {
		if w.Index == r.selected {
			return w, true
		}
	}
	return Window{}, false
}

// ClearSelection drops the selected slot. Used by $reset.
func (r *Registry) ClearSelection() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selected = 0
}

// Windows returns the latest snapshot without re-enumerating.
func (r *Registry) Windows() []Window {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.snapshot)
}

// LastSelectMatches reports how many titles matched the most recent substring
// Select; a value above 1 means the pick was ambiguous.
func (r *Registry) LastSelectMatches() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastMatches
}

// Valid reports whether the window handle still refers to a live window.
func (r *Registry) Valid(w Window) bool {
	if w.HWND == 0 {
		return false
	}
	ok, _, _ := winproc.IsWindow.Call(uintptr(w.HWND))
	return ok != 0
}

func (r *Registry) enumTopLevel() []Window {
	r.enumMu.Lock()
	defer r.enumMu.Unlock()

	r.enumResults = r.enumResults[:0]
	winproc.EnumWindows.Call(r.enumCB, 0)

	return slices.Clone(r.enumResults)
}

func windowTitle(hwnd uintptr) string {
	length, _, _ := winproc.GetWindowTextLength.Call(hwnd)
	if length == 0 {
		return ""
	}
	buf := make([]uint16, length+1)
	winproc.GetWindowText.Call(hwnd, uintptr(unsafe.Pointer(&buf[0])), length+1)
	return syscall.UTF16ToString(buf)
}
