package event

import (
	"context"
	"log/slog"
	"sync"
)

type Handler func(ctx context.Context, e Event) error

type Listener struct {
	logger   *slog.Logger
	mu       sync.RWMutex
	handlers []Handler
	queue    chan Event
}

var (
	defaultMu       sync.RWMutex
	defaultListener *Listener
)

func NewListener(logger *slog.Logger) *Listener {
	l := &Listener{
		logger: logger,
		queue:  make(chan Event, 256),
	}

	defaultMu.Lock()
	defaultListener = l
	defaultMu.Unlock()

	return l
}

func (l *Listener) Register(h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, h)
}

// Listen dispatches queued events to every registered handler until ctx is
// cancelled. Handler errors are logged, never propagated: a broken notifier
// must not take the bot down.
func (l *Listener) Listen(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-l.queue:
			l.mu.RLock()
			handlers := l.handlers
			l.mu.RUnlock()
			for _, h := range handlers {
				if err := h(ctx, e); err != nil {
					l.logger.Error("error running event handler", slog.Any("error", err))
				}
			}
		}
	}
}

func (l *Listener) emit(e Event) {
	select {
	case l.queue <- e:
	default:
		l.logger.Warn("event queue full, dropping event", slog.String("message", e.Message()))
	}
}

// Send publishes e on the process-wide listener. It is a no-op before
// NewListener has been called, so packages can emit unconditionally.
func Send(e Event) {
	defaultMu.RLock()
	l := defaultListener
	defaultMu.RUnlock()
	if l != nil {
		l.emit(e)
	}
}
