package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/micebot/micebot/internal/event"
)

// ErrNotConnected means the endpoint has no client to send to.
var ErrNotConnected = errors.New("endpoint has no active connection")

// Endpoint is one listening socket of the relay. It carries at most one game
// client at a time; a second connection attempt while occupied is closed
// immediately, not queued. When its client drops, the endpoint simply keeps
// listening.
type Endpoint struct {
	role     string
	logger   *slog.Logger
	messages chan<- IncomingMessage
	updates  chan<- ConnUpdate

	mu       sync.Mutex
	listener net.Listener
	conn     net.Conn
	enc      *Encoder
	username string
}

func newEndpoint(role string, logger *slog.Logger, messages chan<- IncomingMessage, updates chan<- ConnUpdate) *Endpoint {
	return &Endpoint{
		role:     role,
		logger:   logger,
		messages: messages,
		updates:  updates,
	}
}

func (e *Endpoint) bind(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.listener = ln
	e.mu.Unlock()
	e.logger.Info("relay endpoint listening", slog.String("role", e.role), slog.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound listen address, nil before bind.
func (e *Endpoint) Addr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listener == nil {
		return nil
	}
	return e.listener.Addr()
}

func (e *Endpoint) close() {
	e.mu.Lock()
	ln, conn := e.listener, e.conn
	e.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	if conn != nil {
		_ = conn.Close()
	}
}

func (e *Endpoint) acceptLoop(ctx context.Context) error {
	e.mu.Lock()
	ln := e.listener
	e.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		e.mu.Lock()
		busy := e.conn != nil
		if !busy {
			e.conn = conn
			e.enc = NewEncoder(conn)
			e.username = ""
		}
		e.mu.Unlock()

		if busy {
			e.logger.Warn("rejecting second connection on occupied endpoint",
				slog.String("role", e.role), slog.String("remote", conn.RemoteAddr().String()))
			_ = conn.Close()
			continue
		}

		e.logger.Info("game client connected", slog.String("role", e.role), slog.String("remote", conn.RemoteAddr().String()))
		e.updates <- ConnUpdate{Role: e.role, Connected: true}
		event.Send(event.Connection(e.role, true, ""))

		go e.serve(ctx, conn)
	}
}

func (e *Endpoint) serve(ctx context.Context, conn net.Conn) {
	dec := NewDecoder(conn)

	for {
		p, err := dec.Next()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				e.logger.Warn("relay read error", slog.String("role", e.role), slog.Any("error", err))
			}
			break
		}
		e.handle(p)
	}

	_ = conn.Close()

	e.mu.Lock()
	username := e.username
	if e.conn == conn {
		e.conn = nil
		e.enc = nil
		e.username = ""
	}
	e.mu.Unlock()

	if ctx.Err() != nil {
		return
	}

	e.logger.Warn("game client disconnected, endpoint back to listening", slog.String("role", e.role))
	e.updates <- ConnUpdate{Role: e.role, Connected: false, Username: username}
	event.Send(event.Connection(e.role, false, username))
}

func (e *Endpoint) handle(p Packet) {
	switch {
	case p.is(catConnection, codeLogin):
		login, err := decodeLogin(p)
		if err != nil {
			e.logger.Warn("malformed login packet", slog.Any("error", err))
			return
		}
		e.mu.Lock()
		e.username = login.Username
		e.mu.Unlock()
		e.logger.Info("account logged in", slog.String("role", e.role), slog.String("username", login.Username))
		e.updates <- ConnUpdate{Role: e.role, Connected: true, Username: login.Username}
		event.Send(event.Connection(e.role, true, login.Username))

	case p.is(catChat, codeRoomMessage):
		chat, err := decodeChat(p)
		if err != nil {
			e.logger.Warn("malformed chat packet", slog.Any("error", err))
			return
		}
		e.messages <- IncomingMessage{Role: e.role, Sender: chat.Sender, Text: chat.Text}

	case p.is(catChat, codeWhisper):
		w, err := decodeWhisper(p)
		if err != nil {
			e.logger.Warn("malformed whisper packet", slog.Any("error", err))
			return
		}
		e.messages <- IncomingMessage{Role: e.role, Sender: w.Sender, Recipient: w.Recipient, Whisper: true, Text: w.Text}

	default:
		// Movement, room state and every other packet type are not the
		// relay's business.
		e.logger.Debug("ignoring packet", slog.Int("category", int(p.Category)), slog.Int("code", int(p.Code)))
	}
}

func (e *Endpoint) send(p Packet) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.enc == nil {
		return ErrNotConnected
	}
	return e.enc.Encode(p)
}

// Username returns the account logged in on this endpoint, if any.
func (e *Endpoint) Username() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.username
}

// Connected reports whether a client is attached.
func (e *Endpoint) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn != nil
}
