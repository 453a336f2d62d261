package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"golang.org/x/sync/errgroup"
)

const (
	RoleMain      = "main"
	RoleSatellite = "satellite"
)

// IncomingMessage is one extracted chat or whisper line, consumed once by
// the orchestrator.
type IncomingMessage struct {
	Role      string
	Sender    string
	Recipient string
	Whisper   bool
	Text      string
}

// ConnUpdate reports an endpoint gaining/losing its client or learning the
// logged-in account name.
type ConnUpdate struct {
	Role      string
	Connected bool
	Username  string
}

// Relay owns the two listening endpoints and the extraction of the chat
// plane from the game wire stream.
type Relay struct {
	logger    *slog.Logger
	host      string
	mainPort  int
	satPort   int
	main      *Endpoint
	satellite *Endpoint
	messages  chan IncomingMessage
	updates   chan ConnUpdate
}

func New(logger *slog.Logger, host string, mainPort, satellitePort int) *Relay {
	r := &Relay{
		logger:   logger,
		host:     host,
		mainPort: mainPort,
		satPort:  satellitePort,
		messages: make(chan IncomingMessage, 64),
		updates:  make(chan ConnUpdate, 16),
	}
	r.main = newEndpoint(RoleMain, logger, r.messages, r.updates)
	r.satellite = newEndpoint(RoleSatellite, logger, r.messages, r.updates)
	return r
}

// Run binds both endpoints and serves them until ctx is cancelled. Each
// endpoint reads on its own goroutine; blocking on one connection never
// stalls the other.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.main.bind(net.JoinHostPort(r.host, strconv.Itoa(r.mainPort))); err != nil {
		return fmt.Errorf("error binding main endpoint: %w", err)
	}
	if err := r.satellite.bind(net.JoinHostPort(r.host, strconv.Itoa(r.satPort))); err != nil {
		r.main.close()
		return fmt.Errorf("error binding satellite endpoint: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.main.acceptLoop(ctx) })
	g.Go(func() error { return r.satellite.acceptLoop(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		r.main.close()
		r.satellite.close()
		return nil
	})

	return g.Wait()
}

// Messages is the stream of extracted chat/whisper lines.
func (r *Relay) Messages() <-chan IncomingMessage {
	return r.messages
}

// Updates is the stream of endpoint connect/disconnect/login transitions.
func (r *Relay) Updates() <-chan ConnUpdate {
	return r.updates
}

func (r *Relay) endpoint(role string) *Endpoint {
	if role == RoleSatellite {
		return r.satellite
	}
	return r.main
}

// SendChat emits a room chat line on the endpoint for role.
func (r *Relay) SendChat(role, sender, text string) error {
	return r.endpoint(role).send(ChatPacket{Sender: sender, Text: text}.packet())
}

// SendWhisper emits a whisper on the endpoint for role.
func (r *Relay) SendWhisper(role, sender, recipient, text string) error {
	return r.endpoint(role).send(WhisperPacket{Sender: sender, Recipient: recipient, Text: text}.packet())
}

// Username returns the account logged in on the endpoint for role.
func (r *Relay) Username(role string) string {
	return r.endpoint(role).Username()
}

// BothConnected reports whether both endpoints currently have a client.
func (r *Relay) BothConnected() bool {
	return r.main.Connected() && r.satellite.Connected()
}

// MainAddr and SatelliteAddr expose the bound addresses (nil before Run).
func (r *Relay) MainAddr() net.Addr      { return r.main.Addr() }
func (r *Relay) SatelliteAddr() net.Addr { return r.satellite.Addr() }
