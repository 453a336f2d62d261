// Package bot wires the relay, the movement engine and the AI session into a
// single command dispatch loop.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/micebot/micebot/internal/ai"
	"github.com/micebot/micebot/internal/command"
	"github.com/micebot/micebot/internal/event"
	"github.com/micebot/micebot/internal/history"
	"github.com/micebot/micebot/internal/movement"
	"github.com/micebot/micebot/internal/relay"
	"github.com/micebot/micebot/internal/utils"
	"github.com/micebot/micebot/internal/window"
)

// maxChatLen is the biggest chunk the game chat renders without truncation.
const maxChatLen = 85

// Sender delivers replies back through a relay endpoint.
type Sender interface {
	SendChat(role, sender, text string) error
	SendWhisper(role, sender, recipient, text string) error
	Username(role string) string
	BothConnected() bool
}

// WindowRegistry tracks the game client windows available for input.
type WindowRegistry interface {
	Enumerate() []window.Window
	Windows() []window.Window
	Select(selector string) (window.Window, error)
	Current() (window.Window, bool)
	ClearSelection()
	LastSelectMatches() int
	Valid(w window.Window) bool
}

// Mover executes movement actions against a window.
type Mover interface {
	Move(w window.Window, dir command.Direction, distancePx int) error
	Jump(w window.Window) error
	StartWalk(w window.Window, dir command.Direction) movement.TaskStatus
	Spam(w window.Window, action command.Action, count int) movement.TaskStatus
	Combo(w window.Window, actions []command.Action) movement.TaskStatus
	Stop(w window.Window) error
	Active() (movement.TaskStatus, bool)
	LastError() error
}

// Typer writes free text into a window's chat box.
type Typer interface {
	SendText(w window.Window, text string) error
}

type Options struct {
	Sender   Sender
	Messages <-chan relay.IncomingMessage
	Updates  <-chan relay.ConnUpdate
	Windows  WindowRegistry
	Engine   Mover
	Typer    Typer
	Bridge   ai.Bridge
	History  *history.Store

	// Controller is the only account allowed to issue commands. When empty
	// it is adopted from the first login on ControllerRole.
	Controller     string
	ControllerRole string
}

// Orchestrator reads messages from the relay and executes operator commands.
// Dispatch is serialized on a single goroutine; AI questions and chat typing
// run async so a slow browser never blocks movement commands.
type Orchestrator struct {
	logger         *slog.Logger
	sender         Sender
	messages       <-chan relay.IncomingMessage
	updates        <-chan relay.ConnUpdate
	windows        WindowRegistry
	engine         Mover
	typer          Typer
	bridge         ai.Bridge
	store          *history.Store
	controllerRole string

	state  state
	aiBusy atomic.Bool
}

func New(logger *slog.Logger, opts Options) *Orchestrator {
	o := &Orchestrator{
		logger:         logger,
		sender:         opts.Sender,
		messages:       opts.Messages,
		updates:        opts.Updates,
		windows:        opts.Windows,
		engine:         opts.Engine,
		typer:          opts.Typer,
		bridge:         opts.Bridge,
		store:          opts.History,
		controllerRole: opts.ControllerRole,
	}
	o.state.enabled = true
	o.state.controller = opts.Controller

	return o
}

// Run dispatches relay traffic until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("bot dispatch started", slog.String("controller", o.state.Controller()))

	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-o.messages:
			o.handleMessage(ctx, m)
		case u := <-o.updates:
			o.handleUpdate(u)
		}
	}
}

func (o *Orchestrator) handleUpdate(u relay.ConnUpdate) {
	if u.Connected {
		if u.Role == o.controllerRole && o.state.AdoptController(u.Username) {
			o.logger.Info("controller adopted", slog.String("username", u.Username))
		}
		return
	}

	// A client dropped: stop driving keys and stay quiet until the operator
	// re-enables the bot.
	if w, ok := o.windows.Current(); ok {
		_ = o.engine.Stop(w)
	}
	if o.state.Enabled() {
		o.state.SetEnabled(false)
		o.logger.Warn("endpoint disconnected, bot disabled", slog.String("role", u.Role))
	}
}

func (o *Orchestrator) handleMessage(ctx context.Context, m relay.IncomingMessage) {
	text := strings.TrimSpace(m.Text)
	if !command.IsCommand(text) {
		return
	}
	// Commands from anyone but the controller are discarded without a reply.
	if !o.state.IsController(m.Sender) {
		o.logger.Debug("command from non-controller ignored", slog.String("sender", m.Sender))
		return
	}

	cmd, err := command.Parse(text)
	if err != nil {
		event.Send(event.CommandFailed(text, err.Error()))
		o.reply(m, err.Error())
		o.record(ctx, m, "", "", err)
		return
	}

	// Disabled means mute: gated commands are dropped without a reply, the
	// same way foreign senders are.
	if !o.state.Enabled() && !allowedWhileOff(cmd.Kind) {
		o.logger.Debug("command ignored while off", slog.String("verb", cmd.Verb))
		o.record(ctx, m, cmd.Verb, "", errors.New("bot is off"))
		return
	}

	event.Send(event.CommandReceived(m.Sender, m.Role, m.Whisper, text))

	resp, err := o.dispatch(ctx, m, cmd)
	if err != nil {
		event.Send(event.CommandFailed(text, err.Error()))
		o.reply(m, err.Error())
	} else if resp != "" {
		o.reply(m, resp)
	}
	// An accepted $ai records from its worker once the outcome is known.
	if cmd.Kind != command.AIQuery || err != nil {
		o.record(ctx, m, cmd.Verb, resp, err)
	}
}

// allowedWhileOff lists the commands that still work after $off.
func allowedWhileOff(k command.Kind) bool {
	return k == command.Enable || k == command.Status || k == command.Debug
}

func (o *Orchestrator) dispatch(ctx context.Context, m relay.IncomingMessage, cmd command.Command) (string, error) {
	switch cmd.Kind {
	case command.Move:
		w, err := o.target()
		if err != nil {
			return "", err
		}
		if err := o.engine.Move(w, cmd.Direction, cmd.Distance); err != nil {
			return "", o.inputErr(err)
		}
		return fmt.Sprintf("moving %s %dpx", cmd.Direction, cmd.Distance), nil

	case command.Jump:
		w, err := o.target()
		if err != nil {
			return "", err
		}
		if err := o.engine.Jump(w); err != nil {
			return "", o.inputErr(err)
		}
		return "jump!", nil

	case command.Walk:
		w, err := o.target()
		if err != nil {
			return "", err
		}
		o.engine.StartWalk(w, cmd.Direction)
		return fmt.Sprintf("walking %s, $stop to halt", cmd.Direction), nil

	case command.Stop:
		w, err := o.target()
		if err != nil {
			return "", err
		}
		if err := o.engine.Stop(w); err != nil {
			return "", o.inputErr(err)
		}
		return "stopped", nil

	case command.Spam:
		w, err := o.target()
		if err != nil {
			return "", err
		}
		o.engine.Spam(w, cmd.Action, cmd.Count)
		return fmt.Sprintf("spamming %s x%d", cmd.Action, cmd.Count), nil

	case command.Combo:
		w, err := o.target()
		if err != nil {
			return "", err
		}
		o.engine.Combo(w, cmd.Actions)
		return fmt.Sprintf("combo of %d actions started", len(cmd.Actions)), nil

	case command.AIQuery:
		return o.askAI(ctx, m, cmd.Verb, cmd.Text)

	case command.AIOpen:
		return o.openAI(ctx, m)

	case command.AIClose:
		return o.closeAI(m)

	case command.Status:
		return o.statusText(), nil

	case command.Chat:
		return o.typeChat(m, cmd.Text)

	case command.Enable:
		o.state.SetEnabled(true)
		return "bot is on", nil

	case command.Disable:
		if w, ok := o.windows.Current(); ok {
			_ = o.engine.Stop(w)
		}
		o.state.SetEnabled(false)
		return "bot is off", nil

	case command.Reset:
		if w, ok := o.windows.Current(); ok {
			_ = o.engine.Stop(w)
		}
		o.windows.ClearSelection()
		return "reset done, window selection cleared", nil

	case command.FindWindows:
		found := o.windows.Enumerate()
		if len(found) == 0 {
			return "no game windows found", nil
		}
		return fmt.Sprintf("found %d game window(s), $windows to list", len(found)), nil

	case command.ListWindows:
		return o.listWindows(), nil

	case command.SelectWindow:
		return o.selectWindow(cmd.Selector)

	case command.CurrentWindow:
		if w, ok := o.windows.Current(); ok {
			return fmt.Sprintf("window %d: %s", w.Index, w.Title), nil
		}
		return "no window selected", nil

	case command.Debug:
		return o.debugText(), nil
	}

	return "", fmt.Errorf("unhandled command %q", cmd.Verb)
}

// target returns the selected window, dropping the selection when its handle
// went stale.
func (o *Orchestrator) target() (window.Window, error) {
	w, ok := o.windows.Current()
	if !ok {
		return window.Window{}, errors.New("no window selected, run $find then $select")
	}
	if !o.windows.Valid(w) {
		o.windows.ClearSelection()
		event.Send(event.StaleWindow(w.Title))
		return window.Window{}, errors.New("selected window is gone, run $find")
	}
	return w, nil
}

func (o *Orchestrator) inputErr(err error) error {
	return fmt.Errorf("input failed: %v", err)
}

func (o *Orchestrator) selectWindow(selector string) (string, error) {
	w, err := o.windows.Select(selector)
	if err != nil {
		return "", fmt.Errorf("no window matches %q, $windows to list", selector)
	}
	resp := fmt.Sprintf("using window %d: %s", w.Index, w.Title)
	if n := o.windows.LastSelectMatches(); n > 1 {
		resp += fmt.Sprintf(" (%d matched, picked first)", n)
	}
	return resp, nil
}

func (o *Orchestrator) listWindows() string {
	ws := o.windows.Windows()
	if len(ws) == 0 {
		return "no windows known, $find first"
	}
	parts := make([]string, 0, len(ws))
	for _, w := range ws {
		parts = append(parts, fmt.Sprintf("%d: %s", w.Index, w.Title))
	}
	return strings.Join(parts, " | ")
}

func (o *Orchestrator) statusText() string {
	parts := []string{"off"}
	if o.state.Enabled() {
		parts[0] = "on"
	}
	if o.sender.BothConnected() {
		parts = append(parts, "both clients connected")
	} else {
		parts = append(parts, "waiting for clients")
	}
	if w, ok := o.windows.Current(); ok {
		parts = append(parts, fmt.Sprintf("window %d: %s", w.Index, w.Title))
	} else {
		parts = append(parts, "no window")
	}
	if t, ok := o.engine.Active(); ok {
		parts = append(parts, fmt.Sprintf("task: %s", t.Kind))
	}
	if o.bridge.Ready() {
		parts = append(parts, "ai: open")
	} else {
		parts = append(parts, "ai: closed")
	}
	return strings.Join(parts, " | ")
}

// debugText is the verbose diagnostic surface: everything $status shows plus
// the details needed to understand a misbehaving session from inside the game.
func (o *Orchestrator) debugText() string {
	parts := []string{o.statusText(), "controller: " + o.state.Controller()}
	if n := o.windows.LastSelectMatches(); n > 1 {
		parts = append(parts, fmt.Sprintf("last select was ambiguous (%d matches)", n))
	}
	if err := o.engine.LastError(); err != nil {
		parts = append(parts, "last task error: "+err.Error())
	}
	return strings.Join(parts, " | ")
}

// typeChat writes the message into the game window off the dispatch loop.
// Typing uses humanized per-key delays and can take seconds.
func (o *Orchestrator) typeChat(m relay.IncomingMessage, text string) (string, error) {
	w, err := o.target()
	if err != nil {
		return "", err
	}
	go func() {
		if err := o.typer.SendText(w, text); err != nil {
			o.logger.Error("chat typing failed", slog.Any("error", err))
			o.reply(m, o.inputErr(err).Error())
		}
	}()
	return "", nil
}

func (o *Orchestrator) openAI(ctx context.Context, m relay.IncomingMessage) (string, error) {
	if o.bridge.Ready() {
		return "AI session is already open", nil
	}
	go func() {
		if err := o.bridge.Open(ctx); err != nil {
			o.logger.Error("AI open failed", slog.Any("error", err))
			o.reply(m, fmt.Sprintf("AI open failed: %v", err))
			return
		}
		o.reply(m, "AI session ready, ask with $ai <question>")
	}()
	return "", nil
}

// closeAI tears the browser session down off the dispatch path; closing a
// browser can take seconds and must not stall queued commands.
func (o *Orchestrator) closeAI(m relay.IncomingMessage) (string, error) {
	if !o.bridge.Ready() {
		return "AI session is already closed", nil
	}
	go func() {
		if err := o.bridge.Close(); err != nil {
			o.logger.Error("AI close failed", slog.Any("error", err))
			o.reply(m, fmt.Sprintf("AI close failed: %v", err))
			return
		}
		o.reply(m, "AI session closed")
	}()
	return "", nil
}

func (o *Orchestrator) askAI(ctx context.Context, m relay.IncomingMessage, verb, question string) (string, error) {
	if !o.bridge.Ready() {
		return "", errors.New("AI session is closed, $aiopen first")
	}
	if !o.aiBusy.CompareAndSwap(false, true) {
		return "", errors.New("still thinking about the previous question")
	}

	go func() {
		defer o.aiBusy.Store(false)

		event.Send(event.AIRequest(question))
		answer, err := o.bridge.Ask(ctx, question)
		event.Send(event.AIResponse(answer, err))
		if err != nil {
			o.logger.Error("AI question failed", slog.Any("error", err))
			// A failed session stays closed until an explicit $aiopen.
			if cerr := o.bridge.Close(); cerr != nil {
				o.logger.Error("AI session teardown failed", slog.Any("error", cerr))
			}
			o.record(ctx, m, verb, "", err)
			o.reply(m, fmt.Sprintf("AI failed: %v", err))
			return
		}
		o.record(ctx, m, verb, answer, nil)
		o.reply(m, answer)
	}()

	return "", nil
}

// Status is a point-in-time snapshot for the web UI.
type Status struct {
	Enabled       bool   `json:"enabled"`
	Controller    string `json:"controller"`
	BotUsername   string `json:"botUsername"`
	BothConnected bool   `json:"bothConnected"`
	Window        string `json:"window"`
	WindowIndex   int    `json:"windowIndex"`
	Task          string `json:"task"`
	LastTaskError string `json:"lastTaskError,omitempty"`
	AIReady       bool   `json:"aiReady"`
}

// botRole is the endpoint the bot account plays on, the one the controller's
// client does not.
func (o *Orchestrator) botRole() string {
	if o.controllerRole == relay.RoleSatellite {
		return relay.RoleMain
	}
	return relay.RoleSatellite
}

func (o *Orchestrator) Snapshot() Status {
	s := Status{
		Enabled:       o.state.Enabled(),
		Controller:    o.state.Controller(),
		BotUsername:   o.sender.Username(o.botRole()),
		BothConnected: o.sender.BothConnected(),
		AIReady:       o.bridge.Ready(),
	}
	if err := o.engine.LastError(); err != nil {
		s.LastTaskError = err.Error()
	}
	if w, ok := o.windows.Current(); ok {
		s.Window = w.Title
		s.WindowIndex = w.Index
	}
	if t, ok := o.engine.Active(); ok {
		s.Task = string(t.Kind)
	}
	return s
}

// reply routes text back the way the command arrived: whisper for whisper,
// room chat for room chat, always through the same endpoint. Long answers are
// split on word boundaries to fit the game chat.
func (o *Orchestrator) reply(m relay.IncomingMessage, text string) {
	from := o.sender.Username(m.Role)
	for i, chunk := range splitMessage(text, maxChatLen) {
		if i > 0 {
			utils.Sleep(300)
		}
		var err error
		if m.Whisper {
			err = o.sender.SendWhisper(m.Role, from, m.Sender, chunk)
		} else {
			err = o.sender.SendChat(m.Role, from, chunk)
		}
		if err != nil {
			o.logger.Error("reply failed", slog.String("role", m.Role), slog.Any("error", err))
			return
		}
	}
}

func (o *Orchestrator) record(ctx context.Context, m relay.IncomingMessage, verb, response string, cmdErr error) {
	if o.store == nil {
		return
	}
	e := history.Entry{
		Sender:   m.Sender,
		Role:     m.Role,
		Whisper:  m.Whisper,
		Raw:      strings.TrimSpace(m.Text),
		Verb:     verb,
		Response: response,
	}
	if cmdErr != nil {
		e.Error = cmdErr.Error()
	}
	if err := o.store.Record(ctx, e); err != nil {
		o.logger.Error("history write failed", slog.Any("error", err))
	}
}

// splitMessage breaks text into chunks of at most max runes, preferring word
// boundaries. A single oversized word is hard-split.
func splitMessage(text string, max int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len([]rune(text)) <= max {
		return []string{text}
	}

	var chunks []string
	var cur []rune
	for _, word := range strings.Fields(text) {
		w := []rune(word)
		for len(w) > max {
			if len(cur) > 0 {
				chunks = append(chunks, string(cur))
				cur = nil
			}
			chunks = append(chunks, string(w[:max]))
			w = w[max:]
		}
		switch {
		case len(cur) == 0:
			cur = w
		case len(cur)+1+len(w) <= max:
			cur = append(append(cur, ' '), w...)
		default:
			chunks = append(chunks, string(cur))
			cur = w
		}
	}
	if len(cur) > 0 {
		chunks = append(chunks, string(cur))
	}
	return chunks
}
