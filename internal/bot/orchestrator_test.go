package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/micebot/micebot/internal/ai"
	"github.com/micebot/micebot/internal/command"
	"github.com/micebot/micebot/internal/history"
	"github.com/micebot/micebot/internal/movement"
	"github.com/micebot/micebot/internal/relay"
	"github.com/micebot/micebot/internal/window"
)

var errTaskDied = errors.New("task went away")

type sentMessage struct {
	Role      string
	Recipient string
	Whisper   bool
	Text      string
}

type fakeSender struct {
	mu        sync.Mutex
	sent      []sentMessage
	signal    chan struct{}
	username  string
	usernames map[string]string
}

func newFakeSender() *fakeSender {
	return &fakeSender{signal: make(chan struct{}, 16), username: "Micebot"}
}

func (f *fakeSender) SendChat(role, sender, text string) error {
	f.mu.Lock()
	f.sent = append(f.sent, sentMessage{Role: role, Text: text})
	f.mu.Unlock()
	f.signal <- struct{}{}
	return nil
}

func (f *fakeSender) SendWhisper(role, sender, recipient, text string) error {
	f.mu.Lock()
	f.sent = append(f.sent, sentMessage{Role: role, Recipient: recipient, Whisper: true, Text: text})
	f.mu.Unlock()
	f.signal <- struct{}{}
	return nil
}

func (f *fakeSender) Username(role string) string {
	if u, ok := f.usernames[role]; ok {
		return u
	}
	return f.username
}

func (f *fakeSender) BothConnected() bool { return true }

func (f *fakeSender) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeSender) waitForReply(t *testing.T) sentMessage {
	t.Helper()
	select {
	case <-f.signal:
	case <-time.After(2 * time.Second):
		t.Fatal("no reply sent")
	}
	msgs := f.messages()
	return msgs[len(msgs)-1]
}

type fakeWindows struct {
	windows  []window.Window
	selected *window.Window
	stale    bool
	matches  int
}

func (f *fakeWindows) Enumerate() []window.Window { return f.windows }
func (f *fakeWindows) Windows() []window.Window   { return f.windows }

func (f *fakeWindows) Select(selector string) (window.Window, error) {
	for _, w := range f.windows {
		if strings.Contains(strings.ToLower(w.Title), strings.ToLower(selector)) {
			f.selected = &w
			return w, nil
		}
	}
	return window.Window{}, window.ErrNotFound
}

func (f *fakeWindows) Current() (window.Window, bool) {
	if f.selected == nil {
		return window.Window{}, false
	}
	return *f.selected, true
}

func (f *fakeWindows) ClearSelection()            { f.selected = nil }
func (f *fakeWindows) LastSelectMatches() int     { return f.matches }
func (f *fakeWindows) Valid(w window.Window) bool { return !f.stale }

type fakeEngine struct {
	moves, jumps, stops int
	walks, spams        int
	combos              int
	active              bool
	lastErr             error
}

func (f *fakeEngine) Move(w window.Window, dir command.Direction, px int) error {
	f.moves++
	return nil
}

func (f *fakeEngine) Jump(w window.Window) error { f.jumps++; return nil }

func (f *fakeEngine) StartWalk(w window.Window, dir command.Direction) movement.TaskStatus {
	f.walks++
	f.active = true
	return movement.TaskStatus{Kind: movement.TaskWalk}
}

func (f *fakeEngine) Spam(w window.Window, a command.Action, n int) movement.TaskStatus {
	f.spams++
	f.active = true
	return movement.TaskStatus{Kind: movement.TaskSpam}
}

func (f *fakeEngine) Combo(w window.Window, a []command.Action) movement.TaskStatus {
	f.combos++
	f.active = true
	return movement.TaskStatus{Kind: movement.TaskCombo}
}

func (f *fakeEngine) Stop(w window.Window) error {
	f.stops++
	f.active = false
	return nil
}

func (f *fakeEngine) LastError() error { return f.lastErr }

func (f *fakeEngine) Active() (movement.TaskStatus, bool) {
	if !f.active {
		return movement.TaskStatus{}, false
	}
	return movement.TaskStatus{Kind: movement.TaskWalk}, true
}

type fakeTyper struct {
	mu    sync.Mutex
	typed []string
}

func (f *fakeTyper) SendText(w window.Window, text string) error {
	f.mu.Lock()
	f.typed = append(f.typed, text)
	f.mu.Unlock()
	return nil
}

type fakeBridge struct {
	mu     sync.Mutex
	open   bool
	answer string
	err    error
	asked  []string

	// Optional gates so tests can hold an Ask or Close in flight. Waited on
	// outside the mutex so Ready stays responsive, as with the real bridge.
	askGate   chan struct{}
	closeGate chan struct{}
}

func (f *fakeBridge) Open(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = true
	return nil
}

func (f *fakeBridge) Ask(ctx context.Context, q string) (string, error) {
	f.mu.Lock()
	f.asked = append(f.asked, q)
	answer, err, gate := f.answer, f.err, f.askGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return answer, err
}

func (f *fakeBridge) Close() error {
	f.mu.Lock()
	gate := f.closeGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	f.open = false
	f.mu.Unlock()
	return nil
}

func (f *fakeBridge) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

type fixture struct {
	orch    *Orchestrator
	sender  *fakeSender
	windows *fakeWindows
	engine  *fakeEngine
	typer   *fakeTyper
	bridge  *fakeBridge
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, func(*Options) {})
}

func newFixtureWith(t *testing.T, mod func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		sender: newFakeSender(),
		windows: &fakeWindows{windows: []window.Window{
			{Index: 1, HWND: 100, Title: "Transformice"},
			{Index: 2, HWND: 200, Title: "Transformice - Bot"},
		}},
		engine: &fakeEngine{},
		typer:  &fakeTyper{},
		bridge: &fakeBridge{answer: "42"},
	}
	opts := Options{
		Sender:         f.sender,
		Windows:        f.windows,
		Engine:         f.engine,
		Typer:          f.typer,
		Bridge:         f.bridge,
		Controller:     "Boss",
		ControllerRole: relay.RoleMain,
	}
	mod(&opts)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.orch = New(logger, opts)
	return f
}

func msg(text string) relay.IncomingMessage {
	return relay.IncomingMessage{Role: relay.RoleMain, Sender: "Boss", Text: text}
}

func whisper(text string) relay.IncomingMessage {
	return relay.IncomingMessage{Role: relay.RoleSatellite, Sender: "Boss", Whisper: true, Recipient: "Micebot", Text: text}
}

func TestNonControllerIsSilentlyIgnored(t *testing.T) {
	f := newFixture(t)

	f.orch.handleMessage(context.Background(), relay.IncomingMessage{
		Role: relay.RoleMain, Sender: "Stranger", Text: "$jump",
	})

	if got := f.sender.messages(); len(got) != 0 {
		t.Errorf("intruder must get no reply, got %v", got)
	}
	if f.engine.jumps != 0 {
		t.Error("intruder command must not reach the engine")
	}
}

func TestControllerIsCaseInsensitive(t *testing.T) {
	f := newFixture(t)
	f.windows.selected = &f.windows.windows[0]

	f.orch.handleMessage(context.Background(), relay.IncomingMessage{
		Role: relay.RoleMain, Sender: "bOsS", Text: "$jump",
	})

	if f.engine.jumps != 1 {
		t.Errorf("jumps = %d, want 1", f.engine.jumps)
	}
}

func TestParseErrorGetsUsageReply(t *testing.T) {
	f := newFixture(t)

	f.orch.handleMessage(context.Background(), msg("$move northwest"))

	reply := f.sender.waitForReply(t)
	if !strings.Contains(reply.Text, "$move") {
		t.Errorf("expected a usage hint, got %q", reply.Text)
	}
}

func TestCommandsNeedASelectedWindow(t *testing.T) {
	f := newFixture(t)

	f.orch.handleMessage(context.Background(), msg("$jump"))

	reply := f.sender.waitForReply(t)
	if !strings.Contains(reply.Text, "$select") {
		t.Errorf("expected a selection hint, got %q", reply.Text)
	}
	if f.engine.jumps != 0 {
		t.Error("jump must not run without a window")
	}
}

func TestStaleWindowClearsSelection(t *testing.T) {
	f := newFixture(t)
	f.windows.selected = &f.windows.windows[0]
	f.windows.stale = true

	f.orch.handleMessage(context.Background(), msg("$jump"))

	f.sender.waitForReply(t)
	if f.windows.selected != nil {
		t.Error("stale selection should be dropped")
	}
}

func TestOffGating(t *testing.T) {
	f := newFixture(t)
	f.windows.selected = &f.windows.windows[0]
	ctx := context.Background()

	f.orch.handleMessage(ctx, msg("$off"))
	f.sender.waitForReply(t)

	// Gated commands are dropped without a reply while off.
	f.orch.handleMessage(ctx, msg("$jump"))
	if got := f.sender.messages(); len(got) != 1 {
		t.Errorf("expected silence while off, got %v", got)
	}
	if f.engine.jumps != 0 {
		t.Error("jump must not run while off")
	}

	// $status and $on still work while off.
	f.orch.handleMessage(ctx, msg("$status"))
	f.sender.waitForReply(t)
	f.orch.handleMessage(ctx, msg("$on"))
	f.sender.waitForReply(t)

	f.orch.handleMessage(ctx, msg("$jump"))
	f.sender.waitForReply(t)
	if f.engine.jumps != 1 {
		t.Errorf("jump after $on: jumps = %d, want 1", f.engine.jumps)
	}
}

func TestWhisperRepliesAsWhisper(t *testing.T) {
	f := newFixture(t)
	f.windows.selected = &f.windows.windows[0]

	f.orch.handleMessage(context.Background(), whisper("$jump"))

	reply := f.sender.waitForReply(t)
	if !reply.Whisper || reply.Recipient != "Boss" || reply.Role != relay.RoleSatellite {
		t.Errorf("reply should whisper Boss on the satellite endpoint, got %+v", reply)
	}
}

func TestSelectAndCurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.orch.handleMessage(ctx, msg("$select bot"))
	reply := f.sender.waitForReply(t)
	if !strings.Contains(reply.Text, "Transformice - Bot") {
		t.Errorf("select reply = %q", reply.Text)
	}

	f.orch.handleMessage(ctx, msg("$current"))
	reply = f.sender.waitForReply(t)
	if !strings.Contains(reply.Text, "Transformice - Bot") {
		t.Errorf("current reply = %q", reply.Text)
	}

	f.orch.handleMessage(ctx, msg("$select nosuchwindow"))
	reply = f.sender.waitForReply(t)
	if !strings.Contains(reply.Text, "no window matches") {
		t.Errorf("miss reply = %q", reply.Text)
	}
}

func TestResetStopsAndClearsSelection(t *testing.T) {
	f := newFixture(t)
	f.windows.selected = &f.windows.windows[0]
	f.engine.active = true

	f.orch.handleMessage(context.Background(), msg("$reset"))

	f.sender.waitForReply(t)
	if f.engine.stops != 1 {
		t.Errorf("stops = %d, want 1", f.engine.stops)
	}
	if f.windows.selected != nil {
		t.Error("reset should clear the window selection")
	}
}

func TestAskRequiresOpenSession(t *testing.T) {
	f := newFixture(t)

	f.orch.handleMessage(context.Background(), msg("$ai what is cheese"))

	reply := f.sender.waitForReply(t)
	if !strings.Contains(reply.Text, "$aiopen") {
		t.Errorf("expected open hint, got %q", reply.Text)
	}
}

func TestAskRepliesWithAnswer(t *testing.T) {
	f := newFixture(t)
	f.bridge.open = true
	f.bridge.answer = "cheese is life"

	f.orch.handleMessage(context.Background(), msg("$ask what is cheese"))

	reply := f.sender.waitForReply(t)
	if reply.Text != "cheese is life" {
		t.Errorf("answer = %q", reply.Text)
	}
	if len(f.bridge.asked) != 1 || f.bridge.asked[0] != "what is cheese" {
		t.Errorf("asked = %v", f.bridge.asked)
	}
}

func waitAIIdle(t *testing.T, o *Orchestrator) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for o.aiBusy.Load() {
		if time.Now().After(deadline) {
			t.Fatal("ai worker did not finish")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestStatusAnswersWhileQuestionInFlight(t *testing.T) {
	f := newFixture(t)
	f.bridge.open = true
	f.bridge.askGate = make(chan struct{})
	ctx := context.Background()

	f.orch.handleMessage(ctx, msg("$ai slow one"))

	// The question is parked in the bridge; dispatch must keep serving.
	f.orch.handleMessage(ctx, msg("$status"))
	reply := f.sender.waitForReply(t)
	if !strings.Contains(reply.Text, "ai: open") {
		t.Errorf("status while asking = %q", reply.Text)
	}

	close(f.bridge.askGate)
	reply = f.sender.waitForReply(t)
	if reply.Text != "42" {
		t.Errorf("answer = %q", reply.Text)
	}
}

func TestAICloseRunsOffTheDispatchPath(t *testing.T) {
	f := newFixture(t)
	f.bridge.open = true
	f.bridge.closeGate = make(chan struct{})
	ctx := context.Background()

	f.orch.handleMessage(ctx, msg("$aiclose"))

	// Teardown is parked; $status must still get through.
	f.orch.handleMessage(ctx, msg("$status"))
	f.sender.waitForReply(t)

	close(f.bridge.closeGate)
	reply := f.sender.waitForReply(t)
	if reply.Text != "AI session closed" {
		t.Errorf("close reply = %q", reply.Text)
	}
	if f.bridge.Ready() {
		t.Error("session should be closed")
	}
}

func TestFailedAskClosesTheSession(t *testing.T) {
	f := newFixture(t)
	f.bridge.open = true
	f.bridge.err = ai.ErrTimeout
	ctx := context.Background()

	f.orch.handleMessage(ctx, msg("$ai anyone there"))
	reply := f.sender.waitForReply(t)
	if !strings.Contains(reply.Text, "AI failed") {
		t.Errorf("expected failure reply, got %q", reply.Text)
	}
	if f.bridge.Ready() {
		t.Error("a failed question must leave the session closed")
	}

	// The next question needs an explicit $aiopen.
	waitAIIdle(t, f.orch)
	f.orch.handleMessage(ctx, msg("$ai again"))
	reply = f.sender.waitForReply(t)
	if !strings.Contains(reply.Text, "$aiopen") {
		t.Errorf("expected open hint, got %q", reply.Text)
	}
}

func TestAIOutcomeRecordedOnce(t *testing.T) {
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	f := newFixtureWith(t, func(o *Options) { o.History = store })
	f.bridge.open = true
	f.bridge.answer = "cheese"
	ctx := context.Background()

	f.orch.handleMessage(ctx, msg("$ai what"))
	f.sender.waitForReply(t)
	waitAIIdle(t, f.orch)

	entries, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one row per question, got %d", len(entries))
	}
	if entries[0].Verb != "ai" || entries[0].Response != "cheese" {
		t.Errorf("recorded %+v", entries[0])
	}

	// A failed question records its error.
	f.bridge.open = true
	f.bridge.err = ai.ErrTimeout
	f.orch.handleMessage(ctx, msg("$ai again"))
	f.sender.waitForReply(t)
	waitAIIdle(t, f.orch)

	entries, err = store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected two rows, got %d", len(entries))
	}
	if entries[0].Error == "" {
		t.Errorf("failure row missing error: %+v", entries[0])
	}
}

func TestSnapshotBotAccountFollowsControllerRole(t *testing.T) {
	f := newFixtureWith(t, func(o *Options) { o.ControllerRole = relay.RoleSatellite })
	f.sender.usernames = map[string]string{
		relay.RoleMain:      "Mousey",
		relay.RoleSatellite: "Boss",
	}
	if got := f.orch.Snapshot().BotUsername; got != "Mousey" {
		t.Errorf("bot account = %q, want the main endpoint login", got)
	}

	g := newFixture(t)
	g.sender.usernames = map[string]string{
		relay.RoleMain:      "Boss",
		relay.RoleSatellite: "Mousey",
	}
	if got := g.orch.Snapshot().BotUsername; got != "Mousey" {
		t.Errorf("bot account = %q, want the satellite login", got)
	}
}

func TestChatTypesIntoWindow(t *testing.T) {
	f := newFixture(t)
	f.windows.selected = &f.windows.windows[0]

	f.orch.handleMessage(context.Background(), msg("$chat hello room"))

	deadline := time.Now().Add(2 * time.Second)
	for {
		f.typer.mu.Lock()
		n := len(f.typer.typed)
		f.typer.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("chat text was never typed")
		}
		time.Sleep(time.Millisecond)
	}
	if f.typer.typed[0] != "hello room" {
		t.Errorf("typed %q", f.typer.typed[0])
	}
}

func TestDisconnectDisablesAndStops(t *testing.T) {
	f := newFixture(t)
	f.windows.selected = &f.windows.windows[0]
	f.engine.active = true

	f.orch.handleUpdate(relay.ConnUpdate{Role: relay.RoleMain, Connected: false})

	if f.engine.stops != 1 {
		t.Errorf("stops = %d, want 1", f.engine.stops)
	}
	if f.orch.state.Enabled() {
		t.Error("bot should disable itself on disconnect")
	}
}

func TestControllerAdoptedFromFirstLogin(t *testing.T) {
	f := newFixture(t)
	f.orch.state.controller = ""

	f.orch.handleUpdate(relay.ConnUpdate{Role: relay.RoleMain, Connected: true, Username: "NewBoss"})
	f.orch.handleUpdate(relay.ConnUpdate{Role: relay.RoleMain, Connected: true, Username: "Impostor"})

	if got := f.orch.state.Controller(); got != "NewBoss" {
		t.Errorf("controller = %q, want NewBoss", got)
	}
}

func TestDebugSurfacesAmbiguityAndTaskError(t *testing.T) {
	f := newFixture(t)
	f.windows.matches = 3
	f.engine.lastErr = errTaskDied

	f.orch.handleMessage(context.Background(), msg("$debug"))

	// The diagnostic line spans several chat chunks; stitch them back up.
	var full string
	for _, m := range f.sender.messages() {
		full += m.Text + " "
	}
	if !strings.Contains(full, "ambiguous (3 matches)") {
		t.Errorf("debug should report select ambiguity, got %q", full)
	}
	if !strings.Contains(full, "task went away") {
		t.Errorf("debug should report the last task error, got %q", full)
	}
	if !strings.Contains(full, "Boss") {
		t.Errorf("debug should name the controller, got %q", full)
	}
}

func TestSplitMessage(t *testing.T) {
	long := strings.Repeat("word ", 40)
	chunks := splitMessage(long, maxChatLen)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len([]rune(c)) > maxChatLen {
			t.Errorf("chunk %d is %d runes", i, len([]rune(c)))
		}
		if strings.HasPrefix(c, " ") || strings.HasSuffix(c, " ") {
			t.Errorf("chunk %d has ragged spacing: %q", i, c)
		}
	}

	if got := splitMessage("short", maxChatLen); len(got) != 1 || got[0] != "short" {
		t.Errorf("short message should be one chunk, got %v", got)
	}
	if got := splitMessage(strings.Repeat("x", 200), maxChatLen); len(got) != 3 {
		t.Errorf("oversized word should hard-split into 3, got %d", len(got))
	}
}
