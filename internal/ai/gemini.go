package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

const geminiURL = "https://gemini.google.com/"

// The Gemini web UI changes markup regularly, so both the prompt box and the
// response container are located by trying a list of selectors in order.
var (
	inputSelectors = []string{
		"rich-textarea div.ql-editor[contenteditable='true']",
		"rich-textarea div[contenteditable='true']",
		"div.ql-editor[contenteditable='true']",
		"[contenteditable='true']",
		"textarea",
	}
	responseSelector = "message-content.model-response-text, .model-response-text"
)

// Gemini drives a logged-in Gemini session through a real browser. Reusing a
// persistent user data directory keeps the Google login across bot restarts.
// Config carries the browser settings for a Gemini session.
type Config struct {
	Headless    bool
	BrowserBin  string
	UserDataDir string
	Timeout     time.Duration
}

type Gemini struct {
	logger      *slog.Logger
	headless    bool
	browserBin  string
	userDataDir string
	timeout     time.Duration

	// ready mirrors whether a session is open so Ready never contends with
	// the mutex. The mutex only guards session setup and teardown; Ask runs
	// its polling loop outside it and watches ready to bail out when the
	// session is closed underneath it.
	ready atomic.Bool

	mu      sync.Mutex
	launch  *launcher.Launcher
	browser *rod.Browser
	page    *rod.Page
}

func NewGemini(logger *slog.Logger, cfg Config) *Gemini {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &Gemini{
		logger:      logger,
		headless:    cfg.Headless,
		browserBin:  cfg.BrowserBin,
		userDataDir: cfg.UserDataDir,
		timeout:     cfg.Timeout,
	}
}

// Open launches the browser and navigates to Gemini. Calling Open on an
// already open session is a no-op.
func (g *Gemini) Open(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.page != nil {
		return nil
	}

	launch := launcher.New().Context(ctx).Headless(g.headless)
	if g.browserBin != "" {
		launch = launch.Bin(g.browserBin)
	}
	if g.userDataDir != "" {
		launch = launch.UserDataDir(g.userDataDir)
	}

	controlURL, err := launch.Launch()
	if err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		launch.Cleanup()
		return fmt.Errorf("failed to connect to browser: %w", err)
	}

	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = browser.Close()
		launch.Cleanup()
		return fmt.Errorf("failed to create page: %w", err)
	}

	if err := page.Navigate(geminiURL); err != nil {
		_ = browser.Close()
		launch.Cleanup()
		return fmt.Errorf("failed to navigate to %s: %w", geminiURL, err)
	}
	if err := page.WaitLoad(); err != nil {
		_ = browser.Close()
		launch.Cleanup()
		return fmt.Errorf("failed to wait for page load: %w", err)
	}

	g.launch = launch
	g.browser = browser
	g.page = page
	g.ready.Store(true)
	g.logger.Info("AI session opened", slog.Bool("headless", g.headless))

	return nil
}

// Ask submits a question and waits for the assistant's answer to finish
// streaming. One question is in flight at a time.
func (g *Gemini) Ask(ctx context.Context, question string) (string, error) {
	g.mu.Lock()
	page := g.page
	g.mu.Unlock()

	if page == nil {
		return "", ErrSessionDead
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	page = page.Context(ctx)

	before, err := g.responseCount(page)
	if err != nil {
		return "", err
	}

	prompt := buildPrompt(question)
	box, err := g.findInput(page)
	if err != nil {
		return "", err
	}
	if err := box.Input(prompt); err != nil {
		return "", fmt.Errorf("failed to type question: %w", err)
	}
	if err := g.submit(page); err != nil {
		return "", err
	}

	answer, err := g.waitForAnswer(ctx, page, before)
	if err != nil {
		return "", err
	}

	g.logger.Debug("AI answered", slog.Int("chars", len(answer)))
	return answer, nil
}

func (g *Gemini) Close() error {
	// Flip ready first so an in-flight Ask stops polling instead of riding
	// out its timeout against a dead browser.
	g.ready.Store(false)

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.page == nil {
		return nil
	}

	err := g.browser.Close()
	g.launch.Cleanup()
	g.launch = nil
	g.browser = nil
	g.page = nil
	g.ready.Store(false)
	g.logger.Info("AI session closed")

	return err
}

func (g *Gemini) Ready() bool {
	return g.ready.Load()
}

func (g *Gemini) findInput(page *rod.Page) (*rod.Element, error) {
	for _, selector := range inputSelectors {
		el, err := page.Timeout(5 * time.Second).Element(selector)
		if err != nil {
			continue
		}
		if visible, _ := el.Visible(); !visible {
			continue
		}
		return el, nil
	}

	return nil, fmt.Errorf("%w: no prompt input box", ErrParseFailure)
}

func (g *Gemini) submit(page *rod.Page) error {
	btn, err := page.Timeout(2 * time.Second).Element("button[aria-label*='Send']")
	if err == nil {
		if err := btn.Click(proto.InputMouseButtonLeft, 1); err == nil {
			return nil
		}
	}

	if err := page.Keyboard.Type(input.Enter); err != nil {
		return fmt.Errorf("failed to submit question: %w", err)
	}
	return nil
}

func (g *Gemini) responseCount(page *rod.Page) (int, error) {
	els, err := page.Elements(responseSelector)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect conversation: %w", err)
	}
	return len(els), nil
}

// waitForAnswer polls until a new response element appears and its text stops
// changing, which is the only reliable end-of-stream signal the page offers.
func (g *Gemini) waitForAnswer(ctx context.Context, page *rod.Page, before int) (string, error) {
	var last string
	stable := 0

	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w after %s", ErrTimeout, g.timeout)
		case <-time.After(time.Second):
		}
		if !g.ready.Load() {
			return "", ErrSessionDead
		}

		els, err := page.Elements(responseSelector)
		if err != nil || len(els) <= before {
			continue
		}

		text, err := els[len(els)-1].Text()
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		if text == last {
			stable++
			if stable >= 2 {
				return text, nil
			}
		} else {
			last = text
			stable = 0
		}
	}
}

// buildPrompt wraps the player's question with instructions that keep answers
// short enough for game chat and in the language the question was asked in.
func buildPrompt(question string) string {
	var b strings.Builder
	b.WriteString("You are a friendly assistant answering inside a game chat. ")
	b.WriteString("Reply in the same language as the question, in plain text without markdown, ")
	b.WriteString("and keep it under 200 characters when possible.\n\nQuestion: ")
	b.WriteString(question)
	return b.String()
}
