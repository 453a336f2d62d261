package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	sloggger "github.com/micebot/micebot/cmd/micebot/log"
	"github.com/micebot/micebot/internal/ai"
	"github.com/micebot/micebot/internal/bot"
	"github.com/micebot/micebot/internal/config"
	"github.com/micebot/micebot/internal/event"
	"github.com/micebot/micebot/internal/history"
	"github.com/micebot/micebot/internal/input"
	"github.com/micebot/micebot/internal/movement"
	"github.com/micebot/micebot/internal/relay"
	"github.com/micebot/micebot/internal/remote/discord"
	"github.com/micebot/micebot/internal/remote/telegram"
	"github.com/micebot/micebot/internal/server"
	"github.com/micebot/micebot/internal/utils/winproc"
	"github.com/micebot/micebot/internal/window"
	"golang.org/x/sync/errgroup"
)

var (
	buildID   string
	buildTime string
)

// wrapWithRecover wraps a function with panic recovery logic
func wrapWithRecover(logger *slog.Logger, f func() error) func() error {
	return func() error {
		defer func() {
			if r := recover(); r != nil {
				stackTrace := debug.Stack()
				errMsg := fmt.Sprintf("panic recovered: %v\nStacktrace: %s", r, stackTrace)
				logger.Error(errMsg)
				sloggger.FlushLog()
			}
		}()
		return f()
	}
}

func main() {
	_ = buildID
	_ = buildTime

	configPath := flag.String("config", config.DefaultPath, "path to the yaml config file")
	mainPort := flag.Int("main-port", 0, "override the main endpoint port")
	satellitePort := flag.Int("satellite-port", 0, "override the satellite endpoint port")
	controller := flag.String("controller", "", "override the controller username")
	headless := flag.Bool("headless", false, "run the AI browser headless")
	flag.Parse()

	if err := config.Load(*configPath); err != nil {
		log.Fatalf("Error loading configuration: %s", err.Error())
	}
	cfg := config.Micebot

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "main-port":
			cfg.MainPort = *mainPort
		case "satellite-port":
			cfg.SatellitePort = *satellitePort
		case "controller":
			cfg.ControllerUsername = *controller
		case "headless":
			cfg.AI.Headless = *headless
		}
	})

	logger, err := sloggger.NewLogger(cfg.Debug.Log, cfg.LogSaveDirectory, "")
	if err != nil {
		log.Fatalf("Error starting logger: %s", err.Error())
	}
	defer sloggger.FlushAndClose()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fatal error detected, micebot will close with the following error: %v\n Stacktrace: %s", r, debug.Stack())
			logger.Error(err.Error())
			sloggger.FlushAndClose()
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	winproc.SetProcessDpiAware.Call() // read window rects at the real scale

	eventListener := event.NewListener(logger)

	rly := relay.New(logger, cfg.HostAddress, cfg.MainPort, cfg.SatellitePort)
	registry := window.NewRegistry(logger, cfg.WindowSignatures)
	injector := input.NewInjector(logger)
	engine := movement.NewEngine(logger, injector, movement.Calibration{
		PixelsPerSecond: cfg.Movement.PixelsPerSecond,
		MinHold:         time.Duration(cfg.Movement.MinHoldMs) * time.Millisecond,
		JumpHold:        time.Duration(cfg.Movement.JumpHoldMs) * time.Millisecond,
		SpamDelay:       time.Duration(cfg.Movement.SpamDelayMs) * time.Millisecond,
		ComboDelay:      time.Duration(cfg.Movement.ComboDelayMs) * time.Millisecond,
	})
	bridge := ai.NewGemini(logger, ai.Config{
		Headless:    cfg.AI.Headless,
		BrowserBin:  cfg.AI.BrowserBin,
		UserDataDir: cfg.AI.UserDataDir,
		Timeout:     time.Duration(cfg.AI.TimeoutSeconds) * time.Second,
	})

	var store *history.Store
	if cfg.History.Enabled {
		store, err = history.Open(cfg.History.Path)
		if err != nil {
			log.Fatalf("Error opening history store: %s", err.Error())
		}
		defer store.Close()
	}

	orch := bot.New(logger, bot.Options{
		Sender:         rly,
		Messages:       rly.Messages(),
		Updates:        rly.Updates(),
		Windows:        registry,
		Engine:         engine,
		Typer:          injector,
		Bridge:         bridge,
		History:        store,
		Controller:     cfg.ControllerUsername,
		ControllerRole: cfg.ControllerRole,
	})

	statusLine := func() string {
		s := orch.Snapshot()
		return fmt.Sprintf("enabled=%t connected=%t window=%q task=%q ai=%t",
			s.Enabled, s.BothConnected, s.Window, s.Task, s.AIReady)
	}

	if cfg.Server.Enabled {
		srv := server.New(logger, orch, store)
		eventListener.Register(srv.EventHandler())
		g.Go(wrapWithRecover(logger, func() error {
			defer cancel()
			return srv.Listen(ctx, cfg.Server.Port)
		}))
	}

	// Discord Bot initialization
	if cfg.Discord.Enabled {
		discordBot, err := discord.NewBot(cfg.Discord.Token, cfg.Discord.ChannelID, cfg.Discord.BotAdmins, statusLine)
		if err != nil {
			logger.Error("Discord could not been initialized", slog.Any("error", err))
			return
		}

		eventListener.Register(discordBot.Handle)
		g.Go(wrapWithRecover(logger, func() error {
			return discordBot.Start(ctx)
		}))
	}

	// Telegram Bot initialization
	if cfg.Telegram.Enabled {
		telegramBot, err := telegram.NewBot(cfg.Telegram.Token, cfg.Telegram.ChatID, logger, statusLine)
		if err != nil {
			logger.Error("Telegram could not been initialized", slog.Any("error", err))
			return
		}

		eventListener.Register(telegramBot.Handle)
		g.Go(wrapWithRecover(logger, func() error {
			return telegramBot.Start(ctx)
		}))
	}

	g.Go(wrapWithRecover(logger, func() error {
		defer cancel()
		return rly.Run(ctx)
	}))

	g.Go(wrapWithRecover(logger, func() error {
		defer cancel()
		return orch.Run(ctx)
	}))

	g.Go(wrapWithRecover(logger, func() error {
		defer cancel()
		return eventListener.Listen(ctx)
	}))

	g.Go(wrapWithRecover(logger, func() error {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sig:
			logger.Info("micebot shutting down...")
			cancel()
		case <-ctx.Done():
		}
		if err := bridge.Close(); err != nil {
			logger.Error("error closing AI session", slog.Any("error", err))
		}
		return nil
	}))

	if err := g.Wait(); err != nil {
		cancel()
		logger.Error("Error running micebot", slog.Any("error", err))
		return
	}

	sloggger.FlushAndClose()
}
