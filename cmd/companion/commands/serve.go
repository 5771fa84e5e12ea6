package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/jholhewres/companion/pkg/companion/cache"
	"github.com/jholhewres/companion/pkg/companion/config"
	"github.com/jholhewres/companion/pkg/companion/dialogue"
	"github.com/jholhewres/companion/pkg/companion/engine"
	"github.com/jholhewres/companion/pkg/companion/hardware"
	"github.com/jholhewres/companion/pkg/companion/intent"
	"github.com/jholhewres/companion/pkg/companion/llmclient"
	"github.com/jholhewres/companion/pkg/companion/oracle"
	"github.com/jholhewres/companion/pkg/companion/output"
	"github.com/jholhewres/companion/pkg/companion/poller"
	"github.com/jholhewres/companion/pkg/companion/store"
	"github.com/jholhewres/companion/pkg/companion/subagent"
	"github.com/jholhewres/companion/pkg/companion/webui"
)

// newServeCmd creates the `companion serve` command that starts every
// worker: the Dialogue Loop, the Scheduled-Action Engine, the Sub-Agent
// Layer, the Proactive Poller, and the admin health endpoint.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the assistant daemon",
		Long: `Start companion as a long-running daemon: the wake-word dialogue
loop, the scheduled-action engine, the optional sub-agent layer and
proactive poller, and the admin health endpoint.

Examples:
  companion serve
  companion serve --config ./config.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := buildLogger(cmd, cfg)

	apiKey, err := resolveAPIKey(cfg)
	if err != nil {
		return err
	}
	llm := llmclient.New(llmclient.Config{
		BaseURL: cfg.API.BaseURL,
		APIKey:  apiKey,
		Model:   cfg.API.Model,
		Timeout: cfg.API.Timeout,
	}, logger)

	st, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	complexityCache := cache.New(cfg.Cache.Path)
	router := intent.New(llm, complexityCache, nil, logger)

	var port hardware.Port
	if cfg.Hardware.SerialPort != "" {
		f, err := os.OpenFile(cfg.Hardware.SerialPort, os.O_RDWR, 0)
		if err != nil {
			logger.Warn("opening actuator serial port failed, hardware writes disabled", "error", err)
		} else {
			defer f.Close()
			port = f
		}
	}
	controller := hardware.NewController(port, cfg.Hardware.MaxServoChange, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatcher := hardware.NewDispatcher(ctx, controller, cfg.Hardware.DispatchQueueCapacity, logger)

	rl, err := readline.New("companion> ")
	if err != nil {
		return fmt.Errorf("start console dialogue surface: %w", err)
	}
	defer rl.Close()
	console := &consoleIO{rl: rl}

	judge := oracle.New(llm, console, controller, "", logger)

	var voiceSink output.Voice
	var discordSink *output.DiscordSink
	if cfg.Discord.Enabled {
		discordSink, err = output.NewDiscordSink(cfg.Discord.BotToken, cfg.Discord.ChannelID, logger)
		if err != nil {
			logger.Error("failed to start discord sink", "error", err)
		} else {
			defer discordSink.Close()
		}
	}

	var subAgent *subagent.SubAgent
	if cfg.TaskService.BaseURL != "" {
		clientSecret, secretErr := config.ResolveSecret(cfg.TaskService.ClientSecret, "COMPANION_TASKSERVICE_CLIENT_SECRET", "taskservice_client_secret", nil)
		if secretErr != nil {
			logger.Warn("task service client secret unresolved, sub-agent layer disabled", "error", secretErr)
		} else {
			oauthClient := subagent.NewOAuthClient(subagent.OAuthConfig{
				ClientID:     cfg.TaskService.ClientID,
				ClientSecret: clientSecret,
				AuthURL:      cfg.TaskService.AuthURL,
				TokenURL:     cfg.TaskService.TokenURL,
				Scopes:       cfg.TaskService.Scopes,
				RedirectPort: cfg.TaskService.RedirectPort,
				TokenPath:    cfg.TaskService.TokenPath,
			})
			tasks := subagent.NewTaskService(cfg.TaskService.BaseURL, oauthClient)
			subAgent = subagent.New(ctx, llm, tasks, logger)
		}
	}

	health := webui.New(webui.Config{
		Enabled:           cfg.WebUI.Enabled,
		Address:           cfg.WebUI.Address,
		AdminUser:         cfg.WebUI.AdminUser,
		AdminPasswordHash: cfg.WebUI.AdminPasswordHash,
	}, logger)
	if err := health.Start(ctx); err != nil {
		logger.Error("failed to start webui", "error", err)
	}
	defer health.Stop()

	health.RegisterWorker("engine", 0)
	eng := engine.New(st, judge, dispatcher, voiceSinkAsEngineVoice{voiceSink, discordSink}, 30*time.Second, logger)
	go runTouching(ctx, health, "engine", func(ctx context.Context) { eng.Run(ctx) })

	if cfg.Poller.Enabled && subAgent != nil {
		health.RegisterWorker("poller", cfg.Poller.Interval*2)
		p := poller.New(subAgent, voiceSinkAsEngineVoice{voiceSink, discordSink}, dispatcher, cfg.Poller.Interval, logger)
		go runTouching(ctx, health, "poller", func(ctx context.Context) { p.Run(ctx) })
	}

	// subAgent is passed through a conditional so a nil *subagent.SubAgent
	// becomes a true nil interface rather than an interface wrapping a nil
	// pointer (the latter would panic inside Loop's Ask calls).
	var subAgentForLoop dialogue.SubAgent
	if subAgent != nil {
		subAgentForLoop = subAgent
	}
	loop := dialogue.New(console, console, console, console, console, dispatcher, router, llm, st, subAgentForLoop, nil, logger)
	health.RegisterWorker("dialogue", 0)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	runErrCh := make(chan error, 1)
	go func() {
		health.Touch("dialogue")
		runErrCh <- loop.Run(ctx)
	}()

	logger.Info("companion running", "name", cfg.Name, "wake_word", cfg.WakeWord)

	select {
	case <-sigCh:
		logger.Info("shutdown signal received")
	case err := <-runErrCh:
		if err != nil && err != dialogue.ErrExitWord {
			logger.Error("dialogue loop exited with error", "error", err)
		} else {
			logger.Info("exit word received, shutting down")
		}
	}

	cancel()
	return nil
}

// runTouching runs a worker loop to completion, touching the health
// server once on entry so the worker reports a first liveness timestamp
// immediately at startup. The engine and poller loops do not touch the
// health server themselves, so that timestamp is not refreshed later.
func runTouching(ctx context.Context, health *webui.Server, name string, fn func(ctx context.Context)) {
	health.Touch(name)
	fn(ctx)
}

// voiceSinkAsEngineVoice adapts the optional voice/Discord sinks into the
// single engine.Voice / poller.Voice contract: speak if a voice sink is
// configured, and always mirror to Discord if that sink is configured.
type voiceSinkAsEngineVoice struct {
	voice   output.Voice
	discord *output.DiscordSink
}

func (v voiceSinkAsEngineVoice) Speak(ctx context.Context, text string) error {
	var speakErr error
	if v.voice != nil {
		speakErr = v.voice.Speak(ctx, text)
	}
	if v.discord != nil {
		if err := v.discord.Send(ctx, text); err != nil {
			slog.Default().Warn("discord mirror failed", "error", err)
		}
	}
	return speakErr
}
