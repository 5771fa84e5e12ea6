package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/jholhewres/companion/pkg/companion/dialogue"
	"github.com/jholhewres/companion/pkg/companion/hardware"
	"github.com/jholhewres/companion/pkg/companion/intent"
	"github.com/jholhewres/companion/pkg/companion/llmclient"
	"github.com/jholhewres/companion/pkg/companion/store"
)

// newChatCmd creates the `companion chat` command: a readline REPL that
// stands in for the microphone/speaker during bring-up, driving the same
// Dialogue Loop the real hardware would (spec §11 enrichment #1).
func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive console REPL standing in for the microphone",
		RunE:  runChat,
	}
}

func runChat(cmd *cobra.Command, _ []string) error {
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

	router := intent.New(llm, nil, nil, logger)

	rl, err := readline.New("companion> ")
	if err != nil {
		return fmt.Errorf("start readline: %w", err)
	}
	defer rl.Close()

	console := &consoleIO{rl: rl}
	loop := dialogue.New(console, console, console, console, console, nil, router, llm, st, nil, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	fmt.Println("Type a message and press Enter. Say \"exit\" to quit.")
	if err := loop.Run(ctx); err != nil && err != dialogue.ErrExitWord && err != context.Canceled {
		return err
	}
	return nil
}

// consoleIO substitutes the microphone, camera, speaker, and robot pose
// sensor with a terminal, satisfying dialogue.WakeWord/SpeechToText/
// Camera/Voice/RobotState all at once. Every turn is pre-woken (no real
// wake-word detector exists) and face-centering/frame capture are no-ops.
type consoleIO struct {
	rl *readline.Instance
}

func (c *consoleIO) Wait(ctx context.Context) error { return nil }

func (c *consoleIO) Record(ctx context.Context) (string, error) {
	line, err := c.rl.Readline()
	if err != nil {
		return "", err
	}
	return line, nil
}

func (c *consoleIO) CenterOnFace(ctx context.Context) error { return nil }

func (c *consoleIO) CaptureFrameJPEGBase64(ctx context.Context) (string, error) { return "", nil }

func (c *consoleIO) Speak(ctx context.Context, text string) error {
	fmt.Println(text)
	return nil
}

func (c *consoleIO) State() hardware.State { return hardware.State{} }
