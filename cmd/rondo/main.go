package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"rondo/internal/config"
	"rondo/internal/engine"
	anthropicengine "rondo/internal/engine/anthropic"
	mockengine "rondo/internal/engine/mock"
	"rondo/internal/functions"
	"rondo/internal/session"
	"rondo/internal/transcript"
	"rondo/internal/tui"
)

const version = "v0.1.0"

var errUnsupportedEngine = errors.New("unsupported engine")

func main() {
	if err := execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "rondo: %v\n", err)
		os.Exit(1)
	}
}

func execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var configPath string
	var themeName string
	var savePath string

	cmd := &cobra.Command{
		Use:   "rondo",
		Short: "rondo is a terminal chat client with model function calling",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.LoadOptions{Path: strings.TrimSpace(configPath)})
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			eng, engineName, err := buildEngineFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("build engine: %w", err)
			}

			sess, err := buildSession(cfg, eng)
			if err != nil {
				return fmt.Errorf("create session: %w", err)
			}
			if savePath != "" {
				if err := sess.LoadFile(savePath); err != nil && !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("load session: %w", err)
				}
			}

			store, err := transcript.NewStore(cfg.TranscriptsDir())
			if err != nil {
				return fmt.Errorf("create transcript store: %w", err)
			}

			app := tui.NewApp(tui.AppConfig{
				Version:      version,
				EngineName:   engineName,
				ThemeName:    themeName,
				Session:      sess,
				Transcripts:  store,
				TranscriptID: time.Now().UTC().Format("20060102-150405"),
			})

			program := tea.NewProgram(app, tea.WithAltScreen())
			if _, err := program.Run(); err != nil {
				return fmt.Errorf("run tui: %w", err)
			}

			if savePath != "" {
				if err := sess.SaveFile(savePath); err != nil {
					return fmt.Errorf("save session: %w", err)
				}
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
	cmd.Flags().StringVar(&themeName, "theme", "", "UI theme (dark or light)")
	cmd.Flags().StringVar(&savePath, "session-file", "", "Load session state from this file and save it back on exit")

	cmd.AddCommand(newAskCmd(&configPath))
	cmd.AddCommand(newTranscriptsCmd(&configPath))
	return cmd
}

func newAskCmd(configPath *string) *cobra.Command {
	var oneShot bool

	cmd := &cobra.Command{
		Use:   "ask [query]",
		Short: "Run one full round and print the model's replies",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.LoadOptions{Path: strings.TrimSpace(*configPath)})
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			eng, _, err := buildEngineFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("build engine: %w", err)
			}
			sess, err := buildSession(cfg, eng)
			if err != nil {
				return fmt.Errorf("create session: %w", err)
			}

			query := strings.Join(args, " ")
			if oneShot {
				reply, err := sess.ChatRound(cmd.Context(), query)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), reply)
				return nil
			}

			text, err := sess.FullRoundText(cmd.Context(), query)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}

	cmd.Flags().BoolVar(&oneShot, "no-functions", false, "Answer in one completion without function calling")
	return cmd
}

func newTranscriptsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "transcripts",
		Short: "List saved conversation transcripts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.LoadOptions{Path: strings.TrimSpace(*configPath)})
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			store, err := transcript.NewStore(cfg.TranscriptsDir())
			if err != nil {
				return fmt.Errorf("create transcript store: %w", err)
			}

			infos, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, info := range infos {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d bytes\n",
					info.ID, info.UpdatedAt.Format(time.RFC3339), info.SizeBytes)
			}
			return nil
		},
	}
}

func buildEngineFromConfig(cfg config.Config) (engine.Engine, string, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Engine.Default)) {
	case "", "anthropic":
		settings, err := cfg.AnthropicSettings()
		if err != nil {
			return nil, "", fmt.Errorf("resolve anthropic settings: %w", err)
		}
		if settings.APIKey == "" {
			return nil, "", engine.ErrMissingAPIKey
		}

		eng := anthropicengine.New(anthropicengine.Config{
			APIKey:  settings.APIKey,
			Model:   settings.Model,
			BaseURL: settings.BaseURL,
			Version: settings.Version,
			Retry: anthropicengine.RetryPolicy{
				MaxRetries: settings.Retry.MaxRetries,
				BaseDelay:  settings.Retry.BaseDelay,
				MaxDelay:   settings.Retry.MaxDelay,
			},
			MaxContextSize: settings.MaxContextSize,
			TokenReserve:   settings.TokenReserve,
		})
		return eng, "anthropic/" + settings.Model, nil
	case "mock":
		return mockengine.New(), "mock", nil
	default:
		return nil, "", fmt.Errorf("%w: %s", errUnsupportedEngine, cfg.Engine.Default)
	}
}

func buildSession(cfg config.Config, eng engine.Engine) (*session.Session, error) {
	registry, err := functions.NewRegistry(builtinFunctions()...)
	if err != nil {
		return nil, fmt.Errorf("register functions: %w", err)
	}

	return session.New(session.Config{
		Engine:                eng,
		SystemPrompt:          cfg.Session.SystemPrompt,
		Functions:             registry,
		DesiredResponseTokens: cfg.Session.DesiredResponseTokens,
		RetryAttempts:         cfg.Session.RetryAttempts,
		Logger:                slog.New(slog.NewTextHandler(os.Stderr, nil)),
	})
}

type currentTimeArgs struct {
	// Timezone is an IANA zone name such as "America/New_York".
	Timezone string `json:"timezone,omitempty"`
}

type wordCountArgs struct {
	Text string `json:"text" jsonschema:"required"`
}

func builtinFunctions() []functions.Function {
	return []functions.Function{
		{
			Name:        "current_time",
			Description: "Get the current date and time, optionally in a specific timezone.",
			Schema:      functions.MustSchemaFromStruct(currentTimeArgs{}),
			Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
				var args currentTimeArgs
				if len(raw) > 0 {
					if err := json.Unmarshal(raw, &args); err != nil {
						return "", fmt.Errorf("decode arguments: %w", err)
					}
				}
				now := time.Now()
				if args.Timezone != "" {
					loc, err := time.LoadLocation(args.Timezone)
					if err != nil {
						return "", fmt.Errorf("unknown timezone %q", args.Timezone)
					}
					now = now.In(loc)
				}
				return now.Format(time.RFC1123), nil
			},
			AutoRetry: true,
		},
		{
			Name:        "word_count",
			Description: "Count the words in a piece of text.",
			Schema:      functions.MustSchemaFromStruct(wordCountArgs{}),
			Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
				var args wordCountArgs
				if err := json.Unmarshal(raw, &args); err != nil {
					return "", fmt.Errorf("decode arguments: %w", err)
				}
				return fmt.Sprintf("%d", len(strings.Fields(args.Text))), nil
			},
		},
	}
}
