// Package main provides avatarctl, a command-line client for the avatar
// generation service. It is handy for checking the service without the app.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/normanking/talkingavatar/internal/capture"
	"github.com/normanking/talkingavatar/internal/config"
	"github.com/normanking/talkingavatar/internal/generation"
)

var (
	// Version information (set at build time)
	version = "dev"

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F59E0B"))
)

// options are the flags shared by every command
type options struct {
	configDir string
	server    string
	endpoint  string
	timeout   time.Duration
	asJSON    bool
	verbose   bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "avatarctl",
		Short: "Talk to the avatar generation service from the terminal",
		Long: titleStyle.Render("avatarctl") + `

Sends questions and recordings to the same service the Talking Avatar app
uses and prints what comes back.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configDir, "config-dir", "", "directory holding config.yaml (default ~/.talkingavatar)")
	flags.StringVar(&opts.server, "server", "", "generation service URL (overrides config)")
	flags.StringVar(&opts.endpoint, "endpoint", "", "generation endpoint, /generate-video or /generate-speech")
	flags.DurationVar(&opts.timeout, "timeout", 0, "per-request timeout (overrides config)")
	flags.BoolVar(&opts.asJSON, "json", false, "print raw JSON")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log requests to stderr")

	rootCmd.AddCommand(
		newAskCmd(opts),
		newTranscribeCmd(opts),
		newConfigCmd(opts),
	)
	return rootCmd
}

func newAskCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ask [text]",
		Short: "Ask a question and print the generated reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			text := strings.TrimSpace(strings.Join(args, " "))
			if text == "" {
				return fmt.Errorf("nothing to ask")
			}
			bundle, err := ask(cmd.Context(), cfg, opts.logger(cmd), text)
			if err != nil {
				return err
			}
			return printBundle(cmd.OutOrStdout(), bundle, opts.asJSON)
		},
	}
}

func newTranscribeCmd(opts *options) *cobra.Command {
	var thenAsk bool

	cmd := &cobra.Command{
		Use:   "transcribe [file]",
		Short: "Transcribe a recording, optionally asking the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			audio, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read recording: %w", err)
			}

			logger := opts.logger(cmd)
			tr := capture.NewTranscriber(capture.TranscriberConfig{
				ServerURL: cfg.Generation.ServerURL,
				Path:      cfg.Capture.TranscribePath,
				Timeout:   cfg.Capture.Timeout,
			}, logger)
			text, err := tr.Transcribe(cmd.Context(), audio)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !thenAsk {
				fmt.Fprintln(out, text)
				return nil
			}
			if strings.TrimSpace(text) == "" {
				fmt.Fprintln(out, warnStyle.Render("No speech recognised"))
				return nil
			}
			if !opts.asJSON {
				fmt.Fprintf(out, "%s %s\n\n", labelStyle.Render("Heard:"), text)
			}
			bundle, err := ask(cmd.Context(), cfg, logger, text)
			if err != nil {
				return err
			}
			return printBundle(out, bundle, opts.asJSON)
		},
	}
	cmd.Flags().BoolVar(&thenAsk, "ask", false, "send the transcript to the generation service")
	return cmd
}

func newConfigCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		},
	}
}

// load reads config the way the app does, then applies flag overrides.
func (o *options) load() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configDir != "" {
		if err := os.MkdirAll(o.configDir, 0755); err != nil {
			return nil, err
		}
		cfg, err = config.LoadFrom(viper.New(), o.configDir)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if o.server != "" {
		cfg.Generation.ServerURL = o.server
	}
	if o.endpoint != "" {
		cfg.Generation.Endpoint = o.endpoint
	}
	if o.timeout > 0 {
		cfg.Generation.Timeout = o.timeout
		cfg.Capture.Timeout = o.timeout
	}
	return cfg, cfg.Validate()
}

func (o *options) logger(cmd *cobra.Command) zerolog.Logger {
	if !o.verbose {
		return zerolog.Nop()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: "15:04:05"}).
		With().Timestamp().Logger()
}

func ask(ctx context.Context, cfg *config.Config, logger zerolog.Logger, text string) (*generation.Bundle, error) {
	client, err := generation.NewClient(&generation.ClientConfig{
		ServerURL: cfg.Generation.ServerURL,
		Endpoint:  cfg.Generation.Endpoint,
		Timeout:   cfg.Generation.Timeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	return client.Generate(ctx, "", text)
}

func printBundle(w io.Writer, b *generation.Bundle, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(b)
	}

	fmt.Fprintln(w, b.SpokenText)
	fmt.Fprintln(w)
	field := func(label, value string) {
		if value != "" {
			fmt.Fprintf(w, "  %s %s\n", labelStyle.Render(fmt.Sprintf("%-8s", label)), value)
		}
	}
	field("Summary:", b.Summary)
	field("Insight:", b.Insight)
	field("Video:", b.VideoRef)
	field("Audio:", b.AudioRef)
	if b.Notice != "" {
		fmt.Fprintln(w, warnStyle.Render("  "+b.Notice))
	}
	if b.Degraded() {
		fmt.Fprintln(w, warnStyle.Render("  (text only, no media)"))
	}
	return nil
}
