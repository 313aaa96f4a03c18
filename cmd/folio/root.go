package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/kiranshivaraju/folio/internal/backend"
	"github.com/kiranshivaraju/folio/internal/config"
	"github.com/spf13/cobra"
)

// app carries what every command needs. Tests swap the fields.
type app struct {
	out    io.Writer
	errOut io.Writer
	clock  clockwork.Clock
	logger *slog.Logger

	loadConfig func() (*config.Config, error)
	newClient  func(cfg *config.Config) backend.Client
}

func defaultApp() *app {
	return &app{
		out:        os.Stdout,
		errOut:     os.Stderr,
		clock:      clockwork.NewRealClock(),
		loadConfig: config.LoadClient,
		newClient: func(cfg *config.Config) backend.Client {
			return backend.NewHTTPClient(cfg.Backend.BaseURL, cfg.Backend.Token, cfg.Backend.Timeout,
				backend.WithRateLimit(cfg.Backend.RateLimit))
		},
	}
}

func newRootCmd(a *app) *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:          "folio",
		Short:        "Portfolio reporting from the command line",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			a.logger = slog.New(slog.NewTextHandler(a.errOut, &slog.HandlerOptions{Level: level}))
		},
	}
	root.SetOut(a.out)
	root.SetErr(a.errOut)
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log polling activity to stderr")

	root.AddCommand(newReportCmd(a))
	root.AddCommand(newHoldingsCmd(a))
	return root
}

// client loads the backend settings from the environment and builds a client.
func (a *app) client() (backend.Client, *config.Config, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	return a.newClient(cfg), cfg, nil
}

func (a *app) log() *slog.Logger {
	if a.logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return a.logger
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// syncWriter serializes writes from the progress ticker and the status loop.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
