package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/panyam/possession/client"
	"github.com/panyam/possession/config"
)

// app is what every subcommand gets: the loaded config and an initialized session
type app struct {
	cfg     config.Config
	session *client.Session
	close   func() error
}

type rootFlags struct {
	envFile  string
	baseURL  string
	store    string
	jsonOut  bool
	logLevel string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:   "possession",
		Short: "Session client for the pharmacy POS backend",
		Long: `possession logs in to the pharmacy POS backend and keeps the session alive.

Credentials are stored per server. Requests made with "possession get" carry
the bearer token, which is refreshed shortly before it expires.

Environment Variables:
  POS_API_BASE_URL       Backend API root (default: http://localhost:5000/api)
  POS_STORE              Credential store: fs, mem or redis (default: fs)
  POS_REFRESH_LEAD_TIME  Refresh this long before expiry (default: 60s)
  POS_LOG_LEVEL          debug, info, warn or error (default: info)`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.envFile, "env-file", ".env", "dotenv file to load")
	pf.StringVar(&flags.baseURL, "api-url", "", "Backend API root (overrides POS_API_BASE_URL)")
	pf.StringVar(&flags.store, "store", "", "Credential store (overrides POS_STORE)")
	pf.BoolVar(&flags.jsonOut, "json", false, "Output JSON instead of human-readable text")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level (overrides POS_LOG_LEVEL)")

	root.AddCommand(
		newLoginCmd(flags),
		newLogoutCmd(flags),
		newStatusCmd(flags),
		newWhoamiCmd(flags),
		newGetCmd(flags),
	)
	return root
}

// open loads config, applies flag overrides and restores the stored session
func (f *rootFlags) open(ctx context.Context) (*app, error) {
	cfg, err := config.Load(f.envFile)
	if err != nil {
		return nil, err
	}
	if f.baseURL != "" {
		cfg.BaseURL = f.baseURL
	}
	if f.store != "" {
		cfg.Store = f.store
	}
	if f.logLevel != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(f.logLevel)); err != nil {
			return nil, fmt.Errorf("invalid --log-level: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger()
	store, closeStore, err := cfg.OpenStore(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}

	session := client.NewSession(cfg.BaseURL, store, cfg.Options(logger)...)
	session.Initialize(ctx)
	return &app{
		cfg:     cfg,
		session: session,
		close: func() error {
			session.Close()
			return closeStore()
		},
	}, nil
}
