// Copyright (c) 2026 Keyward Team
// Keyward - signing key custody and execution session manager
// This source code is licensed under the MIT license found in the LICENSE file.

// main.go sets up the command-line interface for Keyward using the Cobra
// library. It defines the root command, the custody subcommands (status,
// sync, local, session, persistent, end, refresh) and the composition
// root that wires the remote credential store, the local state cache and
// the custody manager together.

package main

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/custody"
	"github.com/keyward/keyward/internal/i18n"
	"github.com/keyward/keyward/internal/identity"
	"github.com/keyward/keyward/internal/localstore"
	"github.com/keyward/keyward/internal/logging"
	"github.com/keyward/keyward/internal/remotestore"
	"github.com/keyward/keyward/internal/statestore"
)

var version = "dev" // this will be set by the linker
var cfgFile string

// Config is the application configuration, resolved by internal/config
// from defaults, keyward.yaml, KEYWARD_* environment variables and flags.
type Config struct {
	Database struct {
		// Type selects the remote credential store backend: "sqlite",
		// "postgres", "mysql", or "none" for a disconnected, local-only run.
		Type string `mapstructure:"type" yaml:"type"`
		DSN  string `mapstructure:"dsn" yaml:"dsn"`
	} `mapstructure:"database" yaml:"database"`
	Language string `mapstructure:"language" yaml:"language"`
	Debug    bool   `mapstructure:"debug" yaml:"debug"`
	User     string `mapstructure:"user" yaml:"user"`
	KeyName  string `mapstructure:"key_name" yaml:"key_name"`
	StateDir string `mapstructure:"state_dir" yaml:"state_dir"`
}

func configDefaults() map[string]any {
	return map[string]any{
		"database.type": "sqlite",
		"database.dsn":  "./keyward.db",
		"language":      "en",
		"debug":         false,
		"user":          "",
		"key_name":      "primary",
		"state_dir":     "",
	}
}

// app holds the wired collaborators for the lifetime of one invocation.
type app struct {
	cfg    Config
	mgr    *custody.Manager
	remote remotestore.Store // nil when running disconnected
}

var current *app

// main is the entry point of the application.
func main() {
	if err := rootCmd.Execute(); err != nil {
		// The error is already printed by Cobra on failure.
		os.Exit(1)
	}
}

var rootCmd *cobra.Command

func init() {
	rootCmd = newRootCmd()
}

// newRootCmd creates and configures a new root cobra command. This
// function is used for the main application command as well as fresh
// instances for isolated testing.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyward",
		Short: "Keyward manages signing key custody tiers and execution sessions.",
		Long: `Keyward moves a user's encrypted signing keys between three custody
tiers: local (keys never leave the machine), session (keys held remotely
for a time-boxed execution session) and persistent (keys and a sealed
password held remotely until revoked). The remote credential store is the
ground truth for which tier applies; unattended consumers ask Keyward
before operating without the user present.

Running without a subcommand shows the current custody status.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initApp(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if current != nil && current.remote != nil {
				if err := current.remote.Close(); err != nil {
					logging.Warnf("closing remote store: %v", err)
				}
			}
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(renderStatus(current.mgr))
		},
	}

	cmd.AddCommand(statusCmd)
	cmd.AddCommand(syncCmd)
	cmd.AddCommand(localCmd)
	cmd.AddCommand(sessionCmd)
	cmd.AddCommand(persistentCmd)
	cmd.AddCommand(endCmd)
	cmd.AddCommand(refreshCmd)
	cmd.AddCommand(configCmd)

	cmd.Version = version

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is keyward.yaml in the user config directory)")
	cmd.PersistentFlags().String("db-type", "sqlite", `Remote store database type ("sqlite", "postgres", "mysql", "none")`)
	cmd.PersistentFlags().String("db-dsn", "./keyward.db", "Remote store connection string (DSN)")
	cmd.PersistentFlags().String("user", "", "User identifier (defaults to the OS user)")
	cmd.PersistentFlags().String("language", "en", `Output language ("en", "de")`)
	cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")

	return cmd
}

// initApp resolves the configuration and wires the custody manager. The
// db-type and db-dsn flags shadow the nested database.* config keys, so
// they are applied by hand after LoadConfig.
func initApp(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig[Config](cmd, configDefaults(), &cfgFile)
	if err != nil {
		return err
	}
	if f := cmd.Flags(); f.Changed("db-type") {
		cfg.Database.Type, _ = f.GetString("db-type")
	}
	if f := cmd.Flags(); f.Changed("db-dsn") {
		cfg.Database.DSN, _ = f.GetString("db-dsn")
	}

	i18n.Init(cfg.Language)
	logging.SetDebug(cfg.Debug)

	// Commands marked standalone (config init) only need the resolved
	// configuration, not an open store.
	if cmd.Annotations["standalone"] == "true" {
		current = &app{cfg: cfg}
		return nil
	}

	if cfg.User == "" {
		if u, err := user.Current(); err == nil {
			cfg.User = u.Username
		}
	}

	remote := remotestore.Disconnected()
	var store remotestore.Store
	if cfg.Database.Type != "" && cfg.Database.Type != "none" {
		store, err = remotestore.Open(cfg.Database.Type, cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("%s", i18n.T("error.init_remote", err))
		}
		remote = remotestore.Connected(store)
	}

	stateDir := cfg.StateDir
	if stateDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("%s", i18n.T("error.init_state", err))
		}
		stateDir = filepath.Join(base, "keyward", "state")
	}
	blobs, err := localstore.OpenFileStore(stateDir)
	if err != nil {
		return fmt.Errorf("%s", i18n.T("error.init_state", err))
	}

	states := statestore.New(blobs, cfg.User)
	if err := states.Load(time.Now()); err != nil {
		return fmt.Errorf("%s", i18n.T("error.init_state", err))
	}

	mgr := custody.New(remote, states, identity.Static(cfg.User), custody.WithKeyName(cfg.KeyName))

	// The remote store is ground truth; refresh the cached tier before the
	// command runs. A reconciliation failure degrades to the cached state.
	if err := mgr.Sync(cmd.Context()); err != nil {
		logging.Warnf("startup reconciliation failed, using cached state: %v", err)
	}

	current = &app{cfg: cfg, mgr: mgr, remote: store}
	return nil
}
