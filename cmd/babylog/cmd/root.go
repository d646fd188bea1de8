// Package cmd implements the babylog subcommands. Every command except tab
// talks to a running gateway through the remote client.
package cmd

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/babylog/internal/client"
	"github.com/kimhsiao/babylog/internal/config"
	"github.com/kimhsiao/babylog/internal/identity"
	"github.com/kimhsiao/babylog/internal/logging"
)

// Version information
var Version = "dev"

type options struct {
	configPath string
	server     string
	prefsPath  string
}

// app is the state shared by subcommands once the root has run.
type app struct {
	cfg    *config.Config
	loc    *time.Location
	remote *client.Client
	users  *identity.Resolver
	now    func() time.Time
}

// NewRootCommand creates the root command for the babylog CLI
func NewRootCommand() *cobra.Command {
	return newRootCommand(&app{now: time.Now})
}

func newRootCommand(a *app) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:     "babylog",
		Short:   "babylog - log and review a baby's day",
		Version: Version,
		Long: `babylog records feedings, sleeps, diapers and more against a babylog
server, and shows the day's logs, the month's calendar and live changes.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(opts)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.remote != nil {
				a.remote.Close()
			}
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", os.Getenv(config.EnvPrefix+"CONFIG"), "path to a YAML config file")
	flags.StringVar(&opts.server, "server", "", "server base URL (overrides client.base_url)")
	flags.StringVar(&opts.prefsPath, "prefs", "", "preferences file (default in the user config dir)")

	cmd.AddCommand(newTodayCommand(a))
	cmd.AddCommand(newSayCommand(a))
	cmd.AddCommand(newEventsCommand(a))
	cmd.AddCommand(newWatchCommand(a))
	cmd.AddCommand(newTabCommand(opts))

	return cmd
}

func (a *app) setup(opts *options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.server != "" {
		cfg.Client.BaseURL = opts.server
	}
	logging.Init(os.Stderr, cfg.LogLevel())

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	if opts.prefsPath == "" {
		opts.prefsPath = defaultPrefsPath()
	}

	a.cfg = cfg
	a.loc = loc
	a.remote = client.New(cfg.Client.BaseURL)
	a.users = identity.NewResolver(a.remote, cfg.Identity.FallbackUserID)
	return nil
}

func defaultPrefsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "babylog", "prefs.json")
}

// today returns the current time in the configured zone.
func (a *app) today() time.Time {
	return a.now().In(a.loc)
}
