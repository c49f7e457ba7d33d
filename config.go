package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	adminToken     string
	bind           string
	catalog        string
	db             string
	finalHold      time.Duration
	port           int
	prefix         string
	profile        bool
	revealHold     time.Duration
	sessionTimeout time.Duration
	timezone       string
	tlsCert        string
	tlsKey         string
	verbose        bool
	version        bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.catalog == "" {
		return errors.New("--catalog is required")
	}
	if c.finalHold > c.revealHold {
		return fmt.Errorf("--final-hold (%s) must not exceed --reveal-hold (%s)", c.finalHold, c.revealHold)
	}
	if _, err := time.LoadLocation(c.timezone); err != nil {
		return fmt.Errorf("invalid --timezone: %w", err)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("PATHLE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "pathle",
		Short:         "A daily career-path guessing game, served as a single self-contained webapp.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVar(&cfg.adminToken, "admin-token", "", "bearer token required by the override endpoint; empty disables overrides (env: PATHLE_ADMIN_TOKEN)")
	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: PATHLE_BIND)")
	fs.StringVarP(&cfg.catalog, "catalog", "c", "", "path to the candidate catalog csv (env: PATHLE_CATALOG)")
	fs.StringVar(&cfg.db, "db", "pathle.db", "path to the sqlite database (env: PATHLE_DB)")
	fs.DurationVar(&cfg.finalHold, "final-hold", 1200*time.Millisecond, "feedback hold after the last level (env: PATHLE_FINAL_HOLD)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: PATHLE_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: PATHLE_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: PATHLE_PROFILE)")
	fs.DurationVar(&cfg.revealHold, "reveal-hold", 2500*time.Millisecond, "feedback hold between levels (env: PATHLE_REVEAL_HOLD)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 60*time.Minute, "time before idle game sessions are ended (env: PATHLE_IDLE_SESSION_TIMEOUT)")
	fs.StringVar(&cfg.timezone, "timezone", "America/Los_Angeles", "reference timezone deciding when the calendar day rolls over (env: PATHLE_TIMEZONE)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: PATHLE_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: PATHLE_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: PATHLE_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: PATHLE_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("pathle v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
