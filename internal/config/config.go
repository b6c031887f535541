// Package config builds the server's command line. Every flag can also be set
// through a GAMENIGHT_ environment variable or a .env file.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

const EnvPrefix = "GAMENIGHT"

type Config struct {
	Bind             string
	Port             int
	LogLevel         string
	Dev              bool
	SecretSalt       string
	DatabaseURL      string
	FlashWindow      time.Duration
	DefaultTarget    int
	CoverConcurrency int
	FetchTimeout     time.Duration
	Origins          []string
	PublicURL        string
	ImgAllowPrivate  bool
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid --log-level %q", c.LogLevel)
	}
	if c.DefaultTarget < 1 {
		return errors.New("--default-target must be at least 1")
	}
	if c.FlashWindow <= 0 {
		return errors.New("--flash-window must be positive")
	}
	if c.CoverConcurrency < 1 {
		return errors.New("--cover-concurrency must be at least 1")
	}
	if c.FetchTimeout <= 0 {
		return errors.New("--fetch-timeout must be positive")
	}
	if c.PublicURL != "" {
		u, err := url.Parse(c.PublicURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid --public-url %q", c.PublicURL)
		}
	}
	return nil
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}

// LoadDotEnv reads the given files (default .env) into the environment. A
// missing file is not an error; variables already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// NewCommand returns the root command. run is called with the validated
// config once flags and environment are resolved.
func NewCommand(version string, run func(cmd *cobra.Command, cfg *Config) error) *cobra.Command {
	cfg := &Config{}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:     "gamenight",
		Short:   "Live 1v1 bracket voting to pick tonight's games.",
		Args:    cobra.ExactArgs(0),
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd, cfg)
		},
	}

	fs := cmd.Flags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.Bind, "bind", "b", "0.0.0.0", "address to bind to (env: GAMENIGHT_BIND)")
	fs.IntVarP(&cfg.Port, "port", "p", 8080, "port to listen on (env: GAMENIGHT_PORT)")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "debug, info, warn or error (env: GAMENIGHT_LOG_LEVEL)")
	fs.BoolVar(&cfg.Dev, "dev", false, "human readable logs (env: GAMENIGHT_DEV)")
	fs.StringVar(&cfg.SecretSalt, "secret-salt", "", "salt for room password digests (env: GAMENIGHT_SECRET_SALT)")
	fs.StringVar(&cfg.DatabaseURL, "database-url", "", "postgres DSN for the results archive; empty disables it (env: GAMENIGHT_DATABASE_URL)")
	fs.DurationVar(&cfg.FlashWindow, "flash-window", 5*time.Second, "how long a tie notice stays visible (env: GAMENIGHT_FLASH_WINDOW)")
	fs.IntVar(&cfg.DefaultTarget, "default-target", 5, "winners picked when an import gives no target (env: GAMENIGHT_DEFAULT_TARGET)")
	fs.IntVar(&cfg.CoverConcurrency, "cover-concurrency", 4, "parallel cover image lookups per import (env: GAMENIGHT_COVER_CONCURRENCY)")
	fs.DurationVar(&cfg.FetchTimeout, "fetch-timeout", 15*time.Second, "timeout for document and cover fetches (env: GAMENIGHT_FETCH_TIMEOUT)")
	fs.StringSliceVar(&cfg.Origins, "origin", nil, "extra websocket origin patterns, e.g. localhost:* (env: GAMENIGHT_ORIGIN)")
	fs.StringVar(&cfg.PublicURL, "public-url", "", "base URL used in invite QR codes; derived from the request when empty (env: GAMENIGHT_PUBLIC_URL)")

	fs.BoolVar(&cfg.ImgAllowPrivate, "img-allow-private", false, "let the image proxy fetch loopback and private addresses (env: GAMENIGHT_IMG_ALLOW_PRIVATE)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("gamenight v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
