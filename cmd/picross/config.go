package main

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"ctchen222/picross/internal/client"
	"ctchen222/picross/internal/db"
	"ctchen222/picross/internal/events"
	"ctchen222/picross/internal/puzzle"
	"ctchen222/picross/internal/server"
	"ctchen222/picross/internal/validator"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "PICROSS"

// maxDimension keeps rendered puzzles readable in a terminal.
const maxDimension = 25

type serveConfig struct {
	Bind         string        `validate:"required"`
	Port         int           `validate:"gte=1,lte=65535"`
	Finalize     bool
	AdminAddr    string        `validate:"omitempty,hostname_port"`
	RedisAddr    string        `validate:"omitempty,hostname_port"`
	RedisChannel string        `validate:"required"`
	OtelEndpoint string        `validate:"omitempty,hostname_port"`
	DrainTimeout time.Duration `validate:"gte=0"`
	Verbose      bool
}

func (c *serveConfig) validate() error {
	if err := validator.GetValidator().Struct(c); err != nil {
		return fmt.Errorf("invalid serve configuration: %w", err)
	}
	if c.AdminAddr != "" {
		if _, port, err := net.SplitHostPort(c.AdminAddr); err == nil && port == strconv.Itoa(c.Port) {
			return fmt.Errorf("--admin-addr %s collides with the coordinator port", c.AdminAddr)
		}
	}
	return nil
}

func (c *serveConfig) server() server.Config {
	return server.Config{Bind: c.Bind, Port: c.Port, Finalize: c.Finalize}
}

func (c *serveConfig) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Bind, "bind", server.DefaultBind, "address to bind to (env: PICROSS_BIND)")
	fs.IntVarP(&c.Port, "port", "p", server.DefaultPort, "port to listen on (env: PICROSS_PORT)")
	fs.BoolVar(&c.Finalize, "finalize", false, "exit once the last connected player leaves (env: PICROSS_FINALIZE)")
	fs.StringVar(&c.AdminAddr, "admin-addr", "", "address for the operator HTTP API, empty to disable (env: PICROSS_ADMIN_ADDR)")
	fs.StringVar(&c.RedisAddr, "redis-addr", "", "redis address for event publishing, empty to disable (env: PICROSS_REDIS_ADDR)")
	fs.StringVar(&c.RedisChannel, "redis-channel", events.DefaultChannel, "redis pub/sub channel for events (env: PICROSS_REDIS_CHANNEL)")
	fs.StringVar(&c.OtelEndpoint, "otel-endpoint", "", "OTLP/gRPC collector address, empty to disable (env: PICROSS_OTEL_ENDPOINT)")
	fs.DurationVar(&c.DrainTimeout, "drain-timeout", 5*time.Second, "time open sessions get to finish on shutdown (env: PICROSS_DRAIN_TIMEOUT)")
	fs.BoolVarP(&c.Verbose, "verbose", "v", false, "display debug output (env: PICROSS_VERBOSE)")
}

type playConfig struct {
	Host      string `validate:"required"`
	Port      int    `validate:"gte=1,lte=65535"`
	Name      string `validate:"required,excludesall=%0x2C"`
	Dimension int    `validate:"gte=1"`
	Verbose   bool
}

func (c *playConfig) validate() error {
	if err := validator.GetValidator().Struct(c); err != nil {
		return fmt.Errorf("invalid play configuration: %w", err)
	}
	if c.Dimension > maxDimension {
		return fmt.Errorf("invalid dimension (must be between 1-%d inclusive): %d", maxDimension, c.Dimension)
	}
	return nil
}

func (c *playConfig) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Host, "host", client.DefaultHost, "coordinator host (env: PICROSS_HOST)")
	fs.IntVarP(&c.Port, "port", "p", server.DefaultPort, "coordinator port (env: PICROSS_PORT)")
	fs.StringVarP(&c.Name, "name", "n", "", "display name used for results (env: PICROSS_NAME)")
	fs.IntVarP(&c.Dimension, "dimension", "d", puzzle.DefaultDimension, "side length of new puzzles (env: PICROSS_DIMENSION)")
	fs.BoolVarP(&c.Verbose, "verbose", "v", false, "display debug output (env: PICROSS_VERBOSE)")
}

type generateConfig struct {
	Dimension int `validate:"gte=1"`
	Seed      uint64
}

func (c *generateConfig) validate() error {
	if err := validator.GetValidator().Struct(c); err != nil {
		return fmt.Errorf("invalid generate configuration: %w", err)
	}
	if c.Dimension > maxDimension {
		return fmt.Errorf("invalid dimension (must be between 1-%d inclusive): %d", maxDimension, c.Dimension)
	}
	return nil
}

func (c *generateConfig) addFlags(fs *pflag.FlagSet) {
	fs.IntVarP(&c.Dimension, "dimension", "d", puzzle.DefaultDimension, "side length of the puzzle (env: PICROSS_DIMENSION)")
	fs.Uint64Var(&c.Seed, "seed", 0, "random seed, 0 for a random puzzle (env: PICROSS_SEED)")
}

type watchConfig struct {
	RedisAddr    string `validate:"required,hostname_port"`
	RedisChannel string `validate:"required"`
	Verbose      bool
}

func (c *watchConfig) validate() error {
	if err := validator.GetValidator().Struct(c); err != nil {
		return fmt.Errorf("invalid watch configuration: %w", err)
	}
	return nil
}

func (c *watchConfig) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.RedisAddr, "redis-addr", db.DefaultRedisAddr, "redis address the coordinator publishes to (env: PICROSS_REDIS_ADDR)")
	fs.StringVar(&c.RedisChannel, "redis-channel", events.DefaultChannel, "redis pub/sub channel for events (env: PICROSS_REDIS_CHANNEL)")
	fs.BoolVarP(&c.Verbose, "verbose", "v", false, "display debug output (env: PICROSS_VERBOSE)")
}

// bindEnv lets every flag in fs be set from a PICROSS_ environment variable.
// Flags given on the command line win.
func bindEnv(fs *pflag.FlagSet) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}
