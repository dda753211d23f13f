package main

import (
	"testing"
	"time"

	"ctchen222/picross/internal/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeDefaults(t *testing.T) {
	cfg := &serveConfig{}
	newServeCmd(cfg)

	assert.Equal(t, "0.0.0.0", cfg.Bind)
	assert.Equal(t, 4242, cfg.Port)
	assert.False(t, cfg.Finalize)
	assert.Equal(t, events.DefaultChannel, cfg.RedisChannel)
	assert.Equal(t, 5*time.Second, cfg.DrainTimeout)
	assert.NoError(t, cfg.validate())
}

func TestServeEnvironment(t *testing.T) {
	t.Setenv("PICROSS_PORT", "5000")
	t.Setenv("PICROSS_FINALIZE", "true")
	t.Setenv("PICROSS_ADMIN_ADDR", "127.0.0.1:8081")

	cfg := &serveConfig{}
	cmd := newServeCmd(cfg)
	assert.Equal(t, 5000, cfg.Port)
	assert.True(t, cfg.Finalize)
	assert.Equal(t, "127.0.0.1:8081", cfg.AdminAddr)

	// Command line flags win over the environment.
	require.NoError(t, cmd.ParseFlags([]string{"--port", "6000"}))
	assert.Equal(t, 6000, cfg.Port)
}

func TestServeValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*serveConfig)
	}{
		{name: "port zero", mutate: func(c *serveConfig) { c.Port = 0 }},
		{name: "port too large", mutate: func(c *serveConfig) { c.Port = 70000 }},
		{name: "empty bind", mutate: func(c *serveConfig) { c.Bind = "" }},
		{name: "bad admin addr", mutate: func(c *serveConfig) { c.AdminAddr = "not an addr" }},
		{name: "admin on coordinator port", mutate: func(c *serveConfig) { c.AdminAddr = ":4242" }},
		{name: "bad redis addr", mutate: func(c *serveConfig) { c.RedisAddr = "redis" }},
		{name: "negative drain", mutate: func(c *serveConfig) { c.DrainTimeout = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &serveConfig{}
			newServeCmd(cfg)
			tt.mutate(cfg)
			assert.Error(t, cfg.validate())
		})
	}
}

func TestPlayValidate(t *testing.T) {
	cfg := &playConfig{}
	newPlayCmd(cfg)
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 5, cfg.Dimension)
	assert.Error(t, cfg.validate(), "name is required")

	cfg.Name = "Alice"
	assert.NoError(t, cfg.validate())

	cfg.Name = "Alice,Bob"
	assert.Error(t, cfg.validate())

	cfg.Name = "Alice"
	cfg.Dimension = 30
	assert.Error(t, cfg.validate())
}

func TestGenerateValidate(t *testing.T) {
	cfg := &generateConfig{}
	newGenerateCmd(cfg)
	assert.NoError(t, cfg.validate())

	cfg.Dimension = 0
	assert.Error(t, cfg.validate())
}

func TestWatchValidate(t *testing.T) {
	cfg := &watchConfig{}
	newWatchCmd(cfg)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, events.DefaultChannel, cfg.RedisChannel)
	assert.NoError(t, cfg.validate())

	cfg.RedisAddr = ""
	assert.Error(t, cfg.validate())
}
