package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type plainConfig struct {
	Port     int    `env:"LOADER_TEST_PORT" envDefault:"8080"`
	LogLevel string `env:"LOADER_TEST_LOG_LEVEL" envDefault:"info"`
}

type checkedConfig struct {
	Port int `env:"LOADER_TEST_PORT" envDefault:"8080"`
}

func (c *checkedConfig) Validate() error {
	if c.Port < 1024 {
		return errors.New("port must be above 1023")
	}
	return nil
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	t.Setenv("LOADER_TEST_PORT", "9000")

	var cfg plainConfig
	require.NoError(t, Load(&cfg))
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadRunsValidateHook(t *testing.T) {
	t.Setenv("LOADER_TEST_PORT", "80")

	var cfg checkedConfig
	err := Load(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port must be above 1023")
}

func TestLoadValidateHookPasses(t *testing.T) {
	var cfg checkedConfig
	require.NoError(t, Load(&cfg))
	assert.Equal(t, 8080, cfg.Port)
}
