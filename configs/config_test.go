package config_test

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "detox/configs"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := config.LoadConfig(viper.New())

	assert.Equal(t, ".", cfg.WorkDir)
	assert.Equal(t, "/bin/bash", cfg.Shell)
	assert.Equal(t, ".detoxenv", cfg.EnvDir)
	assert.Equal(t, "pip install", cfg.Installer)
	assert.Equal(t, "output", cfg.Classify)
	assert.Equal(t, 3, cfg.TeardownAttempts)
	assert.Equal(t, "console", cfg.LogEncoding)
	assert.Empty(t, cfg.EtcdEndpoints)
	assert.Equal(t, 30, cfg.LockTTL)
}

func TestLoadConfig_Environment(t *testing.T) {
	t.Setenv("DETOX_SHELL", "/bin/zsh")
	t.Setenv("DETOX_TEARDOWN_ATTEMPTS", "0")
	t.Setenv("DETOX_ETCD_ENDPOINTS", "etcd-1:2379, etcd-2:2379,")
	t.Setenv("DETOX_CLASSIFY", "strict")

	cfg := config.LoadConfig(viper.New())

	assert.Equal(t, "/bin/zsh", cfg.Shell)
	assert.Equal(t, 1, cfg.TeardownAttempts)
	assert.Equal(t, []string{"etcd-1:2379", "etcd-2:2379"}, cfg.EtcdEndpoints)
	assert.Equal(t, "strict", cfg.Classify)
}

func TestLoadConfig_FlagsWin(t *testing.T) {
	t.Setenv("DETOX_CONFIG", "from-env.toml")

	fs := pflag.NewFlagSet("detox", pflag.ContinueOnError)
	fs.String("config", "", "")
	require.NoError(t, fs.Parse([]string{"--config", "ci.yaml"}))

	v := viper.New()
	require.NoError(t, v.BindPFlag("config", fs.Lookup("config")))

	assert.Equal(t, "ci.yaml", config.LoadConfig(v).ConfigFile)
}
