package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidateClientConfigAggregatesErrors(t *testing.T) {
	err := ValidateClientConfig(ClientConfig{
		Host:     "",
		Port:     0,
		Protocol: "bogus",
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "host")
	require.Contains(t, err.Error(), "port")
	require.Contains(t, err.Error(), "protocol")
}

func TestValidateClientConfigOK(t *testing.T) {
	err := ValidateClientConfig(ClientConfig{
		Host:       "127.0.0.1",
		Port:       19000,
		RemotePath: "hello.txt",
		Timeout:    300 * time.Millisecond,
		Protocol:   "selective_repeat",
	})
	require.NoError(t, err)
}

func TestLoadServerConfigYAMLMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadServerConfigYAML(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, DefaultServerConfig(), cfg)
}

func TestLoadServerConfigYAMLOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.yaml")
	content := "host: 10.0.0.1\nport: 20000\nworkers: 7\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadServerConfigYAML(path)
	require.NoError(t, err)
	require.Equal(t, "10.0.0.1", cfg.Host)
	require.Equal(t, 20000, cfg.Port)
	require.Equal(t, 7, cfg.Workers)
}
