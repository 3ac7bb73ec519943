package connection

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSSHConfig_ClientConfig(t *testing.T) {
	t.Run("requires an auth method", func(t *testing.T) {
		_, err := SSHConfig{Host: "10.0.0.1", User: "root"}.clientConfig()
		require.Error(t, err)
	})

	t.Run("password auth", func(t *testing.T) {
		cfg, err := SSHConfig{Host: "10.0.0.1", User: "root", Password: "root"}.clientConfig()
		require.NoError(t, err)
		require.Equal(t, "root", cfg.User)
		require.Len(t, cfg.Auth, 1)
	})

	t.Run("missing key file", func(t *testing.T) {
		_, err := SSHConfig{User: "root", KeyFile: filepath.Join(t.TempDir(), "nope")}.clientConfig()
		require.Error(t, err)
	})

	t.Run("malformed key file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "id")
		require.NoError(t, os.WriteFile(path, []byte("not a key"), 0o600))
		_, err := SSHConfig{User: "root", KeyFile: path}.clientConfig()
		require.Error(t, err)
	})
}

func TestSSHConfig_Addr(t *testing.T) {
	require.Equal(t, "10.0.0.1:22", SSHConfig{Host: "10.0.0.1"}.addr())
	require.Equal(t, "10.0.0.1:2222", SSHConfig{Host: "10.0.0.1", Port: 2222}.addr())
	require.Equal(t, "[fd00::1]:22", SSHConfig{Host: "fd00::1"}.addr())
}
