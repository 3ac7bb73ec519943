package cmd

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/nettrace/internal/config"
	"github.com/Iron-Ham/nettrace/internal/connection"
	"github.com/Iron-Ham/nettrace/internal/logging"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// dialTarget opens the connection named by a --target value. It is a
// variable so tests can substitute an in-memory connection.
var dialTarget = func(ctx context.Context, target string, tag connection.Tag, cfg *config.Config, fs afero.Fs, logger *logging.Logger) (connection.Connection, io.Closer, error) {
	if target == "" || target == "local" {
		return connection.NewLocalConnection(tag, connection.WithLocalFs(fs), connection.WithLocalLogger(logger)), nopCloser{}, nil
	}

	sshCfg, err := parseSSHTarget(target, cfg.Transport.SSH)
	if err != nil {
		return nil, nil, err
	}
	conn, err := connection.DialSSH(ctx, tag, sshCfg, connection.WithSSHFs(fs), connection.WithSSHLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	return conn, conn, nil
}

// parseSSHTarget reads ssh://[user[:password]@]host[:port]. Missing parts
// come from the transport config.
func parseSSHTarget(target string, defaults config.SSHConfig) (connection.SSHConfig, error) {
	u, err := url.Parse(target)
	if err != nil {
		return connection.SSHConfig{}, fmt.Errorf("invalid target %q: %w", target, err)
	}
	if u.Scheme != "ssh" || u.Hostname() == "" {
		return connection.SSHConfig{}, fmt.Errorf("invalid target %q: expected \"local\" or ssh://[user@]host[:port]", target)
	}

	cfg := connection.SSHConfig{
		Host:       u.Hostname(),
		Port:       defaults.Port,
		User:       defaults.User,
		KeyFile:    defaults.KeyFile,
		KnownHosts: defaults.KnownHosts,
		Timeout:    defaults.ConnectTimeout,
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return connection.SSHConfig{}, fmt.Errorf("invalid port in target %q", target)
		}
		cfg.Port = port
	}
	if u.User != nil {
		if name := u.User.Username(); name != "" {
			cfg.User = name
		}
		if pw, ok := u.User.Password(); ok {
			cfg.Password = pw
		}
	}
	return cfg, nil
}
