package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/stitchdesk/stitchdesk/internal/poller"
)

const defaultServer = "http://localhost:8090"

// cliConfig is the on-disk configuration, usually
// $XDG_CONFIG_HOME/stitchctl/config.toml.
type cliConfig struct {
	Server       string `toml:"server"`
	Token        string `toml:"token"`
	PollInterval string `toml:"poll_interval"`

	pollInterval time.Duration
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "stitchctl", "config.toml")
}

// loadConfig reads path, or the default location when path is empty. A
// missing default file yields the defaults; a missing explicit file is an
// error.
func loadConfig(path string) (*cliConfig, error) {
	cfg := &cliConfig{}

	explicit := path != ""
	if !explicit {
		path = defaultConfigPath()
	}
	if path != "" {
		file, err := os.Open(path)
		switch {
		case err == nil:
			defer file.Close()
			if err := toml.NewDecoder(file).Decode(cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return nil, fmt.Errorf("open config: %w", err)
		}
	}

	if env := strings.TrimSpace(os.Getenv("STITCHCTL_TOKEN")); env != "" && cfg.Token == "" {
		cfg.Token = env
	}
	if strings.TrimSpace(cfg.Server) == "" {
		cfg.Server = defaultServer
	}

	cfg.pollInterval = poller.DefaultInterval
	if cfg.PollInterval != "" {
		d, err := time.ParseDuration(cfg.PollInterval)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid poll_interval %q", cfg.PollInterval)
		}
		cfg.pollInterval = d
	}
	return cfg, nil
}
