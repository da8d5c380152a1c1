package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/stitchdesk/stitchdesk/internal/client"
)

type globalFlags struct {
	config string
	server string
	token  string
}

type commandContext struct {
	flags *globalFlags

	configOnce sync.Once
	config     *cliConfig
	configErr  error
}

func newCommandContext(flags *globalFlags) *commandContext {
	return &commandContext{flags: flags}
}

// ensureConfig loads the config file once and applies flag overrides.
func (c *commandContext) ensureConfig() (*cliConfig, error) {
	c.configOnce.Do(func() {
		cfg, err := loadConfig(strings.TrimSpace(c.flags.config))
		if err != nil {
			c.configErr = err
			return
		}
		if s := strings.TrimSpace(c.flags.server); s != "" {
			cfg.Server = s
		}
		if t := strings.TrimSpace(c.flags.token); t != "" {
			cfg.Token = t
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) client() (*client.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	var opts []client.Option
	if cfg.Token != "" {
		opts = append(opts, client.WithToken(cfg.Token))
	}
	return client.New(cfg.Server, opts...), nil
}

func (c *commandContext) withClient(fn func(*client.Client) error) error {
	cl, err := c.client()
	if err != nil {
		return err
	}
	return fn(cl)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
