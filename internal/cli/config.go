package cli

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/canvassync/internal/config"
)

const redacted = "<redacted>"

// ConfigOptions holds flags for the config command.
type ConfigOptions struct {
	*RootOptions
	ShowSecrets bool
}

// NewConfigCommand creates the config command.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConfigOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Validate the config file and print it merged over the defaults.

Tokens are redacted unless --show-secrets is set.

Examples:
  canvassync config
  canvassync config --config canvassync.yaml --format json`,
		Args:          usageArgs(cobra.NoArgs),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.ShowSecrets, "show-secrets", false, "print tokens instead of redacting them")

	return cmd
}

func runConfig(cmd *cobra.Command, opts *ConfigOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if !opts.ShowSecrets {
		cfg = redactSecrets(cfg)
	}

	data, err := config.Marshal(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, CodeConfig, "render config", err)
	}

	f := opts.formatter(cmd)
	if opts.Format != "json" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}

	// Re-read the YAML so JSON output uses the same keys and duration
	// strings as the file format.
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return WrapExitError(ExitCommandError, CodeConfig, "render config", err)
	}
	return f.Success(doc)
}

func redactSecrets(cfg config.Config) config.Config {
	if cfg.Client.Token != "" {
		cfg.Client.Token = redacted
	}
	users := make([]config.User, len(cfg.Server.Users))
	for i, u := range cfg.Server.Users {
		if u.Token != "" {
			u.Token = redacted
		}
		users[i] = u
	}
	if cfg.Server.Users != nil {
		cfg.Server.Users = users
	}
	return cfg
}
