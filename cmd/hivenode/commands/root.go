package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dyluth/hive/internal/config"
	"github.com/dyluth/hive/internal/node"
	"github.com/dyluth/hive/internal/printer"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"

	configPath string

	// runtimeOptions are appended to every runtime a command builds.
	runtimeOptions []node.Option
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "hivenode",
	Short: "hivenode - collective fault healing for autonomous nodes",
	Long: `hivenode runs one member of a hive: a swarm of autonomous nodes that
share knowledge, watch each other's health and ask each other for help
when they cannot heal a fault on their own.

Nodes talk over Redis pub/sub or NATS. Without a config file a node uses
the in-process loopback transport, which is only useful for trying things out.`,
	// Show help instead of silently succeeding without a subcommand
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute runs the root command. Called once by main.main().
func Execute() error {
	// We print formatted colored errors ourselves
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Node config file (.yml, .yaml or .toml)")
}

// out returns a printer bound to the command's output streams.
func out(cmd *cobra.Command) *printer.Printer {
	return printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// loadConfig reads --config, or builds the default loopback config with
// environment overrides when no file is given.
func loadConfig(p *printer.Printer) (*config.Config, error) {
	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, p.ErrorWithContext(
				"failed to load configuration",
				err.Error(),
				map[string]string{"config": configPath},
				[]string{"Check the file exists and is valid YAML or TOML"},
			)
		}
		return cfg, nil
	}

	cfg := config.Default()
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, p.Error("invalid environment", err.Error(), nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, p.Error("invalid environment", err.Error(), nil)
	}
	return cfg, nil
}
