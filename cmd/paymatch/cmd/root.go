package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"golang-payment-matcher/cmd/paymatch/config"
	"golang-payment-matcher/pkg/errors"
	"golang-payment-matcher/pkg/logger"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// cli holds the state shared by one command tree
type cli struct {
	v       *viper.Viper
	cfgFile string
	verbose bool
}

// NewRootCmd builds the paymatch command tree with its own viper instance
func NewRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}
	config.SetDefaults(c.v)

	rootCmd := &cobra.Command{
		Use:   "paymatch",
		Short: "Bank transfer notification matcher",
		Long: `Paymatch reconciles bank transfer notification emails against pending
payment requests. Every reconciliation pass is recorded as a match attempt
that can be queried later.

Examples:
  paymatch requests import requests.csv
  paymatch ingest inbox/
  paymatch attempts --result unmatched --format csv --output unmatched.csv
  paymatch retry 3f2c9a6e-...
  paymatch check req-42`,
		Version:           getVersionString(),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return c.initConfig() },
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "config file (optional)")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "verbose output")
	flags.String("database", "", "SQLite database file")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: text, json")

	bindFlag(c.v, "database.path", flags.Lookup("database"))
	bindFlag(c.v, "log.level", flags.Lookup("log-level"))
	bindFlag(c.v, "log.format", flags.Lookup("log-format"))

	rootCmd.AddCommand(
		c.newIngestCmd(),
		c.newRetryCmd(),
		c.newCheckCmd(),
		c.newAttemptsCmd(),
		c.newRequestsCmd(),
		c.newOutboxCmd(),
		c.newStatusCmd(),
		c.newPreviewCmd(),
	)
	return rootCmd
}

// Execute runs the command line and returns the process exit code
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := NewRootCmd()
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	verbose, _ := rootCmd.PersistentFlags().GetBool("verbose")
	return NewCLIErrorHandler(os.Stderr, verbose).HandleError(err)
}

// initConfig reads in config file and ENV variables
func (c *cli) initConfig() error {
	config.ConfigureEnv(c.v)

	if c.cfgFile != "" {
		c.v.SetConfigFile(c.cfgFile)
		if err := c.v.ReadInConfig(); err != nil {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "config", c.cfgFile, err).
				WithSuggestion("check the config file exists and is valid YAML, JSON or TOML")
		}
	}

	logConfig, err := config.CreateLoggerConfig(c.v, c.verbose)
	if err != nil {
		return err
	}
	log, err := logger.NewLogger(logConfig)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "log", logConfig, err)
	}
	logger.SetGlobalLogger(log)

	if c.cfgFile != "" {
		log.WithField("file", c.v.ConfigFileUsed()).Debug("using config file")
	}
	return nil
}

// bindFlag binds a flag to a viper key; a flag left unset keeps the value from
// the config file or environment
func bindFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", key, err))
	}
}

// setFromFlag copies a command-local flag into key when it was given. Local
// flags shared by several commands are not bound, since a viper key holds one
// binding per tree.
func (c *cli) setFromFlag(cmd *cobra.Command, name, key string) {
	if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
		c.v.Set(key, f.Value.String())
	}
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
