// Command consulctl is a small command-line front end for the Consul HTTP
// API built on pkg/consul.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/oliora/ppconsul-sub000/pkg/consul"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile string
	logger  = zap.NewNop()
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "consulctl",
	Short: "Consul HTTP API client",
	Long: `consulctl talks to a Consul agent over its HTTP API.

Settings come from flags, CONSULCTL_* environment variables and
~/.consulctl/config.yaml, in that order of precedence:

  address: 127.0.0.1:8500
  token: 3f4a...
  dc: east
  format: yaml`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".consulctl"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("consulctl")
		viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
		viper.AutomaticEnv()
		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return fmt.Errorf("read config: %w", err)
			}
		}

		l, err := newLogger(viper.GetBool("verbose"))
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default ~/.consulctl/config.yaml)")
	pf.String("address", consul.DefaultAddress, "agent address, host:port or http(s)://host:port")
	pf.String("token", "", "ACL token")
	pf.String("dc", "", "datacenter (default: the agent's)")
	pf.String("format", "text", "output format: text, json or yaml")
	pf.Bool("stale", false, "allow any server to answer reads")
	pf.Duration("timeout", 0, "request timeout, 0 for none")
	pf.Bool("insecure", false, "skip TLS certificate verification")
	pf.String("tls-dir", "", "directory holding ca.pem, cert.pem and key.pem")
	pf.BoolP("verbose", "v", false, "log requests to stderr")
	for _, name := range []string{"address", "token", "dc", "format", "stale", "timeout", "insecure", "tls-dir", "verbose"} {
		_ = viper.BindPFlag(name, pf.Lookup(name))
	}

	rootCmd.AddCommand(kvCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(versionCmd)
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

// newClient builds a client from the resolved settings. Commands own the
// client and close it before returning.
var newClient = dialClient

func dialClient() (*consul.Client, error) {
	opts := []consul.Option{consul.WithLogger(logger)}
	if dc := viper.GetString("dc"); dc != "" {
		opts = append(opts, consul.WithDatacenter(dc))
	}
	if token := viper.GetString("token"); token != "" {
		opts = append(opts, consul.WithToken(token))
	}
	if viper.GetBool("stale") {
		opts = append(opts, consul.WithDefaults(consul.Consistency.Set(consul.Stale)))
	}
	if d := viper.GetDuration("timeout"); d > 0 {
		opts = append(opts, consul.WithRequestTimeout(d))
	}
	if dir := viper.GetString("tls-dir"); dir != "" {
		opts = append(opts, consul.WithTLSFromDir(dir))
	}
	if viper.GetBool("insecure") {
		opts = append(opts, consul.WithInsecureSkipVerify())
	}
	return consul.New(viper.GetString("address"), opts...)
}

func out(cmd *cobra.Command) (*printer, error) {
	return newPrinter(cmd.OutOrStdout(), viper.GetString("format"))
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the consulctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "consulctl %s (API %s)\n", version, consul.APIVersion)
	},
}
