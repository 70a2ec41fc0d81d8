package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/theupdateframework/ldb/adapter"
)

const envPrefix = "LDBD"

var (
	cfgFile     string
	dbDir       string
	logFmt      string
	metricsAddr string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "ldbd",
		Short: "ldbd drives a local persistent document adapter from the command line",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a config file")
	root.PersistentFlags().StringVar(&dbDir, "dir", ".", "parent directory holding database subdirectories")
	root.PersistentFlags().StringVar(&logFmt, "logf", "text", "log format: text or json")
	root.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9181)")

	root.AddCommand(newPutCommand())
	root.AddCommand(newGetCommand())
	root.AddCommand(newAllDocsCommand())
	root.AddCommand(newChangesCommand())
	root.AddCommand(newDestroyCommand())
	return root
}

func initConfig() error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("ldbd: reading config %s: %w", cfgFile, err)
		}
	}
	if v.IsSet("dir") {
		dbDir = v.GetString("dir")
	}
	if logFmt == "json" {
		logrus.SetFormatter(new(logrus.JSONFormatter))
	}
	if metricsAddr != "" {
		serveMetrics(metricsAddr, logrus.WithField("component", "metrics"))
	}
	return nil
}

func openDB(name string) (*adapter.DB, error) {
	return adapter.Open(name, adapter.Options{Dir: dbDir})
}
