// Command sqlbridge runs WebAssembly guests against a handle-based SQL host
// and executes one-off statements through the same host.
package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tomyedwab/sqlbridge/config"
	"github.com/tomyedwab/sqlbridge/sqlproxy/bridge"
	"github.com/tomyedwab/sqlbridge/sqlproxy/host"
)

// app holds what the root command builds before any subcommand runs.
type app struct {
	cfg    config.Config
	bridge *bridge.Bridge
	host   *host.SQLHost
}

// close releases the bridge once the command has finished.
func (a *app) close() {
	if a.bridge == nil {
		return
	}
	if err := a.bridge.Close(); err != nil {
		log.WithError(err).Warn("failed to release bridge workers")
	}
}

func newRootCmd(a *app) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "sqlbridge",
		Short:         "sqlbridge serves SQL databases to WebAssembly guests through opaque handles",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			initLog(cfg.Log)

			b, err := bridge.New(cfg.BridgeOptions())
			if err != nil {
				return err
			}
			a.cfg, a.bridge = cfg, b
			a.host = host.New(cfg.HostOptions(b))
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "f", "",
		"config file (YAML, JSON or TOML); SQLBRIDGE_* environment variables override it")

	rootCmd.AddCommand(newRunCmd(a), newExecCmd(a), newQueryCmd(a))
	return rootCmd
}

func main() {
	log.SetOutput(os.Stderr)

	a := &app{}
	err := newRootCmd(a).Execute()
	a.close()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
