//go:build !js && !wasm

package main

import (
	"fmt"
	"os"

	"github.com/himanishpuri/EarPrint/internal/config"
	"github.com/himanishpuri/EarPrint/pkg/earprint"
	"github.com/himanishpuri/EarPrint/pkg/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app carries state shared by all subcommands once flags are parsed.
type app struct {
	configFile string
	v          *viper.Viper
	cfg        *config.Config
	log        *logger.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "earprint",
		Short: "EarPrint audio fingerprinting CLI",
		Long: `Register reference recordings, identify audio files against them and
inspect the fingerprint index.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configFile, "config", "", "config file (default ./earprint.yaml)")
	pf.String("db", "earprint.sqlite3", "Path to the SQLite database file")
	pf.String("temp", os.TempDir(), "Directory for temporary audio conversion files")
	pf.Int("rate", 16000, "Engine sample rate")
	pf.String("log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(
		newAddCmd(a),
		newMatchCmd(a),
		newListCmd(a),
		newDeleteCmd(a),
		newSpectrogramCmd(a),
		newConfigCmd(a),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	v, err := config.New(a.configFile)
	if err != nil {
		return err
	}
	err = config.BindFlags(v, cmd.Root().PersistentFlags(), map[string]string{
		"db":   "db_path",
		"temp": "temp_dir",
		"rate": "engine.sample_rate",
	})
	if err != nil {
		return err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	a.v, a.cfg = v, cfg
	a.log = cfg.Logger()
	return nil
}

func (a *app) service() (earprint.Service, error) {
	svc, err := earprint.NewService(a.cfg.ServiceOptions(a.log)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	return svc, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
