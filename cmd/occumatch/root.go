package main

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/japaniel/occumatch/pkg/config"
	"github.com/japaniel/occumatch/pkg/db"
	"github.com/japaniel/occumatch/pkg/logger"
	"github.com/japaniel/occumatch/pkg/telemetry"
)

// Actual version can be specified in build command.
var version = "unknown"

// app holds what every command needs once the configuration is read.
type app struct {
	v       *viper.Viper
	cfgFile string

	cfg      *config.Config
	log      *zap.Logger
	shutdown func()
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	root := &cobra.Command{
		Use:           config.App,
		Short:         "occumatch assigns occupation codes and canonical skills to job postings",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			a.close()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "a config file (default is occumatch.yaml in current directory)")
	flags.BoolP("debug", "d", false, "verbose/debug output")
	flags.BoolP("json", "j", false, "json format for logging")
	flags.String("db", "", "path to the SQLite database (overrides the database key)")

	_ = a.v.BindPFlag("debug", flags.Lookup("debug"))
	_ = a.v.BindPFlag("json", flags.Lookup("json"))
	_ = a.v.BindPFlag("database", flags.Lookup("db"))

	root.AddCommand(
		newMatchCmd(a),
		newImportCmd(a),
		newDictionaryCmd(a),
		newEvalCmd(a),
		newListenCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	if cmd.Name() == "version" {
		return nil
	}
	log, err := logger.New(a.v.GetBool("json"), a.v.GetBool("debug"))
	if err != nil {
		return fmt.Errorf("creating a logger: %w", err)
	}
	a.log = log

	config.BindEnv(a.v)
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else {
		a.v.AddConfigPath(".")
		a.v.SetConfigName(config.App)
	}
	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if a.cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
		log.Debug("no config file, using defaults")
	}

	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	log.Debug("configuration loaded", zap.String("file", a.v.ConfigFileUsed()),
		zap.String("matching_version", cfg.Matching.Version), zap.String("fingerprint", cfg.Fingerprint()))

	shutdown, err := telemetry.InitTracer(cmd.Context(), version, cfg.Telemetry.CollectorURL, log)
	if err != nil {
		return err
	}
	a.shutdown = shutdown
	return nil
}

func (a *app) close() {
	if a.shutdown != nil {
		a.shutdown()
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}

// openDB opens and migrates the configured database.
func (a *app) openDB() (*sql.DB, error) {
	conn, err := db.Open(a.cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", a.cfg.Database, err)
	}
	return conn, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version: %s\n", config.App, version)
		},
	}
}
