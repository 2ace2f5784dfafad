package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"

	"github.com/petrel-os/sessiond/internal/auth"
	"github.com/petrel-os/sessiond/internal/config"
	"github.com/petrel-os/sessiond/internal/daemon"
	"github.com/petrel-os/sessiond/internal/db"
	"github.com/petrel-os/sessiond/internal/session"
)

// configEnv carries the config path into re-exec'd session workers, which
// load their authentication backend from the same file as the daemon.
const configEnv = "SESSIOND_CONFIG"

func main() {
	// Worker mode dispatch happens before flag parsing: the worker is an
	// internal re-exec of this binary, not a user-facing subcommand.
	if len(os.Args) > 2 && os.Args[1] == session.WorkerFlag {
		os.Exit(runWorker(os.Args[2]))
	}
	if len(os.Args) > 1 && os.Args[1] == "sessions" {
		os.Exit(runSessions(os.Args[2:]))
	}

	configPath := flag.String("config", "/etc/sessiond/config.toml", "path to the config file")
	socketPath := flag.String("socket", "", "greeter socket path (overrides config)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	logger := initLogger(*debug)

	cfg, err := loadConfig(*configPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if *socketPath != "" {
		cfg.SocketPath = *socketPath
	}
	os.Setenv(configEnv, *configPath)

	store, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("could not open session database")
	}

	if err := daemon.New(cfg, logger, store).Run(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("session daemon failed")
	}
}

// runWorker serves one login handshake on the inherited descriptor.
func runWorker(fdArg string) int {
	logger := initLogger(false).With().Str("proc", "session-worker").Logger()

	fd, err := strconv.Atoi(fdArg)
	if err != nil {
		logger.Error().Str("fd", fdArg).Msg("invalid worker descriptor argument")
		return 1
	}

	cfg, err := loadConfig(os.Getenv(configEnv), logger)
	if err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return 1
	}

	authr := auth.Static{User: cfg.Auth.User, Password: cfg.Auth.Password}
	if err := session.RunWorker(fd, authr); err != nil {
		logger.Error().Err(err).Msg("session worker failed")
		return 1
	}
	return 0
}

// runSessions prints the session history, newest first.
func runSessions(args []string) int {
	logger := initLogger(false)

	flags := flag.NewFlagSet("sessions", flag.ExitOnError)
	configPath := flags.String("config", "/etc/sessiond/config.toml", "path to the config file")
	flags.Parse(args)

	cfg, err := loadConfig(*configPath, logger)
	if err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return 1
	}
	if cfg.DBPath == "" {
		logger.Error().Msg("session history is disabled (no db_path configured)")
		return 1
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		logger.Error().Err(err).Msg("could not open session database")
		return 1
	}
	defer database.Close()
	if err := db.Migrate(database); err != nil {
		logger.Error().Err(err).Msg("could not migrate session database")
		return 1
	}

	records, err := db.NewStore(database).List()
	if err != nil {
		logger.Error().Err(err).Msg("could not list sessions")
		return 1
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSER\tSTATUS\tSTARTED\tENDED\tCMD")
	for _, r := range records {
		ended := "-"
		if r.EndedAt != nil {
			ended = r.EndedAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Username, r.Status, r.StartedAt.Local().Format(time.DateTime), ended, r.Cmd)
	}
	w.Flush()
	return 0
}

// loadConfig reads the config file, falling back to built-in defaults when
// none exists at the given path.
func loadConfig(path string, logger zerolog.Logger) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Warn().Str("path", path).Msg("config file not found, using defaults")
		return config.Default(), nil
	}
	return config.Load(path)
}

// openStore opens and migrates the session history database. History is
// optional: a missing db_path disables it.
func openStore(cfg config.Config, logger zerolog.Logger) (*db.Store, error) {
	if cfg.DBPath == "" {
		return nil, nil
	}
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(database); err != nil {
		database.Close()
		return nil, err
	}

	store := db.NewStore(database)
	if n, err := store.MarkStaleRunning(); err != nil {
		logger.Warn().Err(err).Msg("could not mark stale sessions")
	} else if n > 0 {
		logger.Info().Int64("count", n).Msg("marked stale sessions as ended")
	}
	return store, nil
}

func initLogger(debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Str("app", "sessiond").Logger()
}
