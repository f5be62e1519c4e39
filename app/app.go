package app

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/ringchain/ringd/infrastructure/config"
	"github.com/ringchain/ringd/infrastructure/db/database"
	"github.com/ringchain/ringd/infrastructure/db/database/ldb"
	"github.com/ringchain/ringd/infrastructure/logger"
	"github.com/ringchain/ringd/infrastructure/os/signal"
	"github.com/ringchain/ringd/util/panics"
	"github.com/ringchain/ringd/util/profiling"
	"github.com/ringchain/ringd/version"
)

const leveldbCacheSizeMiB = 256

type ringdApp struct {
	cfg *config.Config
}

// StartApp starts the ringd app, and blocks until it finishes running
func StartApp() error {
	// Load configuration and parse command line. This function also
	// initializes logging and configures it accordingly.
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	logger.InitLog(cfg.LogFile(), cfg.ErrLogFile())
	err = logger.ParseAndSetLogLevels(cfg.DebugLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	defer logger.BackendLog().Close()
	defer panics.HandlePanic(log, nil)

	app := &ringdApp{cfg: cfg}
	return app.main(nil)
}

func (app *ringdApp) main(startedChan chan<- struct{}) error {
	// Get a channel that will be closed when a shutdown signal has been
	// triggered either from an OS signal such as SIGINT (Ctrl+C) or from
	// signal.ShutdownRequestChannel.
	interrupt := signal.InterruptListener()
	defer log.Info("Shutdown complete")

	// Show version at startup.
	log.Infof("Version %s", version.Version())

	// Enable http profiling server if requested.
	if app.cfg.Profile != "" {
		profiling.Start(app.cfg.Profile, log)
	}

	// Return now if an interrupt signal was triggered.
	if interruptRequested(interrupt) {
		return nil
	}

	// Open the database
	db, err := openDB(app.cfg)
	if err != nil {
		log.Errorf("Loading database failed: %+v", err)
		return err
	}

	defer func() {
		log.Infof("Gracefully shutting down the database...")
		err := db.Close()
		if err != nil {
			log.Errorf("Failed to close the database: %s", err)
		}
	}()

	// Return now if an interrupt signal was triggered.
	if interruptRequested(interrupt) {
		return nil
	}

	// Create componentManager and start it.
	componentManager, err := NewComponentManager(app.cfg, db)
	if err != nil {
		log.Errorf("Unable to start ringd: %+v", err)
		return err
	}

	defer func() {
		log.Infof("Gracefully shutting down ringd...")

		shutdownDone := make(chan struct{})
		spawn("componentManager.Stop", func() {
			componentManager.Stop()
			shutdownDone <- struct{}{}
		})

		const shutdownTimeout = 2 * time.Minute

		select {
		case <-shutdownDone:
		case <-time.After(shutdownTimeout):
			log.Criticalf("Graceful shutdown timed out %s. Terminating...", shutdownTimeout)
		}
		log.Infof("Ringd shutdown complete")
	}()

	componentManager.Start()

	if startedChan != nil {
		startedChan <- struct{}{}
	}

	// Wait until the interrupt signal is received from an OS signal or
	// shutdown is requested through signal.ShutdownRequestChannel.
	<-interrupt
	return nil
}

// interruptRequested returns true when the channel returned by
// InterruptListener was closed. This simplifies early shutdown slightly since
// the caller can just use an if statement instead of a select.
func interruptRequested(interrupted <-chan struct{}) bool {
	select {
	case <-interrupted:
		return true
	default:
	}
	return false
}

func openDB(cfg *config.Config) (database.Database, error) {
	dbPath := cfg.DataDir
	err := os.MkdirAll(dbPath, 0700)
	if err != nil {
		return nil, errors.Wrapf(err, "creating the data directory %s", dbPath)
	}

	versionExists, err := checkDatabaseVersion(dbPath)
	if err != nil {
		return nil, err
	}

	log.Infof("Loading database from '%s'", dbPath)
	db, err := ldb.NewLevelDB(dbPath, leveldbCacheSizeMiB)
	if err != nil {
		return nil, err
	}

	if !versionExists {
		err := createDatabaseVersionFile(dbPath)
		if err != nil {
			return nil, err
		}
	}

	return db, nil
}
