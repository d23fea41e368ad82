package archiver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Alfaiis/aeron/internal/catalog"
	"github.com/Alfaiis/aeron/internal/config"
	"github.com/Alfaiis/aeron/internal/journal"
	pebblestore "github.com/Alfaiis/aeron/internal/storage/pebble"
	"github.com/Alfaiis/aeron/internal/transport"
	logpkg "github.com/Alfaiis/aeron/pkg/log"
)

// CatalogDirName is the catalog database directory under the archive root.
const CatalogDirName = "catalog"

// Archiver bundles the durable state and the conductor of one archive
// instance.
type Archiver struct {
	cfg       config.Config
	log       logpkg.Logger
	db        *pebblestore.DB
	catalog   *catalog.Catalog
	journal   *journal.Journal
	conductor *Conductor
}

// Open validates cfg, opens the catalog database under the archive root and
// recovers catalog state, then wires a conductor onto the driver.
func Open(cfg config.Config, driver transport.Driver, logger logpkg.Logger) (*Archiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.ArchiveDir, 0o755); err != nil {
		return nil, fmt.Errorf("archiver: create archive dir: %w", err)
	}
	fsync, err := cfg.CatalogFsyncMode()
	if err != nil {
		return nil, err
	}
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       filepath.Join(cfg.ArchiveDir, CatalogDirName),
		Fsync:         fsync,
		FsyncInterval: cfg.ProgressInterval(),
	})
	if err != nil {
		return nil, err
	}
	cat, err := catalog.Open(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	jnl, err := journal.Open(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	a := &Archiver{
		cfg:     cfg,
		log:     logger,
		db:      db,
		catalog: cat,
		journal: jnl,
	}
	a.conductor = NewConductor(cfg, driver, cat, jnl, logger)
	logger.Info("archive opened",
		logpkg.Str("dir", cfg.ArchiveDir),
		logpkg.I64("highest_recording_id", cat.HighestID()))
	return a, nil
}

// Catalog exposes the recording index.
func (a *Archiver) Catalog() *catalog.Catalog { return a.catalog }

// Journal exposes the recording event journal.
func (a *Archiver) Journal() *journal.Journal { return a.journal }

// Conductor exposes the duty-cycle loop for callers that drive it manually.
func (a *Archiver) Conductor() *Conductor { return a.conductor }

// Run drives the conductor until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) error {
	return a.conductor.Run(ctx)
}

// Close releases the catalog database. Call after Run has returned.
func (a *Archiver) Close() error {
	return a.db.Close()
}
