package metrics

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/envoymon/internal/errors"
	"codeberg.org/mutker/envoymon/internal/logger"
	_ "github.com/mattn/go-sqlite3"
)

type repository struct {
	db      *sql.DB
	log     logger.Logger
	cfg     Config
	mu      sync.Mutex
	pending []*Sample
	ticker  *time.Ticker
	stop    chan struct{}
	done    chan struct{}
}

func NewRepository(cfg Config, log logger.Logger) (Repository, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	// Normalize batch settings so the flusher always runs and Close never
	// waits on a goroutine that was never started
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = defaultBatchTimeout
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal=WAL&_auto_vacuum=2")
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	if err := ensureSchema(db, log); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "ensure_schema",
			Error: err.Error(),
		})
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Int("batch_size", cfg.BatchSize).
		Int("batch_timeout", cfg.BatchTimeout).
		Msg("Metrics repository initialized")

	repo := &repository{
		db:      db,
		log:     log,
		cfg:     cfg,
		pending: make([]*Sample, 0, cfg.BatchSize),
		ticker:  time.NewTicker(time.Duration(cfg.BatchTimeout) * time.Second),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	go repo.flusher()

	return repo, nil
}

// Record buffers a sample, flushing once a full batch has accumulated.
func (r *repository) Record(sample *Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pending = append(r.pending, sample)
	if len(r.pending) < r.cfg.BatchSize {
		return nil
	}

	return r.flush()
}

// Close drains the buffer, checkpoints the WAL and closes the database.
// The repository cannot be used afterwards.
func (r *repository) Close() error {
	r.ticker.Stop()
	close(r.stop)
	<-r.done

	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "checkpoint_wal",
			Error: err.Error(),
		})
	}

	if err := r.db.Close(); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	r.log.Info().Msg("Metrics repository closed gracefully")

	return nil
}

// flusher drains the buffer on every ticker interval and once more on
// shutdown before signalling done.
func (r *repository) flusher() {
	defer close(r.done)

	for {
		select {
		case <-r.ticker.C:
			r.mu.Lock()
			r.flush()
			r.mu.Unlock()
		case <-r.stop:
			r.mu.Lock()
			r.flush()
			r.mu.Unlock()
			return
		}
	}
}

// flush writes the pending batch in one transaction, keeping the batch
// buffered on failure. Callers hold r.mu.
func (r *repository) flush() error {
	if len(r.pending) == 0 {
		return nil
	}

	err := withTx(r.db, r.log, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(upsertSampleSQL)
		if err != nil {
			return errors.New().Wrap(ErrTransactionFailed, err)
		}
		defer stmt.Close()

		for _, sample := range r.pending {
			// Absent columns stay NULL so numeric and status values
			// share one table
			var value, status interface{}
			if n, ok := sample.Value.Number(); ok {
				value = n
			}
			if s, ok := sample.Value.Status(); ok {
				status = s
			}

			if _, err := stmt.Exec(sample.Timestamp.Unix(), string(sample.Key), value, status); err != nil {
				return errors.New().Wrap(ErrTransactionFailed, err)
			}
		}

		return nil
	})
	if err != nil {
		r.log.Error().Err(err).Msg("Failed to flush samples")
		return err
	}

	r.log.Debug().Int("samples", len(r.pending)).Msg("Flushed samples to database")
	r.pending = r.pending[:0]

	return nil
}
