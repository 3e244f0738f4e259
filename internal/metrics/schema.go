package metrics

import (
	"database/sql"

	"codeberg.org/mutker/envoymon/internal/errors"
	"codeberg.org/mutker/envoymon/internal/logger"
)

const (
	SchemaVersion = 1

	// One row per (cycle, key). Reported and derived readings share the
	// table; numeric readings fill value, status readings fill status
	createSchemaSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS samples (
	       timestamp   INTEGER NOT NULL,
	       key         TEXT NOT NULL,
	       value       REAL,
	       status      TEXT,
	       PRIMARY KEY (timestamp, key),
	       CHECK (value IS NOT NULL OR status IS NOT NULL)
	   );`

	upsertSampleSQL = `
    INSERT INTO samples (timestamp, key, value, status)
    VALUES (?, ?, ?, ?)
    ON CONFLICT(timestamp, key) DO UPDATE SET
        value = excluded.value,
        status = excluded.status`
)

// initSchema creates the sample tables and stamps them with SchemaVersion.
func initSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Int("version", SchemaVersion).Msg("Creating samples schema")

	err := withTx(db, log, func(tx *sql.Tx) error {
		if _, err := tx.Exec(createSchemaSQL); err != nil {
			return errFactory.WithData(ErrSchemaInitFailed, struct {
				Phase string
				Error string
			}{
				Phase: "create_tables",
				Error: err.Error(),
			})
		}

		_, err := tx.Exec(
			"INSERT INTO schema_versions (version, applied_at) VALUES (?, datetime('now'))",
			SchemaVersion,
		)
		if err != nil {
			return errFactory.WithData(ErrSchemaInitFailed, struct {
				Phase string
				Error string
			}{
				Phase: "stamp_version",
				Error: err.Error(),
			})
		}

		return nil
	})
	if err != nil {
		return err
	}

	log.Info().Int("version", SchemaVersion).Msg("Schema initialized successfully")

	return nil
}

// storedSchemaVersion reads the version stamp. A database without a
// schema_versions table reports version 0.
func storedSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	var tables int
	err := db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_versions'",
	).Scan(&tables)
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "inspect_database",
			Error: err.Error(),
		})
	}
	if tables == 0 {
		return 0, nil
	}

	var version int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "read_version",
			Error: err.Error(),
		})
	}

	return version, nil
}

// withTx runs fn inside a transaction, rolling back unless fn and the
// commit both succeed.
func withTx(db *sql.DB, log logger.Logger, fn func(*sql.Tx) error) error {
	errFactory := errors.New()

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			log.Debug().Err(err).Msg("Failed to roll back transaction")
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	committed = true

	return nil
}
