package metrics

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"codeberg.org/mutker/envoymon/internal/errors"
	"codeberg.org/mutker/envoymon/internal/logger"
)

const backupDir = "/var/lib/envoymon/backups"

// ensureSchema brings the database to the current schema version. A fresh
// database is initialized directly; a version mismatch snapshots the old
// data into backupDir and rebuilds the schema from scratch.
func ensureSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	version, err := storedSchemaVersion(db)
	if err != nil {
		return errFactory.Wrap(ErrSchemaValidationFailed, err)
	}

	switch version {
	case SchemaVersion:
		log.Debug().Int("version", version).Msg("Schema version is current")
		return nil
	case 0:
		return initSchema(db, log)
	}

	log.Warn().
		Int("found", version).
		Int("want", SchemaVersion).
		Msg("Schema version mismatch, rebuilding")

	backupPath, err := snapshotDatabase(db, version, log)
	if err != nil {
		return errFactory.Wrap(ErrSchemaMigrationFailed, err)
	}

	if err := rebuildSchema(db, log); err != nil {
		return errFactory.WithData(ErrSchemaMigrationFailed, struct {
			Backup string
			Error  string
		}{
			Backup: backupPath,
			Error:  err.Error(),
		})
	}

	return initSchema(db, log)
}

// snapshotDatabase writes a compacted copy of the database into backupDir
// before a rebuild discards the old tables.
func snapshotDatabase(db *sql.DB, version int, log logger.Logger) (string, error) {
	errFactory := errors.New()

	if err := os.MkdirAll(backupDir, defaultDirPerm); err != nil {
		return "", errFactory.WithData(ErrSchemaMigrationFailed, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "backup_dir",
			Path:  backupDir,
			Error: err.Error(),
		})
	}

	stamp := time.Now().UTC().Format("20060102T150405Z")
	backupPath := filepath.Join(backupDir, fmt.Sprintf("samples_v%d_%s.db", version, stamp))

	// VACUUM INTO cannot run inside a transaction
	if _, err := db.Exec(fmt.Sprintf("VACUUM INTO '%s'", backupPath)); err != nil {
		return "", errFactory.WithData(ErrSchemaMigrationFailed, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "vacuum_into",
			Path:  backupPath,
			Error: err.Error(),
		})
	}

	log.Info().
		Str("path", backupPath).
		Int("version", version).
		Msg("Database backup created")

	return backupPath, nil
}

// rebuildSchema drops the old tables so initSchema can start clean.
func rebuildSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	return withTx(db, log, func(tx *sql.Tx) error {
		for _, table := range []string{"samples", "schema_versions"} {
			if _, err := tx.Exec("DROP TABLE IF EXISTS " + table); err != nil {
				return errFactory.WithData(ErrSchemaMigrationFailed, struct {
					Table string
					Error string
				}{
					Table: table,
					Error: err.Error(),
				})
			}
		}

		return nil
	})
}
