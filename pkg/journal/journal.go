// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
// Package journal keeps a sqlite history of executed pass-through
// commands.
package journal

import (
	"database/sql"
	"encoding/hex"
	"nvmesntl/pkg/logger"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
	_ "modernc.org/sqlite"
)

const defaultLimit = 100

// Entry is one executed command.
type Entry struct {
	Id         int64
	Handle     uuid.UUID
	Device     string
	Cdb        []byte
	Emulated   bool
	Category   int
	ScsiStatus byte
	Sense      []byte
	NvmeStatus uint16
	Duration   time.Duration
	RecordedAt time.Time
}

type Journal struct {
	conn *sql.DB
	path string
}

// Open opens or creates the journal database at path.
func Open(path string) (*Journal, error) {
	log := logger.GetLogger()
	if path == "" {
		return nil, errors.New("journal path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(err, "create journal directory")
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open journal %s", path)
	}
	if _, err := conn.Exec("PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "configure journal")
	}
	journal := &Journal{conn: conn, path: path}
	if err := journal.migrate(); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "migrate journal")
	}
	log.Debugf("journal opened at %s", path)
	return journal, nil
}

func (journal *Journal) Close() error {
	return journal.conn.Close()
}

func (journal *Journal) Path() string {
	return journal.path
}

func (journal *Journal) migrate() error {
	_, err := journal.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}
	var version int
	err = journal.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return err
	}
	migrations := []string{
		migrationV1,
		migrationV2,
	}
	for i, migration := range migrations {
		v := i + 1
		if v <= version {
			continue
		}
		tx, err := journal.conn.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migration); err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "migration v%d", v)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", v); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

const migrationV1 = `
CREATE TABLE IF NOT EXISTS commands (
    id INTEGER PRIMARY KEY,
    handle TEXT NOT NULL,
    device TEXT NOT NULL,
    cdb TEXT NOT NULL,
    emulated INTEGER NOT NULL DEFAULT 0,
    category INTEGER NOT NULL,
    scsi_status INTEGER NOT NULL DEFAULT 0,
    sense TEXT NOT NULL DEFAULT '',
    nvme_status INTEGER NOT NULL DEFAULT 0,
    duration_us INTEGER NOT NULL DEFAULT 0,
    recorded_at INTEGER NOT NULL
);
`

const migrationV2 = `
CREATE INDEX IF NOT EXISTS idx_commands_device ON commands(device, id);
`

// Record appends entry. A zero RecordedAt is set to now.
func (journal *Journal) Record(entry Entry) error {
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now()
	}
	_, err := journal.conn.Exec(`
		INSERT INTO commands (handle, device, cdb, emulated, category, scsi_status, sense, nvme_status, duration_us, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.Handle.String(),
		entry.Device,
		hex.EncodeToString(entry.Cdb),
		entry.Emulated,
		entry.Category,
		int(entry.ScsiStatus),
		hex.EncodeToString(entry.Sense),
		int(entry.NvmeStatus),
		entry.Duration.Microseconds(),
		entry.RecordedAt.UnixNano(),
	)
	if err != nil {
		return errors.Wrap(err, "record command")
	}
	return nil
}

// Recent returns the newest entries first. An empty device matches all.
func (journal *Journal) Recent(device string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	rows, err := journal.conn.Query(`
		SELECT id, handle, device, cdb, emulated, category, scsi_status, sense, nvme_status, duration_us, recorded_at
		FROM commands
		WHERE ? = '' OR device = ?
		ORDER BY id DESC
		LIMIT ?
	`, device, device, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query commands")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry      Entry
			handle     string
			cdb, sense string
			scsiStatus int
			nvmeStatus int
			durationUs int64
			recordedAt int64
		)
		err := rows.Scan(
			&entry.Id,
			&handle,
			&entry.Device,
			&cdb,
			&entry.Emulated,
			&entry.Category,
			&scsiStatus,
			&sense,
			&nvmeStatus,
			&durationUs,
			&recordedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, "scan command")
		}
		entry.Handle = uuid.FromStringOrNil(handle)
		if entry.Cdb, err = hex.DecodeString(cdb); err != nil {
			return nil, errors.Wrapf(err, "command %d cdb", entry.Id)
		}
		if entry.Sense, err = hex.DecodeString(sense); err != nil {
			return nil, errors.Wrapf(err, "command %d sense", entry.Id)
		}
		entry.ScsiStatus = byte(scsiStatus)
		entry.NvmeStatus = uint16(nvmeStatus)
		entry.Duration = time.Duration(durationUs) * time.Microsecond
		entry.RecordedAt = time.Unix(0, recordedAt)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Prune keeps the newest keep entries.
func (journal *Journal) Prune(keep int) (int64, error) {
	result, err := journal.conn.Exec(`
		DELETE FROM commands WHERE id NOT IN (
			SELECT id FROM commands ORDER BY id DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, errors.Wrap(err, "prune commands")
	}
	return result.RowsAffected()
}
