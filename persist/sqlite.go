package persist

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/lwkgo/ctwallet/store"
	"github.com/lwkgo/ctwallet/werror"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SqlitePersister is the alternate Persister backend,
// grounded on db/factory.go's pluggable-backend selection: the same
// descriptor/snapshot/journal triple FilePersister keeps as flat
// files, kept instead as rows in a modernc.org/sqlite database, with
// schema migrations applied through golang-migrate/v4. Useful when a
// caller wants one database file to hold the whole wallet rather than
// a directory of small ones (e.g. the mobile embedding db/factory.go
// was written for).
type SqlitePersister struct {
	mu     sync.Mutex
	db     *sql.DB
	sealer Sealer
}

// NewSqlitePersister opens (creating and migrating if absent) a
// SQLite-backed persister at path. sealer may be nil for cleartext
// storage. path may be ":memory:" for an ephemeral store, mirroring
// db/factory.go's UseMemory option.
func NewSqlitePersister(path string, sealer Sealer) (*SqlitePersister, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("persist: open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite does not support concurrent writers

	if err := migrateSqlite(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("persist: migrate sqlite database: %w", err)
	}

	return &SqlitePersister{db: db, sealer: sealer}, nil
}

func migrateSqlite(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("wrap sqlite driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("build migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Append durably records u as the next row of wallet_update. SQLite's
// default journal mode fsyncs on commit, giving the same
// survives-a-crash guarantee FilePersister's fsync+rename gets by
// hand.
func (p *SqlitePersister) Append(u *store.Update) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	payload, err := p.seal(updateWireFrom(u))
	if err != nil {
		return werror.Wrap(fmt.Errorf("persist: encode update: %w", err))
	}

	if _, err := p.db.Exec(`INSERT INTO wallet_update (payload) VALUES (?)`, payload); err != nil {
		return werror.Wrap(&werror.PersistError{Kind: werror.PersistIO, Err: err})
	}
	return nil
}

// SnapshotAll atomically replaces the persisted descriptor and full
// state, then prunes every journal row the snapshot now supersedes.
// All three statements run in a single transaction, which is SQLite's
// equivalent of FilePersister's temp-file-plus-rename: either every
// change lands, or (on crash or error) none does.
func (p *SqlitePersister) SnapshotAll(descriptor string, snapshot *store.Update) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	descPayload, err := p.seal([]byte(descriptor))
	if err != nil {
		return werror.Wrap(fmt.Errorf("persist: encode descriptor: %w", err))
	}
	snapPayload, err := p.seal(updateWireFrom(snapshot))
	if err != nil {
		return werror.Wrap(fmt.Errorf("persist: encode snapshot: %w", err))
	}

	tx, err := p.db.Begin()
	if err != nil {
		return werror.Wrap(&werror.PersistError{Kind: werror.PersistIO, Err: err})
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO wallet_descriptor (id, payload) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload`, descPayload); err != nil {
		return werror.Wrap(&werror.PersistError{Kind: werror.PersistIO, Err: err})
	}
	if _, err := tx.Exec(`INSERT INTO wallet_snapshot (id, payload) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload`, snapPayload); err != nil {
		return werror.Wrap(&werror.PersistError{Kind: werror.PersistIO, Err: err})
	}
	if _, err := tx.Exec(`DELETE FROM wallet_update`); err != nil {
		return werror.Wrap(&werror.PersistError{Kind: werror.PersistIO, Err: err})
	}

	if err := tx.Commit(); err != nil {
		return werror.Wrap(&werror.PersistError{Kind: werror.PersistIO, Err: err})
	}
	return nil
}

// LoadAll reads back the persisted descriptor, the snapshot (if any),
// and every journal row in insertion order. The descriptor is empty
// when only journal rows have been written; with neither a descriptor
// nor any update it returns werror.ErrNoWalletPersisted.
func (p *SqlitePersister) LoadAll() (string, []*store.Update, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	descriptor, haveDescriptor := "", false
	var descPayload []byte
	err := p.db.QueryRow(`SELECT payload FROM wallet_descriptor WHERE id = 1`).Scan(&descPayload)
	switch {
	case err == nil:
		descData, err := p.open(descPayload)
		if err != nil {
			return "", nil, werror.Wrap(fmt.Errorf("persist: decrypt descriptor: %w", err))
		}
		descriptor, haveDescriptor = string(descData), true
	case err != sql.ErrNoRows:
		return "", nil, werror.Wrap(fmt.Errorf("persist: read descriptor: %w", err))
	}

	var updates []*store.Update

	var snapPayload []byte
	err = p.db.QueryRow(`SELECT payload FROM wallet_snapshot WHERE id = 1`).Scan(&snapPayload)
	switch {
	case err == nil:
		u, err := p.decodeUpdate(snapPayload)
		if err != nil {
			return "", nil, werror.Wrap(fmt.Errorf("persist: decode snapshot: %w", err))
		}
		updates = append(updates, u)
	case err == sql.ErrNoRows:
		// no snapshot yet, journal-only replay
	default:
		return "", nil, werror.Wrap(fmt.Errorf("persist: read snapshot: %w", err))
	}

	rows, err := p.db.Query(`SELECT payload FROM wallet_update ORDER BY seq ASC`)
	if err != nil {
		return "", nil, werror.Wrap(fmt.Errorf("persist: list journal: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return "", nil, werror.Wrap(fmt.Errorf("persist: scan journal row: %w", err))
		}
		u, err := p.decodeUpdate(payload)
		if err != nil {
			return "", nil, werror.Wrap(fmt.Errorf("persist: decode journal row: %w", err))
		}
		updates = append(updates, u)
	}
	if err := rows.Err(); err != nil {
		return "", nil, werror.Wrap(fmt.Errorf("persist: iterate journal: %w", err))
	}

	if !haveDescriptor && len(updates) == 0 {
		return "", nil, werror.Wrap(werror.ErrNoWalletPersisted)
	}
	return descriptor, updates, nil
}

func (p *SqlitePersister) decodeUpdate(payload []byte) (*store.Update, error) {
	data, err := p.open(payload)
	if err != nil {
		return nil, err
	}
	var w updateWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return w.toUpdate()
}

// Close releases the underlying database handle.
func (p *SqlitePersister) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.db.Close()
}

func (p *SqlitePersister) seal(plaintext []byte) ([]byte, error) {
	if p.sealer == nil {
		return plaintext, nil
	}
	return p.sealer.Seal(plaintext)
}

func (p *SqlitePersister) open(payload []byte) ([]byte, error) {
	if p.sealer == nil {
		return payload, nil
	}
	return p.sealer.Open(payload)
}
