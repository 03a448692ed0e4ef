// Package sqlstore implements storage.Storage on top of a pure-Go SQLite
// driver, for deployments that want a portable, cgo-free SQL-backed
// store rather than an embedded KV tree.
package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/xmrgateway/gateway/invoice"
	"github.com/xmrgateway/gateway/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS invoices (
	major INTEGER NOT NULL,
	minor INTEGER NOT NULL,
	creation_height INTEGER NOT NULL,
	body BLOB NOT NULL,
	PRIMARY KEY (major, minor, creation_height)
);
CREATE INDEX IF NOT EXISTS invoices_by_subaddress ON invoices (major, minor);
CREATE TABLE IF NOT EXISTS output_keys (
	pub_key BLOB PRIMARY KEY,
	tx_hash BLOB NOT NULL,
	output_index INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS height (
	id INTEGER PRIMARY KEY CHECK (id = 0),
	value INTEGER NOT NULL
);
`

// Store is a database/sql storage.Storage backed by modernc.org/sqlite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite database at dsn, which
// may be a file path or ":memory:".
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", dsn, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) InsertInvoice(inv invoice.Invoice) error {
	body, err := storage.EncodeInvoice(inv)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO invoices (major, minor, creation_height, body) VALUES (?, ?, ?, ?)`,
		inv.Index.Major, inv.Index.Minor, inv.CreationHeight, body,
	)
	if isUniqueViolation(err) {
		return storage.ErrDuplicateInvoice
	}
	if err != nil {
		return fmt.Errorf("sqlstore: insert invoice: %w", err)
	}
	return nil
}

func (s *Store) RemoveInvoice(id invoice.ID) (invoice.Invoice, bool, error) {
	inv, ok, err := s.GetInvoice(id)
	if err != nil || !ok {
		return invoice.Invoice{}, false, err
	}
	_, err = s.db.Exec(
		`DELETE FROM invoices WHERE major = ? AND minor = ? AND creation_height = ?`,
		id.SubIndex.Major, id.SubIndex.Minor, id.CreationHeight,
	)
	if err != nil {
		return invoice.Invoice{}, false, fmt.Errorf("sqlstore: remove invoice: %w", err)
	}
	return inv, true, nil
}

func (s *Store) UpdateInvoice(inv invoice.Invoice) (invoice.Invoice, bool, error) {
	id := inv.ID()
	prior, ok, err := s.GetInvoice(id)
	if err != nil || !ok {
		return invoice.Invoice{}, false, err
	}
	body, err := storage.EncodeInvoice(inv)
	if err != nil {
		return invoice.Invoice{}, false, err
	}
	_, err = s.db.Exec(
		`UPDATE invoices SET body = ? WHERE major = ? AND minor = ? AND creation_height = ?`,
		body, id.SubIndex.Major, id.SubIndex.Minor, id.CreationHeight,
	)
	if err != nil {
		return invoice.Invoice{}, false, fmt.Errorf("sqlstore: update invoice: %w", err)
	}
	return prior, true, nil
}

func (s *Store) GetInvoice(id invoice.ID) (invoice.Invoice, bool, error) {
	var body []byte
	err := s.db.QueryRow(
		`SELECT body FROM invoices WHERE major = ? AND minor = ? AND creation_height = ?`,
		id.SubIndex.Major, id.SubIndex.Minor, id.CreationHeight,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return invoice.Invoice{}, false, nil
	}
	if err != nil {
		return invoice.Invoice{}, false, fmt.Errorf("sqlstore: get invoice: %w", err)
	}
	inv, err := storage.DecodeInvoice(body)
	if err != nil {
		return invoice.Invoice{}, false, err
	}
	return inv, true, nil
}

func (s *Store) GetInvoiceIDs() ([]invoice.ID, error) {
	var ids []invoice.ID
	err := s.ForEachInvoice(func(inv invoice.Invoice) error {
		ids = append(ids, inv.ID())
		return nil
	})
	return ids, err
}

func (s *Store) ContainsSubIndex(sub invoice.SubIndex) (bool, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM invoices WHERE major = ? AND minor = ?`,
		sub.Major, sub.Minor,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("sqlstore: contains sub index: %w", err)
	}
	return count > 0, nil
}

func (s *Store) ForEachInvoice(fn func(invoice.Invoice) error) error {
	rows, err := s.db.Query(`SELECT body FROM invoices ORDER BY major, minor, creation_height`)
	if err != nil {
		return fmt.Errorf("sqlstore: query invoices: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return fmt.Errorf("sqlstore: scan invoice: %w", err)
		}
		inv, err := storage.DecodeInvoice(body)
		if err != nil {
			return err
		}
		if err := fn(inv); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) IsEmpty() (bool, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM invoices`).Scan(&count); err != nil {
		return false, fmt.Errorf("sqlstore: is empty: %w", err)
	}
	return count == 0, nil
}

func (s *Store) LowestHeight() (uint64, bool, error) {
	var (
		lowest uint64
		found  bool
	)
	err := s.ForEachInvoice(func(inv invoice.Invoice) error {
		if !found || inv.CurrentHeight < lowest {
			lowest = inv.CurrentHeight
			found = true
		}
		return nil
	})
	return lowest, found, err
}

func (s *Store) InsertOutputKey(key storage.OutputPubKey, id storage.OutputID) error {
	_, err := s.db.Exec(
		`INSERT INTO output_keys (pub_key, tx_hash, output_index) VALUES (?, ?, ?)`,
		key[:], id.TxHash[:], id.Index,
	)
	if isUniqueViolation(err) {
		return storage.ErrDuplicateOutputKey
	}
	if err != nil {
		return fmt.Errorf("sqlstore: insert output key: %w", err)
	}
	return nil
}

func (s *Store) GetOutputKey(key storage.OutputPubKey) (storage.OutputID, bool, error) {
	var (
		txHash []byte
		index  uint8
	)
	err := s.db.QueryRow(
		`SELECT tx_hash, output_index FROM output_keys WHERE pub_key = ?`, key[:],
	).Scan(&txHash, &index)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.OutputID{}, false, nil
	}
	if err != nil {
		return storage.OutputID{}, false, fmt.Errorf("sqlstore: get output key: %w", err)
	}
	var id storage.OutputID
	copy(id.TxHash[:], txHash)
	id.Index = index
	return id, true, nil
}

func (s *Store) UpsertHeight(height uint64) (uint64, bool, error) {
	prior, had, err := s.GetHeight()
	if err != nil {
		return 0, false, err
	}
	_, err = s.db.Exec(
		`INSERT INTO height (id, value) VALUES (0, ?)
		 ON CONFLICT (id) DO UPDATE SET value = excluded.value`,
		height,
	)
	if err != nil {
		return 0, false, fmt.Errorf("sqlstore: upsert height: %w", err)
	}
	return prior, had, nil
}

func (s *Store) GetHeight() (uint64, bool, error) {
	var height uint64
	err := s.db.QueryRow(`SELECT value FROM height WHERE id = 0`).Scan(&height)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("sqlstore: get height: %w", err)
	}
	return height, true, nil
}

// Flush is a no-op: every statement above runs in its own committed
// transaction (database/sql's default autocommit mode), so there is
// nothing buffered to flush.
func (s *Store) Flush() error { return nil }

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ storage.Storage = (*Store)(nil)
