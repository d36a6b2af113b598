package store

import (
	"database/sql"
)

// TransactionLocation marks the last fully processed event of a monitor as a
// (block hash, transaction id) pair. Both fields are hex strings and are
// opaque to the store.
type TransactionLocation struct {
	BlockHash string
	TxID      string
}

// CursorStore durably persists one TransactionLocation per monitor. A monitor
// saves its location after every successfully observed block and loads it on
// startup to resume without skipping or re-emitting events.
type CursorStore interface {
	// Init creates the underlying table. It should be called once the store
	// object is created and is safe to call more than once.
	Init() error

	// Load returns the location stored under the given monitor name. The
	// second return value is false if no location has been stored yet.
	Load(name string) (TransactionLocation, bool, error)

	// Save overwrites the location stored under the given monitor name.
	Save(name string, location TransactionLocation) error
}

type cursorStore struct {
	db *sql.DB
}

// New creates a new CursorStore on top of a SQL database.
func New(db *sql.DB) CursorStore {
	return cursorStore{
		db: db,
	}
}

func (store cursorStore) Init() error {
	script := `CREATE TABLE IF NOT EXISTS cursors (
		name       VARCHAR(255) NOT NULL PRIMARY KEY,
		block_hash VARCHAR(255),
		tx_id      VARCHAR(255)
	);`
	_, err := store.db.Exec(script)
	return err
}

func (store cursorStore) Load(name string) (TransactionLocation, bool, error) {
	script := "SELECT block_hash, tx_id FROM cursors WHERE name = $1;"
	row := store.db.QueryRow(script, name)

	location := TransactionLocation{}
	if err := row.Scan(&location.BlockHash, &location.TxID); err != nil {
		if err == sql.ErrNoRows {
			return TransactionLocation{}, false, nil
		}
		return TransactionLocation{}, false, err
	}
	return location, true, nil
}

func (store cursorStore) Save(name string, location TransactionLocation) error {
	script := `INSERT INTO cursors (name, block_hash, tx_id) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET block_hash = $2, tx_id = $3;`
	_, err := store.db.Exec(script, name, location.BlockHash, location.TxID)
	return err
}
