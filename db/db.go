package db

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// Source networks for history records.
const (
	NetworkNineChronicles = "nineChronicles"
	NetworkEthereum       = "ethereum"
)

type RecordStatus int8

const (
	RecordStatusNil RecordStatus = iota
	RecordStatusRejected
	RecordStatusEmitted
	RecordStatusRefunded
)

// Record is durable evidence that a source event has been observed and acted
// upon. The (source network, source tx id) pair is unique; the presence of a
// record means the event must not be processed again.
//
// For every terminal record, requested = sent + fee + refunded, where every
// component is non-negative.
type Record struct {
	SourceNetwork string
	SourceTxID    string
	Sink          string
	Requested     decimal.Decimal
	Sent          decimal.Decimal
	Refunded      decimal.Decimal
	CounterTxID   string
	RefundTxID    string
	Status        RecordStatus
	CreatedTime   int64
}

// DB is a storage adapter (built on top of a SQL database) that stores the
// history of every observed bridge event.
type DB interface {
	// Initialise the database. Init should be called once the database object
	// is created.
	Init() error

	// Has returns whether a record exists for the given source tx.
	Has(network, txID string) (bool, error)

	// Insert the record into the database. Inserting a second record for the
	// same source tx is an error.
	Insert(record Record) error

	// Record returns the record of the given source tx. It returns an
	// `sql.ErrNoRows` if the record cannot be found.
	Record(network, txID string) (Record, error)

	// UpdateCounterTx annotates the record with the id of the counter-chain
	// transaction that was emitted for it.
	UpdateCounterTx(network, txID, counterTxID string) error

	// UpdateRefund annotates the record with the refund leg: the refund tx id
	// and the refunded amount.
	UpdateRefund(network, txID, refundTxID string, amount decimal.Decimal) error

	// UpdateStatus updates the status of the record.
	UpdateStatus(network, txID string, status RecordStatus) error
}

type database struct {
	db *sql.DB
}

// New creates a new DB instance.
func New(db *sql.DB) DB {
	return database{
		db: db,
	}
}

// Init creates the history table if it does not already exist. The table will
// only be created the first time this function is called and any future calls
// will not return an error.
func (db database) Init() error {
	history := `CREATE TABLE IF NOT EXISTS history (
		network       VARCHAR(255) NOT NULL,
		tx_id         VARCHAR(255) NOT NULL,
		sink          VARCHAR(255),
		requested     VARCHAR(100),
		sent          VARCHAR(100),
		refunded      VARCHAR(100),
		counter_tx_id VARCHAR(255),
		refund_tx_id  VARCHAR(255),
		status        INT,
		created_time  INT,
		PRIMARY KEY (network, tx_id)
	);`
	_, err := db.db.Exec(history)
	return err
}

// Has implements the DB interface.
func (db database) Has(network, txID string) (bool, error) {
	var count int
	err := db.db.QueryRow(`SELECT COUNT(*) FROM history WHERE network = $1 AND tx_id = $2;`, network, txID).Scan(&count)
	return count > 0, err
}

// Insert implements the DB interface.
func (db database) Insert(record Record) error {
	createdTime := record.CreatedTime
	if createdTime == 0 {
		createdTime = time.Now().Unix()
	}
	script := `INSERT INTO history (network, tx_id, sink, requested, sent, refunded, counter_tx_id, refund_tx_id, status, created_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);`
	_, err := db.db.Exec(script,
		record.SourceNetwork,
		record.SourceTxID,
		record.Sink,
		record.Requested.String(),
		record.Sent.String(),
		record.Refunded.String(),
		record.CounterTxID,
		record.RefundTxID,
		record.Status,
		createdTime,
	)
	return err
}

// Record implements the DB interface.
func (db database) Record(network, txID string) (Record, error) {
	script := `SELECT network, tx_id, sink, requested, sent, refunded, counter_tx_id, refund_tx_id, status, created_time
		FROM history WHERE network = $1 AND tx_id = $2;`
	row := db.db.QueryRow(script, network, txID)

	record := Record{}
	var requested, sent, refunded string
	err := row.Scan(
		&record.SourceNetwork,
		&record.SourceTxID,
		&record.Sink,
		&requested,
		&sent,
		&refunded,
		&record.CounterTxID,
		&record.RefundTxID,
		&record.Status,
		&record.CreatedTime,
	)
	if err != nil {
		return Record{}, err
	}
	if record.Requested, err = decimal.NewFromString(requested); err != nil {
		return Record{}, err
	}
	if record.Sent, err = decimal.NewFromString(sent); err != nil {
		return Record{}, err
	}
	if record.Refunded, err = decimal.NewFromString(refunded); err != nil {
		return Record{}, err
	}
	return record, nil
}

// UpdateCounterTx implements the DB interface.
func (db database) UpdateCounterTx(network, txID, counterTxID string) error {
	_, err := db.db.Exec(`UPDATE history SET counter_tx_id = $1 WHERE network = $2 AND tx_id = $3;`, counterTxID, network, txID)
	return err
}

// UpdateRefund implements the DB interface.
func (db database) UpdateRefund(network, txID, refundTxID string, amount decimal.Decimal) error {
	_, err := db.db.Exec(`UPDATE history SET refund_tx_id = $1, refunded = $2 WHERE network = $3 AND tx_id = $4;`, refundTxID, amount.String(), network, txID)
	return err
}

// UpdateStatus implements the DB interface.
func (db database) UpdateStatus(network, txID string, status RecordStatus) error {
	_, err := db.db.Exec(`UPDATE history SET status = $1 WHERE network = $2 AND tx_id = $3;`, status, network, txID)
	return err
}
