package checkpoint

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	_ "modernc.org/sqlite"

	"github.com/rudrab06/PP-FedSLAM/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	round_index     INTEGER PRIMARY KEY,
	params          BLOB NOT NULL,
	privacy_account TEXT NOT NULL,
	created_at      INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS reliability_records (
	client_id     TEXT PRIMARY KEY,
	score         REAL NOT NULL,
	smoothed_dir  BLOB NOT NULL,
	smoothed_loss REAL NOT NULL,
	rounds_seen   INTEGER NOT NULL
);
`

// SqliteStore keeps checkpoints in a single SQLite file. Parameter vectors
// are stored snappy-compressed, the privacy account as JSON.
type SqliteStore struct {
	db     *sql.DB
	logger hclog.Logger
}

func NewSqliteStore(filePath string, logger hclog.Logger) (*SqliteStore, error) {
	db, err := sql.Open("sqlite", filePath)
	if err != nil {
		return nil, fmt.Errorf("unable to open checkpoint database %s: %w", filePath, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to initialize checkpoint schema: %w", err)
	}

	return &SqliteStore{
		db:     db,
		logger: logger,
	}, nil
}

func (store *SqliteStore) SaveCheckpoint(state *model.GlobalModelState, account *model.PrivacyAccount) error {
	accountJson, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("unable to marshal privacy account: %w", err)
	}

	_, err = store.db.Exec(
		`INSERT INTO checkpoints (round_index, params, privacy_account, created_at) VALUES (?, ?, ?, ?)`,
		state.Round, encodeVector(state.Parameters), string(accountJson), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("unable to save checkpoint for round %d: %w", state.Round, err)
	}

	store.logger.Debug(fmt.Sprintf("Checkpointed round %d (%d parameters, epsilon %.4f)",
		state.Round, len(state.Parameters), account.TotalEpsilon()))

	return nil
}

func (store *SqliteStore) LoadLatestCheckpoint() (*model.GlobalModelState, *model.PrivacyAccount, error) {
	row := store.db.QueryRow(
		`SELECT round_index, params, privacy_account, created_at FROM checkpoints ORDER BY round_index DESC LIMIT 1`)

	var round int32
	var paramsBlob []byte
	var accountJson string
	var createdAt int64
	if err := row.Scan(&round, &paramsBlob, &accountJson, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("unable to load latest checkpoint: %w", err)
	}

	parameters, err := decodeVector(paramsBlob)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to decode checkpoint parameters: %w", err)
	}

	account := &model.PrivacyAccount{}
	if err := json.Unmarshal([]byte(accountJson), account); err != nil {
		return nil, nil, fmt.Errorf("unable to unmarshal privacy account: %w", err)
	}

	state := &model.GlobalModelState{
		Round:          round,
		Parameters:     parameters,
		CheckpointedAt: time.Unix(0, createdAt),
	}

	return state, account, nil
}

func (store *SqliteStore) SaveReliabilityRecords(records []*model.ReliabilityRecord) error {
	tx, err := store.db.Begin()
	if err != nil {
		return fmt.Errorf("unable to start reliability transaction: %w", err)
	}

	for _, record := range records {
		_, err := tx.Exec(
			`INSERT INTO reliability_records (client_id, score, smoothed_dir, smoothed_loss, rounds_seen)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(client_id) DO UPDATE SET
			 score=excluded.score, smoothed_dir=excluded.smoothed_dir,
			 smoothed_loss=excluded.smoothed_loss, rounds_seen=excluded.rounds_seen`,
			record.ClientId, record.Score, encodeVector(record.SmoothedDir), record.SmoothedLoss, record.RoundsSeen)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("unable to save reliability record for client %s: %w", record.ClientId, err)
		}
	}

	return tx.Commit()
}

func (store *SqliteStore) LoadReliabilityRecords() ([]*model.ReliabilityRecord, error) {
	rows, err := store.db.Query(
		`SELECT client_id, score, smoothed_dir, smoothed_loss, rounds_seen FROM reliability_records ORDER BY client_id`)
	if err != nil {
		return nil, fmt.Errorf("unable to load reliability records: %w", err)
	}
	defer rows.Close()

	records := []*model.ReliabilityRecord{}
	for rows.Next() {
		record := &model.ReliabilityRecord{}
		var dirBlob []byte
		if err := rows.Scan(&record.ClientId, &record.Score, &dirBlob, &record.SmoothedLoss, &record.RoundsSeen); err != nil {
			return nil, fmt.Errorf("unable to scan reliability record: %w", err)
		}

		record.SmoothedDir, err = decodeVector(dirBlob)
		if err != nil {
			return nil, fmt.Errorf("unable to decode smoothed direction for client %s: %w", record.ClientId, err)
		}

		records = append(records, record)
	}

	return records, rows.Err()
}

func (store *SqliteStore) Close() error {
	return store.db.Close()
}
