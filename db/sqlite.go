// Package db keeps the optional SQLite ledger of training runs.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Ledger records one row per successful training run. The server never reads
// it; it is an audit trail for whoever runs the trainer.
type Ledger struct {
	database *sql.DB
}

type TrainingLog struct {
	ID          int64     `json:"id"`
	ModelName   string    `json:"model_name"`
	ModelPath   string    `json:"model_path"`
	MSE         float64   `json:"mse"`
	R2Score     float64   `json:"r2_score"`
	TrainRows   int       `json:"train_rows"`
	TestRows    int       `json:"test_rows"`
	NumTrees    int       `json:"n_estimators"`
	MaxDepth    int       `json:"max_depth"`
	Seed        int64     `json:"seed"`
	DatasetURL  string    `json:"dataset_url"`
	TrainedAt   time.Time `json:"trained_at"`
	DurationSec float64   `json:"duration_sec"`
}

// Open creates the database file and schema if needed.
func Open(path string) (*Ledger, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}

	database, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database failed: %w", err)
	}

	query := `
    CREATE TABLE IF NOT EXISTS training_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        model_name VARCHAR(50) NOT NULL,
        model_path TEXT NOT NULL,
        mse REAL NOT NULL,
        r2_score REAL NOT NULL,
        train_rows INTEGER NOT NULL,
        test_rows INTEGER NOT NULL,
        n_estimators INTEGER NOT NULL,
        max_depth INTEGER NOT NULL,
        seed INTEGER NOT NULL,
        dataset_url TEXT NOT NULL,
        trained_at DATETIME NOT NULL,
        duration_sec REAL DEFAULT 0
    );
    CREATE INDEX IF NOT EXISTS idx_training_log_trained_at ON training_log(trained_at);
    `
	if _, err := database.Exec(query); err != nil {
		database.Close()
		return nil, fmt.Errorf("create tables failed: %w", err)
	}
	return &Ledger{database: database}, nil
}

func (l *Ledger) Close() error {
	if l == nil || l.database == nil {
		return nil
	}
	return l.database.Close()
}

func (l *Ledger) SaveTrainingLog(entry TrainingLog) (int64, error) {
	if l == nil || l.database == nil {
		return 0, errors.New("database not initialized")
	}
	if entry.TrainedAt.IsZero() {
		entry.TrainedAt = time.Now().UTC()
	}
	res, err := l.database.Exec(`
        INSERT INTO training_log (
            model_name, model_path, mse, r2_score, train_rows, test_rows,
            n_estimators, max_depth, seed, dataset_url, trained_at, duration_sec
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ModelName,
		entry.ModelPath,
		entry.MSE,
		entry.R2Score,
		entry.TrainRows,
		entry.TestRows,
		entry.NumTrees,
		entry.MaxDepth,
		entry.Seed,
		entry.DatasetURL,
		entry.TrainedAt.UTC(),
		entry.DurationSec,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecentTrainingLogs returns up to limit rows, newest first.
func (l *Ledger) RecentTrainingLogs(limit int) ([]TrainingLog, error) {
	if l == nil || l.database == nil {
		return nil, errors.New("database not initialized")
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.database.Query(`
        SELECT id, model_name, model_path, mse, r2_score, train_rows, test_rows,
               n_estimators, max_depth, seed, dataset_url, trained_at, duration_sec
        FROM training_log
        ORDER BY trained_at DESC, id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]TrainingLog, 0)
	for rows.Next() {
		var log TrainingLog
		if err := rows.Scan(
			&log.ID, &log.ModelName, &log.ModelPath, &log.MSE, &log.R2Score,
			&log.TrainRows, &log.TestRows, &log.NumTrees, &log.MaxDepth, &log.Seed,
			&log.DatasetURL, &log.TrainedAt, &log.DurationSec,
		); err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}
