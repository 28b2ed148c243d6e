package repository

import (
	"context"
	"time"

	"github.com/aigoflow/detection-service/internal/models"
	"github.com/aigoflow/detection-service/internal/store"
)

// SQLiteRepository implements Repository interface using SQLite
type SQLiteRepository struct {
	db             *store.DB
	predictionRepo PredictionRepositoryInterface
	eventRepo      EventRepositoryInterface
}

func NewSQLiteRepository(db *store.DB) Repository {
	return &SQLiteRepository{
		db:             db,
		predictionRepo: &SQLitePredictionRepository{db: db},
		eventRepo:      &SQLiteEventRepository{db: db},
	}
}

func (r *SQLiteRepository) Prediction() PredictionRepositoryInterface {
	return r.predictionRepo
}

func (r *SQLiteRepository) Event() EventRepositoryInterface {
	return r.eventRepo
}

// SQLitePredictionRepository handles prediction logging
type SQLitePredictionRepository struct {
	db *store.DB
}

func (r *SQLitePredictionRepository) LogPrediction(ctx context.Context, p *models.PredictionLog) error {
	r.db.Prediction(
		p.Timestamp,
		p.TraceID,
		p.ReqID,
		p.Source,
		p.File,
		p.Conf,
		p.NBoxes,
		p.ClassCounts,
		time.Duration(p.DurationMs)*time.Millisecond,
		p.Status,
		p.Error,
	)
	return nil
}

func (r *SQLitePredictionRepository) GetPredictionLogs(ctx context.Context, limit int) ([]*models.PredictionLog, error) {
	rows, err := r.db.Query(`SELECT ts,trace_id,req_id,source,file,conf,n_boxes,class_counts,dur_ms,status,error FROM predictions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*models.PredictionLog
	for rows.Next() {
		var p models.PredictionLog
		var ts float64
		if err := rows.Scan(&ts, &p.TraceID, &p.ReqID, &p.Source, &p.File, &p.Conf,
			&p.NBoxes, &p.ClassCounts, &p.DurationMs, &p.Status, &p.Error); err != nil {
			return nil, err
		}
		p.Timestamp = time.Unix(0, int64(ts*1e9))
		logs = append(logs, &p)
	}
	return logs, rows.Err()
}

// SQLiteEventRepository handles event logging
type SQLiteEventRepository struct {
	db *store.DB
}

func (r *SQLiteEventRepository) LogEvent(ctx context.Context, level, code, msg string, meta map[string]interface{}) error {
	r.db.Event(level, code, msg, meta)
	return nil
}
