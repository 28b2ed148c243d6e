package store

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	*sql.DB
}

func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	// Create events table
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS events(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts REAL,
		level TEXT,
		code TEXT,
		msg TEXT,
		meta TEXT
	)`); err != nil {
		return nil, err
	}

	// Create predictions table, one row per completed prediction
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS predictions(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts REAL,
		trace_id TEXT,
		req_id TEXT,
		source TEXT,
		file TEXT,
		conf REAL,
		n_boxes INTEGER,
		class_counts TEXT,
		dur_ms REAL,
		status TEXT,
		error TEXT
	)`); err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

func (db *DB) Event(level, code, msg string, meta map[string]interface{}) {
	m := ""
	if meta != nil {
		b, _ := json.Marshal(meta)
		m = string(b)
	}
	_, _ = db.Exec(`INSERT INTO events(ts,level,code,msg,meta) VALUES(?,?,?,?,?)`,
		float64(time.Now().UnixNano())/1e9, level, code, msg, m)
}

func (db *DB) Prediction(start time.Time, traceID, reqID, source, file string,
	conf float64, nBoxes int, classCounts string, dur time.Duration, status, errStr string) {
	_, _ = db.Exec(`INSERT INTO predictions(
		ts, trace_id, req_id, source, file, conf, n_boxes, class_counts, dur_ms, status, error)
		VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		float64(start.UnixNano())/1e9, traceID, reqID, source, file, conf, nBoxes, classCounts,
		float64(dur.Milliseconds()), status, errStr)
}
