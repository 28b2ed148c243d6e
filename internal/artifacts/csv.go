package artifacts

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/aigoflow/detection-service/internal/models"
)

// Writer appends one CSV row per detection to the prediction log.
// Appends are serialized; the log is advisory, write failures are
// returned but never fatal to the caller's request.
type Writer struct {
	path string

	mu   sync.Mutex
	file *os.File
	csv  *csv.Writer
}

func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

// Append writes the detections of one completed prediction.
func (w *Writer) Append(file string, result *models.PredictionResult) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.open(); err != nil {
		return err
	}

	ts := time.Now().Format("2006-01-02 15:04:05")
	for _, d := range result.Detections {
		row := []string{
			ts,
			file,
			d.Class,
			strconv.FormatFloat(d.Score, 'f', 4, 64),
			strconv.Itoa(d.Box[0]),
			strconv.Itoa(d.Box[1]),
			strconv.Itoa(d.Box[2]),
			strconv.Itoa(d.Box[3]),
			strconv.FormatFloat(result.LatencyMs, 'f', 3, 64),
		}
		if err := w.csv.Write(row); err != nil {
			return fmt.Errorf("write artifact row: %w", err)
		}
	}
	w.csv.Flush()
	return w.csv.Error()
}

func (w *Writer) open() error {
	if w.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	w.file = f
	w.csv = csv.NewWriter(f)
	return nil
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	w.csv.Flush()
	err := w.file.Close()
	w.file = nil
	w.csv = nil
	return err
}
