package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/amishk599/idlewatch/internal/model"
)

var _ model.RecordWriter = (*JSONLWriter)(nil)

// OutputPath returns the JSONL file for a search keyword inside dir.
func OutputPath(dir, keyword string) string {
	name := strings.ReplaceAll(strings.TrimSpace(keyword), " ", "_")
	name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	return filepath.Join(dir, name+"_full_data.jsonl")
}

// JSONLWriter appends records, one JSON object per line, to a single file.
// Appends through one writer are serialized; callers share a writer per path
// so concurrent tasks with the same keyword never interleave partial lines.
type JSONLWriter struct {
	mu   sync.Mutex
	path string
}

// NewJSONLWriter returns a writer for path, creating the parent directory.
func NewJSONLWriter(path string) (*JSONLWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}
	return &JSONLWriter{path: path}, nil
}

// Path returns the file the writer appends to.
func (w *JSONLWriter) Path() string { return w.path }

// Append writes rec as one line.
func (w *JSONLWriter) Append(rec model.Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.Item.ID, err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", w.path, err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", w.path, err)
	}
	return f.Close()
}

// ReadRecords loads every well-formed record from a JSONL file. Malformed
// lines are counted in skipped rather than failing the read.
func ReadRecords(path string) (records []model.Record, skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec model.Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return records, skipped, fmt.Errorf("reading %s: %w", path, err)
	}
	return records, skipped, nil
}
