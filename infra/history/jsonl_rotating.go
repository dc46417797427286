package history

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// RotatingJSONLStore stores records in a JSONL file with automatic rotation.
type RotatingJSONLStore struct {
	mu     sync.Mutex
	logger *lumberjack.Logger
	path   string
}

// NewRotatingJSONLStore creates a store with rotation options in megabytes and days.
func NewRotatingJSONLStore(path string, maxSizeMB, maxBackups, maxAgeDays int) (*RotatingJSONLStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
	}
	return &RotatingJSONLStore{logger: lj, path: path}, nil
}

// Append writes the record and triggers rotation if needed.
func (s *RotatingJSONLStore) Append(_ context.Context, rec Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.logger.Write(append(b, '\n'))
	return err
}

// Query reads the current and rotated files. Undecodable lines are skipped.
func (s *RotatingJSONLStore) Query(ctx context.Context, q Query) ([]Record, error) {
	files, err := s.files()
	if err != nil {
		return nil, err
	}
	var res []Record
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		recs, err := readFile(f, q)
		if err != nil {
			continue
		}
		res = append(res, recs...)
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].Timestamp.Before(res[j].Timestamp) })
	return res, nil
}

// files returns the log file and its backups. Backups are named
// <name>-<timestamp><ext> next to the log file.
func (s *RotatingJSONLStore) files() ([]string, error) {
	ext := filepath.Ext(s.path)
	base := s.path[:len(s.path)-len(ext)]
	backups, err := filepath.Glob(base + "-*" + ext)
	if err != nil {
		return nil, err
	}
	return append(backups, s.path), nil
}

func readFile(path string, q Query) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()
	var res []Record
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var r Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			continue
		}
		if q.match(r) {
			res = append(res, r)
		}
	}
	return res, scanner.Err()
}

// Close closes the underlying writer.
func (s *RotatingJSONLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logger.Close()
}
