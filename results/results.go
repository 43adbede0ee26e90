// Package results stores free-form result records as JSON files, one file
// per user and task, and accumulates per-run score series.
//
// Appending is tolerant of content, not of I/O: an existing file that does
// not hold the expected JSON shape is treated as empty and overwritten, while
// a file that cannot be read fails the append.
package results

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrInvalidKey is returned for user or task identifiers that are empty or
// could escape the results directory.
var ErrInvalidKey = errors.New("results: invalid key")

// Store keeps result records under a directory.
type Store struct {
	dir string
	mu  sync.Mutex
}

// New creates a Store rooted at dir. The directory is created on first
// write.
func New(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) path(user, task string) (string, error) {
	for _, part := range []string{user, task} {
		if part == "" || part == "." || part == ".." || strings.ContainsAny(part, `/\`) {
			return "", fmt.Errorf("%w: %q", ErrInvalidKey, part)
		}
	}
	return filepath.Join(s.dir, user, task+".json"), nil
}

// Append adds record to the user's task file and returns the number of
// records the file now holds.
func (s *Store) Append(user, task string, record json.RawMessage) (int, error) {
	if !json.Valid(record) {
		return 0, fmt.Errorf("results: record is not valid JSON")
	}
	path, err := s.path(user, task)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var records []json.RawMessage
	if err := readJSON(path, &records); err != nil {
		if !malformed(err) {
			return 0, fmt.Errorf("reading %s: %w", path, err)
		}
		slog.Warn("results: discarding malformed file", "path", path, "error", err)
		records = nil
	}
	records = append(records, record)
	if err := writeJSON(path, records); err != nil {
		return 0, err
	}
	return len(records), nil
}

// Read returns the records of the user's task file, or none when the file
// does not exist.
func (s *Store) Read(user, task string) ([]json.RawMessage, error) {
	path, err := s.path(user, task)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records := []json.RawMessage{}
	if err := readJSON(path, &records); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return records, nil
}

// Run is the score series of one experiment run: F1 (in percent) of a model
// trained on the matching number of documents.
type Run struct {
	F1Scores []float64 `json:"f1_scores"`
	NumDocs  []int     `json:"num_docs"`
}

// AppendRun records run under id in the JSON object at path, replacing an
// earlier run with the same id.
func AppendRun(path, id string, run Run) error {
	runs := map[string]Run{}
	if err := readJSON(path, &runs); err != nil {
		if !malformed(err) {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		slog.Warn("results: discarding malformed run file", "path", path, "error", err)
		runs = map[string]Run{}
	}
	runs[id] = run
	return writeJSON(path, runs)
}

// ReadRuns returns all runs recorded at path.
func ReadRuns(path string) (map[string]Run, error) {
	runs := map[string]Run{}
	if err := readJSON(path, &runs); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return runs, nil
}

// readJSON decodes the file at path into v. A missing or empty file leaves
// v untouched.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// malformed reports whether err comes from decoding rather than reading.
func malformed(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

// writeJSON replaces the file at path through a temporary file in the same
// directory.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".results-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
