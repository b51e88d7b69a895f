package metrics

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Entry is one line of a run history file.
type Entry struct {
	Time  time.Time `json:"time"`
	Step  int64     `json:"step"`
	Name  string    `json:"name"`
	Value float64   `json:"value"`
}

// RunWriter appends every value to <dir>/<project>/<run id>.jsonl.
type RunWriter struct {
	ID   string
	Path string

	mu  sync.Mutex
	f   *os.File
	w   *bufio.Writer
	enc *json.Encoder
	err error
	now func() time.Time
}

// NewRunWriter creates the history file for a new run.
func NewRunWriter(dir, project string) (*RunWriter, error) {
	id := uuid.NewString()
	folder := filepath.Join(dir, project)
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create run folder %q", folder)
	}
	path := filepath.Join(folder, id+".jsonl")
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "create run history %q", path)
	}
	w := bufio.NewWriter(f)
	return &RunWriter{ID: id, Path: path, f: f, w: w, enc: json.NewEncoder(w), now: time.Now}, nil
}

// Log implements Logger. The first write error is kept and returned by Close.
func (r *RunWriter) Log(step int64, name string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	r.err = r.enc.Encode(Entry{Time: r.now().UTC(), Step: step, Name: name, Value: value})
}

// Close flushes the history and closes the file.
func (r *RunWriter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.w.Flush(); err != nil && r.err == nil {
		r.err = err
	}
	if err := r.f.Close(); err != nil && r.err == nil {
		r.err = err
	}
	return errors.Wrapf(r.err, "write run history %q", r.Path)
}

// ReadRun loads a run history file.
func ReadRun(path string) ([]Entry, error) {
	//nolint:gosec // G304: path comes from configuration
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %q", path)
	}
	defer f.Close()

	var entries []Entry
	dec := json.NewDecoder(f)
	for dec.More() {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			return nil, errors.Wrapf(err, "decode %q", path)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
