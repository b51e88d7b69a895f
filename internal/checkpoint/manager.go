// Package checkpoint persists model and optimizer state during training
// and retains the best K checkpoints by a monitored metric.
package checkpoint

import (
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Mode selects whether lower or higher monitored values are better.
type Mode string

// Monitor modes.
const (
	ModeMin Mode = "min"
	ModeMax Mode = "max"
)

var (
	// ErrNoCheckpoint is returned by SaveFinal before anything was saved.
	ErrNoCheckpoint = errors.New("checkpoint: no checkpoint saved")

	// ErrBadMode is returned for a mode other than min or max.
	ErrBadMode = errors.New("checkpoint: mode must be min or max")
)

// Entry is a retained checkpoint.
type Entry struct {
	Path  string
	Epoch int
	Step  int64
	Value float64
}

// Manager keeps the TopK best checkpoints in Dir. TopK < 0 keeps every
// checkpoint; TopK == 0 keeps none.
type Manager struct {
	Dir      string
	Template string
	TopK     int
	Monitor  string
	Mode     Mode
	Logger   logrus.FieldLogger

	entries []Entry // best first
}

// NewManager validates the settings and returns a manager that ranks the
// checkpoints already in dir, so a resumed run keeps competing with the
// runs before it. Files that do not decode or were saved for another
// monitor are left alone. Existing checkpoints beyond TopK are deleted.
func NewManager(dir, template string, topK int, monitor string, mode Mode, logger logrus.FieldLogger) (*Manager, error) {
	if mode != ModeMin && mode != ModeMax {
		return nil, errors.Wrap(ErrBadMode, string(mode))
	}
	if monitor == "" {
		return nil, errors.New("checkpoint: monitor metric is required")
	}
	if logger == nil {
		logger = logrus.New()
	}
	m := &Manager{
		Dir:      dir,
		Template: template,
		TopK:     topK,
		Monitor:  monitor,
		Mode:     mode,
		Logger:   logger.WithField("action", "checkpoint"),
	}
	if topK == 0 {
		return m, nil
	}
	if err := m.scan(); err != nil {
		return nil, err
	}
	return m, nil
}

// scan loads the retained set from the checkpoints on disk.
func (m *Manager) scan() error {
	paths, err := filepath.Glob(filepath.Join(m.Dir, "*"+Extension))
	if err != nil {
		return errors.Wrapf(err, "list %q", m.Dir)
	}
	for _, path := range paths {
		s, err := Read(path)
		if err != nil {
			m.Logger.WithError(err).WithField("path", path).Warn("skipping unreadable checkpoint")
			continue
		}
		if s.Monitor != m.Monitor || math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
			continue
		}
		m.entries = append(m.entries, Entry{Path: path, Epoch: s.Epoch, Step: s.Step, Value: s.Value})
	}
	m.sortEntries()
	if len(m.entries) > 0 {
		m.Logger.WithField("count", len(m.entries)).Info("existing checkpoints found")
	}
	return m.prune()
}

func (m *Manager) sortEntries() {
	sort.SliceStable(m.entries, func(i, j int) bool {
		return m.better(m.entries[i].Value, m.entries[j].Value)
	})
}

// prune deletes the checkpoints ranked below TopK.
func (m *Manager) prune() error {
	if m.TopK <= 0 {
		return nil
	}
	for len(m.entries) > m.TopK {
		worst := m.entries[len(m.entries)-1]
		m.entries = m.entries[:len(m.entries)-1]
		if err := os.Remove(worst.Path); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "prune %q", worst.Path)
		}
	}
	return nil
}

// Save offers a checkpoint. The monitored value is read from s.Metrics.
// It is written only if it ranks among the TopK best so far; checkpoints
// pushed out of the top K are deleted. The returned path is empty when
// the checkpoint was not kept.
func (m *Manager) Save(s *State) (string, error) {
	value, ok := s.Metrics[m.Monitor]
	if !ok {
		return "", errors.Wrapf(ErrUnknownField, "monitored metric %q missing", m.Monitor)
	}
	if m.TopK == 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return "", nil
	}
	if m.TopK > 0 && len(m.entries) >= m.TopK && !m.better(value, m.entries[len(m.entries)-1].Value) {
		return "", nil
	}

	name, err := Format(m.Template, s.Epoch, s.Metrics)
	if err != nil {
		return "", err
	}
	path := m.uniquePath(name)

	s.Monitor = m.Monitor
	s.Value = value
	if err := Write(path, s); err != nil {
		return "", err
	}

	m.entries = append(m.entries, Entry{Path: path, Epoch: s.Epoch, Step: s.Step, Value: value})
	m.sortEntries()
	m.Logger.WithFields(logrus.Fields{
		"path":    path,
		m.Monitor: value,
	}).Debug("checkpoint saved")

	return path, m.prune()
}

// Best returns the best retained checkpoint.
func (m *Manager) Best() (Entry, bool) {
	if len(m.entries) == 0 {
		return Entry{}, false
	}
	return m.entries[0], true
}

// Entries returns the retained checkpoints, best first.
func (m *Manager) Entries() []Entry {
	return append([]Entry(nil), m.entries...)
}

// SaveFinal copies the best checkpoint to path.
func (m *Manager) SaveFinal(path string) error {
	best, ok := m.Best()
	if !ok {
		return ErrNoCheckpoint
	}
	if err := copyFile(best.Path, path); err != nil {
		return err
	}
	m.Logger.WithFields(logrus.Fields{"from": best.Path, "to": path}).Info("final model saved")
	return nil
}

// Load reads a checkpoint written by a Manager.
func Load(path string) (*State, error) {
	return Read(path)
}

func (m *Manager) better(a, b float64) bool {
	if m.Mode == ModeMax {
		return a > b
	}
	return a < b
}

// uniquePath avoids overwriting an existing checkpoint that renders to
// the same name by appending -v1, -v2, ...
func (m *Manager) uniquePath(name string) string {
	taken := make(map[string]bool, len(m.entries))
	for _, e := range m.entries {
		taken[e.Path] = true
	}
	exists := func(path string) bool {
		if taken[path] {
			return true
		}
		_, err := os.Stat(path)
		return err == nil
	}
	path := filepath.Join(m.Dir, name+Extension)
	for v := 1; exists(path); v++ {
		path = filepath.Join(m.Dir, name+"-v"+strconv.Itoa(v)+Extension)
	}
	return path
}

func copyFile(src, dst string) error {
	//nolint:gosec // G304: paths come from configuration
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "open %q", src)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.Wrapf(err, "create %q", filepath.Dir(dst))
	}
	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrapf(err, "create %q", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrapf(err, "copy %q", src)
	}
	return errors.Wrapf(out.Close(), "close %q", dst)
}
