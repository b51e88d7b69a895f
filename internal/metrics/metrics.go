// Package metrics carries training scalars to their sinks: structured
// logs, a Prometheus registry and a JSONL run history.
package metrics

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger receives named scalars at a training step.
type Logger interface {
	Log(step int64, name string, value float64)
}

// Multi fans each value out to every logger.
type Multi []Logger

// Log implements Logger.
func (m Multi) Log(step int64, name string, value float64) {
	for _, l := range m {
		l.Log(step, name, value)
	}
}

// LogrusLogger writes each value as a structured log entry.
type LogrusLogger struct {
	logger logrus.FieldLogger
}

// NewLogrusLogger returns a Logger writing to logger.
func NewLogrusLogger(logger logrus.FieldLogger) *LogrusLogger {
	return &LogrusLogger{logger: logger.WithField("action", "metrics")}
}

// Log implements Logger.
func (l *LogrusLogger) Log(step int64, name string, value float64) {
	l.logger.WithFields(logrus.Fields{
		"step":  step,
		"name":  name,
		"value": value,
	}).Info("metric")
}

// Point is one logged value.
type Point struct {
	Step  int64
	Value float64
}

// Recorder keeps every value in memory.
type Recorder struct {
	mu     sync.Mutex
	series map[string][]Point
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{series: make(map[string][]Point)}
}

// Log implements Logger.
func (r *Recorder) Log(step int64, name string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.series[name] = append(r.series[name], Point{Step: step, Value: value})
}

// Series returns the values logged under name in order.
func (r *Recorder) Series(name string) []Point {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Point(nil), r.series[name]...)
}

// Last returns the most recent value logged under name.
func (r *Recorder) Last(name string) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.series[name]
	if len(s) == 0 {
		return 0, false
	}
	return s[len(s)-1].Value, true
}

// Names returns every name that has been logged.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.series))
	for n := range r.series {
		names = append(names, n)
	}
	return names
}
