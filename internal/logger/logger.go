package logger

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shaunagostinho/goobd/internal/obd"
	"github.com/shaunagostinho/goobd/internal/pids"
)

// Logger records timestamped OBD readings to CSV files with automatic rotation.
type Logger struct {
	mu       sync.Mutex
	dir      string
	interval time.Duration
	enabled  bool

	file   *os.File
	writer *csv.Writer
	lastTs map[string]time.Time // per reading name
	rows   int
	mode   obd.Mode
}

// Config holds logger configuration.
type Config struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Path       string `yaml:"path" json:"path"`
	IntervalMs int    `yaml:"interval_ms" json:"intervalMs"`
}

const (
	maxRowsPerFile = 100_000
)

var csvHeader = []string{"timestamp", "mode", "pid", "name", "value", "unit"}

// New creates a new Logger.
func New(cfg Config) *Logger {
	if cfg.Path == "" {
		cfg.Path = "/var/log/goobd"
	}
	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	if interval < 0 {
		interval = 0
	}
	return &Logger{
		dir:      cfg.Path,
		interval: interval,
		enabled:  cfg.Enabled,
		lastTs:   make(map[string]time.Time),
		mode:     obd.ModeShowCurrentData,
	}
}

// SetDefaultMode sets the mode written for readings without an override.
func (l *Logger) SetDefaultMode(m obd.Mode) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mode = m
}

// SetEnabled allows toggling logging at runtime.
func (l *Logger) SetEnabled(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = on
	if !on && l.file != nil {
		l.closeFile()
	}
}

// IsEnabled returns whether logging is active.
func (l *Logger) IsEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Record writes one reading if the minimum interval for its name has elapsed.
// It has the obd.DataHandler signature so it can be subscribed directly.
func (l *Logger) Record(data obd.Data, at time.Time) {
	r, ok := data.(pids.Reading)
	if !ok {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}
	if at.Sub(l.lastTs[r.Name()]) < l.interval {
		return
	}
	l.lastTs[r.Name()] = at

	if l.writer == nil || l.rows >= maxRowsPerFile {
		if err := l.rotateFile(at); err != nil {
			log.Printf("[logger] rotate failed: %v", err)
			return
		}
	}

	if err := l.writer.Write(l.buildRow(at, r)); err != nil {
		log.Printf("[logger] write failed: %v", err)
		return
	}
	l.writer.Flush()
	l.rows++
}

// Close flushes and closes the current log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeFile()
}

func (l *Logger) rotateFile(now time.Time) error {
	l.closeFile()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", l.dir, err)
	}

	filename := fmt.Sprintf("obd_%s.csv", now.Format("2006-01-02_150405.000"))
	path := filepath.Join(l.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	l.file = f
	l.writer = csv.NewWriter(f)
	l.rows = 0

	if err := l.writer.Write(csvHeader); err != nil {
		return err
	}
	l.writer.Flush()

	log.Printf("[logger] opened %s", path)
	return nil
}

func (l *Logger) closeFile() {
	if l.writer != nil {
		l.writer.Flush()
		l.writer = nil
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}

func (l *Logger) buildRow(ts time.Time, r pids.Reading) []string {
	mode := l.mode
	if mo, ok := r.(obd.ModeOverrider); ok {
		mode = mo.ModeOverride()
	}
	return []string{
		ts.Format(time.RFC3339Nano),
		mode.String(),
		fmt.Sprintf("%02X", r.PID()),
		r.Name(),
		fmt.Sprint(r.Value()),
		r.Unit(),
	}
}
