package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileOptions configures the rotated journal file.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// File appends entries as JSON lines to a rotated file.
type File struct {
	path   string
	mu     sync.Mutex
	out    io.WriteCloser
	writer zerolog.Logger
	logger zerolog.Logger
}

// NewFile opens the journal. Rotation is handled by lumberjack.
func NewFile(opts FileOptions, logger zerolog.Logger) *File {
	if opts.Path == "" {
		opts.Path = "alerts.log"
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 10
	}

	out := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
	return &File{
		path:   opts.Path,
		out:    out,
		writer: zerolog.New(out),
		logger: logger.With().Str("component", "alert_journal").Logger(),
	}
}

// Record appends the entry.
func (f *File) Record(_ context.Context, e Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()

	event := f.writer.Log().
		Str("at", e.At.Format(time.RFC3339Nano)).
		Str("instrument_id", e.InstrumentID).
		Str("name", e.Name).
		Str("kind", e.Kind).
		Str("rate", e.Rate.String()).
		Str("threshold", e.Threshold.String()).
		Str("market_price", e.MarketPrice.String()).
		Str("reference_value", e.ReferenceValue.String()).
		Bool("delivered", e.Delivered)
	if e.Suppressed {
		event = event.Bool("suppressed", true)
	}
	if e.Error != "" {
		event = event.Str("error", e.Error)
	}
	event.Msg(e.Line())
}

// Recent reads the active journal file and returns up to limit entries, newest first.
func (f *File) Recent(_ context.Context, limit int) ([]Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			f.logger.Debug().Err(err).Msg("skip malformed journal line")
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}

	out := make([]Entry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, entries[i])
	}
	return out, nil
}

// Close flushes and closes the underlying file.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out.Close()
}

var (
	_ Recorder = (*File)(nil)
	_ Reader   = (*File)(nil)
)
