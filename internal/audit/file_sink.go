package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultFlushDelay = time.Second
	defaultFilePrefix = "audit"
	dayLayout         = "2006-01-02"
	lineTimeLayout    = "2006-01-02T15:04:05.000Z07:00"
	fieldSeparator    = " | "
)

// FileSink buffers events in memory and appends them to one file per calendar day.
// The first event after an idle period arms a single timer; when it fires the
// whole queue is swapped out and written as one batch.
type FileSink struct {
	dir    string
	prefix string
	delay  time.Duration
	report reporter

	mu     sync.Mutex
	queue  []Event
	timer  *time.Timer
	closed bool

	writeMu sync.Mutex
	// write returns the events it could not confirm as written.
	write func([]Event) ([]Event, error)
}

// NewFileSink creates the log directory and returns an idle sink.
func NewFileSink(cfg Config) (*FileSink, error) {
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: create log dir: %w", err)
	}
	prefix := strings.TrimSpace(cfg.FilePrefix)
	if prefix == "" {
		prefix = defaultFilePrefix
	}
	delay := cfg.FlushDelay
	if delay <= 0 {
		delay = defaultFlushDelay
	}
	s := &FileSink{dir: dir, prefix: prefix, delay: delay, report: newReporter(SinkFile, cfg)}
	s.write = s.appendBatch
	return s, nil
}

// Log enqueues the event. It never blocks on I/O.
func (s *FileSink) Log(ev Event) {
	defer s.report.recover(ev)
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.report.drop("closed", errSinkClosed, ev)
		return
	}
	s.queue = append(s.queue, ev)
	if s.timer == nil {
		s.timer = time.AfterFunc(s.delay, s.flush)
	}
}

// Close stops the pending timer and writes whatever is queued.
func (s *FileSink) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()

	batch := s.drain()
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.writeBatch(batch)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dir returns the directory holding the daily files.
func (s *FileSink) Dir() string {
	return s.dir
}

// Prefix returns the daily file name prefix.
func (s *FileSink) Prefix() string {
	return s.prefix
}

func (s *FileSink) flush() {
	batch := s.drain()
	if len(batch) == 0 {
		return
	}
	s.writeBatch(batch)
}

// drain swaps the queue out and disarms the timer in one critical section.
func (s *FileSink) drain() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.queue
	s.queue = nil
	s.timer = nil
	return batch
}

func (s *FileSink) writeBatch(batch []Event) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if len(batch) == 0 {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			for _, ev := range batch {
				s.report.drop("panic", fmt.Errorf("%v", rec), ev)
			}
		}
	}()
	lost, err := s.write(batch)
	if err == nil {
		return
	}
	if len(lost) == 0 {
		s.report.logger.Error("audit batch write", slog.String("sink", s.report.sink), slog.Any("error", err))
		return
	}
	for _, ev := range lost {
		s.report.drop("write", err, ev)
	}
}

// appendBatch writes batch grouped by day. On failure it returns the events
// buffered for the open file plus every event not yet attempted.
func (s *FileSink) appendBatch(batch []Event) ([]Event, error) {
	var (
		file    *os.File
		writer  *bufio.Writer
		current string
		pending []Event
	)
	closeFile := func() error {
		if file == nil {
			return nil
		}
		f := file
		file = nil
		if err := writer.Flush(); err != nil {
			_ = f.Close()
			return err
		}
		return f.Close()
	}
	for i, ev := range batch {
		day := ev.Timestamp.UTC().Format(dayLayout)
		if day != current {
			if err := closeFile(); err != nil {
				return append(pending, batch[i:]...), err
			}
			pending = nil
			f, err := os.OpenFile(s.path(day), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				return batch[i:], fmt.Errorf("audit: open %s: %w", s.path(day), err)
			}
			file, writer, current = f, bufio.NewWriter(f), day
		}
		line, err := FormatLine(ev)
		if err != nil {
			s.report.drop("encode", err, ev)
			continue
		}
		if _, err := writer.WriteString(line + "\n"); err != nil {
			_ = file.Close()
			return append(pending, batch[i:]...), err
		}
		pending = append(pending, ev)
	}
	if err := closeFile(); err != nil {
		return pending, err
	}
	return nil, nil
}

func (s *FileSink) path(day string) string {
	return filepath.Join(s.dir, s.prefix+"-"+day+".log")
}

// FormatLine renders the delimited representation written to daily files:
// timestamp | level | actor | action | model | json(data) | request id.
func FormatLine(ev Event) (string, error) {
	data := ev.Data
	if data == nil {
		data = map[string]any{}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	actor := "system"
	if ev.ActorID > 0 {
		actor = strconv.FormatInt(ev.ActorID, 10)
	}
	model := ev.Model
	if ev.RecordID != "" {
		model += "#" + ev.RecordID
	}
	requestID := ev.RequestID
	if requestID == "" {
		requestID = "-"
	}
	return strings.Join([]string{
		ev.Timestamp.UTC().Format(lineTimeLayout),
		ev.Level.String(),
		actor,
		string(ev.Action),
		model,
		string(payload),
		requestID,
	}, fieldSeparator), nil
}
