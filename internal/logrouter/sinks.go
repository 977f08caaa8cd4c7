package logrouter

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/quantflow/stratd/internal/domain"
)

const (
	fileMaxSizeMB  = 10
	fileMaxBackups = 5
)

// Sink receives records that passed the attribution filter.
type Sink interface {
	Name() string
	Write(rec domain.LogRecord) error
	Close() error
}

// fileSink writes one JSON record per line into a size-rotated file.
type fileSink struct {
	out *lumberjack.Logger
}

// newFileSink creates the worker's rotating log file, creating parent
// directories as needed. Rotation keeps five 10 MiB backups.
func newFileSink(path string) (*fileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory for %s: %w", path, err)
	}
	return &fileSink{
		out: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    fileMaxSizeMB,
			MaxBackups: fileMaxBackups,
		},
	}, nil
}

func (s *fileSink) Name() string { return "file" }

func (s *fileSink) Write(rec domain.LogRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = s.out.Write(data)
	return err
}

func (s *fileSink) Close() error { return s.out.Close() }

// streamSink forwards records to the worker's log stream endpoint.
type streamSink struct {
	broadcaster interface{ Broadcast(domain.LogRecord) }
}

func newStreamSink(b interface{ Broadcast(domain.LogRecord) }) *streamSink {
	return &streamSink{broadcaster: b}
}

func (s *streamSink) Name() string { return "stream" }

func (s *streamSink) Write(rec domain.LogRecord) error {
	s.broadcaster.Broadcast(rec)
	return nil
}

func (s *streamSink) Close() error { return nil }

// consoleSink writes a readable line to the writer. It doubles as the
// fallback when another sink fails.
type consoleSink struct {
	w io.Writer
}

func newConsoleSink(w io.Writer) *consoleSink {
	if w == nil {
		w = os.Stderr
	}
	return &consoleSink{w: w}
}

func (s *consoleSink) Name() string { return "console" }

func (s *consoleSink) Write(rec domain.LogRecord) error {
	_, err := fmt.Fprintf(s.w, "%s %s %s: %s\n",
		rec.Timestamp.Format("2006-01-02 15:04:05"), rec.Level, rec.LoggerName, rec.Message)
	return err
}

func (s *consoleSink) Close() error { return nil }
