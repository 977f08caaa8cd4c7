package logrouter

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantflow/stratd/internal/domain"
)

// Stack depth from callerHook.Run back to the logging call site:
// Run <- Event.msg <- Event.Msg <- caller.
const callerSkip = 3

// Logger returns a zerolog logger whose events are converted to LogRecords
// and routed through this router. Strategy and engine code logs through
// these loggers; nothing else about zerolog leaks into the wire format.
func (r *Router) Logger(name string) zerolog.Logger {
	w := &recordWriter{router: r, name: name}
	return zerolog.New(w).Hook(callerHook{}).With().
		Timestamp().
		Str("logger", name).
		Logger()
}

// callerHook stamps each event with the source location of the call site,
// using the short file name as the module and the bare function name.
type callerHook struct{}

func (callerHook) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	pc, file, line, ok := runtime.Caller(callerSkip)
	if !ok {
		return
	}
	funcName := "unknown"
	if fn := runtime.FuncForPC(pc); fn != nil {
		name := fn.Name()
		if idx := strings.LastIndex(name, "."); idx >= 0 {
			name = name[idx+1:]
		}
		funcName = name
	}
	e.Str("module", strings.TrimSuffix(filepath.Base(file), ".go")).
		Str("func", funcName).
		Int("line", line)
}

// recordWriter receives the JSON lines zerolog emits and turns each one
// back into a LogRecord for routing.
type recordWriter struct {
	router *Router
	name   string
}

type bridgeEvent struct {
	Time    string `json:"time"`
	Level   string `json:"level"`
	Message string `json:"message"`
	Logger  string `json:"logger"`
	Module  string `json:"module"`
	Func    string `json:"func"`
	Line    int    `json:"line"`
}

func (w *recordWriter) Write(p []byte) (int, error) {
	var ev bridgeEvent
	if err := json.Unmarshal(p, &ev); err != nil {
		// A malformed event still deserves to surface somewhere.
		w.router.Route(domain.LogRecord{
			Timestamp:  time.Now(),
			Level:      "ERROR",
			Message:    string(bytes.TrimSpace(p)),
			LoggerName: w.name,
		})
		return len(p), nil
	}

	ts, err := time.Parse(time.RFC3339, ev.Time)
	if err != nil {
		ts = time.Now()
	}
	loggerName := ev.Logger
	if loggerName == "" {
		loggerName = w.name
	}

	w.router.Route(domain.LogRecord{
		Timestamp:  ts,
		Level:      levelName(ev.Level),
		Message:    ev.Message,
		LoggerName: loggerName,
		Module:     ev.Module,
		FuncName:   ev.Func,
		LineNo:     ev.Line,
	})
	return len(p), nil
}

// levelName maps zerolog level strings onto the upper-case names the wire
// format uses.
func levelName(level string) string {
	switch level {
	case "trace", "debug":
		return "DEBUG"
	case "info":
		return "INFO"
	case "warn":
		return "WARNING"
	case "error":
		return "ERROR"
	case "fatal", "panic":
		return "CRITICAL"
	default:
		if level == "" {
			return "INFO"
		}
		return strings.ToUpper(level)
	}
}
