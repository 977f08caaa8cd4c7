package server

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/quantflow/stratd/internal/auth"
	"github.com/quantflow/stratd/internal/domain"
	"github.com/quantflow/stratd/pkg/embedded"
)

const (
	defaultTailLines = 50
	maxTailLines     = 1000
)

// workerView is one worker as the API presents it.
type workerView struct {
	Key          domain.WorkerKey   `json:"key"`
	Alive        bool               `json:"alive"`
	Stats        domain.WorkerStats `json:"stats"`
	LogStreamURL string             `json:"log_stream_url,omitempty"`
}

// handleListWorkers returns the caller's workers only.
func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no identity")
		return
	}

	views := make([]workerView, 0)
	for key, worker := range s.sup.Workers() {
		cfg, ok := s.sup.ConfigFor(key)
		if !ok || !s.auth.MayAccess(id, cfg) {
			continue
		}
		views = append(views, workerView{
			Key:          key,
			Alive:        worker.IsRunning(),
			Stats:        worker.GetStats(),
			LogStreamURL: s.rewriteStreamURL(worker.LogStreamURL()),
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Key < views[j].Key })

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"workers": views,
		"total":   len(views),
	})
}

// handleGetWorker returns one worker: 404 unknown, 403 foreign-owned.
func (s *Server) handleGetWorker(w http.ResponseWriter, r *http.Request) {
	worker, _, ok := s.ownedWorker(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, workerView{
		Key:          worker.Key(),
		Alive:        worker.IsRunning(),
		Stats:        worker.GetStats(),
		LogStreamURL: s.rewriteStreamURL(worker.LogStreamURL()),
	})
}

// handleWorkerLogs tails the worker's rotating log file.
func (s *Server) handleWorkerLogs(w http.ResponseWriter, r *http.Request) {
	worker, _, ok := s.ownedWorker(w, r)
	if !ok {
		return
	}

	n := defaultTailLines
	if raw := r.URL.Query().Get("tail"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "tail must be a positive integer")
			return
		}
		n = parsed
	}
	if n > maxTailLines {
		n = maxTailLines
	}

	path := filepath.Join(s.logRoot, "workers", string(worker.Key())+".log")
	lines, err := tailFile(path, n)
	if err != nil {
		if os.IsNotExist(err) {
			writeJSON(w, http.StatusOK, map[string]interface{}{"lines": []string{}, "total": 0})
			return
		}
		s.log.Warn().Err(err).Str("path", path).Msg("Log tail failed")
		writeError(w, http.StatusInternalServerError, "log file unreadable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"lines": lines,
		"total": len(lines),
	})
}

// handleConsole serves the embedded live console page.
func (s *Server) handleConsole(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(embedded.ConsoleHTML)
}

// ownedWorker resolves {key} and enforces ownership. It writes the error
// response itself and reports ok=false when the caller may not proceed.
func (s *Server) ownedWorker(w http.ResponseWriter, r *http.Request) (domain.Worker, domain.StrategyConfig, bool) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no identity")
		return nil, domain.StrategyConfig{}, false
	}

	key := domain.WorkerKey(chi.URLParam(r, "key"))
	worker, ok := s.sup.Worker(key)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown worker")
		return nil, domain.StrategyConfig{}, false
	}
	cfg, ok := s.sup.ConfigFor(key)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown worker")
		return nil, domain.StrategyConfig{}, false
	}
	if !s.auth.MayAccess(id, cfg) {
		writeError(w, http.StatusForbidden, "not your worker")
		return nil, domain.StrategyConfig{}, false
	}
	return worker, cfg, true
}

// rewriteStreamURL substitutes the bind host with the configured public
// host, so clients get an address that resolves from outside.
func (s *Server) rewriteStreamURL(raw string) string {
	if raw == "" || s.publicHost == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	switch u.Hostname() {
	case "0.0.0.0", "127.0.0.1", "localhost":
		u.Host = s.publicHost + ":" + u.Port()
		return u.String()
	}
	return raw
}

// tailFile returns the last n lines of the file. Worker logs rotate at
// 10 MiB, so a full scan stays cheap.
func tailFile(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	lines := make([]string, 0, n)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	return lines, scanner.Err()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
