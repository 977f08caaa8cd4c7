package logrouter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/quantflow/stratd/internal/domain"
)

const remoteTimeout = 5 * time.Second

// lokiSink pushes records to a Loki HTTP endpoint, one request per record.
// Worker logs are low-volume (signals and lifecycle messages), so batching
// is not worth the buffering complexity here.
type lokiSink struct {
	url    string
	labels map[string]string
	client *http.Client
}

func newLokiSink(baseURL string, workerKey domain.WorkerKey) *lokiSink {
	return &lokiSink{
		url: strings.TrimRight(baseURL, "/") + "/loki/api/v1/push",
		labels: map[string]string{
			"job":    "stratd",
			"worker": string(workerKey),
		},
		client: &http.Client{Timeout: remoteTimeout},
	}
}

func (s *lokiSink) Name() string { return "loki" }

func (s *lokiSink) Write(rec domain.LogRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	labels := make(map[string]string, len(s.labels)+1)
	for k, v := range s.labels {
		labels[k] = v
	}
	labels["level"] = strings.ToLower(rec.Level)

	payload := map[string]interface{}{
		"streams": []map[string]interface{}{
			{
				"stream": labels,
				"values": [][]string{
					{fmt.Sprintf("%d", rec.Timestamp.UnixNano()), string(line)},
				},
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	resp, err := s.client.Post(s.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("loki push failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("loki push returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *lokiSink) Close() error { return nil }

// elkSink ships newline-delimited JSON records over a TCP socket, the shape
// a Logstash tcp input expects. The connection is dialed lazily and dropped
// on any write error so the next record retries a fresh one.
type elkSink struct {
	addr string
	conn net.Conn
}

func newELKSink(addr string) *elkSink {
	return &elkSink{addr: addr}
}

func (s *elkSink) Name() string { return "elk" }

func (s *elkSink) Write(rec domain.LogRecord) error {
	if s.conn == nil {
		conn, err := net.DialTimeout("tcp", s.addr, remoteTimeout)
		if err != nil {
			return fmt.Errorf("elk dial failed: %w", err)
		}
		s.conn = conn
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	_ = s.conn.SetWriteDeadline(time.Now().Add(remoteTimeout))
	if _, err := s.conn.Write(data); err != nil {
		_ = s.conn.Close()
		s.conn = nil
		return fmt.Errorf("elk write failed: %w", err)
	}
	return nil
}

func (s *elkSink) Close() error {
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}
