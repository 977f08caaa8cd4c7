// Package domain provides core domain models and types for the supervisor.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// WorkerState represents the lifecycle state of a strategy worker
type WorkerState string

const (
	// StateCreated - worker constructed, background activity not started
	StateCreated WorkerState = "created"
	// StateRunning - background activity in progress
	StateRunning WorkerState = "running"
	// StatePaused - background activity suspended, resumable
	StatePaused WorkerState = "paused"
	// StateStopped - terminal, clean shutdown
	StateStopped WorkerState = "stopped"
	// StateError - terminal, the run loop failed
	StateError WorkerState = "error"
)

// EngineFamily identifies which engine family executes a strategy
type EngineFamily string

const (
	EngineVnpy       EngineFamily = "vnpy"
	EngineBacktrader EngineFamily = "backtrader"
)

// WorkerKey uniquely identifies a worker as "{user_id}_{symbol}_{strategy_key}".
// Case-sensitive; the primary key across orchestrator, lifecycle, log routing
// and the HTTP layer.
type WorkerKey string

// NewWorkerKey builds the canonical key string. An empty user id renders as an
// empty first segment, matching stored log file names.
func NewWorkerKey(userID, symbol, strategyKey string) WorkerKey {
	return WorkerKey(fmt.Sprintf("%s_%s_%s", userID, symbol, strategyKey))
}

// StrategyConfig is the immutable desired specification of one worker.
type StrategyConfig struct {
	Symbol      string                 `json:"symbol" bson:"symbol"`
	StrategyKey string                 `json:"strategy_key" bson:"strategy_key"`
	Engine      EngineFamily           `json:"engine" bson:"engine"`
	EngineClass string                 `json:"engine_class,omitempty" bson:"engine_class,omitempty"`
	Params      map[string]interface{} `json:"params" bson:"params"`
	Enabled     bool                   `json:"enabled" bson:"enabled"`
	UserID      string                 `json:"user_id,omitempty" bson:"user_id,omitempty"`
}

// Key returns the WorkerKey this configuration maps to.
func (c StrategyConfig) Key() WorkerKey {
	return NewWorkerKey(c.UserID, c.Symbol, c.StrategyKey)
}

// Validate reports whether the configuration carries the minimum fields
// required to construct a worker.
func (c StrategyConfig) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("strategy config missing symbol")
	}
	if c.StrategyKey == "" {
		return fmt.Errorf("strategy config missing strategy_key")
	}
	return nil
}

// Hash returns a hex SHA-256 over a canonical encoding of every field.
// Map keys are encoded in sorted order at every level, so any field change
// (including a nested param) changes the hash and a reload with identical
// content does not.
func (c StrategyConfig) Hash() string {
	canonical := struct {
		Symbol      string                 `json:"symbol"`
		StrategyKey string                 `json:"strategy_key"`
		Engine      EngineFamily           `json:"engine"`
		EngineClass string                 `json:"engine_class"`
		Enabled     bool                   `json:"enabled"`
		UserID      string                 `json:"user_id"`
		Params      map[string]interface{} `json:"params"`
	}{c.Symbol, c.StrategyKey, c.Engine, c.EngineClass, c.Enabled, c.UserID, c.Params}

	// encoding/json writes map keys sorted, which makes the digest stable.
	data, err := json.Marshal(canonical)
	if err != nil {
		// Params values come from BSON/JSON documents and are always encodable;
		// fall back to the identity fields if something exotic sneaks in.
		data = []byte(fmt.Sprintf("%s|%s|%s|%s|%t|%s", c.Symbol, c.StrategyKey, c.Engine, c.EngineClass, c.Enabled, c.UserID))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// AccountInfo is the brokerage account resolved for a user.
type AccountInfo struct {
	SecuritiesAccountID string `json:"securities_account_id,omitempty" bson:"securities_account_id,omitempty"`
	Broker              string `json:"broker,omitempty" bson:"broker,omitempty"`
	AccountID           string `json:"account_id,omitempty" bson:"account_id,omitempty"`
}

// Empty reports whether no account could be resolved.
func (a AccountInfo) Empty() bool {
	return a.SecuritiesAccountID == "" && a.Broker == "" && a.AccountID == ""
}

// WorkerStats is a non-blocking snapshot of a worker's metrics.
type WorkerStats struct {
	Symbol        string                 `json:"symbol"`
	Strategy      string                 `json:"strategy"`
	Engine        string                 `json:"engine"`
	State         WorkerState            `json:"state"`
	BarsProcessed int64                  `json:"bars_processed"`
	Position      float64                `json:"position"`
	EntryPrice    float64                `json:"entry_price"`
	Extras        map[string]interface{} `json:"extras,omitempty"`
}

// LogRecord is the unit broadcast to log sinks and stream subscribers.
// The JSON field names are the wire protocol and must not change.
type LogRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	Level      string    `json:"level"`
	Message    string    `json:"message"`
	LoggerName string    `json:"logger_name"`
	Module     string    `json:"module"`
	FuncName   string    `json:"func_name"`
	LineNo     int       `json:"line_no"`
}
