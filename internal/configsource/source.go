// Package configsource reads the desired strategy set and account directory
// from MongoDB. It is a read-only collaborator: failures degrade to an empty
// result with a log line so a flaky database never takes the supervisor down.
package configsource

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/quantflow/stratd/internal/domain"
)

const queryTimeout = 10 * time.Second

// Filter narrows which strategy configurations Load returns. The zero value
// selects every enabled configuration.
type Filter struct {
	UserID string
}

// Source reads strategy configurations and securities accounts.
type Source struct {
	configs  *mongo.Collection
	accounts *mongo.Collection
	log      zerolog.Logger

	// families gates which engine families are accepted; configs for a
	// family not in the set are skipped with a warning.
	families map[domain.EngineFamily]bool
}

// Config wires a Source to its collections.
type Config struct {
	Client             *mongo.Client
	Database           string
	ConfigCollection   string
	AccountsCollection string
	EnabledFamilies    []domain.EngineFamily
}

// New builds a Source over the given collections.
func New(cfg Config, log zerolog.Logger) *Source {
	db := cfg.Client.Database(cfg.Database)
	families := make(map[domain.EngineFamily]bool, len(cfg.EnabledFamilies))
	for _, f := range cfg.EnabledFamilies {
		families[f] = true
	}
	return &Source{
		configs:  db.Collection(cfg.ConfigCollection),
		accounts: db.Collection(cfg.AccountsCollection),
		log:      log.With().Str("component", "configsource").Logger(),
		families: families,
	}
}

// Connect dials MongoDB and verifies the connection with a ping.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return client, nil
}

// Load returns the desired set keyed by WorkerKey. The selector is always
// {enabled: true}, optionally narrowed by user_id. Documents missing a
// symbol or strategy key, or naming an unavailable engine family, are
// skipped with a warning. A query failure returns an error so the caller
// can keep its previous desired set instead of stopping everything.
func (s *Source) Load(ctx context.Context, filter Filter) (map[domain.WorkerKey]domain.StrategyConfig, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	selector := bson.M{"enabled": true}
	if filter.UserID != "" {
		selector["user_id"] = filter.UserID
	}

	cursor, err := s.configs.Find(ctx, selector)
	if err != nil {
		s.log.Error().Err(err).Msg("Strategy config query failed")
		return nil, fmt.Errorf("query strategy configs: %w", err)
	}
	defer cursor.Close(ctx)

	desired := make(map[domain.WorkerKey]domain.StrategyConfig)
	for cursor.Next(ctx) {
		var cfg domain.StrategyConfig
		if err := cursor.Decode(&cfg); err != nil {
			s.log.Warn().Err(err).Msg("Undecodable strategy config document, skipping")
			continue
		}
		if skip, reason := s.shouldSkip(cfg); skip {
			s.log.Warn().
				Str("symbol", cfg.Symbol).
				Str("strategy", cfg.StrategyKey).
				Str("engine", string(cfg.Engine)).
				Msg(reason)
			continue
		}
		desired[cfg.Key()] = cfg
	}
	if err := cursor.Err(); err != nil {
		s.log.Error().Err(err).Msg("Strategy config cursor failed")
		return nil, fmt.Errorf("read strategy configs: %w", err)
	}

	s.log.Debug().Int("configs", len(desired)).Msg("Loaded strategy configurations")
	return desired, nil
}

func (s *Source) shouldSkip(cfg domain.StrategyConfig) (bool, string) {
	if err := cfg.Validate(); err != nil {
		return true, "Strategy config missing required fields, skipping"
	}
	if len(s.families) > 0 && !s.families[cfg.Engine] {
		return true, "Engine family not enabled, skipping config"
	}
	return false, ""
}

// accountDoc is the securities_accounts document shape.
type accountDoc struct {
	ID        string `bson:"_id"`
	UserID    string `bson:"user_id"`
	Broker    string `bson:"broker"`
	AccountID string `bson:"account_id"`
}

// ResolveAccount looks up the brokerage account for a user. A missing
// document or a lookup failure yields an empty AccountInfo; workers run
// without account context rather than not at all.
func (s *Source) ResolveAccount(ctx context.Context, userID string) domain.AccountInfo {
	if userID == "" {
		return domain.AccountInfo{}
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var doc accountDoc
	err := s.accounts.FindOne(ctx, bson.M{"user_id": userID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return domain.AccountInfo{}
	}
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("Account lookup failed")
		return domain.AccountInfo{}
	}
	return domain.AccountInfo{
		SecuritiesAccountID: doc.ID,
		Broker:              doc.Broker,
		AccountID:           doc.AccountID,
	}
}
