package storage

import (
	"context"

	"github.com/bcnelson/csp-rule-manager/internal/domain"
)

// Storage defines the interface for the storage layer.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Close closes the storage connection.
	Close() error

	// API Keys
	CreateAPIKey(ctx context.Context, key *domain.APIKey) error
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error)
	ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error)
	DeleteAPIKey(ctx context.Context, id string) error
	UpdateAPIKeyLastUsed(ctx context.Context, id string) error
	CountAPIKeys(ctx context.Context) (int, error)

	// Benchmark Rules
	UpsertBenchmarkRule(ctx context.Context, rule *domain.BenchmarkRule) error
	GetBenchmarkRule(ctx context.Context, id string) (*domain.BenchmarkRule, error)
	// GetBenchmarkRules returns the rules that exist, keyed by id. Missing ids
	// are simply absent from the map.
	GetBenchmarkRules(ctx context.Context, ids []string) (map[string]*domain.BenchmarkRule, error)
	FindBenchmarkRules(ctx context.Context, req domain.FindRulesRequest) ([]*domain.BenchmarkRule, int, error)
	ListBenchmarks(ctx context.Context) ([]*domain.BenchmarkSummary, error)

	// Settings
	GetSettings(ctx context.Context, id string) (*domain.CspSettings, error)
	CreateSettings(ctx context.Context, settings *domain.CspSettings) error
	// UpdateSettings replaces the rules of the settings record if its stored
	// version equals expectedVersion, and bumps the version. It returns
	// domain.ErrConflict on a version mismatch and domain.ErrNotFound when
	// the record does not exist.
	UpdateSettings(ctx context.Context, settings *domain.CspSettings, expectedVersion int64) error

	// Transaction support
	BeginTx(ctx context.Context) (Transaction, error)
}

// Transaction represents a database transaction.
type Transaction interface {
	Storage
	Commit() error
	Rollback() error
}
