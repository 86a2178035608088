package sql

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bcnelson/csp-rule-manager/internal/domain"
	"github.com/bcnelson/csp-rule-manager/internal/storage"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// isUniqueViolation checks if an error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	// SQLite
	if strings.Contains(errStr, "UNIQUE constraint failed") {
		return true
	}
	// PostgreSQL
	if strings.Contains(errStr, "duplicate key value violates unique constraint") {
		return true
	}
	return false
}

// wrapUniqueError converts UNIQUE violations to domain.ErrAlreadyExists.
func wrapUniqueError(err error) error {
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	return err
}

// Store implements the storage.Storage interface using SQL.
type Store struct {
	db     *sqlx.DB
	driver string
	logger zerolog.Logger
}

// New opens the database and runs all pending migrations.
func New(driver, dsn string, logger zerolog.Logger) (*Store, error) {
	s, err := Open(driver, dsn, logger)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(context.Background()); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Open connects to the database without running migrations.
func Open(driver, dsn string, logger zerolog.Logger) (*Store, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return &Store{
		db:     db,
		driver: driver,
		logger: logger.With().Str("component", "storage").Logger(),
	}, nil
}

// gooseLogger sends goose output to zerolog instead of the standard logger.
type gooseLogger struct {
	logger zerolog.Logger
}

func (l gooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Info().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// Fatalf logs at error level and leaves exiting to the caller.
func (l gooseLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Error().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// Migrate applies the embedded goose migrations.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(gooseLogger{logger: s.logger.With().Str("subsystem", "migrations").Logger()})
	if err := goose.SetDialect(s.driver); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db.DB, "migrations"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction.
func (s *Store) BeginTx(ctx context.Context) (storage.Transaction, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx, driver: s.driver}, nil
}

// Tx wraps a database transaction.
type Tx struct {
	tx     *sqlx.Tx
	driver string
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback rolls back the transaction.
func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}

// Close is a no-op for transactions (they should be committed or rolled back).
func (t *Tx) Close() error {
	return nil
}

// BeginTx is not supported within a transaction.
func (t *Tx) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return nil, fmt.Errorf("nested transactions not supported")
}

// helper to get the correct database interface
type dbInterface interface {
	sqlx.ExtContext
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ============================================
// API Keys
// ============================================

func createAPIKey(ctx context.Context, db dbInterface, key *domain.APIKey) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, created_at, last_used_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.CreatedAt, key.LastUsedAt)
	return wrapUniqueError(err)
}

func (s *Store) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	return createAPIKey(ctx, s.db, key)
}

func (t *Tx) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	return createAPIKey(ctx, t.tx, key)
}

func getAPIKeyByHash(ctx context.Context, db dbInterface, keyHash string) (*domain.APIKey, error) {
	var key domain.APIKey
	err := db.GetContext(ctx, &key,
		`SELECT id, name, key_hash, key_prefix, created_at, last_used_at FROM api_keys WHERE key_hash = $1`, keyHash)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return &key, err
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	return getAPIKeyByHash(ctx, s.db, keyHash)
}

func (t *Tx) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	return getAPIKeyByHash(ctx, t.tx, keyHash)
}

func listAPIKeys(ctx context.Context, db dbInterface) ([]*domain.APIKey, error) {
	var keys []*domain.APIKey
	err := db.SelectContext(ctx, &keys,
		`SELECT id, name, key_hash, key_prefix, created_at, last_used_at FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	return listAPIKeys(ctx, s.db)
}

func (t *Tx) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	return listAPIKeys(ctx, t.tx)
}

func deleteAPIKey(ctx context.Context, db dbInterface, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking api key delete: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	return deleteAPIKey(ctx, s.db, id)
}

func (t *Tx) DeleteAPIKey(ctx context.Context, id string) error {
	return deleteAPIKey(ctx, t.tx, id)
}

func updateAPIKeyLastUsed(ctx context.Context, db dbInterface, id string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, time.Now(), id)
	return err
}

func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	return updateAPIKeyLastUsed(ctx, s.db, id)
}

func (t *Tx) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	return updateAPIKeyLastUsed(ctx, t.tx, id)
}

func countAPIKeys(ctx context.Context, db dbInterface) (int, error) {
	var count int
	err := db.GetContext(ctx, &count, `SELECT COUNT(*) FROM api_keys`)
	return count, err
}

func (s *Store) CountAPIKeys(ctx context.Context) (int, error) {
	return countAPIKeys(ctx, s.db)
}

func (t *Tx) CountAPIKeys(ctx context.Context) (int, error) {
	return countAPIKeys(ctx, t.tx)
}

// ============================================
// Benchmark Rules
// ============================================

const benchmarkRuleColumns = `id, metadata_json, created_at, updated_at`

type benchmarkRuleRow struct {
	ID           string    `db:"id"`
	MetadataJSON string    `db:"metadata_json"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func rowToBenchmarkRule(row *benchmarkRuleRow) (*domain.BenchmarkRule, error) {
	rule := &domain.BenchmarkRule{
		ID:        row.ID,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(row.MetadataJSON), &rule.Metadata); err != nil {
		return nil, fmt.Errorf("decoding metadata of rule %s: %w", row.ID, err)
	}
	return rule, nil
}

func rowsToBenchmarkRules(rows []benchmarkRuleRow) ([]*domain.BenchmarkRule, error) {
	rules := make([]*domain.BenchmarkRule, 0, len(rows))
	for i := range rows {
		rule, err := rowToBenchmarkRule(&rows[i])
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func upsertBenchmarkRule(ctx context.Context, db dbInterface, rule *domain.BenchmarkRule) error {
	metadataJSON, err := json.Marshal(rule.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata of rule %s: %w", rule.ID, err)
	}
	now := time.Now()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	m := rule.Metadata
	_, err = db.ExecContext(ctx,
		`INSERT INTO benchmark_rules (id, metadata_id, name, section, version, benchmark_id, benchmark_name,
		   benchmark_version, rule_number, posture_type, metadata_json, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (id) DO UPDATE SET
		   metadata_id = excluded.metadata_id,
		   name = excluded.name,
		   section = excluded.section,
		   version = excluded.version,
		   benchmark_id = excluded.benchmark_id,
		   benchmark_name = excluded.benchmark_name,
		   benchmark_version = excluded.benchmark_version,
		   rule_number = excluded.rule_number,
		   posture_type = excluded.posture_type,
		   metadata_json = excluded.metadata_json,
		   updated_at = excluded.updated_at`,
		rule.ID, m.ID, m.Name, m.Section, m.Version, m.Benchmark.ID, m.Benchmark.Name,
		m.Benchmark.Version, m.Benchmark.RuleNumber, string(m.Benchmark.PostureType),
		string(metadataJSON), rule.CreatedAt, rule.UpdatedAt)
	return err
}

func (s *Store) UpsertBenchmarkRule(ctx context.Context, rule *domain.BenchmarkRule) error {
	return upsertBenchmarkRule(ctx, s.db, rule)
}

func (t *Tx) UpsertBenchmarkRule(ctx context.Context, rule *domain.BenchmarkRule) error {
	return upsertBenchmarkRule(ctx, t.tx, rule)
}

func getBenchmarkRule(ctx context.Context, db dbInterface, id string) (*domain.BenchmarkRule, error) {
	var row benchmarkRuleRow
	err := db.GetContext(ctx, &row,
		`SELECT `+benchmarkRuleColumns+` FROM benchmark_rules WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rowToBenchmarkRule(&row)
}

func (s *Store) GetBenchmarkRule(ctx context.Context, id string) (*domain.BenchmarkRule, error) {
	return getBenchmarkRule(ctx, s.db, id)
}

func (t *Tx) GetBenchmarkRule(ctx context.Context, id string) (*domain.BenchmarkRule, error) {
	return getBenchmarkRule(ctx, t.tx, id)
}

func getBenchmarkRules(ctx context.Context, db dbInterface, ids []string) (map[string]*domain.BenchmarkRule, error) {
	out := make(map[string]*domain.BenchmarkRule, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`SELECT `+benchmarkRuleColumns+` FROM benchmark_rules WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	var rows []benchmarkRuleRow
	if err := db.SelectContext(ctx, &rows, db.Rebind(query), args...); err != nil {
		return nil, err
	}
	rules, err := rowsToBenchmarkRules(rows)
	if err != nil {
		return nil, err
	}
	for _, rule := range rules {
		out[rule.ID] = rule
	}
	return out, nil
}

func (s *Store) GetBenchmarkRules(ctx context.Context, ids []string) (map[string]*domain.BenchmarkRule, error) {
	return getBenchmarkRules(ctx, s.db, ids)
}

func (t *Tx) GetBenchmarkRules(ctx context.Context, ids []string) (map[string]*domain.BenchmarkRule, error) {
	return getBenchmarkRules(ctx, t.tx, ids)
}

var sortColumns = map[string]string{
	domain.SortByName:        "name",
	domain.SortBySection:     "section",
	domain.SortByID:          "metadata_id",
	domain.SortByVersion:     "version",
	domain.SortByBenchmarkID: "benchmark_id",
	domain.SortByBenchmark:   "benchmark_name",
	domain.SortByPostureType: "posture_type",
	domain.SortByBenchmarkV:  "benchmark_version",
	domain.SortByRuleNumber:  "rule_number",
}

func findBenchmarkRules(ctx context.Context, db dbInterface, req domain.FindRulesRequest) ([]*domain.BenchmarkRule, int, error) {
	var (
		where []string
		args  []any
	)
	if req.BenchmarkID != "" {
		where = append(where, "benchmark_id = ?")
		args = append(args, req.BenchmarkID)
	}
	if req.Section != "" {
		where = append(where, "section = ?")
		args = append(args, req.Section)
	}
	if req.Search != "" {
		where = append(where, "LOWER(name) LIKE ?")
		args = append(args, "%"+strings.ToLower(req.Search)+"%")
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := db.GetContext(ctx, &total, db.Rebind(`SELECT COUNT(*) FROM benchmark_rules`+clause), args...); err != nil {
		return nil, 0, err
	}

	column, ok := sortColumns[req.SortField]
	if !ok {
		column = "rule_number"
	}
	order := "ASC"
	if req.SortOrder == "desc" {
		order = "DESC"
	}
	offset := (req.Page - 1) * req.PerPage
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + benchmarkRuleColumns + ` FROM benchmark_rules` + clause +
		` ORDER BY ` + column + ` ` + order + `, id ASC LIMIT ? OFFSET ?`
	var rows []benchmarkRuleRow
	if err := db.SelectContext(ctx, &rows, db.Rebind(query), append(args, req.PerPage, offset)...); err != nil {
		return nil, 0, err
	}
	rules, err := rowsToBenchmarkRules(rows)
	if err != nil {
		return nil, 0, err
	}
	return rules, total, nil
}

func (s *Store) FindBenchmarkRules(ctx context.Context, req domain.FindRulesRequest) ([]*domain.BenchmarkRule, int, error) {
	return findBenchmarkRules(ctx, s.db, req)
}

func (t *Tx) FindBenchmarkRules(ctx context.Context, req domain.FindRulesRequest) ([]*domain.BenchmarkRule, int, error) {
	return findBenchmarkRules(ctx, t.tx, req)
}

type benchmarkSummaryRow struct {
	domain.BenchmarkSummary
	RuleCount int `db:"rule_count"`
}

func listBenchmarks(ctx context.Context, db dbInterface) ([]*domain.BenchmarkSummary, error) {
	var rows []benchmarkSummaryRow
	err := db.SelectContext(ctx, &rows,
		`SELECT benchmark_id, MAX(benchmark_name) AS benchmark_name, benchmark_version,
		        MAX(posture_type) AS posture_type, COUNT(*) AS rule_count
		 FROM benchmark_rules
		 GROUP BY benchmark_id, benchmark_version
		 ORDER BY benchmark_id, benchmark_version`)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.BenchmarkSummary, 0, len(rows))
	for i := range rows {
		summary := rows[i].BenchmarkSummary
		summary.Rules.All = rows[i].RuleCount
		out = append(out, &summary)
	}
	return out, nil
}

func (s *Store) ListBenchmarks(ctx context.Context) ([]*domain.BenchmarkSummary, error) {
	return listBenchmarks(ctx, s.db)
}

func (t *Tx) ListBenchmarks(ctx context.Context) ([]*domain.BenchmarkSummary, error) {
	return listBenchmarks(ctx, t.tx)
}

// ============================================
// Settings
// ============================================

type settingsRow struct {
	ID        string    `db:"id"`
	RulesJSON string    `db:"rules_json"`
	Version   int64     `db:"version"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func getSettings(ctx context.Context, db dbInterface, id string) (*domain.CspSettings, error) {
	var row settingsRow
	err := db.GetContext(ctx, &row,
		`SELECT id, rules_json, version, created_at, updated_at FROM csp_settings WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	settings := &domain.CspSettings{
		ID:        row.ID,
		Rules:     domain.RulesStates{},
		Version:   row.Version,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(row.RulesJSON), &settings.Rules); err != nil {
		return nil, fmt.Errorf("decoding settings rules: %w", err)
	}
	return settings, nil
}

func (s *Store) GetSettings(ctx context.Context, id string) (*domain.CspSettings, error) {
	return getSettings(ctx, s.db, id)
}

func (t *Tx) GetSettings(ctx context.Context, id string) (*domain.CspSettings, error) {
	return getSettings(ctx, t.tx, id)
}

func createSettings(ctx context.Context, db dbInterface, settings *domain.CspSettings) error {
	if settings.Rules == nil {
		settings.Rules = domain.RulesStates{}
	}
	if settings.Version == 0 {
		settings.Version = 1
	}
	rulesJSON, err := json.Marshal(settings.Rules)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO csp_settings (id, type, rules_json, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		settings.ID, domain.SettingsType, string(rulesJSON), settings.Version, settings.CreatedAt, settings.UpdatedAt)
	if err != nil {
		return wrapUniqueError(err)
	}
	return nil
}

func (s *Store) CreateSettings(ctx context.Context, settings *domain.CspSettings) error {
	return createSettings(ctx, s.db, settings)
}

func (t *Tx) CreateSettings(ctx context.Context, settings *domain.CspSettings) error {
	return createSettings(ctx, t.tx, settings)
}

func updateSettings(ctx context.Context, db dbInterface, settings *domain.CspSettings, expectedVersion int64) error {
	rulesJSON, err := json.Marshal(settings.Rules)
	if err != nil {
		return err
	}
	now := time.Now()
	result, err := db.ExecContext(ctx,
		`UPDATE csp_settings SET rules_json = $1, version = version + 1, updated_at = $2
		 WHERE id = $3 AND version = $4`,
		string(rulesJSON), now, settings.ID, expectedVersion)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking settings update: %w", err)
	}
	if rows == 0 {
		var count int
		if err := db.GetContext(ctx, &count, `SELECT COUNT(*) FROM csp_settings WHERE id = $1`, settings.ID); err != nil {
			return err
		}
		if count == 0 {
			return domain.ErrNotFound
		}
		return domain.ErrConflict
	}
	settings.Version = expectedVersion + 1
	settings.UpdatedAt = now
	return nil
}

func (s *Store) UpdateSettings(ctx context.Context, settings *domain.CspSettings, expectedVersion int64) error {
	return updateSettings(ctx, s.db, settings, expectedVersion)
}

func (t *Tx) UpdateSettings(ctx context.Context, settings *domain.CspSettings, expectedVersion int64) error {
	return updateSettings(ctx, t.tx, settings, expectedVersion)
}
