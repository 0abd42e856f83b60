package testutil

import (
	"context"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"

	"github.com/cornerstone/cornerstone-backend/pkg/config"
	"github.com/cornerstone/cornerstone-backend/pkg/database"
	"github.com/cornerstone/cornerstone-backend/pkg/logger"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var unsafeSchemaChars = regexp.MustCompile(`[^a-z0-9_]+`)

// TestSchema is an isolated PostgreSQL schema with its own connection pool.
// Every connection in the pool has search_path set to the schema, so
// unqualified table names resolve inside it.
type TestSchema struct {
	Name string
	DB   *database.DB
}

// SchemaManager creates and drops per-test schemas.
type SchemaManager struct {
	admin   *sqlx.DB
	baseDSN string
	log     *logger.Logger

	mu      sync.Mutex
	schemas []*TestSchema
}

// NewSchemaManager creates a schema manager. admin is used for CREATE/DROP
// SCHEMA; baseDSN is the URL each schema pool is derived from.
func NewSchemaManager(admin *sqlx.DB, baseDSN string, log *logger.Logger) *SchemaManager {
	return &SchemaManager{admin: admin, baseDSN: baseDSN, log: log}
}

// Create makes a fresh schema and applies the *.sql files in migrations.
//
//	s, err := sm.Create(ctx, "ledger", inventory.Migrations)
//	repo := repository.NewLedgerRepository(s.DB)
func (sm *SchemaManager) Create(ctx context.Context, prefix string, migrations fs.FS) (*TestSchema, error) {
	prefix = unsafeSchemaChars.ReplaceAllString(strings.ToLower(prefix), "_")
	name := fmt.Sprintf("t_%s_%s", prefix, strings.ReplaceAll(uuid.NewString()[:8], "-", ""))

	if _, err := sm.admin.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA %s", name)); err != nil {
		return nil, fmt.Errorf("failed to create schema %s: %w", name, err)
	}

	parsed, err := config.ParseDatabaseURL(sm.baseDSN)
	if err != nil {
		return nil, err
	}

	db, err := database.NewWithDSN(parsed.WithOption("search_path", name).ToDSN(), sm.log)
	if err != nil {
		return nil, err
	}

	s := &TestSchema{Name: name, DB: db}

	sm.mu.Lock()
	sm.schemas = append(sm.schemas, s)
	sm.mu.Unlock()

	if migrations != nil {
		if err := db.Migrate(ctx, migrations); err != nil {
			return nil, fmt.Errorf("failed to migrate schema %s: %w", name, err)
		}
	}

	return s, nil
}

// Drop closes the schema's pool and removes the schema with everything in it.
func (sm *SchemaManager) Drop(ctx context.Context, s *TestSchema) error {
	sm.mu.Lock()
	for i, tracked := range sm.schemas {
		if tracked == s {
			sm.schemas = append(sm.schemas[:i], sm.schemas[i+1:]...)
			break
		}
	}
	sm.mu.Unlock()

	return sm.drop(ctx, s)
}

func (sm *SchemaManager) drop(ctx context.Context, s *TestSchema) error {
	if err := s.DB.Close(); err != nil {
		sm.log.Warn().Err(err).Str("schema", s.Name).Msg("failed to close schema pool")
	}
	if _, err := sm.admin.ExecContext(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", s.Name)); err != nil {
		return fmt.Errorf("failed to drop schema %s: %w", s.Name, err)
	}
	return nil
}

// Cleanup drops every schema still tracked by the manager.
func (sm *SchemaManager) Cleanup(ctx context.Context) error {
	sm.mu.Lock()
	schemas := sm.schemas
	sm.schemas = nil
	sm.mu.Unlock()

	var lastErr error
	for _, s := range schemas {
		if err := sm.drop(ctx, s); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
