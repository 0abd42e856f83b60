package testutil

import (
	"context"
	"io/fs"
	"sync"
	"testing"

	"github.com/cornerstone/cornerstone-backend/pkg/database"
	"github.com/cornerstone/cornerstone-backend/pkg/logger"
	"github.com/jmoiron/sqlx"
)

// One server per test binary, shared by every integration test in the package.
var (
	sharedDatabase *TestDatabase
	sharedAdmin    *sqlx.DB
	sharedOnce     sync.Once
	sharedErr      error
)

// IntegrationSuite provides a base for integration tests with real PostgreSQL
type IntegrationSuite struct {
	Database  *TestDatabase
	RawDB     *sqlx.DB
	Schemas   *SchemaManager
	Fixtures  *FixtureFactory
	Logger    *logger.Logger
}

// NewIntegrationSuite creates a new integration test suite.
// Call this in TestMain to set up shared test infrastructure.
//
// Usage:
//
//	var suite *testutil.IntegrationSuite
//
//	func TestMain(m *testing.M) {
//	    flag.Parse()
//	    if testing.Short() {
//	        os.Exit(m.Run())
//	    }
//	    ctx := context.Background()
//	    suite, err = testutil.NewIntegrationSuite(ctx)
//	    ...
//	}
//
//	func TestSomething(t *testing.T) {
//	    testutil.SkipIfShort(t)
//	    db := suite.SetupSchema(t, ctx, "ledger", migrations.FS)
//	}
func NewIntegrationSuite(ctx context.Context) (*IntegrationSuite, error) {
	testDB, db, err := sharedTestDatabase(ctx)
	if err != nil {
		return nil, err
	}

	log := logger.Nop()

	return &IntegrationSuite{
		Database:  testDB,
		RawDB:     db,
		Schemas:   NewSchemaManager(db, testDB.DSN, log),
		Fixtures:  NewFixtureFactory(),
		Logger:    log,
	}, nil
}

func sharedTestDatabase(ctx context.Context) (*TestDatabase, *sqlx.DB, error) {
	sharedOnce.Do(func() {
		sharedDatabase, sharedErr = StartTestDatabase(ctx)
		if sharedErr != nil {
			return
		}
		sharedAdmin, sharedErr = sharedDatabase.Connect(ctx)
	})

	return sharedDatabase, sharedAdmin, sharedErr
}

// SetupSchema creates a migrated schema for a single test and drops it when
// the test finishes.
func (s *IntegrationSuite) SetupSchema(t *testing.T, ctx context.Context, prefix string, migrations fs.FS) *database.DB {
	t.Helper()

	schema, err := s.Schemas.Create(ctx, prefix, migrations)
	if err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Schemas.Drop(context.Background(), schema); err != nil {
			t.Logf("warning: failed to drop schema %s: %v", schema.Name, err)
		}
	})

	return schema.DB
}

// Cleanup drops any schemas left behind. The shared container stays up.
func (s *IntegrationSuite) Cleanup(ctx context.Context) error {
	return s.Schemas.Cleanup(ctx)
}

// TerminateContainer closes the admin connection and removes the shared
// container. Only call this in TestMain after all tests have completed.
func TerminateContainer(ctx context.Context) {
	if sharedAdmin != nil {
		sharedAdmin.Close()
	}
	if sharedDatabase != nil {
		sharedDatabase.Terminate(ctx)
	}
}
