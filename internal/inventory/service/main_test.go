package service_test

import (
	"context"
	"flag"
	"log"
	"os"
	"testing"

	"github.com/cornerstone/cornerstone-backend/internal/inventory/events"
	"github.com/cornerstone/cornerstone-backend/internal/inventory/migrations"
	"github.com/cornerstone/cornerstone-backend/internal/inventory/repository"
	"github.com/cornerstone/cornerstone-backend/internal/inventory/service"
	"github.com/cornerstone/cornerstone-backend/pkg/actor"
	"github.com/cornerstone/cornerstone-backend/pkg/database"
	"github.com/cornerstone/cornerstone-backend/pkg/logger"
	"github.com/cornerstone/cornerstone-backend/pkg/metrics"
	"github.com/cornerstone/cornerstone-backend/pkg/testutil"
)

var suite *testutil.IntegrationSuite

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()

	var err error
	suite, err = testutil.NewIntegrationSuite(ctx)
	if err != nil {
		log.Fatalf("failed to create integration suite: %v", err)
	}

	code := m.Run()

	suite.Cleanup(ctx)
	testutil.TerminateContainer(ctx)
	os.Exit(code)
}

// harness wires the inventory services against one database
type harness struct {
	db        *database.DB
	sites     *repository.SiteRepository
	materials *repository.MaterialRepository
	ledger    *repository.LedgerRepository
	txns      *repository.TransactionRepository
	alerts    *repository.AlertRepository
	publisher *testutil.MockPublisher
	metrics   *metrics.Inventory
	engine    *service.TransactionEngine
	evaluator *service.AlertEvaluator
}

func newHarness(db *database.DB) *harness {
	h := &harness{
		db:        db,
		sites:     repository.NewSiteRepository(db),
		materials: repository.NewMaterialRepository(db),
		ledger:    repository.NewLedgerRepository(db),
		txns:      repository.NewTransactionRepository(db),
		alerts:    repository.NewAlertRepository(db),
		publisher: testutil.NewMockPublisher(),
		metrics:   metrics.NewInventory(metrics.New("inventory-test")),
	}
	pub := events.NewWithPublisher(h.publisher, logger.Nop())
	h.engine = service.NewTransactionEngine(db, h.sites, h.materials, h.ledger, h.txns, pub, h.metrics, logger.Nop())
	h.evaluator = service.NewAlertEvaluator(h.ledger, h.txns, h.alerts, pub, h.metrics, service.DefaultAlertPolicy(), logger.Nop())
	return h
}

// integrationHarness returns a harness on a freshly migrated schema
func integrationHarness(t *testing.T, ctx context.Context, prefix string) *harness {
	t.Helper()
	testutil.SkipIfShort(t)
	return newHarness(suite.SetupSchema(t, ctx, prefix, migrations.FS))
}

func adminContext(ctx context.Context) context.Context {
	return actor.WithActor(ctx, testutil.AdminActor())
}
