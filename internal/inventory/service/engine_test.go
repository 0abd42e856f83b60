package service_test

import (
	"context"
	"database/sql"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cornerstone/cornerstone-backend/internal/inventory/repository"
	"github.com/cornerstone/cornerstone-backend/internal/inventory/service"
	"github.com/cornerstone/cornerstone-backend/pkg/errors"
	"github.com/cornerstone/cornerstone-backend/pkg/messaging"
	"github.com/cornerstone/cornerstone-backend/pkg/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Unit tests (sqlmock)
// ============================================================================

var (
	siteColumns     = []string{"id", "site_name", "location", "status", "completion_percentage", "start_date", "estimated_completion", "created_at", "updated_at"}
	materialColumns = []string{"id", "material_name", "category", "unit_of_measure", "unit_cost", "reorder_threshold", "created_at", "updated_at"}
)

func expectSite(mockDB *testutil.MockDB, id, status string) {
	now := time.Now()
	mockDB.ExpectQuery("FROM sites WHERE id = $1").
		WithArgs(id).
		WillReturnRows(testutil.MockRows(siteColumns...).
			AddRow(id, "Site "+id, "Phoenix", status, "0", now, nil, now, now))
}

func expectMaterial(mockDB *testutil.MockDB, id string) {
	now := time.Now()
	mockDB.ExpectQuery("FROM materials WHERE id = $1").
		WithArgs(id).
		WillReturnRows(testutil.MockRows(materialColumns...).
			AddRow(id, "Cement", "Concrete", "bags", "5.00", "10.00", now, now))
}

func TestTransactionEngine_InvalidQuantity(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	h := newHarness(mockDB.DB)

	for _, qty := range []string{"0", "-5", "0.001"} {
		t.Run(qty, func(t *testing.T) {
			_, err := h.engine.RecordIn(context.Background(), "site-1", "mat-1", testutil.D(qty), "")
			assert.True(t, errors.Is(err, errors.ErrInvalidQuantity))

			_, err = h.engine.RecordOut(context.Background(), "site-1", "mat-1", testutil.D(qty), "")
			assert.True(t, errors.Is(err, errors.ErrInvalidQuantity))

			_, err = h.engine.RecordTransfer(context.Background(), "site-1", "site-2", "mat-1", testutil.D(qty), "")
			assert.True(t, errors.Is(err, errors.ErrInvalidQuantity))
		})
	}

	// No statement may reach the database.
	mockDB.ExpectationsWereMet(t)
	h.publisher.AssertNoEventsPublished(t)
}

func TestTransactionEngine_QuantityTooLarge(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	h := newHarness(mockDB.DB)

	for _, qty := range []string{"1e20", "1000000000000", "999999999999.995", "1e200000000", "-1e200000000"} {
		t.Run(qty, func(t *testing.T) {
			done := make(chan error, 1)
			go func() {
				_, err := h.engine.RecordIn(context.Background(), "site-1", "mat-1", testutil.D(qty), "")
				done <- err
			}()

			select {
			case err := <-done:
				var appErr *errors.AppError
				require.True(t, errors.As(err, &appErr))
				assert.Equal(t, "INVALID_QUANTITY", appErr.Code)
				if qty[0] != '-' {
					assert.Equal(t, "quantity must not exceed 999999999999.99", appErr.Message)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("quantity check did not return")
			}
		})
	}

	for _, qty := range []string{"1e-200000000", "999999999999.99"} {
		t.Run(qty, func(t *testing.T) {
			_, err := h.engine.RecordTransfer(context.Background(), "site-1", "site-1", "mat-1", testutil.D(qty), "")
			// The quantity is accepted; the transfer then fails on its destination
			// or, for the tiny value, on rounding to zero.
			var appErr *errors.AppError
			require.True(t, errors.As(err, &appErr))
			if qty == "999999999999.99" {
				assert.Equal(t, "INVALID_TRANSFER", appErr.Code)
			} else {
				assert.Equal(t, "quantity must be greater than zero", appErr.Message)
			}
		})
	}

	mockDB.ExpectationsWereMet(t)
	h.publisher.AssertNoEventsPublished(t)
}

func TestTransactionEngine_TransferWithoutValidDestination(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	h := newHarness(mockDB.DB)

	for name, dest := range map[string]string{"same site": "site-1", "missing": "", "blank": "   "} {
		t.Run(name, func(t *testing.T) {
			_, err := h.engine.RecordTransfer(context.Background(), "site-1", dest, "mat-1", testutil.D("5"), "")

			var appErr *errors.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, "INVALID_TRANSFER", appErr.Code)
			assert.Equal(t, "Please select a valid destination site.", appErr.Message)
		})
	}
	mockDB.ExpectationsWereMet(t)
}

func TestTransactionEngine_RecordOut_InsufficientRollsBack(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	h := newHarness(mockDB.DB)

	mockDB.ExpectBegin()
	expectSite(mockDB, "site-1", "active")
	expectMaterial(mockDB, "mat-1")
	mockDB.ExpectQuery("FOR UPDATE").
		WithArgs("site-1", "mat-1").
		WillReturnRows(testutil.MockRows("quantity").AddRow("20.00"))
	mockDB.ExpectRollback()

	_, err := h.engine.RecordOut(adminContext(context.Background()), "site-1", "mat-1", testutil.D("25"), "")

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "INSUFFICIENT_STOCK", appErr.Code)
	assert.Equal(t, "Insufficient inventory. Cannot remove more than available.", appErr.Message)
	mockDB.ExpectationsWereMet(t)
	h.publisher.AssertNoEventsPublished(t)
}

func TestTransactionEngine_RecordIn_StoreFailureIsPersistenceError(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	h := newHarness(mockDB.DB)

	mockDB.ExpectBegin()
	expectSite(mockDB, "site-1", "active")
	expectMaterial(mockDB, "mat-1")
	mockDB.ExpectQuery("INSERT INTO inventory").
		WithArgs("site-1", "mat-1", testutil.Dec("12.5")).
		WillReturnRows(testutil.MockRows("quantity").AddRow("12.50"))
	mockDB.ExpectExec("INSERT INTO transactions").
		WillReturnError(sql.ErrConnDone)
	mockDB.ExpectRollback()

	_, err := h.engine.RecordIn(adminContext(context.Background()), "site-1", "mat-1", testutil.D("12.5"), "delivery")

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "PERSISTENCE_ERROR", appErr.Code)
	assert.True(t, errors.Is(err, errors.ErrPersistence))
	assert.True(t, errors.Is(err, sql.ErrConnDone))
	mockDB.ExpectationsWereMet(t)
	h.publisher.AssertNoEventsPublished(t)
}

func TestTransactionEngine_ClosedSiteRejected(t *testing.T) {
	for _, status := range []string{"inactive", "finished"} {
		t.Run(status, func(t *testing.T) {
			mockDB := testutil.NewMockDB(t)
			defer mockDB.Close()
			h := newHarness(mockDB.DB)

			mockDB.ExpectBegin()
			expectSite(mockDB, "site-1", status)
			mockDB.ExpectRollback()

			_, err := h.engine.RecordIn(context.Background(), "site-1", "mat-1", testutil.D("1"), "")
			assert.True(t, errors.Is(err, errors.ErrConflict))
			mockDB.ExpectationsWereMet(t)
		})
	}
}

func TestTransactionEngine_RecordIn_Commits(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	h := newHarness(mockDB.DB)
	admin := testutil.AdminActor()

	mockDB.ExpectBegin()
	expectSite(mockDB, "site-1", "halted_insufficient_materials")
	expectMaterial(mockDB, "mat-1")
	mockDB.ExpectQuery("INSERT INTO inventory").
		WithArgs("site-1", "mat-1", testutil.Dec("40")).
		WillReturnRows(testutil.MockRows("quantity").AddRow("140.00"))
	mockDB.ExpectExec("INSERT INTO transactions").
		WithArgs(testutil.AnyUUID{}, "site-1", "mat-1", "IN", testutil.Dec("40"), testutil.Dec("140"),
			nil, admin.ID, "delivery", testutil.AnyTime{}).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mockDB.ExpectCommit()

	row, err := h.engine.RecordIn(adminContext(context.Background()), "site-1", "mat-1", testutil.D("40"), " delivery ")
	require.NoError(t, err)
	testutil.AssertDecimal(t, "140", row.BalanceAfter)
	mockDB.ExpectationsWereMet(t)

	moved := h.publisher.Events(messaging.EventStockMoved)
	require.Len(t, moved, 1)
	payload := moved[0].Payload.(messaging.StockMovedEvent)
	assert.Equal(t, service.MovementIn, payload.Type)
	assert.Equal(t, admin.ID, payload.PerformedBy)
	require.Len(t, payload.Lines, 1)
	assert.Equal(t, "140", payload.Lines[0].NewQuantity)
}

// ============================================================================
// Integration tests (PostgreSQL)
// ============================================================================

func TestTransactionEngine_ReceiveAndIssue(t *testing.T) {
	ctx := testutil.DefaultTestContext(t)
	h := integrationHarness(t, ctx, "engine_scenario")
	site := suite.Fixtures.Site()
	material := suite.Fixtures.Material()
	testutil.InsertSite(t, ctx, h.db, site)
	testutil.InsertMaterial(t, ctx, h.db, material)
	ctx = adminContext(ctx)

	_, err := h.engine.RecordIn(ctx, site.ID, material.ID, testutil.D("60"), "")
	require.NoError(t, err)
	_, err = h.engine.RecordIn(ctx, site.ID, material.ID, testutil.D("40"), "")
	require.NoError(t, err)
	assertQuantity(t, ctx, h, site.ID, material.ID, "100")

	out, err := h.engine.RecordOut(ctx, site.ID, material.ID, testutil.D("30"), "pour slab")
	require.NoError(t, err)
	testutil.AssertDecimal(t, "70", out.BalanceAfter)
	assertQuantity(t, ctx, h, site.ID, material.ID, "70")

	_, err = h.engine.RecordOut(ctx, site.ID, material.ID, testutil.D("100"), "")
	assert.True(t, errors.Is(err, errors.ErrInsufficientStock))
	assertQuantity(t, ctx, h, site.ID, material.ID, "70")

	rows, err := h.txns.ListByLine(ctx, site.ID, material.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3, "the rejected withdrawal must not leave a row")
	assert.Equal(t, repository.TransactionOut, rows[2].Type)
	require.NotNil(t, rows[2].UserID)
	assert.Equal(t, testutil.AdminActor().ID, *rows[2].UserID)

	t.Run("unknown material", func(t *testing.T) {
		_, err := h.engine.RecordIn(ctx, site.ID, "00000000-0000-0000-0000-0000000000aa", testutil.D("1"), "")
		assert.True(t, errors.Is(err, errors.ErrNotFound))
	})
	t.Run("unknown site", func(t *testing.T) {
		_, err := h.engine.RecordOut(ctx, "00000000-0000-0000-0000-0000000000bb", material.ID, testutil.D("1"), "")
		assert.True(t, errors.Is(err, errors.ErrNotFound))
	})
}

func TestTransactionEngine_Transfer(t *testing.T) {
	ctx := testutil.DefaultTestContext(t)
	h := integrationHarness(t, ctx, "engine_transfer")
	siteA := suite.Fixtures.Site(testutil.WithSiteName("SiteA"))
	siteB := suite.Fixtures.Site(testutil.WithSiteName("SiteB"))
	finished := suite.Fixtures.Site(testutil.WithSiteStatus("finished"))
	material := suite.Fixtures.Material()
	for _, s := range []testutil.SiteFixture{siteA, siteB, finished} {
		testutil.InsertSite(t, ctx, h.db, s)
	}
	testutil.InsertMaterial(t, ctx, h.db, material)
	ctx = adminContext(ctx)

	_, err := h.engine.RecordIn(ctx, siteA.ID, material.ID, testutil.D("70"), "")
	require.NoError(t, err)

	result, err := h.engine.RecordTransfer(ctx, siteA.ID, siteB.ID, material.ID, testutil.D("50"), "to tower B")
	require.NoError(t, err)

	assertQuantity(t, ctx, h, siteA.ID, material.ID, "20")
	assertQuantity(t, ctx, h, siteB.ID, material.ID, "50")

	assert.Equal(t, repository.TransactionTransferOut, result.Out.Type)
	assert.Equal(t, repository.TransactionTransferIn, result.In.Type)
	assert.Equal(t, siteB.ID, *result.Out.RelatedSiteID)
	assert.Equal(t, siteA.ID, *result.In.RelatedSiteID)
	assert.True(t, result.Out.Quantity.Equal(result.In.Quantity))

	outRows, err := h.txns.ListByLine(ctx, siteA.ID, material.ID)
	require.NoError(t, err)
	inRows, err := h.txns.ListByLine(ctx, siteB.ID, material.ID)
	require.NoError(t, err)
	require.Len(t, inRows, 1)
	assert.True(t, outRows[len(outRows)-1].CreatedAt.Equal(inRows[0].CreatedAt), "paired rows share a timestamp")

	moved := h.publisher.Events(messaging.EventStockMoved)
	last := moved[len(moved)-1].Payload.(messaging.StockMovedEvent)
	assert.Equal(t, service.MovementTransfer, last.Type)
	assert.Len(t, last.TransactionIDs, 2)

	t.Run("insufficient at source", func(t *testing.T) {
		_, err := h.engine.RecordTransfer(ctx, siteA.ID, siteB.ID, material.ID, testutil.D("21"), "")
		var appErr *errors.AppError
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, "Insufficient inventory at source site.", appErr.Message)
		assertQuantity(t, ctx, h, siteA.ID, material.ID, "20")
		assertQuantity(t, ctx, h, siteB.ID, material.ID, "50")
	})

	t.Run("same site", func(t *testing.T) {
		_, err := h.engine.RecordTransfer(ctx, siteA.ID, siteA.ID, material.ID, testutil.D("1"), "")
		assert.True(t, errors.Is(err, errors.ErrInvalidTransfer))
		rows, err := h.txns.ListByLine(ctx, siteA.ID, material.ID)
		require.NoError(t, err)
		assert.Len(t, rows, 2)
	})

	t.Run("unknown destination", func(t *testing.T) {
		_, err := h.engine.RecordTransfer(ctx, siteA.ID, "00000000-0000-0000-0000-0000000000cc", material.ID, testutil.D("1"), "")
		assert.True(t, errors.Is(err, errors.ErrInvalidTransfer))
	})

	t.Run("finished destination", func(t *testing.T) {
		_, err := h.engine.RecordTransfer(ctx, siteA.ID, finished.ID, material.ID, testutil.D("1"), "")
		assert.True(t, errors.Is(err, errors.ErrConflict))
		assertQuantity(t, ctx, h, siteA.ID, material.ID, "20")
	})
}

func TestTransactionEngine_ConcurrentWithdrawals(t *testing.T) {
	ctx := testutil.DefaultTestContext(t)
	h := integrationHarness(t, ctx, "engine_concurrent")
	site := suite.Fixtures.Site()
	material := suite.Fixtures.Material()
	testutil.InsertSite(t, ctx, h.db, site)
	testutil.InsertMaterial(t, ctx, h.db, material)
	ctx = adminContext(ctx)

	_, err := h.engine.RecordIn(ctx, site.ID, material.ID, testutil.D("100"), "")
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.engine.RecordOut(ctx, site.ID, material.ID, testutil.D("60"), "")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(err, errors.ErrInsufficientStock), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)
	assertQuantity(t, ctx, h, site.ID, material.ID, "40")
}

func TestTransactionEngine_OpposingTransfersDoNotDeadlock(t *testing.T) {
	ctx := testutil.DefaultTestContext(t)
	h := integrationHarness(t, ctx, "engine_deadlock")
	siteA := suite.Fixtures.Site()
	siteB := suite.Fixtures.Site()
	material := suite.Fixtures.Material()
	testutil.InsertSite(t, ctx, h.db, siteA)
	testutil.InsertSite(t, ctx, h.db, siteB)
	testutil.InsertMaterial(t, ctx, h.db, material)
	ctx = adminContext(ctx)

	for _, id := range []string{siteA.ID, siteB.ID} {
		_, err := h.engine.RecordIn(ctx, id, material.ID, testutil.D("100"), "")
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := h.engine.RecordTransfer(ctx, siteA.ID, siteB.ID, material.ID, testutil.D("1"), "")
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := h.engine.RecordTransfer(ctx, siteB.ID, siteA.ID, material.ID, testutil.D("1"), "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	a, err := h.ledger.GetQuantity(ctx, siteA.ID, material.ID)
	require.NoError(t, err)
	b, err := h.ledger.GetQuantity(ctx, siteB.ID, material.ID)
	require.NoError(t, err)
	testutil.AssertDecimal(t, "200", a.Add(b))
}

// TestTransactionEngine_RandomSequence replays random movements against an
// in-memory model and checks the ledger and history agree with it.
func TestTransactionEngine_RandomSequence(t *testing.T) {
	ctx := testutil.DefaultTestContext(t)
	h := integrationHarness(t, ctx, "engine_random")
	sites := []testutil.SiteFixture{suite.Fixtures.Site(), suite.Fixtures.Site(), suite.Fixtures.Site()}
	material := suite.Fixtures.Material()
	for _, s := range sites {
		testutil.InsertSite(t, ctx, h.db, s)
	}
	testutil.InsertMaterial(t, ctx, h.db, material)

	rng := rand.New(rand.NewSource(42))
	model := map[string]decimal.Decimal{}

	for i := 0; i < 60; i++ {
		src := sites[rng.Intn(len(sites))].ID
		dst := sites[rng.Intn(len(sites))].ID
		qty := decimal.New(int64(rng.Intn(5000)+1), -2)

		switch rng.Intn(3) {
		case 0:
			_, err := h.engine.RecordIn(ctx, src, material.ID, qty, "")
			require.NoError(t, err)
			model[src] = model[src].Add(qty)
		case 1:
			_, err := h.engine.RecordOut(ctx, src, material.ID, qty, "")
			if model[src].LessThan(qty) {
				require.True(t, errors.Is(err, errors.ErrInsufficientStock))
				continue
			}
			require.NoError(t, err)
			model[src] = model[src].Sub(qty)
		default:
			_, err := h.engine.RecordTransfer(ctx, src, dst, material.ID, qty, "")
			switch {
			case src == dst:
				require.True(t, errors.Is(err, errors.ErrInvalidTransfer))
			case model[src].LessThan(qty):
				require.True(t, errors.Is(err, errors.ErrInsufficientStock))
			default:
				require.NoError(t, err)
				model[src] = model[src].Sub(qty)
				model[dst] = model[dst].Add(qty)
			}
		}
	}

	for _, s := range sites {
		qty, err := h.ledger.GetQuantity(ctx, s.ID, material.ID)
		require.NoError(t, err)
		assert.Truef(t, model[s.ID].Equal(qty), "site %s: model %s, ledger %s", s.Name, model[s.ID], qty)
		assert.False(t, qty.IsNegative())

		rows, err := h.txns.ListByLine(ctx, s.ID, material.ID)
		require.NoError(t, err)
		sum := decimal.Zero
		for _, r := range rows {
			switch r.Type {
			case repository.TransactionIn, repository.TransactionTransferIn:
				sum = sum.Add(r.Quantity)
			default:
				sum = sum.Sub(r.Quantity)
			}
		}
		assert.Truef(t, sum.Equal(qty), "history of %s sums to %s, ledger says %s", s.Name, sum, qty)
	}
}

func assertQuantity(t *testing.T, ctx context.Context, h *harness, siteID, materialID, want string) {
	t.Helper()
	qty, err := h.ledger.GetQuantity(ctx, siteID, materialID)
	require.NoError(t, err)
	testutil.AssertDecimal(t, want, qty)
}
