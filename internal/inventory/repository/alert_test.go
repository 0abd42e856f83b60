package repository_test

import (
	"context"
	"testing"

	"github.com/cornerstone/cornerstone-backend/internal/inventory/repository"
	"github.com/cornerstone/cornerstone-backend/pkg/errors"
	"github.com/cornerstone/cornerstone-backend/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertRepository_CreateIfAbsent_ConflictSkipsInsert(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	mockDB.ExpectQuery("ON CONFLICT (site_id, material_id, alert_type) WHERE NOT is_resolved DO NOTHING").
		WithArgs(testutil.AnyUUID{}, repository.AlertLowStock, "site-1", "mat-1", "low", testutil.Dec("4"), testutil.Dec("10")).
		WillReturnRows(testutil.MockRows("created_at"))

	repo := repository.NewAlertRepository(mockDB.DB)
	created, err := repo.CreateIfAbsent(context.Background(), &repository.Alert{
		Type:       repository.AlertLowStock,
		SiteID:     "site-1",
		MaterialID: "mat-1",
		Message:    "low",
		Quantity:   testutil.D("4"),
		Threshold:  testutil.D("10"),
	})

	require.NoError(t, err)
	assert.False(t, created)
	mockDB.ExpectationsWereMet(t)
}

func TestAlertRepository_Lifecycle(t *testing.T) {
	ctx := testutil.DefaultTestContext(t)
	db := setupInventoryDB(t, ctx, "alert_lifecycle")
	site, material := seedLine(t, ctx, db, nil)
	repo := repository.NewAlertRepository(db)

	newAlert := func(alertType string) *repository.Alert {
		return &repository.Alert{
			Type:       alertType,
			SiteID:     site.ID,
			MaterialID: material.ID,
			Message:    "stock is running low",
			Quantity:   testutil.D("4"),
			Threshold:  testutil.D("10"),
		}
	}

	low := newAlert(repository.AlertLowStock)
	created, err := repo.CreateIfAbsent(ctx, low)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.CreateIfAbsent(ctx, newAlert(repository.AlertLowStock))
	require.NoError(t, err)
	assert.False(t, created, "second open alert of the same type must be deduplicated")

	predictive := newAlert(repository.AlertPredictiveReorder)
	created, err = repo.CreateIfAbsent(ctx, predictive)
	require.NoError(t, err)
	assert.True(t, created)

	open, err := repo.ListOpenForLine(ctx, site.ID, material.ID)
	require.NoError(t, err)
	assert.Len(t, open, 2)

	count, err := repo.CountUnresolved(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	resolved, err := repo.ResolveOthers(ctx, site.ID, material.ID, repository.AlertLowStock, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, resolved)

	t.Run("resolve", func(t *testing.T) {
		admin := testutil.AdminActor()
		alert, err := repo.Resolve(ctx, low.ID, &admin.ID)
		require.NoError(t, err)
		assert.True(t, alert.IsResolved)
		require.NotNil(t, alert.ResolvedBy)
		assert.Equal(t, admin.ID, *alert.ResolvedBy)
		assert.NotNil(t, alert.ResolvedAt)

		_, err = repo.Resolve(ctx, low.ID, &admin.ID)
		assert.True(t, errors.Is(err, errors.ErrConflict))
	})

	t.Run("resolve unknown", func(t *testing.T) {
		_, err := repo.Resolve(ctx, "00000000-0000-0000-0000-000000000000", nil)
		assert.True(t, errors.Is(err, errors.ErrNotFound))
	})

	t.Run("a resolved alert does not block a new one", func(t *testing.T) {
		created, err := repo.CreateIfAbsent(ctx, newAlert(repository.AlertLowStock))
		require.NoError(t, err)
		assert.True(t, created)
	})

	t.Run("list filters", func(t *testing.T) {
		unresolved := false
		alerts, total, err := repo.List(ctx, repository.AlertFilter{Resolved: &unresolved, PerPage: 10})
		require.NoError(t, err)
		assert.EqualValues(t, 1, total)
		require.Len(t, alerts, 1)
		assert.Equal(t, site.Name, alerts[0].SiteName)
		assert.Equal(t, material.Name, alerts[0].MaterialName)

		all, total, err := repo.List(ctx, repository.AlertFilter{Type: repository.AlertLowStock, SiteID: site.ID})
		require.NoError(t, err)
		assert.EqualValues(t, 2, total)
		assert.Len(t, all, 2)
	})
}
