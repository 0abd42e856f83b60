package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/cornerstone/cornerstone-backend/internal/inventory/repository"
	"github.com/cornerstone/cornerstone-backend/internal/inventory/service"
	"github.com/cornerstone/cornerstone-backend/pkg/config"
	"github.com/cornerstone/cornerstone-backend/pkg/errors"
	"github.com/cornerstone/cornerstone-backend/pkg/logger"
	"github.com/cornerstone/cornerstone-backend/pkg/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Unit tests
// ============================================================================

func TestCSVFilename(t *testing.T) {
	day := time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "cost_report_2024-03-07.csv", service.CSVFilename(service.ReportCost, day))
	assert.Equal(t, "reorder_report_2024-03-07.csv", service.CSVFilename(service.ReportReorder, day))
}

func TestCostReport_CSV(t *testing.T) {
	report := &service.CostReport{Rows: []service.CostRow{{
		SiteName:      "SiteA",
		MaterialName:  "Cement",
		Category:      "Concrete",
		UnitOfMeasure: "bags",
		Quantity:      testutil.D("10.5"),
		UnitCost:      testutil.D("5"),
		TotalValue:    testutil.D("52.5"),
	}}}

	header, records := report.CSV()
	assert.Equal(t, []string{"Site", "Material", "Category", "Quantity", "Unit", "Unit Cost", "Total Value"}, header)
	require.Len(t, records, 1)
	assert.Equal(t, []string{"SiteA", "Cement", "Concrete", "10.50", "bags", "5.00", "52.50"}, records[0])
}

func TestWasteReport_CSV(t *testing.T) {
	notes := "spillage during pour"
	report := &service.WasteReport{Rows: []service.WasteRow{
		{
			WasteReportView: &repository.WasteReportView{
				WasteReport: repository.WasteReport{
					ReportDate:         time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
					ExpectedQuantity:   testutil.D("100"),
					ActualQuantity:     testutil.D("115"),
					Variance:           testutil.D("15"),
					VariancePercentage: decimal.NewNullDecimal(testutil.D("15")),
					Notes:              &notes,
				},
				SiteName:     "SiteA",
				MaterialName: "Cement",
			},
			ValueLost: testutil.D("75"),
			Flagged:   true,
		},
		{
			WasteReportView: &repository.WasteReportView{
				WasteReport: repository.WasteReport{
					ReportDate:       time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
					ExpectedQuantity: testutil.D("0"),
					ActualQuantity:   testutil.D("3"),
					Variance:         testutil.D("3"),
				},
				SiteName:     "SiteB",
				MaterialName: "Sand",
			},
			ValueLost: testutil.D("-4.5"),
		},
	}}

	_, records := report.CSV()
	require.Len(t, records, 2)
	assert.Equal(t, []string{"2024-03-01", "SiteA", "Cement", "100.00", "115.00", "15.00", "15.00%", "75.00", notes}, records[0])
	assert.Equal(t, "N/A", records[1][6])
	assert.Equal(t, "4.50", records[1][7])
	assert.Equal(t, "N/A", records[1][8])
}

func TestReorderReport_CSV(t *testing.T) {
	report := &service.ReorderReport{Rows: []service.ReorderRow{{
		SiteName:         "SiteA",
		MaterialName:     "Cement",
		Category:         "Concrete",
		Quantity:         testutil.D("4"),
		ReorderThreshold: testutil.D("20"),
		Shortage:         testutil.D("16"),
		ReorderCost:      testutil.D("80"),
	}}}

	_, records := report.CSV()
	require.Len(t, records, 1)
	assert.Equal(t, []string{"SiteA", "Cement", "Concrete", "4.00", "20.00", "16.00", "80.00"}, records[0])
}

func TestComputeVariance(t *testing.T) {
	tests := []struct {
		expected, actual string
		variance         string
		pct              string
	}{
		{expected: "100", actual: "115", variance: "15", pct: "15"},
		{expected: "100", actual: "90", variance: "-10", pct: "-10"},
		{expected: "3", actual: "4", variance: "1", pct: "33.33"},
		{expected: "0", actual: "2", variance: "2"},
		// stored at cents, 0.001 is zero
		{expected: "0.001", actual: "1", variance: "1"},
		{expected: "0.004", actual: "0.996", variance: "1"},
		{expected: "0.01", actual: "999999999999.99", variance: "999999999999.98", pct: "9999999999999800"},
	}
	for _, tt := range tests {
		t.Run(tt.expected+"->"+tt.actual, func(t *testing.T) {
			variance, pct := service.ComputeVariance(testutil.D(tt.expected), testutil.D(tt.actual))
			testutil.AssertDecimal(t, tt.variance, variance)
			if tt.pct == "" {
				assert.False(t, pct.Valid)
				return
			}
			require.True(t, pct.Valid)
			testutil.AssertDecimal(t, tt.pct, pct.Decimal)
		})
	}
}

func TestWasteService_Create_RejectsOutOfRangeQuantities(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	waste := service.NewWasteService(
		repository.NewWasteRepository(mockDB.DB),
		repository.NewSiteRepository(mockDB.DB),
		repository.NewMaterialRepository(mockDB.DB),
		logger.Nop(),
	)

	tests := []struct {
		name             string
		expected, actual string
		field            string
	}{
		{name: "expected too large", expected: "1e20", actual: "1", field: "expected_quantity"},
		{name: "actual too large", expected: "1", actual: "1000000000000", field: "actual_quantity"},
		{name: "huge exponent", expected: "1e200000000", actual: "1", field: "expected_quantity"},
		{name: "negative", expected: "5", actual: "-2", field: "actual_quantity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := waste.Create(context.Background(), service.WasteInput{
				SiteID:           "site-1",
				MaterialID:       "mat-1",
				ReportDate:       time.Now(),
				ExpectedQuantity: testutil.D(tt.expected),
				ActualQuantity:   testutil.D(tt.actual),
			})

			var appErr *errors.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, "VALIDATION_ERROR", appErr.Code)
			assert.Contains(t, appErr.Details, tt.field)
		})
	}

	// Rejected before any lookup.
	mockDB.ExpectationsWereMet(t)
}

// ============================================================================
// Integration tests (PostgreSQL)
// ============================================================================

func TestReportService_CostAndReorder(t *testing.T) {
	ctx := testutil.DefaultTestContext(t)
	h := integrationHarness(t, ctx, "reports_cost")
	siteA := suite.Fixtures.Site(testutil.WithSiteName("SiteA"))
	siteB := suite.Fixtures.Site(testutil.WithSiteName("SiteB"))
	cement := suite.Fixtures.Material(testutil.WithMaterialName("Cement"), testutil.WithUnitCost("5.00"), testutil.WithThreshold("20"))
	lumber := suite.Fixtures.Material(testutil.WithMaterialName("Lumber"), testutil.WithCategory("Wood"), testutil.WithUnitCost("12.00"), testutil.WithThreshold("0"))
	testutil.InsertSite(t, ctx, h.db, siteA)
	testutil.InsertSite(t, ctx, h.db, siteB)
	testutil.InsertMaterial(t, ctx, h.db, cement)
	testutil.InsertMaterial(t, ctx, h.db, lumber)

	_, err := h.engine.RecordIn(ctx, siteA.ID, cement.ID, testutil.D("10.5"), "")
	require.NoError(t, err)
	_, err = h.engine.RecordIn(ctx, siteB.ID, lumber.ID, testutil.D("3"), "")
	require.NoError(t, err)

	reports := service.NewReportService(repository.NewReportRepository(h.db), repository.NewWasteRepository(h.db), h.alerts, nil)

	cost, err := reports.CostReport(ctx, "")
	require.NoError(t, err)
	testutil.AssertDecimal(t, "88.5", cost.GrandTotal)
	require.Len(t, cost.BySite, 2)
	assert.Equal(t, "SiteA", cost.BySite[0].Name)
	testutil.AssertDecimal(t, "52.5", cost.BySite[0].Value)
	require.Len(t, cost.ByCategory, 2)
	assert.Equal(t, "Concrete", cost.ByCategory[0].Name)
	testutil.AssertDecimal(t, "36", cost.ByCategory[1].Value)

	siteOnly, err := reports.CostReport(ctx, siteB.ID)
	require.NoError(t, err)
	testutil.AssertDecimal(t, "36", siteOnly.GrandTotal)

	reorder, err := reports.ReorderReport(ctx, "")
	require.NoError(t, err)
	// Cement is short at both sites; lumber has no threshold.
	require.Len(t, reorder.Rows, 2)
	assert.Equal(t, "SiteA", reorder.Rows[0].SiteName)
	testutil.AssertDecimal(t, "9.5", reorder.Rows[0].Shortage)
	testutil.AssertDecimal(t, "47.5", reorder.Rows[0].ReorderCost)
	testutil.AssertDecimal(t, "20", reorder.Rows[1].Shortage)
	testutil.AssertDecimal(t, "147.5", reorder.TotalReorderCost)

	dash, err := reports.Dashboard(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, dash.TotalSites)
	assert.EqualValues(t, 2, dash.ActiveSites)
	testutil.AssertDecimal(t, "88.5", dash.TotalInventoryValue)
}

func TestReportService_Waste(t *testing.T) {
	ctx := testutil.DefaultTestContext(t)
	h := integrationHarness(t, ctx, "reports_waste")
	site := suite.Fixtures.Site()
	material := suite.Fixtures.Material(testutil.WithUnitCost("5.00"))
	testutil.InsertSite(t, ctx, h.db, site)
	testutil.InsertMaterial(t, ctx, h.db, material)
	ctx = adminContext(ctx)

	wasteRepo := repository.NewWasteRepository(h.db)
	reports := service.NewReportService(repository.NewReportRepository(h.db), wasteRepo, h.alerts,
		&config.InventoryConfig{WasteVarianceThreshold: 10, Timezone: "UTC"})
	waste := service.NewWasteService(wasteRepo, h.sites, h.materials, logger.Nop())
	today := reports.Today()

	inputs := []service.WasteInput{
		{ExpectedQuantity: testutil.D("100"), ActualQuantity: testutil.D("115"), Notes: "spillage"},
		{ExpectedQuantity: testutil.D("100"), ActualQuantity: testutil.D("95")},
		{ExpectedQuantity: testutil.D("0"), ActualQuantity: testutil.D("2")},
	}
	for _, in := range inputs {
		in.SiteID, in.MaterialID, in.ReportDate = site.ID, material.ID, today
		rec, err := waste.Create(ctx, in)
		require.NoError(t, err)
		require.NotNil(t, rec.ReportedBy)
		assert.Equal(t, testutil.AdminActor().ID, *rec.ReportedBy)
	}

	report, err := reports.WasteReport(ctx, "", service.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, today.Format(time.DateOnly), report.To)
	require.Len(t, report.Rows, 3)

	// Ordered by variance percentage, undefined last.
	testutil.AssertDecimal(t, "15", report.Rows[0].VariancePercentage.Decimal)
	assert.True(t, report.Rows[0].Flagged)
	testutil.AssertDecimal(t, "75", report.Rows[0].ValueLost)
	assert.False(t, report.Rows[1].Flagged)
	testutil.AssertDecimal(t, "-25", report.Rows[1].ValueLost)
	assert.False(t, report.Rows[2].VariancePercentage.Valid)
	assert.False(t, report.Rows[2].Flagged)

	assert.Equal(t, 1, report.Summary.FlaggedCount)
	testutil.AssertDecimal(t, "22", report.Summary.TotalVariance)
	testutil.AssertDecimal(t, "110", report.Summary.TotalValueLost)

	t.Run("unknown site", func(t *testing.T) {
		_, err := waste.Create(ctx, service.WasteInput{SiteID: "00000000-0000-0000-0000-0000000000dd", MaterialID: material.ID, ReportDate: today})
		assert.Error(t, err)
	})

	t.Run("range excludes older reports", func(t *testing.T) {
		past := today.AddDate(0, -2, 0)
		_, err := waste.Create(ctx, service.WasteInput{
			SiteID: site.ID, MaterialID: material.ID, ReportDate: past,
			ExpectedQuantity: testutil.D("1"), ActualQuantity: testutil.D("1"),
		})
		require.NoError(t, err)

		report, err := reports.WasteReport(ctx, site.ID, service.DateRange{From: past, To: past})
		require.NoError(t, err)
		assert.Len(t, report.Rows, 1)
	})
}
