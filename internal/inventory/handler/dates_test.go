package handler

import (
	"testing"
	"time"

	"github.com/cornerstone/cornerstone-backend/internal/inventory/repository"
	"github.com/cornerstone/cornerstone-backend/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDay(t *testing.T) {
	d, err := parseDay("report_date", "2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), d)

	for _, v := range []string{"", "2024-02-30", "03/01/2024"} {
		_, err := parseDay("report_date", v)
		var appErr *errors.AppError
		require.True(t, errors.As(err, &appErr), v)
		assert.Equal(t, "BAD_REQUEST", appErr.Code)
		assert.Contains(t, appErr.Message, "report_date")
	}
}

func TestSiteRequest_ApplyRejectsUnparsedDates(t *testing.T) {
	existing := &repository.Site{Name: "North Tower", Status: "active"}

	tests := map[string]siteRequest{
		"start date":           {Name: "Renamed", StartDate: "2024-13-01"},
		"estimated completion": {Name: "Renamed", StartDate: "2024-01-01", EstimatedCompletion: "soon"},
	}
	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			site := *existing
			err := req.apply(&site)

			assert.True(t, errors.Is(err, errors.ErrBadRequest))
			assert.Equal(t, "North Tower", site.Name, "site must be left untouched")
		})
	}

	t.Run("valid", func(t *testing.T) {
		site := *existing
		req := siteRequest{Name: "Renamed", Location: "Pier 4", StartDate: "2024-01-01", EstimatedCompletion: "2024-06-30"}
		require.NoError(t, req.apply(&site))
		assert.Equal(t, "Renamed", site.Name)
		assert.Equal(t, "active", site.Status)
		require.NotNil(t, site.EstimatedCompletion)
		assert.Equal(t, 2024, site.EstimatedCompletion.Year())
	})
}
