package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cornerstone/cornerstone-backend/pkg/database"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// SiteFixture represents test site data
type SiteFixture struct {
	ID         string
	Name       string
	Location   string
	Status     string
	Completion decimal.Decimal
	StartDate  time.Time
}

// MaterialFixture represents test material data
type MaterialFixture struct {
	ID               string
	Name             string
	Category         string
	Unit             string
	UnitCost         decimal.Decimal
	ReorderThreshold decimal.Decimal
}

// UserFixture represents test user data
type UserFixture struct {
	ID           string
	Username     string
	Email        string
	Password     string
	PasswordHash string
	Role         string
	FullName     string
}

// FixtureFactory creates test fixtures with sensible defaults
type FixtureFactory struct {
	mu       sync.Mutex
	sequence int
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory() *FixtureFactory {
	return &FixtureFactory{}
}

func (f *FixtureFactory) nextSeq() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sequence++
	return f.sequence
}

// Site creates a site fixture with defaults
func (f *FixtureFactory) Site(opts ...func(*SiteFixture)) SiteFixture {
	seq := f.nextSeq()

	site := SiteFixture{
		ID:         uuid.New().String(),
		Name:       fmt.Sprintf("Site %d", seq),
		Location:   "Phoenix, AZ",
		Status:     "active",
		Completion: decimal.Zero,
		StartDate:  time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
	}

	for _, opt := range opts {
		opt(&site)
	}

	return site
}

// WithSiteName sets the site name
func WithSiteName(name string) func(*SiteFixture) {
	return func(s *SiteFixture) {
		s.Name = name
	}
}

// WithSiteStatus sets the site status
func WithSiteStatus(status string) func(*SiteFixture) {
	return func(s *SiteFixture) {
		s.Status = status
	}
}

// Material creates a material fixture with defaults
func (f *FixtureFactory) Material(opts ...func(*MaterialFixture)) MaterialFixture {
	seq := f.nextSeq()

	m := MaterialFixture{
		ID:               uuid.New().String(),
		Name:             fmt.Sprintf("Material %d", seq),
		Category:         "Concrete",
		Unit:             "bags",
		UnitCost:         D("5.00"),
		ReorderThreshold: D("10"),
	}

	for _, opt := range opts {
		opt(&m)
	}

	return m
}

// WithMaterialName sets the material name
func WithMaterialName(name string) func(*MaterialFixture) {
	return func(m *MaterialFixture) {
		m.Name = name
	}
}

// WithCategory sets the material category
func WithCategory(category string) func(*MaterialFixture) {
	return func(m *MaterialFixture) {
		m.Category = category
	}
}

// WithUnitCost sets the material unit cost
func WithUnitCost(cost string) func(*MaterialFixture) {
	return func(m *MaterialFixture) {
		m.UnitCost = D(cost)
	}
}

// WithThreshold sets the material reorder threshold
func WithThreshold(threshold string) func(*MaterialFixture) {
	return func(m *MaterialFixture) {
		m.ReorderThreshold = D(threshold)
	}
}

// User creates a user fixture with defaults. The password is "password123".
func (f *FixtureFactory) User(opts ...func(*UserFixture)) UserFixture {
	seq := f.nextSeq()

	u := UserFixture{
		ID:       uuid.New().String(),
		Username: fmt.Sprintf("user%d", seq),
		Email:    fmt.Sprintf("user%d@cornerstone.test", seq),
		Role:     "end_user",
		FullName: fmt.Sprintf("Test User %d", seq),
	}
	WithPassword("password123")(&u)

	for _, opt := range opts {
		opt(&u)
	}

	return u
}

// WithPassword sets the user password (hashed at minimum cost)
func WithPassword(password string) func(*UserFixture) {
	return func(u *UserFixture) {
		hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
		u.Password = password
		u.PasswordHash = string(hash)
	}
}

// WithRole sets the user role
func WithRole(role string) func(*UserFixture) {
	return func(u *UserFixture) {
		u.Role = role
	}
}

// InsertSite writes a site fixture into an inventory schema.
func InsertSite(t *testing.T, ctx context.Context, db *database.DB, s SiteFixture) {
	t.Helper()
	_, err := db.ExecContext(ctx, `
		INSERT INTO sites (id, site_name, location, status, completion_percentage, start_date)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, s.ID, s.Name, s.Location, s.Status, s.Completion, s.StartDate)
	require.NoError(t, err)
}

// InsertMaterial writes a material fixture into an inventory schema.
func InsertMaterial(t *testing.T, ctx context.Context, db *database.DB, m MaterialFixture) {
	t.Helper()
	_, err := db.ExecContext(ctx, `
		INSERT INTO materials (id, material_name, category, unit_of_measure, unit_cost, reorder_threshold)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, m.ID, m.Name, m.Category, m.Unit, m.UnitCost, m.ReorderThreshold)
	require.NoError(t, err)
}

// InsertUser writes a user fixture into an auth schema.
func InsertUser(t *testing.T, ctx context.Context, db *database.DB, u UserFixture) {
	t.Helper()
	_, err := db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, role, full_name)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, u.ID, u.Username, u.Email, u.PasswordHash, u.Role, u.FullName)
	require.NoError(t, err)
}
