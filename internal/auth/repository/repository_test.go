package repository_test

import (
	"context"
	"flag"
	"log"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cornerstone/cornerstone-backend/internal/auth/migrations"
	"github.com/cornerstone/cornerstone-backend/internal/auth/repository"
	"github.com/cornerstone/cornerstone-backend/pkg/actor"
	"github.com/cornerstone/cornerstone-backend/pkg/database"
	apperrors "github.com/cornerstone/cornerstone-backend/pkg/errors"
	"github.com/cornerstone/cornerstone-backend/pkg/testutil"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

func setupAuthDB(t *testing.T, ctx context.Context, prefix string) *database.DB {
	t.Helper()
	testutil.SkipIfShort(t)
	return suite.SetupSchema(t, ctx, prefix, migrations.FS)
}

func newUser(username string) *repository.User {
	return &repository.User{
		Username:     username,
		Email:        username + "@cornerstone.test",
		PasswordHash: "$2a$04$hash",
		Role:         actor.RoleEndUser,
		FullName:     "Pat " + username,
	}
}

func appErrorCode(t *testing.T, err error) string {
	t.Helper()
	var appErr *apperrors.AppError
	require.True(t, apperrors.As(err, &appErr), "expected AppError, got %v", err)
	return appErr.Code
}

// ============================================================================
// Unit tests (sqlmock)
// ============================================================================

func TestUserRepository_Create_UniqueViolation(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	repo := repository.NewUserRepository(mockDB.DB)

	mockDB.ExpectQuery("INSERT INTO users").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "users_email_key"})

	err := repo.Create(context.Background(), newUser("rebar"))

	require.Error(t, err)
	assert.Equal(t, "CONFLICT", appErrorCode(t, err))
	assert.Contains(t, err.Error(), "Email already registered")
	mockDB.ExpectationsWereMet(t)
}

func TestUserRepository_Delete_Missing(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	repo := repository.NewUserRepository(mockDB.DB)

	mockDB.ExpectExec("DELETE FROM users WHERE id = $1").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "missing")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
	mockDB.ExpectationsWereMet(t)
}

// ============================================================================
// Integration tests (PostgreSQL)
// ============================================================================

func TestUserRepository_Integration(t *testing.T) {
	ctx := testutil.DefaultTestContext(t)
	db := setupAuthDB(t, ctx, "auth_users")
	repo := repository.NewUserRepository(db)

	u := newUser("formwork")
	require.NoError(t, repo.Create(ctx, u))
	require.NotEmpty(t, u.ID)
	assert.False(t, u.CreatedAt.IsZero())

	t.Run("login by username or email", func(t *testing.T) {
		byName, err := repo.GetByLogin(ctx, "formwork")
		require.NoError(t, err)
		byEmail, err := repo.GetByLogin(ctx, "formwork@cornerstone.test")
		require.NoError(t, err)
		assert.Equal(t, u.ID, byName.ID)
		assert.Equal(t, u.ID, byEmail.ID)
		assert.Equal(t, u.PasswordHash, byName.PasswordHash)
	})

	t.Run("duplicate username is a conflict", func(t *testing.T) {
		dup := newUser("formwork")
		dup.Email = "other@cornerstone.test"
		err := repo.Create(ctx, dup)
		assert.Equal(t, "CONFLICT", appErrorCode(t, err))
		assert.Contains(t, err.Error(), "Username already exists")
	})

	t.Run("existence checks", func(t *testing.T) {
		ok, err := repo.UsernameExists(ctx, "formwork")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.EmailExists(ctx, "nobody@cornerstone.test")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("update password", func(t *testing.T) {
		require.NoError(t, repo.UpdatePassword(ctx, u.ID, "$2a$04$other"))
		got, err := repo.GetByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "$2a$04$other", got.PasswordHash)
	})

	t.Run("list is ordered by username", func(t *testing.T) {
		require.NoError(t, repo.Create(ctx, newUser("anchor")))
		users, err := repo.List(ctx)
		require.NoError(t, err)
		require.Len(t, users, 2)
		assert.Equal(t, "anchor", users[0].Username)
		assert.Equal(t, "formwork", users[1].Username)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, u.ID))
		_, err := repo.GetByID(ctx, u.ID)
		assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
	})
}

func TestVerificationRepository_Integration(t *testing.T) {
	ctx := testutil.DefaultTestContext(t)
	db := setupAuthDB(t, ctx, "auth_codes")
	repo := repository.NewVerificationRepository(db)

	pending := repository.PendingUser{Username: "joist", FullName: "Jo Ist", PasswordHash: "$2a$04$hash", Role: actor.RoleAdmin}
	older := &repository.VerificationCode{Email: "joist@cornerstone.test", Code: "ABC234", UserData: pending, ExpiresAt: time.Now().Add(-time.Minute)}
	require.NoError(t, repo.Create(ctx, older))
	time.Sleep(10 * time.Millisecond)
	newer := &repository.VerificationCode{Email: "joist@cornerstone.test", Code: "ABC234", UserData: pending, ExpiresAt: time.Now().Add(15 * time.Minute)}
	require.NoError(t, repo.Create(ctx, newer))

	t.Run("find returns the newest match with its pending user", func(t *testing.T) {
		got, err := repo.Find(ctx, "joist@cornerstone.test", "ABC234")
		require.NoError(t, err)
		assert.Equal(t, newer.ID, got.ID)
		assert.Equal(t, pending, got.UserData)
		assert.False(t, got.IsUsed)
	})

	t.Run("unknown code", func(t *testing.T) {
		_, err := repo.Find(ctx, "joist@cornerstone.test", "ZZZ999")
		assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
	})

	t.Run("codes are single use", func(t *testing.T) {
		ok, err := repo.MarkUsed(ctx, newer.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.MarkUsed(ctx, newer.ID)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete by email", func(t *testing.T) {
		n, err := repo.DeleteByEmail(ctx, "joist@cornerstone.test")
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})
}
