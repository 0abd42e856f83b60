package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cornerstone/cornerstone-backend/internal/auth/repository"
	"github.com/cornerstone/cornerstone-backend/internal/auth/service"
	"github.com/cornerstone/cornerstone-backend/pkg/actor"
	"github.com/cornerstone/cornerstone-backend/pkg/config"
	apperrors "github.com/cornerstone/cornerstone-backend/pkg/errors"
	"github.com/cornerstone/cornerstone-backend/pkg/messaging"
	"github.com/cornerstone/cornerstone-backend/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signupInput(username string) service.SignupInput {
	return service.SignupInput{
		Username:        username,
		Email:           username + "@cornerstone.test",
		FullName:        "Sam " + strings.ToUpper(username[:1]) + username[1:],
		Password:        "concrete-pour",
		ConfirmPassword: "concrete-pour",
	}
}

func validationDetails(t *testing.T, err error) map[string]string {
	t.Helper()
	var appErr *apperrors.AppError
	require.True(t, apperrors.As(err, &appErr), "expected AppError, got %v", err)
	require.Equal(t, "VALIDATION_ERROR", appErr.Code)
	return appErr.Details
}

// ============================================================================
// Unit tests
// ============================================================================

func TestGenerateCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		code, err := service.GenerateCode(6)
		require.NoError(t, err)
		require.Len(t, code, 6)
		assert.Regexp(t, `^[A-HJ-NP-Z2-9]{6}$`, code)
		seen[code] = true
	}
	assert.Greater(t, len(seen), 190)

	code, err := service.GenerateCode(0)
	require.NoError(t, err)
	assert.Len(t, code, 6)
}

func TestSignup_RejectedBeforeDatabase(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*service.SignupInput)
		wantField string
	}{
		{"short password", func(in *service.SignupInput) { in.Password, in.ConfirmPassword = "short", "short" }, "password"},
		{"mismatched confirmation", func(in *service.SignupInput) { in.ConfirmPassword = "concrete-cure" }, "confirm_password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockDB := testutil.NewMockDB(t)
			defer mockDB.Close()
			h := newHarness(mockDB.DB, testAuthConfig())

			in := signupInput("mason")
			tt.mutate(&in)
			_, err := h.service.Signup(context.Background(), in)

			assert.Contains(t, validationDetails(t, err), tt.wantField)
			mockDB.ExpectationsWereMet(t)
		})
	}
}

func TestSignup_DuplicateUsername(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	h := newHarness(mockDB.DB, testAuthConfig())

	mockDB.ExpectQuery("SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)").
		WithArgs("mason").
		WillReturnRows(testutil.MockRows("exists").AddRow(true))

	_, err := h.service.Signup(context.Background(), signupInput("mason"))
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	mockDB.ExpectationsWereMet(t)
}

func TestSignup_AdminRoleAfterFirstAccount(t *testing.T) {
	t.Run("refused once an account exists", func(t *testing.T) {
		mockDB := testutil.NewMockDB(t)
		defer mockDB.Close()
		h := newHarness(mockDB.DB, testAuthConfig())

		mockDB.ExpectQuery("SELECT EXISTS(SELECT 1 FROM users)").
			WillReturnRows(testutil.MockRows("exists").AddRow(true))

		in := signupInput("foreman")
		in.Role = actor.RoleAdmin
		_, err := h.service.Signup(context.Background(), in)

		assert.ErrorIs(t, err, apperrors.ErrForbidden)
		mockDB.ExpectationsWereMet(t)
	})

	t.Run("allowed when opened in configuration", func(t *testing.T) {
		mockDB := testutil.NewMockDB(t)
		defer mockDB.Close()
		cfg := testAuthConfig()
		cfg.AllowAdminSignup = true
		h := newHarness(mockDB.DB, cfg)

		// Goes straight to the uniqueness checks.
		mockDB.ExpectQuery("SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)").
			WithArgs("foreman").
			WillReturnRows(testutil.MockRows("exists").AddRow(true))

		in := signupInput("foreman")
		in.Role = actor.RoleAdmin
		_, err := h.service.Signup(context.Background(), in)

		assert.ErrorIs(t, err, apperrors.ErrConflict)
		mockDB.ExpectationsWereMet(t)
	})
}

func TestLogin_UnknownUser(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	h := newHarness(mockDB.DB, testAuthConfig())

	mockDB.ExpectQuery("FROM users WHERE username = $1 OR email = $1").
		WithArgs("ghost").
		WillReturnRows(testutil.MockRows("id"))

	_, err := h.service.Login(context.Background(), " ghost ", "whatever")
	assert.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
	mockDB.ExpectationsWereMet(t)
}

func TestDeleteAccount_RequiresConfirmation(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	h := newHarness(mockDB.DB, testAuthConfig())
	ctx := actor.WithActor(context.Background(), testutil.EndUserActor())

	err := h.service.DeleteAccount(ctx, "concrete-pour", "delete me")
	assert.Contains(t, validationDetails(t, err), "confirmation")

	err = h.service.DeleteAccount(ctx, "", "DELETE")
	assert.Contains(t, validationDetails(t, err), "password")

	mockDB.ExpectationsWereMet(t)
}

func TestMe_Anonymous(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	h := newHarness(mockDB.DB, testAuthConfig())

	_, err := h.service.Me(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

// ============================================================================
// Integration tests (PostgreSQL)
// ============================================================================

func TestSignupVerifyLogin(t *testing.T) {
	ctx := testutil.DefaultTestContext(t)
	h := integrationHarness(t, ctx, "auth_signup", testAuthConfig())

	res, err := h.service.Signup(ctx, signupInput("mason"))
	require.NoError(t, err)
	require.Len(t, res.Code, 6)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), res.ExpiresAt, time.Minute)
	assert.Empty(t, h.publisher.Events(messaging.EventUserVerificationRequested))

	t.Run("wrong code", func(t *testing.T) {
		_, err := h.service.Verify(ctx, res.Email, "ZZZZZZ")
		assert.ErrorIs(t, err, apperrors.ErrBadRequest)
	})

	session, err := h.service.Verify(ctx, res.Email, " "+strings.ToLower(res.Code)+" ")
	require.NoError(t, err)
	assert.Equal(t, "mason", session.User.Username)
	assert.Equal(t, actor.RoleEndUser, session.User.Role)
	assert.Equal(t, "Bearer", session.TokenType)

	a, err := h.tokens.VerifyToken(session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, a.ID)

	created := h.publisher.Events(messaging.EventUserCreated)
	require.Len(t, created, 1)
	payload := created[0].Payload.(messaging.UserCreatedEvent)
	assert.Equal(t, "mason@cornerstone.test", payload.Email)
	assert.Equal(t, "Sam Mason", payload.FullName)

	t.Run("code is single use", func(t *testing.T) {
		_, err := h.service.Verify(ctx, res.Email, res.Code)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already been used")
	})

	t.Run("username and email are now taken", func(t *testing.T) {
		_, err := h.service.Signup(ctx, signupInput("mason"))
		assert.ErrorIs(t, err, apperrors.ErrConflict)

		in := signupInput("mason2")
		in.Email = "mason@cornerstone.test"
		_, err = h.service.Signup(ctx, in)
		assert.ErrorIs(t, err, apperrors.ErrConflict)
	})

	t.Run("login by username or email", func(t *testing.T) {
		for _, login := range []string{"mason", "mason@cornerstone.test"} {
			s, err := h.service.Login(ctx, login, "concrete-pour")
			require.NoError(t, err, login)
			assert.Equal(t, session.User.ID, s.User.ID)
		}

		_, err := h.service.Login(ctx, "mason", "wrong-password")
		assert.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
	})
}

func TestSignup_OnlyFirstAccountMayBeAdmin(t *testing.T) {
	ctx := testutil.DefaultTestContext(t)
	h := integrationHarness(t, ctx, "auth_first_admin", testAuthConfig())

	admin := func(username string) service.SignupInput {
		in := signupInput(username)
		in.Role = actor.RoleAdmin
		return in
	}

	// Both sign up while the table is empty; only the first to verify wins.
	first, err := h.service.Signup(ctx, admin("foreman"))
	require.NoError(t, err)
	second, err := h.service.Signup(ctx, admin("estimator"))
	require.NoError(t, err)

	session, err := h.service.Verify(ctx, first.Email, first.Code)
	require.NoError(t, err)
	assert.Equal(t, actor.RoleAdmin, session.User.Role)

	_, err = h.service.Verify(ctx, second.Email, second.Code)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
	_, err = h.users.GetByLogin(ctx, "estimator")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = h.service.Signup(ctx, admin("surveyor"))
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	// End users are unaffected.
	res, err := h.service.Signup(ctx, signupInput("surveyor"))
	require.NoError(t, err)
	_, err = h.service.Verify(ctx, res.Email, res.Code)
	require.NoError(t, err)
}

func TestVerify_ExpiredCode(t *testing.T) {
	ctx := testutil.DefaultTestContext(t)
	h := integrationHarness(t, ctx, "auth_expired", testAuthConfig())

	require.NoError(t, h.codes.Create(ctx, &repository.VerificationCode{
		Email:     "late@cornerstone.test",
		Code:      "ABC234",
		UserData:  repository.PendingUser{Username: "late", FullName: "Lee Late", PasswordHash: "x", Role: actor.RoleEndUser},
		ExpiresAt: time.Now().Add(-time.Minute),
	}))

	_, err := h.service.Verify(ctx, "late@cornerstone.test", "ABC234")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")

	_, err = h.users.GetByLogin(ctx, "late")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestSignup_ProductionMailsTheCode(t *testing.T) {
	ctx := testutil.DefaultTestContext(t)
	cfg := testAuthConfig()
	cfg.EmailMode = config.EnvProduction
	h := integrationHarness(t, ctx, "auth_prod_mail", cfg)

	res, err := h.service.Signup(ctx, signupInput("rivera"))
	require.NoError(t, err)
	assert.Empty(t, res.Code)

	sent := h.publisher.Events(messaging.EventUserVerificationRequested)
	require.Len(t, sent, 1)
	payload := sent[0].Payload.(messaging.VerificationRequestedEvent)
	assert.Equal(t, "rivera@cornerstone.test", payload.Email)
	assert.Len(t, payload.Code, 6)

	t.Run("publish failure fails the signup", func(t *testing.T) {
		h.publisher.Err = errors.New("broker down")
		defer func() { h.publisher.Err = nil }()

		_, err := h.service.Signup(ctx, signupInput("okafor"))
		assert.ErrorIs(t, err, apperrors.ErrInternal)
	})
}

func TestChangePassword(t *testing.T) {
	ctx := testutil.DefaultTestContext(t)
	h := integrationHarness(t, ctx, "auth_password", testAuthConfig())

	u := suite.Fixtures.User()
	testutil.InsertUser(t, ctx, h.db, u)
	ctx = actor.WithActor(ctx, &actor.Actor{ID: u.ID, Username: u.Username, Role: u.Role})

	err := h.service.ChangePassword(ctx, "not-my-password", "brand-new-pass", "brand-new-pass")
	assert.Contains(t, validationDetails(t, err), "current_password")

	err = h.service.ChangePassword(ctx, u.Password, "tiny", "tiny")
	assert.Contains(t, validationDetails(t, err), "new_password")

	require.NoError(t, h.service.ChangePassword(ctx, u.Password, "brand-new-pass", "brand-new-pass"))

	_, err = h.service.Login(ctx, u.Username, u.Password)
	assert.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
	_, err = h.service.Login(ctx, u.Username, "brand-new-pass")
	assert.NoError(t, err)
}

func TestDeleteAccount(t *testing.T) {
	ctx := testutil.DefaultTestContext(t)
	h := integrationHarness(t, ctx, "auth_delete", testAuthConfig())

	u := suite.Fixtures.User()
	testutil.InsertUser(t, ctx, h.db, u)
	require.NoError(t, h.codes.Create(ctx, &repository.VerificationCode{
		Email: u.Email, Code: "QWE234", UserData: repository.PendingUser{Username: u.Username}, ExpiresAt: time.Now().Add(time.Hour),
	}))
	ctx = actor.WithActor(ctx, &actor.Actor{ID: u.ID, Username: u.Username, Role: u.Role})

	err := h.service.DeleteAccount(ctx, "wrong-password", "DELETE")
	assert.Contains(t, validationDetails(t, err), "password")
	h.publisher.AssertNoEventsPublished(t)

	require.NoError(t, h.service.DeleteAccount(ctx, u.Password, " delete "))

	_, err = h.users.GetByID(ctx, u.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	n, err := h.codes.DeleteByEmail(ctx, u.Email)
	require.NoError(t, err)
	assert.Zero(t, n)

	deleted := h.publisher.Events(messaging.EventUserDeleted)
	require.Len(t, deleted, 1)
	assert.Equal(t, u.ID, deleted[0].Payload.(messaging.UserDeletedEvent).UserID)
}

func TestListUsers(t *testing.T) {
	ctx := testutil.DefaultTestContext(t)
	h := integrationHarness(t, ctx, "auth_list", testAuthConfig())

	testutil.InsertUser(t, ctx, h.db, suite.Fixtures.User(testutil.WithRole(actor.RoleAdmin)))
	testutil.InsertUser(t, ctx, h.db, suite.Fixtures.User())

	users, err := h.service.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Less(t, users[0].Username, users[1].Username)
}
