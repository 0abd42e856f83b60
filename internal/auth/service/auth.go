package service

import (
	"context"
	"crypto/rand"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/cornerstone/cornerstone-backend/internal/auth/events"
	"github.com/cornerstone/cornerstone-backend/internal/auth/jwt"
	"github.com/cornerstone/cornerstone-backend/internal/auth/repository"
	"github.com/cornerstone/cornerstone-backend/pkg/actor"
	"github.com/cornerstone/cornerstone-backend/pkg/config"
	"github.com/cornerstone/cornerstone-backend/pkg/database"
	"github.com/cornerstone/cornerstone-backend/pkg/errors"
	"github.com/cornerstone/cornerstone-backend/pkg/logger"
	"golang.org/x/crypto/bcrypt"
)

// codeAlphabet leaves out I, O, 0 and 1.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// DeleteConfirmation must be typed to delete an account
const DeleteConfirmation = "DELETE"

// AuthService handles accounts and sign-in
type AuthService struct {
	db     *database.DB
	users  *repository.UserRepository
	codes  *repository.VerificationRepository
	tokens *jwt.Manager
	events *events.UserEventPublisher
	config config.AuthConfig
	logger *logger.Logger
	now    func() time.Time
}

// NewAuthService creates a new auth service. events may be nil.
func NewAuthService(
	db *database.DB,
	users *repository.UserRepository,
	codes *repository.VerificationRepository,
	tokens *jwt.Manager,
	pub *events.UserEventPublisher,
	cfg config.AuthConfig,
	log *logger.Logger,
) *AuthService {
	return &AuthService{
		db:     db,
		users:  users,
		codes:  codes,
		tokens: tokens,
		events: pub,
		config: cfg,
		logger: log.WithComponent("auth"),
		now:    time.Now,
	}
}

// SignupInput is a sign-up request
type SignupInput struct {
	Username        string
	Email           string
	FullName        string
	Password        string
	ConfirmPassword string
	Role            string
}

// SignupResult tells the caller where the code went. Code is only set when
// e-mail delivery runs in development mode.
type SignupResult struct {
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
	Code      string    `json:"code,omitempty"`
}

// Session is a signed-in user and their token
type Session struct {
	*jwt.Token
	User *repository.User `json:"user"`
}

// Signup validates the request and issues a verification code. The account
// is only created once the code is verified.
func (s *AuthService) Signup(ctx context.Context, in SignupInput) (*SignupResult, error) {
	if err := s.checkNewPassword("password", in.Password, in.ConfirmPassword); err != nil {
		return nil, err
	}
	if in.Role == "" {
		in.Role = actor.RoleEndUser
	}
	if err := s.checkAdminSignup(ctx, in.Role); err != nil {
		return nil, err
	}

	taken, err := s.users.UsernameExists(ctx, in.Username)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, errors.Conflict("Username already taken. Please choose another.")
	}
	registered, err := s.users.EmailExists(ctx, in.Email)
	if err != nil {
		return nil, err
	}
	if registered {
		return nil, errors.Conflict("Email already registered. Please login instead.")
	}

	hash, err := s.hash(in.Password)
	if err != nil {
		return nil, err
	}
	code, err := GenerateCode(s.config.VerificationCodeLength)
	if err != nil {
		return nil, errors.Internal("failed to generate verification code")
	}

	v := &repository.VerificationCode{
		Email: in.Email,
		Code:  code,
		UserData: repository.PendingUser{
			Username:     in.Username,
			FullName:     in.FullName,
			PasswordHash: hash,
			Role:         in.Role,
		},
		ExpiresAt: s.now().Add(s.config.VerificationCodeExpiry).UTC(),
	}
	if err := s.codes.Create(ctx, v); err != nil {
		return nil, err
	}

	result := &SignupResult{Email: v.Email, ExpiresAt: v.ExpiresAt}
	if s.config.EmailMode == config.EnvProduction {
		if err := s.events.PublishVerificationRequested(ctx, v.Email, in.FullName, code, v.ExpiresAt); err != nil {
			s.logger.Error().Err(err).Str("email", v.Email).Msg("failed to request verification email")
			return nil, errors.Internal("Failed to send verification email. Please try again.")
		}
	} else {
		result.Code = code
	}

	s.logger.Info().Str("email", v.Email).Str("username", in.Username).Msg("verification code issued")
	return result, nil
}

// Verify consumes a code, creates the pending account and signs it in
func (s *AuthService) Verify(ctx context.Context, email, code string) (*Session, error) {
	code = strings.ToUpper(strings.TrimSpace(code))

	v, err := s.codes.Find(ctx, email, code)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, errors.BadRequest("Invalid verification code or email address.")
		}
		return nil, err
	}
	if v.IsUsed {
		return nil, errors.BadRequest("This verification code has already been used.")
	}
	if v.ExpiresAt.Before(s.now()) {
		return nil, errors.BadRequest("This verification code has expired. Please sign up again.")
	}

	user := &repository.User{
		Username:     v.UserData.Username,
		Email:        v.Email,
		PasswordHash: v.UserData.PasswordHash,
		Role:         v.UserData.Role,
		FullName:     v.UserData.FullName,
	}
	if user.Role == "" {
		user.Role = actor.RoleEndUser
	}

	err = s.db.WithTx(ctx, func(ctx context.Context) error {
		if user.Role == actor.RoleAdmin {
			if err := s.users.LockAdminGrants(ctx); err != nil {
				return err
			}
			if err := s.checkAdminSignup(ctx, user.Role); err != nil {
				return err
			}
		}

		consumed, err := s.codes.MarkUsed(ctx, v.ID)
		if err != nil {
			return err
		}
		if !consumed {
			return errors.BadRequest("This verification code has already been used.")
		}
		return s.users.Create(ctx, user)
	})
	if err != nil {
		return nil, err
	}

	s.events.PublishUserCreated(ctx, user)
	s.logger.Info().Str("user_id", user.ID).Str("username", user.Username).Msg("account created")

	return s.session(user)
}

// checkAdminSignup refuses a self-registered admin once any account exists,
// unless admin sign-up is opened in configuration.
func (s *AuthService) checkAdminSignup(ctx context.Context, role string) error {
	if role != actor.RoleAdmin || s.config.AllowAdminSignup {
		return nil
	}
	exists, err := s.users.Any(ctx)
	if err != nil {
		return err
	}
	if exists {
		return errors.Forbidden("Admin accounts can only be self-registered for the first account.")
	}
	return nil
}

// Login authenticates by username or e-mail
func (s *AuthService) Login(ctx context.Context, login, password string) (*Session, error) {
	user, err := s.users.GetByLogin(ctx, strings.TrimSpace(login))
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, errors.InvalidCredentials()
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		s.logger.Warn().Str("user_id", user.ID).Msg("failed login attempt")
		return nil, errors.InvalidCredentials()
	}

	return s.session(user)
}

// Me returns the signed-in account
func (s *AuthService) Me(ctx context.Context) (*repository.User, error) {
	a := actor.FromContext(ctx)
	if a == nil {
		return nil, errors.Unauthorized("authentication required")
	}
	return s.users.GetByID(ctx, a.ID)
}

// ChangePassword replaces the signed-in user's password
func (s *AuthService) ChangePassword(ctx context.Context, current, next, confirm string) error {
	user, err := s.Me(ctx)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)) != nil {
		return errors.Validation(map[string]string{"current_password": "is incorrect"})
	}
	if err := s.checkNewPassword("new_password", next, confirm); err != nil {
		return err
	}

	hash, err := s.hash(next)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return err
	}

	s.logger.Info().Str("user_id", user.ID).Msg("password changed")
	return nil
}

// DeleteAccount removes the signed-in user's account and pending codes.
// Movement history is kept; the inventory service anonymizes it on
// user.deleted.
func (s *AuthService) DeleteAccount(ctx context.Context, password, confirmation string) error {
	if strings.ToUpper(strings.TrimSpace(confirmation)) != DeleteConfirmation {
		return errors.Validation(map[string]string{"confirmation": "Please type DELETE to confirm account deletion."})
	}
	if password == "" {
		return errors.Validation(map[string]string{"password": "Please enter your password to confirm deletion."})
	}

	user, err := s.Me(ctx)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return errors.Validation(map[string]string{"password": "Incorrect password. Please try again."})
	}

	err = s.db.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.codes.DeleteByEmail(ctx, user.Email); err != nil {
			return err
		}
		return s.users.Delete(ctx, user.ID)
	})
	if err != nil {
		return err
	}

	s.events.PublishUserDeleted(ctx, user)
	s.logger.Info().Str("user_id", user.ID).Str("username", user.Username).Msg("account deleted")
	return nil
}

// ListUsers lists every account
func (s *AuthService) ListUsers(ctx context.Context) ([]*repository.User, error) {
	return s.users.List(ctx)
}

// TokenExpiry is how long a session lasts
func (s *AuthService) TokenExpiry() time.Duration {
	return s.tokens.TokenExpiry()
}

func (s *AuthService) session(user *repository.User) (*Session, error) {
	token, err := s.tokens.Generate(&actor.Actor{
		ID:       user.ID,
		Username: user.Username,
		FullName: user.FullName,
		Email:    user.Email,
		Role:     user.Role,
	})
	if err != nil {
		return nil, errors.Internal("failed to generate token")
	}
	return &Session{Token: token, User: user}, nil
}

func (s *AuthService) checkNewPassword(field, password, confirm string) error {
	if len(password) < s.config.MinPasswordLength {
		return errors.Validation(map[string]string{
			field: "must be at least " + strconv.Itoa(s.config.MinPasswordLength) + " characters long",
		})
	}
	if password != confirm {
		return errors.Validation(map[string]string{"confirm_password": "Passwords do not match."})
	}
	return nil
}

func (s *AuthService) hash(password string) (string, error) {
	cost := s.config.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", errors.Internal("failed to hash password")
	}
	return string(hash), nil
}

// GenerateCode returns a random upper-case code of length n
func GenerateCode(n int) (string, error) {
	if n <= 0 {
		n = 6
	}
	base := big.NewInt(int64(len(codeAlphabet)))
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[idx.Int64()])
	}
	return b.String(), nil
}
