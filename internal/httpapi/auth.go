package httpapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"bizbook/backend/internal/domain"
	"bizbook/backend/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidResetToken  = errors.New("invalid or expired reset token")
)

const resetTokenTTL = 30 * time.Minute

// AuthManager issues and validates HS256 access tokens backed by the account
// repository. Logout works through a revocation set keyed by token ID, which
// lives in process memory: a restart forgets revocations, which is acceptable
// because the tokens themselves expire.
type AuthManager struct {
	mu         sync.RWMutex
	secret     []byte
	tokenTTL   time.Duration
	accounts   AccountStore
	revoked    map[string]time.Time
	resetByTok map[string]resetEntry
}

type AccountStore interface {
	CreateAccount(ctx context.Context, account domain.Account) (*domain.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error)
	UpdateAccountPassword(ctx context.Context, accountID string, passwordHash string) error
}

type resetEntry struct {
	accountID string
	expires   time.Time
}

type sessionClaims struct {
	jwtlib.RegisteredClaims
	Email string `json:"email"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, accounts AccountStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}

	return &AuthManager{
		secret:     []byte(secret),
		tokenTTL:   tokenTTL,
		accounts:   accounts,
		revoked:    make(map[string]time.Time),
		resetByTok: make(map[string]resetEntry),
	}
}

func (a *AuthManager) Signup(ctx context.Context, req domain.SignupRequest) (*domain.Account, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("a valid email is required")
	}
	if len(req.Password) < 6 {
		return nil, fmt.Errorf("password must be at least 6 characters")
	}

	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password")
	}

	account, err := a.accounts.CreateAccount(ctx, domain.Account{
		Email:    email,
		Password: passwordHash,
	})
	if err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return account, nil
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.AuthResponse, error) {
	account, err := a.accounts.GetAccountByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.AuthResponse{}, ErrInvalidCredentials
		}
		return domain.AuthResponse{}, err
	}
	if !verifyPassword(account.Password, req.Password) {
		return domain.AuthResponse{}, ErrInvalidCredentials
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(account, expiresAt)
	if err != nil {
		return domain.AuthResponse{}, err
	}

	return domain.AuthResponse{
		AccessToken: token,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
		Account:     *account,
	}, nil
}

// Logout revokes the token's ID for the remainder of its lifetime.
func (a *AuthManager) Logout(tokenStr string) {
	claims := &sessionClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, a.keyFunc, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid || claims.ID == "" {
		return
	}
	expires := time.Now().UTC().Add(a.tokenTTL)
	if claims.ExpiresAt != nil {
		expires = claims.ExpiresAt.Time
	}

	a.mu.Lock()
	a.revoked[claims.ID] = expires
	for id, exp := range a.revoked {
		if time.Now().After(exp) {
			delete(a.revoked, id)
		}
	}
	a.mu.Unlock()
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &sessionClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, a.keyFunc, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}

	a.mu.RLock()
	_, revoked := a.revoked[claims.ID]
	a.mu.RUnlock()
	if revoked {
		return domain.Actor{}, errors.New("token has been revoked")
	}

	return domain.Actor{UserID: sub, Email: claims.Email}, nil
}

// RequestPasswordReset returns a one-shot reset token for the account. An
// unknown email yields an empty token and no error so the HTTP layer can
// answer identically either way and not leak which emails exist.
func (a *AuthManager) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	account, err := a.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil
		}
		return "", err
	}

	token := uuid.NewString()
	a.mu.Lock()
	a.resetByTok[token] = resetEntry{
		accountID: account.ID,
		expires:   time.Now().UTC().Add(resetTokenTTL),
	}
	a.mu.Unlock()
	return token, nil
}

func (a *AuthManager) ResetPassword(ctx context.Context, token string, newPassword string) error {
	if len(newPassword) < 6 {
		return fmt.Errorf("password must be at least 6 characters")
	}

	a.mu.Lock()
	entry, ok := a.resetByTok[token]
	if ok {
		delete(a.resetByTok, token)
	}
	a.mu.Unlock()
	if !ok || time.Now().After(entry.expires) {
		return ErrInvalidResetToken
	}

	passwordHash, err := hashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password")
	}
	return a.accounts.UpdateAccountPassword(ctx, entry.accountID, passwordHash)
}

func (a *AuthManager) keyFunc(t *jwtlib.Token) (interface{}, error) {
	if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
		return nil, errors.New("unexpected signing method")
	}
	return a.secret, nil
}

func (a *AuthManager) sign(account *domain.Account, expiresAt time.Time) (string, error) {
	claims := sessionClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   account.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "bizbook",
		},
		Email: account.Email,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
