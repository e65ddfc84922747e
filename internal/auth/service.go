package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stellar/go-stellar-sdk/keypair"
	"github.com/stellar/go-stellar-sdk/strkey"
	"golang.org/x/crypto/bcrypt"

	"github.com/stellara-labs/stellara/internal/config"
	"github.com/stellara-labs/stellara/internal/repository"
	"github.com/stellara-labs/stellara/internal/util"
	"github.com/stellara-labs/stellara/pkg/stellara/core"
	"github.com/stellara-labs/stellara/pkg/stellara/domain"
)

const (
	// ApiTokenPrefix marks personal API tokens so they can be told apart from JWTs.
	ApiTokenPrefix = "stl_"
	// NoncePrefix starts every wallet login challenge.
	NoncePrefix = "stellara:login:"

	apiTokenDisplayLen = len(ApiTokenPrefix) + 8
)

var (
	ErrInvalidPublicKey   = errors.New("invalid stellar public key")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrNonceNotFound      = errors.New("nonce not found")
	ErrNonceExpired       = errors.New("nonce expired")
	ErrNonceUsed          = errors.New("nonce already used")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserDisabled       = errors.New("user is disabled")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenReused        = errors.New("refresh token reuse detected")
	ErrWalletBound        = errors.New("wallet already bound")
	ErrLastWallet         = errors.New("cannot remove the last wallet of a user without a password")
	ErrNotFound           = errors.New("not found")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidRole        = errors.New("invalid role")
	ErrUnauthenticated    = errors.New("authentication required")
	ErrForbidden          = errors.New("insufficient role")
	ErrInvalidScope       = errors.New("invalid token scope")
)

type UserStore interface {
	Save(ctx context.Context, u *domain.User) (int64, error)
	FindByID(ctx context.Context, id int64) (*domain.User, error)
	FindByUsername(ctx context.Context, username string) (*domain.User, error)
	FindAll(ctx context.Context) ([]domain.User, error)
	UpdateAccess(ctx context.Context, id int64, role *domain.Role, enabled *bool) error
	IncrementFailedLogins(ctx context.Context, id int64, max int) error
	ResetFailedLogins(ctx context.Context, id int64) error
	SoftDelete(ctx context.Context, id int64) error
}

type WalletStore interface {
	Save(ctx context.Context, b *domain.WalletBinding) (int64, error)
	FindByPublicKey(ctx context.Context, publicKey string) (*domain.WalletBinding, error)
	FindByUserID(ctx context.Context, userID int64) ([]domain.WalletBinding, error)
	Delete(ctx context.Context, userID int64, publicKey string) (bool, error)
}

type NonceStore interface {
	Save(ctx context.Context, n *domain.LoginNonce) (int64, error)
	FindByNonce(ctx context.Context, nonce string) (*domain.LoginNonce, error)
	Consume(ctx context.Context, id int64) (bool, error)
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

type RefreshTokenStore interface {
	Save(ctx context.Context, t *domain.RefreshToken) (int64, error)
	FindByHash(ctx context.Context, hash string) (*domain.RefreshToken, error)
	Revoke(ctx context.Context, id int64, replacedBy int64) (bool, error)
	RevokeFamily(ctx context.Context, family string) (int64, error)
	RevokeAllForUser(ctx context.Context, userID int64) (int64, error)
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

type ApiTokenStore interface {
	Save(ctx context.Context, t *domain.ApiToken) (int64, error)
	FindByHash(ctx context.Context, hash string) (*domain.ApiToken, error)
	FindByUserID(ctx context.Context, userID int64) ([]domain.ApiToken, error)
	TouchLastUsed(ctx context.Context, id int64) error
	Revoke(ctx context.Context, userID, id int64) (bool, error)
}

// AuditRecorder receives security relevant auth events.
type AuditRecorder interface {
	Record(ctx context.Context, entry *domain.AuditLog) error
}

type Stores struct {
	Users         UserStore
	Wallets       WalletStore
	Nonces        NonceStore
	RefreshTokens RefreshTokenStore
	ApiTokens     ApiTokenStore
}

type Service struct {
	users     UserStore
	wallets   WalletStore
	nonces    NonceStore
	refresh   RefreshTokenStore
	apiTokens ApiTokenStore
	recorder  AuditRecorder
	tokens    *TokenIssuer
	cfg       config.Auth
	clock     core.Clock
}

func NewService(stores Stores, recorder AuditRecorder, cfg config.Auth, clock core.Clock) *Service {
	if clock == nil {
		clock = core.NewRealClock()
	}
	return &Service{
		users:     stores.Users,
		wallets:   stores.Wallets,
		nonces:    stores.Nonces,
		refresh:   stores.RefreshTokens,
		apiTokens: stores.ApiTokens,
		recorder:  recorder,
		tokens:    NewTokenIssuer(cfg, clock),
		cfg:       cfg,
		clock:     clock,
	}
}

// ClientInfo describes where a request came from.
type ClientInfo struct {
	IP        string
	UserAgent string
}

type NonceChallenge struct {
	PublicKey string    `json:"publicKey"`
	Nonce     string    `json:"nonce"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Session is returned by every successful login or refresh.
type Session struct {
	AccessToken      string       `json:"accessToken"`
	TokenType        string       `json:"tokenType"`
	ExpiresAt        time.Time    `json:"expiresAt"`
	RefreshToken     string       `json:"refreshToken"`
	RefreshExpiresAt time.Time    `json:"refreshExpiresAt"`
	User             *domain.User `json:"user"`
}

type ApiTokenView struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	Prefix     string     `json:"prefix"`
	Scopes     []string   `json:"scopes"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	RevokedAt  *time.Time `json:"revokedAt,omitempty"`
	Created    time.Time  `json:"created"`
}

// CreatedApiToken carries the plain token. It is only ever returned once.
type CreatedApiToken struct {
	Token string `json:"token"`
	ApiTokenView
}

// IssueNonce creates a single use challenge for the wallet to sign.
func (s *Service) IssueNonce(ctx context.Context, publicKey string) (*NonceChallenge, error) {
	if !strkey.IsValidEd25519PublicKey(publicKey) {
		return nil, ErrInvalidPublicKey
	}
	nonce := uuid.NewString()
	n := &domain.LoginNonce{
		PublicKey: publicKey,
		Nonce:     nonce,
		Message:   NoncePrefix + nonce,
		ExpiresAt: s.clock.Now().Add(s.cfg.NonceTTL).UTC().Truncate(time.Millisecond),
	}
	if _, err := s.nonces.Save(ctx, n); err != nil {
		return nil, fmt.Errorf("save nonce: %w", err)
	}
	return &NonceChallenge{PublicKey: publicKey, Nonce: nonce, Message: n.Message, ExpiresAt: n.ExpiresAt}, nil
}

// consumeSignedNonce proves the caller holds the key behind publicKey and burns the nonce.
func (s *Service) consumeSignedNonce(ctx context.Context, publicKey, nonce, signature string) error {
	if !strkey.IsValidEd25519PublicKey(publicKey) {
		return ErrInvalidPublicKey
	}
	n, err := s.nonces.FindByNonce(ctx, nonce)
	if err != nil {
		return fmt.Errorf("find nonce: %w", err)
	}
	if n == nil || n.PublicKey != publicKey {
		return ErrNonceNotFound
	}
	if n.UsedAt.Valid {
		return ErrNonceUsed
	}
	if !s.clock.Now().Before(n.ExpiresAt) {
		return ErrNonceExpired
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return ErrInvalidSignature
	}
	signer, err := keypair.ParseAddress(publicKey)
	if err != nil {
		return ErrInvalidPublicKey
	}
	if err := signer.Verify([]byte(n.Message), sig); err != nil {
		return ErrInvalidSignature
	}
	ok, err := s.nonces.Consume(ctx, n.ID)
	if err != nil {
		return fmt.Errorf("consume nonce: %w", err)
	}
	if !ok {
		return ErrNonceUsed
	}
	return nil
}

// WalletLogin signs in the owner of a Stellar account, registering a new user on first login.
func (s *Service) WalletLogin(ctx context.Context, publicKey, nonce, signature string, client ClientInfo) (*Session, error) {
	if err := s.consumeSignedNonce(ctx, publicKey, nonce, signature); err != nil {
		s.audit(ctx, 0, "auth.login.failed", client, map[string]any{"method": "wallet", "publicKey": publicKey, "reason": err.Error()})
		return nil, err
	}

	binding, err := s.wallets.FindByPublicKey(ctx, publicKey)
	if err != nil {
		return nil, fmt.Errorf("find wallet: %w", err)
	}
	var user *domain.User
	if binding == nil {
		user, err = s.registerWallet(ctx, publicKey)
	} else {
		user, err = s.users.FindByID(ctx, binding.UserID)
	}
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	if !user.Enabled || user.Deleted {
		s.audit(ctx, user.ID, "auth.login.failed", client, map[string]any{"method": "wallet", "reason": ErrUserDisabled.Error()})
		return nil, ErrUserDisabled
	}
	return s.startSession(ctx, user, client, "wallet")
}

func (s *Service) registerWallet(ctx context.Context, publicKey string) (*domain.User, error) {
	user := &domain.User{Username: publicKey, Role: domain.RoleUser, Enabled: true}
	if _, err := s.users.Save(ctx, user); err != nil {
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("create user: %w", err)
		}
		// the key was bound before and the old user kept its name
		user.Username = publicKey[:12] + "-" + uuid.NewString()[:8]
		if _, err := s.users.Save(ctx, user); err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
	}

	binding := &domain.WalletBinding{UserID: user.ID, PublicKey: publicKey, Label: "primary", Primary: true}
	if _, err := s.wallets.Save(ctx, binding); err != nil {
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("bind wallet: %w", err)
		}
		// a concurrent login registered the key first
		if err := s.users.SoftDelete(ctx, user.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to remove duplicate wallet user", "user_id", user.ID, "error", err)
		}
		existing, err := s.wallets.FindByPublicKey(ctx, publicKey)
		if err != nil || existing == nil {
			return nil, fmt.Errorf("find wallet: %w", errors.Join(err, ErrWalletBound))
		}
		return s.users.FindByID(ctx, existing.UserID)
	}
	slog.InfoContext(ctx, "Registered wallet user", "user_id", user.ID, "public_key", publicKey)
	return user, nil
}

// PasswordLogin checks a bcrypt password. Failures count towards locking the account.
func (s *Service) PasswordLogin(ctx context.Context, username, password string, client ClientInfo) (*Session, error) {
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil || !user.PasswordHash.Valid {
		s.audit(ctx, 0, "auth.login.failed", client, map[string]any{"method": "password", "username": username})
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash.String), []byte(password)); err != nil {
		if err := s.users.IncrementFailedLogins(ctx, user.ID, s.cfg.MaxFailedLogins); err != nil {
			slog.ErrorContext(ctx, "Failed to count failed login", "user_id", user.ID, "error", err)
		}
		s.audit(ctx, user.ID, "auth.login.failed", client, map[string]any{"method": "password"})
		return nil, ErrInvalidCredentials
	}
	if !user.Enabled || user.Deleted {
		s.audit(ctx, user.ID, "auth.login.failed", client, map[string]any{"method": "password", "reason": ErrUserDisabled.Error()})
		return nil, ErrUserDisabled
	}
	return s.startSession(ctx, user, client, "password")
}

func (s *Service) startSession(ctx context.Context, user *domain.User, client ClientInfo, method string) (*Session, error) {
	raw, rt, err := s.newRefreshToken(ctx, user.ID, uuid.NewString(), client)
	if err != nil {
		return nil, err
	}
	session, err := s.session(user, raw, rt)
	if err != nil {
		return nil, err
	}
	if user.FailedLogins > 0 {
		if err := s.users.ResetFailedLogins(ctx, user.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to reset failed logins", "user_id", user.ID, "error", err)
		}
		user.FailedLogins = 0
	}
	s.audit(ctx, user.ID, "auth.login", client, map[string]any{"method": method})
	return session, nil
}

func (s *Service) session(user *domain.User, refresh string, rt *domain.RefreshToken) (*Session, error) {
	access, expires, err := s.tokens.Issue(user)
	if err != nil {
		return nil, err
	}
	return &Session{
		AccessToken:      access,
		TokenType:        "Bearer",
		ExpiresAt:        expires,
		RefreshToken:     refresh,
		RefreshExpiresAt: rt.ExpiresAt,
		User:             user,
	}, nil
}

func (s *Service) newRefreshToken(ctx context.Context, userID int64, family string, client ClientInfo) (string, *domain.RefreshToken, error) {
	raw, err := randomToken(32)
	if err != nil {
		return "", nil, err
	}
	rt := &domain.RefreshToken{
		UserID:    userID,
		TokenHash: hashToken(raw),
		Family:    family,
		ExpiresAt: s.clock.Now().Add(s.cfg.RefreshTTL).UTC().Truncate(time.Millisecond),
		IP:        client.IP,
		UserAgent: util.Truncate(client.UserAgent, 255),
	}
	if _, err := s.refresh.Save(ctx, rt); err != nil {
		return "", nil, fmt.Errorf("save refresh token: %w", err)
	}
	return raw, rt, nil
}

// Refresh rotates a refresh token. Presenting a revoked token revokes its whole family.
func (s *Service) Refresh(ctx context.Context, raw string, client ClientInfo) (*Session, error) {
	old, err := s.refresh.FindByHash(ctx, hashToken(raw))
	if err != nil {
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	if old == nil {
		return nil, ErrInvalidToken
	}
	if old.RevokedAt.Valid {
		return nil, s.reuseDetected(ctx, old, client)
	}
	if !s.clock.Now().Before(old.ExpiresAt) {
		return nil, ErrInvalidToken
	}

	user, err := s.users.FindByID(ctx, old.UserID)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil || !user.Enabled || user.Deleted {
		if _, err := s.refresh.RevokeFamily(ctx, old.Family); err != nil {
			slog.ErrorContext(ctx, "Failed to revoke token family", "family", old.Family, "error", err)
		}
		return nil, ErrUserDisabled
	}

	next, rt, err := s.newRefreshToken(ctx, user.ID, old.Family, client)
	if err != nil {
		return nil, err
	}
	ok, err := s.refresh.Revoke(ctx, old.ID, rt.ID)
	if err != nil {
		return nil, fmt.Errorf("revoke refresh token: %w", err)
	}
	if !ok {
		// lost a race with another rotation of the same token
		return nil, s.reuseDetected(ctx, old, client)
	}
	return s.session(user, next, rt)
}

func (s *Service) reuseDetected(ctx context.Context, t *domain.RefreshToken, client ClientInfo) error {
	n, err := s.refresh.RevokeFamily(ctx, t.Family)
	if err != nil {
		return fmt.Errorf("revoke token family: %w", err)
	}
	slog.WarnContext(ctx, "Refresh token reuse detected", "user_id", t.UserID, "family", t.Family, "revoked", n)
	s.audit(ctx, t.UserID, "auth.refresh.reuse", client, map[string]any{"family": t.Family, "revoked": n})
	return ErrTokenReused
}

// Logout revokes the refresh token. Unknown tokens are ignored.
func (s *Service) Logout(ctx context.Context, raw string, client ClientInfo) error {
	t, err := s.refresh.FindByHash(ctx, hashToken(raw))
	if err != nil {
		return fmt.Errorf("find refresh token: %w", err)
	}
	if t == nil || t.RevokedAt.Valid {
		return nil
	}
	if _, err := s.refresh.Revoke(ctx, t.ID, 0); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	s.audit(ctx, t.UserID, "auth.logout", client, nil)
	return nil
}

// RevokeSessions revokes every refresh token of the user.
func (s *Service) RevokeSessions(ctx context.Context, userID int64) error {
	_, err := s.refresh.RevokeAllForUser(ctx, userID)
	return err
}

// BindWallet adds another Stellar account to the user after proof of ownership.
func (s *Service) BindWallet(ctx context.Context, userID int64, publicKey, nonce, signature, label string) (*domain.WalletBinding, error) {
	if err := s.consumeSignedNonce(ctx, publicKey, nonce, signature); err != nil {
		return nil, err
	}
	existing, err := s.wallets.FindByPublicKey(ctx, publicKey)
	if err != nil {
		return nil, fmt.Errorf("find wallet: %w", err)
	}
	if existing != nil {
		return nil, ErrWalletBound
	}
	bindings, err := s.wallets.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("find wallets: %w", err)
	}
	binding := &domain.WalletBinding{UserID: userID, PublicKey: publicKey, Label: label, Primary: len(bindings) == 0}
	if _, err := s.wallets.Save(ctx, binding); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrWalletBound
		}
		return nil, fmt.Errorf("bind wallet: %w", err)
	}
	return binding, nil
}

// UnbindWallet removes a binding. A user without a password must keep one wallet.
func (s *Service) UnbindWallet(ctx context.Context, userID int64, publicKey string) error {
	bindings, err := s.wallets.FindByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("find wallets: %w", err)
	}
	found := false
	for _, b := range bindings {
		if b.PublicKey == publicKey {
			found = true
			break
		}
	}
	if !found {
		return ErrNotFound
	}
	if len(bindings) == 1 {
		user, err := s.users.FindByID(ctx, userID)
		if err != nil {
			return fmt.Errorf("find user: %w", err)
		}
		if user == nil || !user.PasswordHash.Valid {
			return ErrLastWallet
		}
	}
	if _, err := s.wallets.Delete(ctx, userID, publicKey); err != nil {
		return fmt.Errorf("unbind wallet: %w", err)
	}
	return nil
}

func (s *Service) Wallets(ctx context.Context, userID int64) ([]domain.WalletBinding, error) {
	return s.wallets.FindByUserID(ctx, userID)
}

// CreateApiToken issues a personal token. A ttl of zero never expires; no scopes means read and write.
func (s *Service) CreateApiToken(ctx context.Context, userID int64, name string, scopes []string, ttl time.Duration) (*CreatedApiToken, error) {
	scopes, err := normalizeScopes(scopes)
	if err != nil {
		return nil, err
	}
	secret, err := randomToken(32)
	if err != nil {
		return nil, err
	}
	raw := ApiTokenPrefix + secret
	t := &domain.ApiToken{
		UserID:    userID,
		Name:      name,
		Prefix:    raw[:apiTokenDisplayLen],
		TokenHash: hashToken(raw),
		Scopes:    strings.Join(scopes, ","),
	}
	if ttl > 0 {
		t.ExpiresAt = sql.NullTime{Time: s.clock.Now().Add(ttl).UTC().Truncate(time.Millisecond), Valid: true}
	}
	if _, err := s.apiTokens.Save(ctx, t); err != nil {
		return nil, fmt.Errorf("save api token: %w", err)
	}
	return &CreatedApiToken{Token: raw, ApiTokenView: ApiTokenViewOf(t)}, nil
}

func normalizeScopes(scopes []string) ([]string, error) {
	if len(scopes) == 0 {
		return slices.Clone(DefaultTokenScopes), nil
	}
	out := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		scope = strings.ToLower(strings.TrimSpace(scope))
		if !ValidScope(scope) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidScope, scope)
		}
		if !slices.Contains(out, scope) {
			out = append(out, scope)
		}
	}
	return out, nil
}

func (s *Service) ListApiTokens(ctx context.Context, userID int64) ([]ApiTokenView, error) {
	tokens, err := s.apiTokens.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	views := make([]ApiTokenView, 0, len(tokens))
	for i := range tokens {
		views = append(views, ApiTokenViewOf(&tokens[i]))
	}
	return views, nil
}

func (s *Service) RevokeApiToken(ctx context.Context, userID, id int64) error {
	ok, err := s.apiTokens.Revoke(ctx, userID, id)
	if err != nil {
		return fmt.Errorf("revoke api token: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func ApiTokenViewOf(t *domain.ApiToken) ApiTokenView {
	v := ApiTokenView{ID: t.ID, Name: t.Name, Prefix: t.Prefix, Scopes: []string{}, Created: t.Created}
	if t.Scopes != "" {
		v.Scopes = strings.Split(t.Scopes, ",")
	}
	v.LastUsedAt = timePtr(t.LastUsedAt)
	v.ExpiresAt = timePtr(t.ExpiresAt)
	v.RevokedAt = timePtr(t.RevokedAt)
	return v
}

// AuthenticateToken resolves a bearer value, either an access JWT or an stl_ API token.
func (s *Service) AuthenticateToken(ctx context.Context, token string) (*Principal, error) {
	if strings.HasPrefix(token, ApiTokenPrefix) {
		return s.authenticateApiToken(ctx, token)
	}
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	return &Principal{UserID: claims.UserID, Username: claims.Username, Role: claims.Role, Method: MethodJWT}, nil
}

func (s *Service) authenticateApiToken(ctx context.Context, raw string) (*Principal, error) {
	t, err := s.apiTokens.FindByHash(ctx, hashToken(raw))
	if err != nil {
		return nil, fmt.Errorf("find api token: %w", err)
	}
	if t == nil || t.RevokedAt.Valid {
		return nil, ErrInvalidToken
	}
	if t.ExpiresAt.Valid && !s.clock.Now().Before(t.ExpiresAt.Time) {
		return nil, ErrInvalidToken
	}
	user, err := s.users.FindByID(ctx, t.UserID)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil || !user.Enabled || user.Deleted {
		return nil, ErrUserDisabled
	}
	if err := s.apiTokens.TouchLastUsed(ctx, t.ID); err != nil {
		slog.WarnContext(ctx, "Failed to touch api token", "token_id", t.ID, "error", err)
	}
	p := &Principal{UserID: user.ID, Username: user.Username, Role: user.Role, Method: MethodApiToken}
	if t.Scopes != "" {
		p.Scopes = strings.Split(t.Scopes, ",")
	}
	return p, nil
}

// CreateUser adds a password user, used by the admin API and the CLI.
func (s *Service) CreateUser(ctx context.Context, username, password string, role domain.Role) (*domain.User, error) {
	if !role.Valid() {
		return nil, ErrInvalidRole
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &domain.User{
		Username:     username,
		PasswordHash: sql.NullString{String: string(hash), Valid: true},
		Role:         role,
		Enabled:      true,
	}
	if _, err := s.users.Save(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (s *Service) Users(ctx context.Context) ([]domain.User, error) {
	return s.users.FindAll(ctx)
}

func (s *Service) User(ctx context.Context, id int64) (*domain.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNotFound
	}
	return user, nil
}

// UpdateAccess changes role and/or enabled flag. Disabling revokes the user's sessions.
func (s *Service) UpdateAccess(ctx context.Context, id int64, role *domain.Role, enabled *bool) (*domain.User, error) {
	if role != nil && !role.Valid() {
		return nil, ErrInvalidRole
	}
	if _, err := s.User(ctx, id); err != nil {
		return nil, err
	}
	if err := s.users.UpdateAccess(ctx, id, role, enabled); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	if enabled != nil && !*enabled {
		if err := s.RevokeSessions(ctx, id); err != nil {
			return nil, fmt.Errorf("revoke sessions: %w", err)
		}
	}
	return s.User(ctx, id)
}

func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	if _, err := s.User(ctx, id); err != nil {
		return err
	}
	if err := s.users.SoftDelete(ctx, id); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return s.RevokeSessions(ctx, id)
}

// PurgeExpired deletes expired nonces and refresh tokens.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	now := s.clock.Now()
	nonces, err := s.nonces.DeleteExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("purge nonces: %w", err)
	}
	tokens, err := s.refresh.DeleteExpired(ctx, now)
	if err != nil {
		return nonces, fmt.Errorf("purge refresh tokens: %w", err)
	}
	return nonces + tokens, nil
}

func (s *Service) audit(ctx context.Context, userID int64, action string, client ClientInfo, meta map[string]any) {
	if s.recorder == nil {
		return
	}
	entry := &domain.AuditLog{
		UserID:    sql.NullInt64{Int64: userID, Valid: userID > 0},
		Action:    action,
		Resource:  "auth",
		IP:        client.IP,
		UserAgent: util.Truncate(client.UserAgent, 255),
	}
	if userID > 0 {
		entry.ResourceID = fmt.Sprint(userID)
	}
	if len(meta) > 0 {
		if b, err := json.Marshal(meta); err == nil {
			entry.Metadata = sql.NullString{String: string(b), Valid: true}
		}
	}
	if err := s.recorder.Record(ctx, entry); err != nil {
		slog.ErrorContext(ctx, "Failed to record audit event", "action", action, "error", err)
	}
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
