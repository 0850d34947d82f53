// Package identity manages the signed-in account: sign-up, sign-in, and the
// token file that lets a daemon restart resume the session without a
// password prompt.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/parley-im/parley/internal/bus"
	"github.com/parley-im/parley/internal/model"
	"github.com/parley-im/parley/internal/realtime"
)

// tokenTTL is how long a persisted session token stays valid.
const tokenTTL = 30 * 24 * time.Hour

// Provider authenticates against the user collection and keeps the current
// identity. Every change is announced on the bus under "identity.changed"
// with the new user (or nil on sign-out) as payload.
type Provider struct {
	store     realtime.Store
	bus       *bus.Bus
	logger    *zap.Logger
	tokenPath string
	secret    []byte

	mu      sync.RWMutex
	current *model.User
	now     func() time.Time
}

// NewProvider creates a provider. tokenPath is where the session token is
// persisted; secret signs the tokens.
func NewProvider(store realtime.Store, b *bus.Bus, logger *zap.Logger, tokenPath string, secret []byte) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		store:     store,
		bus:       b,
		logger:    logger,
		tokenPath: tokenPath,
		secret:    secret,
		now:       time.Now,
	}
}

// LoadOrCreateSecret reads the signing secret from path, generating a fresh
// one on first run.
func LoadOrCreateSecret(path string) ([]byte, error) {
	if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
		return data, nil
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	secret := []byte(hex.EncodeToString(raw))
	if err := os.WriteFile(path, secret, 0600); err != nil {
		return nil, fmt.Errorf("persist secret: %w", err)
	}
	return secret, nil
}

// Current returns the signed-in user, or nil.
func (p *Provider) Current() *model.User {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.current == nil {
		return nil
	}
	u := *p.current
	return &u
}

// Restore resumes a persisted session from the token file. Returns nil user
// without error when no valid token exists.
func (p *Provider) Restore(ctx context.Context) (*model.User, error) {
	data, err := os.ReadFile(p.tokenPath)
	if err != nil {
		return nil, nil
	}
	userID, err := p.parseToken(strings.TrimSpace(string(data)))
	if err != nil {
		p.logger.Warn("stale session token", zap.Error(err))
		_ = os.Remove(p.tokenPath)
		return nil, nil
	}
	u, err := p.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("restore session: %w", err)
	}
	if u == nil {
		_ = os.Remove(p.tokenPath)
		return nil, nil
	}
	p.setCurrent(u)
	return u, nil
}

// SignUp registers a new account and signs it in.
func (p *Provider) SignUp(ctx context.Context, name, phone, password string) (*model.User, error) {
	name = strings.TrimSpace(name)
	phone = strings.TrimSpace(phone)
	if name == "" || phone == "" || len(password) < 6 {
		return nil, fmt.Errorf("name, phone and a password of 6+ chars required: %w", model.ErrValidation)
	}
	existing, err := p.store.GetUserByPhone(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("check phone: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("phone %s already registered: %w", phone, model.ErrValidation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := model.User{
		ID:           model.NewUserID(),
		Name:         name,
		Phone:        phone,
		IsOnline:     true,
		LastSeen:     p.now().UnixMilli(),
		PasswordHash: string(hash),
	}
	if err := p.store.UpsertUser(ctx, u); err != nil {
		return nil, fmt.Errorf("%w: create user: %v", model.ErrWriteFailed, err)
	}

	if err := p.persistToken(u.ID); err != nil {
		return nil, err
	}
	p.setCurrent(&u)
	p.logger.Info("account created", zap.String("user_id", u.ID))
	return p.Current(), nil
}

// SignIn authenticates by phone and password. Wrong phone and wrong password
// are indistinguishable to the caller.
func (p *Provider) SignIn(ctx context.Context, phone, password string) (*model.User, error) {
	u, err := p.store.GetUserByPhone(ctx, strings.TrimSpace(phone))
	if err != nil {
		return nil, fmt.Errorf("look up account: %w", err)
	}
	if u == nil {
		return nil, fmt.Errorf("bad credentials: %w", model.ErrAuthRequired)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("bad credentials: %w", model.ErrAuthRequired)
	}

	u.IsOnline = true
	u.LastSeen = p.now().UnixMilli()
	if err := p.store.UpsertUser(ctx, *u); err != nil {
		p.logger.Warn("presence update failed", zap.Error(err))
	}

	if err := p.persistToken(u.ID); err != nil {
		return nil, err
	}
	p.setCurrent(u)
	p.logger.Info("signed in", zap.String("user_id", u.ID))
	return p.Current(), nil
}

// SignOut marks the account offline, drops the token and clears the current
// identity.
func (p *Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	u := p.current
	p.current = nil
	p.mu.Unlock()

	_ = os.Remove(p.tokenPath)
	if u == nil {
		return nil
	}

	u.IsOnline = false
	u.LastSeen = p.now().UnixMilli()
	if err := p.store.UpsertUser(ctx, *u); err != nil {
		p.logger.Warn("presence update failed", zap.Error(err))
	}

	p.logger.Info("signed out", zap.String("user_id", u.ID))
	p.bus.Emit(bus.IdentityChanged, (*model.User)(nil))
	return nil
}

// UpdateProfile changes the signed-in user's name, about line or avatar.
// Empty fields keep their current value.
func (p *Provider) UpdateProfile(ctx context.Context, name, about, avatar string) (*model.User, error) {
	p.mu.RLock()
	cur := p.current
	p.mu.RUnlock()
	if cur == nil {
		return nil, model.ErrAuthRequired
	}

	u := *cur
	if name = strings.TrimSpace(name); name != "" {
		u.Name = name
	}
	if about != "" {
		u.About = about
	}
	if avatar != "" {
		u.Avatar = avatar
	}
	if err := p.store.UpsertUser(ctx, u); err != nil {
		return nil, fmt.Errorf("%w: update profile: %v", model.ErrWriteFailed, err)
	}
	p.setCurrent(&u)
	return p.Current(), nil
}

func (p *Provider) setCurrent(u *model.User) {
	p.mu.Lock()
	p.current = u
	p.mu.Unlock()
	p.bus.Emit(bus.IdentityChanged, u)
}

func (p *Provider) persistToken(userID string) error {
	now := p.now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	})
	signed, err := tok.SignedString(p.secret)
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	if err := os.WriteFile(p.tokenPath, []byte(signed), 0600); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}
	return nil
}

func (p *Provider) parseToken(raw string) (string, error) {
	tok, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return p.secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := tok.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", fmt.Errorf("token missing subject")
	}
	return claims.Subject, nil
}
