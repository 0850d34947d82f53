package identity

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/parley-im/parley/internal/bus"
	"github.com/parley-im/parley/internal/model"
	"github.com/parley-im/parley/internal/realtime"
)

func newProvider(t *testing.T) (*Provider, *realtime.Memory, string) {
	t.Helper()
	dir := t.TempDir()
	secret, err := LoadOrCreateSecret(filepath.Join(dir, "secret"))
	if err != nil {
		t.Fatal(err)
	}
	store := realtime.NewMemory()
	tokenPath := filepath.Join(dir, "token")
	p := NewProvider(store, bus.New(), zap.NewNop(), tokenPath, secret)
	return p, store, tokenPath
}

func TestSignUpAndSignIn(t *testing.T) {
	p, store, tokenPath := newProvider(t)
	ctx := context.Background()

	u, err := p.SignUp(ctx, "Alice", "+15550001", "hunter22")
	if err != nil {
		t.Fatal(err)
	}
	if u.ID == "" || u.Name != "Alice" || !u.IsOnline {
		t.Errorf("user = %+v", u)
	}
	if p.Current() == nil {
		t.Fatal("not signed in after sign-up")
	}
	if _, err := os.Stat(tokenPath); err != nil {
		t.Errorf("token not persisted: %v", err)
	}

	// Password hash lands in the store, never plaintext.
	stored, _ := store.GetUser(ctx, u.ID)
	if stored.PasswordHash == "" || stored.PasswordHash == "hunter22" {
		t.Error("password not hashed in store")
	}

	if err := p.SignOut(ctx); err != nil {
		t.Fatal(err)
	}
	if p.Current() != nil {
		t.Error("still signed in after sign-out")
	}
	offline, _ := store.GetUser(ctx, u.ID)
	if offline.IsOnline {
		t.Error("user still online after sign-out")
	}

	again, err := p.SignIn(ctx, "+15550001", "hunter22")
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != u.ID {
		t.Errorf("signed in as %s, want %s", again.ID, u.ID)
	}
}

func TestSignInBadCredentials(t *testing.T) {
	p, _, _ := newProvider(t)
	ctx := context.Background()

	if _, err := p.SignUp(ctx, "Alice", "+15550001", "hunter22"); err != nil {
		t.Fatal(err)
	}
	if _, err := p.SignIn(ctx, "+15550001", "wrong"); !errors.Is(err, model.ErrAuthRequired) {
		t.Errorf("wrong password: err = %v, want ErrAuthRequired", err)
	}
	if _, err := p.SignIn(ctx, "+19999999", "hunter22"); !errors.Is(err, model.ErrAuthRequired) {
		t.Errorf("unknown phone: err = %v, want ErrAuthRequired", err)
	}
}

func TestSignUpValidation(t *testing.T) {
	p, _, _ := newProvider(t)
	ctx := context.Background()

	if _, err := p.SignUp(ctx, "", "+1", "hunter22"); !errors.Is(err, model.ErrValidation) {
		t.Errorf("empty name: err = %v, want ErrValidation", err)
	}
	if _, err := p.SignUp(ctx, "Alice", "+1", "short"); !errors.Is(err, model.ErrValidation) {
		t.Errorf("short password: err = %v, want ErrValidation", err)
	}

	if _, err := p.SignUp(ctx, "Alice", "+15550001", "hunter22"); err != nil {
		t.Fatal(err)
	}
	if _, err := p.SignUp(ctx, "Bob", "+15550001", "hunter23"); !errors.Is(err, model.ErrValidation) {
		t.Errorf("duplicate phone: err = %v, want ErrValidation", err)
	}
}

func TestRestore(t *testing.T) {
	p, store, tokenPath := newProvider(t)
	ctx := context.Background()

	u, err := p.SignUp(ctx, "Alice", "+15550001", "hunter22")
	if err != nil {
		t.Fatal(err)
	}

	// A fresh provider with the same token file resumes the session.
	secret := p.secret
	p2 := NewProvider(store, bus.New(), zap.NewNop(), tokenPath, secret)
	restored, err := p2.Restore(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if restored == nil || restored.ID != u.ID {
		t.Errorf("restored = %+v, want %s", restored, u.ID)
	}

	// No token file means no session, not an error.
	p3 := NewProvider(store, bus.New(), zap.NewNop(), filepath.Join(t.TempDir(), "token"), secret)
	if restored, err := p3.Restore(ctx); err != nil || restored != nil {
		t.Errorf("restore without token = %v, %v; want nil, nil", restored, err)
	}

	// A garbage token is dropped silently.
	if err := os.WriteFile(tokenPath, []byte("not-a-jwt"), 0600); err != nil {
		t.Fatal(err)
	}
	p4 := NewProvider(store, bus.New(), zap.NewNop(), tokenPath, secret)
	if restored, err := p4.Restore(ctx); err != nil || restored != nil {
		t.Errorf("restore with garbage token = %v, %v; want nil, nil", restored, err)
	}
	if _, err := os.Stat(tokenPath); !os.IsNotExist(err) {
		t.Error("garbage token file not removed")
	}
}

func TestUpdateProfile(t *testing.T) {
	p, store, _ := newProvider(t)
	ctx := context.Background()

	if _, err := p.UpdateProfile(ctx, "X", "", ""); !errors.Is(err, model.ErrAuthRequired) {
		t.Errorf("signed out: err = %v, want ErrAuthRequired", err)
	}

	u, err := p.SignUp(ctx, "Alice", "+15550001", "hunter22")
	if err != nil {
		t.Fatal(err)
	}
	updated, err := p.UpdateProfile(ctx, "", "out exploring", "http://cdn/a.png")
	if err != nil {
		t.Fatal(err)
	}
	if updated.Name != "Alice" {
		t.Errorf("empty name clobbered existing: %q", updated.Name)
	}
	if updated.About != "out exploring" || updated.Avatar != "http://cdn/a.png" {
		t.Errorf("updated = %+v", updated)
	}
	stored, _ := store.GetUser(ctx, u.ID)
	if stored.About != "out exploring" {
		t.Error("profile update not persisted")
	}
}

func TestLoadOrCreateSecretStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret")
	s1, err := LoadOrCreateSecret(path)
	if err != nil {
		t.Fatal(err)
	}
	s2, err := LoadOrCreateSecret(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(s1) != string(s2) {
		t.Error("secret changed between loads")
	}
}
