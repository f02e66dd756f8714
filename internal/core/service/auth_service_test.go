package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rl1809/sweet-shop/internal/core/domain"
)

// Mock UserRepository
type mockUserRepo struct {
	users  map[string]domain.User
	nextID int64
	mu     sync.Mutex
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[string]domain.User)}
}

func (m *mockUserRepo) CreateUser(ctx context.Context, user domain.User) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if existing.Username == user.Username || existing.Email == user.Email {
			return nil, domain.ErrAlreadyExists
		}
	}
	m.nextID++
	user.ID = m.nextID
	m.users[user.Username] = user
	return &user, nil
}

func (m *mockUserRepo) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[username]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &user, nil
}

func (m *mockUserRepo) HasAdmin(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, user := range m.users {
		if user.Role == domain.RoleAdmin {
			return true, nil
		}
	}
	return false, nil
}

func TestRegister_IssuesResolvableToken(t *testing.T) {
	svc := NewAuthService(newMockUserRepo(), "test-secret", time.Hour, nil)

	token, user, err := svc.Register(context.Background(), "testuser", "test@example.com", "password123")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if user.Role != domain.RoleUser {
		t.Errorf("expected role user, got %s", user.Role)
	}
	if user.PasswordHash == "password123" {
		t.Error("password must be stored hashed")
	}

	caller, err := svc.Resolve(token)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if caller.UserID != user.ID || caller.Username != "testuser" || caller.IsAdmin() {
		t.Errorf("unexpected caller: %+v", caller)
	}
}

func TestRegister_Validation(t *testing.T) {
	svc := NewAuthService(newMockUserRepo(), "test-secret", time.Hour, nil)
	ctx := context.Background()

	tests := []struct {
		name                      string
		username, email, password string
	}{
		{"short username", "ab", "ab@example.com", "password123"},
		{"bad email", "testuser", "not-an-email", "password123"},
		{"short password", "testuser", "test@example.com", "12345"},
		{"display name email", "testuser", "Bob <bob@example.com>", "password123"},
		{"password over 72 bytes", "testuser", "test@example.com", strings.Repeat("p", 80)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Register(ctx, tt.username, tt.email, tt.password)
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got: %v", err)
			}
		})
	}
}

func TestRegister_MaxLengthPassword(t *testing.T) {
	svc := NewAuthService(newMockUserRepo(), "test-secret", time.Hour, nil)
	password := strings.Repeat("p", 72)

	if _, _, err := svc.Register(context.Background(), "testuser", "test@example.com", password); err != nil {
		t.Fatalf("expected 72-byte password to be accepted, got: %v", err)
	}
	if _, _, err := svc.Login(context.Background(), "testuser", password); err != nil {
		t.Errorf("login failed: %v", err)
	}
}

func TestRegister_Duplicate(t *testing.T) {
	svc := NewAuthService(newMockUserRepo(), "test-secret", time.Hour, nil)
	ctx := context.Background()

	if _, _, err := svc.Register(ctx, "testuser", "test@example.com", "password123"); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	_, _, err := svc.Register(ctx, "testuser", "other@example.com", "password123")
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got: %v", err)
	}
}

func TestLogin(t *testing.T) {
	svc := NewAuthService(newMockUserRepo(), "test-secret", time.Hour, nil)
	ctx := context.Background()

	if _, _, err := svc.Register(ctx, "testuser", "test@example.com", "password123"); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	if _, _, err := svc.Login(ctx, "testuser", "password123"); err != nil {
		t.Errorf("expected login to succeed, got: %v", err)
	}
	if _, _, err := svc.Login(ctx, "testuser", "wrong"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials for wrong password, got: %v", err)
	}
	if _, _, err := svc.Login(ctx, "nobody", "password123"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials for unknown user, got: %v", err)
	}
	if _, _, err := svc.Login(ctx, "", ""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for empty credentials, got: %v", err)
	}
}

func TestResolve_RejectsBadTokens(t *testing.T) {
	repo := newMockUserRepo()
	svc := NewAuthService(repo, "test-secret", time.Hour, nil)
	other := NewAuthService(repo, "other-secret", time.Hour, nil)
	expired := NewAuthService(repo, "test-secret", -time.Minute, nil)
	ctx := context.Background()

	foreign, _, err := other.Register(ctx, "foreign", "foreign@example.com", "password123")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	stale, _, err := expired.Register(ctx, "stale", "stale@example.com", "password123")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	for name, token := range map[string]string{
		"garbage": "not-a-token",
		"foreign": foreign,
		"expired": stale,
	} {
		if _, err := svc.Resolve(token); !errors.Is(err, domain.ErrUnauthenticated) {
			t.Errorf("%s: expected ErrUnauthenticated, got: %v", name, err)
		}
	}
}

func TestEnsureAdmin(t *testing.T) {
	svc := NewAuthService(newMockUserRepo(), "test-secret", time.Hour, nil)
	ctx := context.Background()

	created, err := svc.EnsureAdmin(ctx, "admin", "admin@sweetshop.com", "admin123")
	if err != nil {
		t.Fatalf("ensure admin failed: %v", err)
	}
	if !created {
		t.Error("expected admin to be created")
	}

	created, err = svc.EnsureAdmin(ctx, "admin2", "admin2@sweetshop.com", "admin123")
	if err != nil {
		t.Fatalf("second ensure admin failed: %v", err)
	}
	if created {
		t.Error("expected second call to be a no-op")
	}

	token, user, err := svc.Login(ctx, "admin", "admin123")
	if err != nil {
		t.Fatalf("admin login failed: %v", err)
	}
	if user.Role != domain.RoleAdmin {
		t.Errorf("expected admin role, got %s", user.Role)
	}
	caller, err := svc.Resolve(token)
	if err != nil || !caller.IsAdmin() {
		t.Errorf("expected admin caller, got %+v (err %v)", caller, err)
	}
}
