package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/rl1809/sweet-shop/internal/adapter/storage"
	"github.com/rl1809/sweet-shop/internal/core/domain"
	"github.com/rl1809/sweet-shop/internal/core/service"
	"github.com/rl1809/sweet-shop/internal/worker"
)

type testServer struct {
	router     *gin.Engine
	store      *storage.MemoryAdapter
	ledger     *service.InventoryLedger
	pool       *worker.JournalPool
	userToken  string
	adminToken string
	closeOnce  sync.Once
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	store := storage.NewMemoryAdapter()
	ledger := service.NewInventoryLedger(store, store, 100, 3, nil)
	catalog := service.NewCatalogService(store, nil)
	auth := service.NewAuthService(store, "test-secret", time.Hour, nil)

	pool := worker.NewJournalPool(ledger.GetMovementQueue(), store, nil)
	pool.Start(1)

	if _, err := auth.EnsureAdmin(ctx, "admin", "admin@sweetshop.com", "admin123"); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	adminToken, _, err := auth.Login(ctx, "admin", "admin123")
	if err != nil {
		t.Fatalf("admin login: %v", err)
	}
	userToken, _, err := auth.Register(ctx, "testuser", "test@example.com", "password123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	h := NewHTTPHandler(ledger, catalog, auth, store, nil)
	s := &testServer{
		router:     NewRouter(h, auth, nil),
		store:      store,
		ledger:     ledger,
		pool:       pool,
		userToken:  userToken,
		adminToken: adminToken,
	}
	t.Cleanup(s.drain)
	return s
}

// drain closes the movement queue and waits for the journal worker.
func (s *testServer) drain() {
	s.closeOnce.Do(func() {
		s.ledger.Close()
		s.pool.Wait()
	})
}

func pathf(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}

func (s *testServer) seed(t *testing.T, name string, quantity int) domain.StockItem {
	t.Helper()
	item, err := s.store.CreateItem(context.Background(), domain.NewItem{
		Name:     name,
		Category: "Indian",
		Price:    decimal.RequireFromString("2.50"),
		Quantity: quantity,
	})
	if err != nil {
		t.Fatalf("seed item: %v", err)
	}
	return *item
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) quantity(t *testing.T, id int64) int {
	t.Helper()
	item, err := s.store.GetItem(context.Background(), id)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	return item.Quantity
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decode[map[string]string](t, rec)
	if body["status"] != "OK" {
		t.Errorf("expected status OK, got %q", body["status"])
	}
}

func TestPurchase_Success(t *testing.T) {
	s := newTestServer(t)
	item := s.seed(t, "Kaju Katli", 10)

	rec := s.do(http.MethodPost, pathf("/api/sweets/%d/purchase", item.ID), s.userToken, map[string]int{"quantity": 3})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	resp := decode[PurchaseHTTPResponse](t, rec)
	if resp.Message != "Purchase successful" || resp.Purchased != 3 || resp.Sweet.Quantity != 7 {
		t.Errorf("unexpected response: %+v", resp)
	}
	if s.quantity(t, item.ID) != 7 {
		t.Errorf("expected stock 7, got %d", s.quantity(t, item.ID))
	}
}

func TestPurchase_DefaultQuantity(t *testing.T) {
	s := newTestServer(t)
	item := s.seed(t, "Rasgulla", 10)

	rec := s.do(http.MethodPost, pathf("/api/sweets/%d/purchase", item.ID), s.userToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	resp := decode[PurchaseHTTPResponse](t, rec)
	if resp.Purchased != 1 || resp.Sweet.Quantity != 9 {
		t.Errorf("expected a single unit purchased, got %+v", resp)
	}
}

func TestPurchase_InsufficientStock(t *testing.T) {
	s := newTestServer(t)
	item := s.seed(t, "Kaju Katli", 7)

	rec := s.do(http.MethodPost, pathf("/api/sweets/%d/purchase", item.ID), s.userToken, map[string]int{"quantity": 100})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	resp := decode[ErrorResponse](t, rec)
	if resp.Code != "insufficient_stock" || resp.Error != "Insufficient quantity available" {
		t.Errorf("unexpected error body: %+v", resp)
	}
	if resp.Available == nil || *resp.Available != 7 || resp.Requested == nil || *resp.Requested != 100 {
		t.Errorf("expected available 7 requested 100, got %+v", resp)
	}
	if s.quantity(t, item.ID) != 7 {
		t.Errorf("expected stock unchanged at 7, got %d", s.quantity(t, item.ID))
	}
}

func TestPurchase_Rejections(t *testing.T) {
	s := newTestServer(t)
	item := s.seed(t, "Kaju Katli", 7)

	tests := []struct {
		name   string
		path   string
		token  string
		body   any
		status int
		code   string
	}{
		{"zero quantity", pathf("/api/sweets/%d/purchase", item.ID), s.userToken, map[string]int{"quantity": 0}, http.StatusBadRequest, "invalid_input"},
		{"negative quantity", pathf("/api/sweets/%d/purchase", item.ID), s.userToken, map[string]int{"quantity": -2}, http.StatusBadRequest, "invalid_input"},
		{"non numeric quantity", pathf("/api/sweets/%d/purchase", item.ID), s.userToken, map[string]string{"quantity": "lots"}, http.StatusBadRequest, "invalid_input"},
		{"unknown item", "/api/sweets/999/purchase", s.userToken, map[string]int{"quantity": 1}, http.StatusNotFound, "not_found"},
		{"bad id", "/api/sweets/abc/purchase", s.userToken, nil, http.StatusBadRequest, "invalid_input"},
		{"no token", pathf("/api/sweets/%d/purchase", item.ID), "", nil, http.StatusUnauthorized, "unauthenticated"},
		{"bad token", pathf("/api/sweets/%d/purchase", item.ID), "garbage", nil, http.StatusUnauthorized, "unauthenticated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, tt.path, tt.token, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if resp := decode[ErrorResponse](t, rec); resp.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, resp.Code)
			}
		})
	}

	if s.quantity(t, item.ID) != 7 {
		t.Errorf("expected stock unchanged at 7, got %d", s.quantity(t, item.ID))
	}
}

func TestPurchase_IdempotencyKey(t *testing.T) {
	s := newTestServer(t)
	item := s.seed(t, "Kaju Katli", 10)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, pathf("/api/sweets/%d/purchase", item.ID), bytes.NewBufferString(`{"quantity":2}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+s.userToken)
		req.Header.Set(idempotencyHeader, "req-1")
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		return rec
	}

	if rec := send(); rec.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", rec.Code)
	}
	if rec := send(); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for replay, got %d", rec.Code)
	}
	if s.quantity(t, item.ID) != 8 {
		t.Errorf("expected stock 8, got %d", s.quantity(t, item.ID))
	}
}

func TestPurchase_ConcurrentLastUnit(t *testing.T) {
	s := newTestServer(t)
	k := 20
	item := s.seed(t, "Kaju Katli", k-1)

	var ok, rejected atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := s.do(http.MethodPost, pathf("/api/sweets/%d/purchase", item.ID), s.userToken, map[string]int{"quantity": 1})
			switch rec.Code {
			case http.StatusOK:
				ok.Add(1)
			case http.StatusBadRequest:
				rejected.Add(1)
			default:
				t.Errorf("unexpected status %d", rec.Code)
			}
		}()
	}
	wg.Wait()

	if ok.Load() != int32(k-1) || rejected.Load() != 1 {
		t.Errorf("expected %d successes and 1 rejection, got %d and %d", k-1, ok.Load(), rejected.Load())
	}
	if s.quantity(t, item.ID) != 0 {
		t.Errorf("expected stock 0, got %d", s.quantity(t, item.ID))
	}
}

func TestRestock(t *testing.T) {
	s := newTestServer(t)
	item := s.seed(t, "Kaju Katli", 7)
	path := pathf("/api/sweets/%d/restock", item.ID)

	for _, body := range []any{map[string]int{"quantity": 20}, nil, map[string]int{"quantity": -1}} {
		rec := s.do(http.MethodPost, path, s.userToken, body)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected 403 for regular user with body %v, got %d", body, rec.Code)
		}
	}
	if s.quantity(t, item.ID) != 7 {
		t.Fatalf("expected stock unchanged at 7, got %d", s.quantity(t, item.ID))
	}

	rec := s.do(http.MethodPost, path, s.adminToken, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without quantity, got %d", rec.Code)
	}
	if resp := decode[ErrorResponse](t, rec); resp.Error != "quantity must be a positive integer" {
		t.Errorf("unexpected error message: %q", resp.Error)
	}

	rec = s.do(http.MethodPost, path, s.adminToken, map[string]int{"quantity": 0})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero quantity, got %d", rec.Code)
	}

	rec = s.do(http.MethodPost, path, s.adminToken, map[string]int{"quantity": 20})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[RestockHTTPResponse](t, rec)
	if resp.Message != "Restock successful" || resp.Restocked != 20 || resp.Sweet.Quantity != 27 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestAuthEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/auth/register", "", RegisterHTTPRequest{Username: "newuser", Email: "new@example.com", Password: "password123"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[AuthHTTPResponse](t, rec)
	if resp.Token == "" || resp.User == nil || resp.User.Role != domain.RoleUser {
		t.Errorf("unexpected register response: %+v", resp)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("password")) {
		t.Error("response must not expose the password hash")
	}

	rec = s.do(http.MethodPost, "/api/auth/register", "", RegisterHTTPRequest{Username: "newuser", Email: "other@example.com", Password: "password123"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for duplicate user, got %d", rec.Code)
	}

	rec = s.do(http.MethodPost, "/api/auth/login", "", LoginHTTPRequest{Username: "newuser", Password: "password123"})
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for login, got %d", rec.Code)
	}

	rec = s.do(http.MethodPost, "/api/auth/login", "", LoginHTTPRequest{Username: "newuser", Password: "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad password, got %d", rec.Code)
	}
}

func TestRegister_Validation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name    string
		req     RegisterHTTPRequest
		message string
	}{
		{"display name email", RegisterHTTPRequest{Username: "bob", Email: "Bob <bob@example.com>", Password: "password123"}, "valid email required"},
		{"missing email", RegisterHTTPRequest{Username: "bob", Password: "password123"}, "email is required"},
		{"short username", RegisterHTTPRequest{Username: "bo", Email: "bob@example.com", Password: "password123"}, "username must be at least 3 characters"},
		{"short password", RegisterHTTPRequest{Username: "bob", Email: "bob@example.com", Password: "12345"}, "password must be at least 6 characters"},
		{"password over 72 bytes", RegisterHTTPRequest{Username: "bob", Email: "bob@example.com", Password: strings.Repeat("p", 80)}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/auth/register", "", tt.req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
			resp := decode[ErrorResponse](t, rec)
			if resp.Code != "invalid_input" {
				t.Errorf("expected code invalid_input, got %s", resp.Code)
			}
			if tt.message != "" && resp.Error != tt.message {
				t.Errorf("expected message %q, got %q", tt.message, resp.Error)
			}
		})
	}
}

func TestCatalogEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/sweets", "", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "[]" {
		t.Fatalf("expected empty list, got %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(http.MethodPost, "/api/sweets", "", map[string]any{"name": "Jalebi", "category": "Indian", "price": 1.5})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = s.do(http.MethodPost, "/api/sweets", s.userToken, map[string]any{"name": "Jalebi", "category": "Indian", "quantity": 12})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without price, got %d", rec.Code)
	}

	rec = s.do(http.MethodPost, "/api/sweets", s.userToken, map[string]any{"name": "Jalebi", "category": "Indian", "price": 1.5, "quantity": 12})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decode[domain.StockItem](t, rec)
	if !created.Price.Equal(decimal.RequireFromString("1.5")) || created.Quantity != 12 {
		t.Errorf("unexpected created item: %+v", created)
	}

	s.seed(t, "Chocolate Truffle", 5)

	rec = s.do(http.MethodGet, "/api/sweets/search?category=indian&maxPrice=2", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	found := decode[[]domain.StockItem](t, rec)
	if len(found) != 1 || found[0].Name != "Jalebi" {
		t.Errorf("expected only Jalebi, got %+v", found)
	}

	rec = s.do(http.MethodGet, "/api/sweets/search?minPrice=cheap", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad minPrice, got %d", rec.Code)
	}

	rec = s.do(http.MethodPut, pathf("/api/sweets/%d", created.ID), s.userToken, map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty update, got %d", rec.Code)
	}

	rec = s.do(http.MethodPut, pathf("/api/sweets/%d", created.ID), s.userToken, map[string]any{"price": "1.75"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for update, got %d: %s", rec.Code, rec.Body.String())
	}
	updated := decode[domain.StockItem](t, rec)
	if !updated.Price.Equal(decimal.RequireFromString("1.75")) || updated.Name != "Jalebi" {
		t.Errorf("unexpected updated item: %+v", updated)
	}

	rec = s.do(http.MethodGet, pathf("/api/sweets/%d", created.ID), "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for get, got %d", rec.Code)
	}

	rec = s.do(http.MethodDelete, pathf("/api/sweets/%d", created.ID), s.userToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for user delete, got %d", rec.Code)
	}

	rec = s.do(http.MethodDelete, pathf("/api/sweets/%d", created.ID), s.adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for admin delete, got %d", rec.Code)
	}

	rec = s.do(http.MethodGet, pathf("/api/sweets/%d", created.ID), "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestListMovements(t *testing.T) {
	s := newTestServer(t)
	item := s.seed(t, "Kaju Katli", 10)

	s.do(http.MethodPost, pathf("/api/sweets/%d/purchase", item.ID), s.userToken, map[string]int{"quantity": 3})
	s.do(http.MethodPost, pathf("/api/sweets/%d/restock", item.ID), s.adminToken, map[string]int{"quantity": 5})

	s.drain()

	rec := s.do(http.MethodGet, pathf("/api/sweets/%d/movements", item.ID), s.userToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for regular user, got %d", rec.Code)
	}

	rec = s.do(http.MethodGet, "/api/sweets/999/movements", s.adminToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown item, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = s.do(http.MethodGet, pathf("/api/sweets/%d/movements?limit=10", item.ID), s.adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	movements := decode[[]domain.StockMovement](t, rec)
	if len(movements) != 2 {
		t.Fatalf("expected 2 movements, got %d", len(movements))
	}
	if movements[0].Kind != domain.MovementRestock || movements[0].QuantityAfter != 12 {
		t.Errorf("expected newest movement to be the restock, got %+v", movements[0])
	}
	if movements[1].Kind != domain.MovementPurchase || movements[1].Delta != -3 {
		t.Errorf("expected purchase movement, got %+v", movements[1])
	}

	rec = s.do(http.MethodGet, pathf("/api/sweets/%d/movements?limit=0", item.ID), s.adminToken, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for limit 0, got %d", rec.Code)
	}
}
