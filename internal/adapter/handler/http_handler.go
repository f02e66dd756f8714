package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/sweet-shop/internal/core/domain"
	"github.com/rl1809/sweet-shop/internal/core/service"
	"github.com/rl1809/sweet-shop/internal/port"
)

const (
	idempotencyHeader     = "Idempotency-Key"
	defaultMovementsLimit = 50
	maxMovementsLimit     = 500
)

type HTTPHandler struct {
	ledger  *service.InventoryLedger
	catalog *service.CatalogService
	auth    *service.AuthService
	journal port.JournalRepository
	logger  *zap.Logger
}

type RegisterHTTPRequest struct {
	Username string `json:"username" binding:"required,min=3"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

type LoginHTTPRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type AuthHTTPResponse struct {
	Message string       `json:"message"`
	Token   string       `json:"token"`
	User    *domain.User `json:"user"`
}

type CreateSweetHTTPRequest struct {
	Name     string           `json:"name"`
	Category string           `json:"category"`
	Price    *decimal.Decimal `json:"price"`
	Quantity *int             `json:"quantity"`
	Image    string           `json:"image"`
}

type UpdateSweetHTTPRequest struct {
	Name     *string          `json:"name"`
	Category *string          `json:"category"`
	Price    *decimal.Decimal `json:"price"`
	Quantity *int             `json:"quantity"`
	Image    *string          `json:"image"`
}

type PurchaseHTTPRequest struct {
	Quantity *int `json:"quantity" binding:"omitempty,min=1"`
}

type RestockHTTPRequest struct {
	Quantity *int `json:"quantity" binding:"required,min=1"`
}

type PurchaseHTTPResponse struct {
	Message   string           `json:"message"`
	Sweet     domain.StockItem `json:"sweet"`
	Purchased int              `json:"purchased"`
}

type RestockHTTPResponse struct {
	Message   string           `json:"message"`
	Sweet     domain.StockItem `json:"sweet"`
	Restocked int              `json:"restocked"`
}

type MessageHTTPResponse struct {
	Message string `json:"message"`
}

func NewHTTPHandler(ledger *service.InventoryLedger, catalog *service.CatalogService, auth *service.AuthService, journal port.JournalRepository, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{
		ledger:  ledger,
		catalog: catalog,
		auth:    auth,
		journal: journal,
		logger:  logger,
	}
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "OK", "message": "Sweet Shop API is running"})
}

func (h *HTTPHandler) APIInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "Sweet Shop API",
		"version": "1.0.0",
		"endpoints": gin.H{
			"public": []string{
				"GET /health - Health check",
				"GET /api - API information (this endpoint)",
				"POST /api/auth/register - Register new user",
				"POST /api/auth/login - Login user",
				"GET /api/sweets - Get all sweets",
				"GET /api/sweets/search - Search sweets",
				"GET /api/sweets/:id - Get one sweet",
			},
			"protected": []string{
				"POST /api/sweets - Add sweet (requires auth)",
				"PUT /api/sweets/:id - Update sweet (requires auth)",
				"DELETE /api/sweets/:id - Delete sweet (admin only)",
				"POST /api/sweets/:id/purchase - Purchase sweet (requires auth)",
				"POST /api/sweets/:id/restock - Restock sweet (admin only)",
				"GET /api/sweets/:id/movements - Stock movements (admin only)",
			},
			"note": "Protected endpoints require JWT token in Authorization header: Bearer <token>",
		},
	})
}

func (h *HTTPHandler) Register(c *gin.Context) {
	var req RegisterHTTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, bindingMessage(err))
		return
	}

	token, user, err := h.auth.Register(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, AuthHTTPResponse{Message: "User registered successfully", Token: token, User: user})
}

func (h *HTTPHandler) Login(c *gin.Context) {
	var req LoginHTTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, bindingMessage(err))
		return
	}

	token, user, err := h.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, AuthHTTPResponse{Message: "Login successful", Token: token, User: user})
}

func (h *HTTPHandler) ListSweets(c *gin.Context) {
	items, err := h.catalog.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(items))
}

func (h *HTTPHandler) SearchSweets(c *gin.Context) {
	filter := domain.SearchFilter{
		Name:     c.Query("name"),
		Category: c.Query("category"),
	}

	var err error
	if filter.MinPrice, err = queryDecimal(c, "minPrice"); err != nil {
		writeBadRequest(c, "minPrice must be a number")
		return
	}
	if filter.MaxPrice, err = queryDecimal(c, "maxPrice"); err != nil {
		writeBadRequest(c, "maxPrice must be a number")
		return
	}

	items, err := h.catalog.Search(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(items))
}

func (h *HTTPHandler) GetSweet(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	item, err := h.catalog.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *HTTPHandler) CreateSweet(c *gin.Context) {
	var req CreateSweetHTTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, "invalid request body")
		return
	}
	if req.Price == nil {
		writeBadRequest(c, "price is required")
		return
	}

	item := domain.NewItem{
		Name:     req.Name,
		Category: req.Category,
		Price:    *req.Price,
		Image:    req.Image,
	}
	if req.Quantity != nil {
		item.Quantity = *req.Quantity
	}

	created, err := h.catalog.Create(c.Request.Context(), item)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *HTTPHandler) UpdateSweet(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req UpdateSweetHTTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, "invalid request body")
		return
	}

	updated, err := h.catalog.Update(c.Request.Context(), id, domain.ItemPatch{
		Name:     req.Name,
		Category: req.Category,
		Price:    req.Price,
		Quantity: req.Quantity,
		Image:    req.Image,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *HTTPHandler) DeleteSweet(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.catalog.Delete(c.Request.Context(), callerFrom(c), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageHTTPResponse{Message: "Sweet deleted successfully"})
}

func (h *HTTPHandler) Purchase(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	// the body is optional, an empty one buys a single unit
	var req PurchaseHTTPRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(c, quantityMessage(err))
		return
	}
	quantity := domain.DefaultPurchaseQuantity
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	result, err := h.ledger.Purchase(c.Request.Context(), service.PurchaseRequest{
		Caller:         callerFrom(c),
		ItemID:         id,
		Quantity:       quantity,
		IdempotencyKey: c.GetHeader(idempotencyHeader),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, PurchaseHTTPResponse{
		Message:   "Purchase successful",
		Sweet:     result.Item,
		Purchased: result.Purchased,
	})
}

func (h *HTTPHandler) Restock(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if !callerFrom(c).IsAdmin() {
		writeError(c, domain.ErrUnauthorized)
		return
	}

	var req RestockHTTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, quantityMessage(err))
		return
	}

	result, err := h.ledger.Restock(c.Request.Context(), service.RestockRequest{
		Caller:   callerFrom(c),
		ItemID:   id,
		Quantity: *req.Quantity,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, RestockHTTPResponse{
		Message:   "Restock successful",
		Sweet:     result.Item,
		Restocked: result.Restocked,
	})
}

func (h *HTTPHandler) ListMovements(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if !callerFrom(c).IsAdmin() {
		writeError(c, domain.ErrUnauthorized)
		return
	}

	limit := defaultMovementsLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxMovementsLimit {
			writeBadRequest(c, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	if _, err := h.catalog.Get(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}

	movements, err := h.journal.ListMovements(c.Request.Context(), id, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(movements))
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		writeBadRequest(c, "invalid sweet id")
		return 0, false
	}
	return id, true
}

func queryDecimal(c *gin.Context, key string) (*decimal.Decimal, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// nonNil keeps empty results encoded as [] instead of null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
