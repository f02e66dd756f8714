package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/rl1809/sweet-shop/internal/core/domain"
)

type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Available *int   `json:"available,omitempty"`
	Requested *int   `json:"requested,omitempty"`
}

// errorKinds is checked in order; the first match decides status and code.
var errorKinds = []struct {
	target error
	status int
	code   string
}{
	{domain.ErrInsufficientStock, http.StatusBadRequest, "insufficient_stock"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{domain.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
	{domain.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
	{domain.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{domain.ErrDuplicateRequest, http.StatusConflict, "duplicate_request"},
	{domain.ErrAlreadyExists, http.StatusBadRequest, "already_exists"},
	{domain.ErrStoreUnavailable, http.StatusServiceUnavailable, "store_unavailable"},
}

func errorResponse(err error) (int, ErrorResponse) {
	var stockErr *domain.InsufficientStockError
	if errors.As(err, &stockErr) {
		return http.StatusBadRequest, ErrorResponse{
			Error:     "Insufficient quantity available",
			Code:      "insufficient_stock",
			Available: &stockErr.Available,
			Requested: &stockErr.Requested,
		}
	}

	for _, kind := range errorKinds {
		if errors.Is(err, kind.target) {
			message := err.Error()
			if kind.status == http.StatusServiceUnavailable {
				message = "store unavailable"
			}
			return kind.status, ErrorResponse{Error: message, Code: kind.code}
		}
	}

	return http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: "internal"}
}

func writeError(c *gin.Context, err error) {
	status, body := errorResponse(err)
	c.AbortWithStatusJSON(status, body)
}

func writeBadRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: message, Code: "invalid_input"})
}

// bindingMessage turns the first failed binding rule into a client message.
func bindingMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request body"
	}

	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return "valid email required"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	default:
		return field + " is invalid"
	}
}

func quantityMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) || errors.Is(err, io.EOF) {
		return "quantity must be a positive integer"
	}
	return "invalid request body"
}
