package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/servicepad/servicepad/internal/client"
	"github.com/servicepad/servicepad/internal/dispatch"
	"github.com/servicepad/servicepad/internal/document/builder"
	docdomain "github.com/servicepad/servicepad/internal/document/domain"
	"github.com/servicepad/servicepad/internal/document/draft"
	"github.com/servicepad/servicepad/internal/money"
	paydomain "github.com/servicepad/servicepad/internal/payment/domain"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	switch {
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case errors.Is(err, paydomain.ErrOverpayment):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "validation_error",
			Message: "payment exceeds the invoice balance",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case errors.Is(err, dispatch.ErrDeliveryFailed):
		return http.StatusBadGateway, errorPayload{
			Type:    "delivery_failed",
			Message: "the document was not delivered; its status is unchanged",
		}
	case isIntegrityError(err):
		return http.StatusInternalServerError, errorPayload{
			Type:    "integrity_violation",
			Message: err.Error(),
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, docdomain.ErrInvalidKind),
		errors.Is(err, docdomain.ErrInvalidNumber),
		errors.Is(err, docdomain.ErrInvalidTaxRate),
		errors.Is(err, docdomain.ErrInvalidItem),
		errors.Is(err, docdomain.ErrNoItems),
		errors.Is(err, docdomain.ErrNotEstimate),
		errors.Is(err, docdomain.ErrNotInvoice),
		errors.Is(err, docdomain.ErrNotSendable):
		return true
	case errors.Is(err, money.ErrInvalidQuantity),
		errors.Is(err, money.ErrInvalidPrice),
		errors.Is(err, money.ErrInvalidDiscount),
		errors.Is(err, money.ErrInvalidTaxRate):
		return true
	case errors.Is(err, paydomain.ErrInvalidAmount),
		errors.Is(err, paydomain.ErrInvalidMethod),
		errors.Is(err, paydomain.ErrNotRefundable):
		return true
	case errors.Is(err, dispatch.ErrInvalidChannel),
		errors.Is(err, dispatch.ErrInvalidRecipient):
		return true
	case errors.Is(err, builder.ErrUnknownUpsell),
		errors.Is(err, draft.ErrNumberMissing):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	return errors.Is(err, docdomain.ErrNotFound) ||
		errors.Is(err, paydomain.ErrNotFound) ||
		errors.Is(err, client.ErrNotFound)
}

func isConflictError(err error) bool {
	return errors.Is(err, docdomain.ErrConflict) ||
		errors.Is(err, docdomain.ErrAlreadyConverted) ||
		errors.Is(err, paydomain.ErrRequestInFlight) ||
		errors.Is(err, paydomain.ErrKeyReused) ||
		errors.Is(err, dispatch.ErrSendInFlight) ||
		errors.Is(err, draft.ErrSaveInFlight) ||
		errors.Is(err, builder.ErrAdvanceInFlight)
}

func isIntegrityError(err error) bool {
	return errors.Is(err, docdomain.ErrStaleTotals) ||
		errors.Is(err, paydomain.ErrLedgerMismatch)
}
