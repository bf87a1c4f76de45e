package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/ziswaf/internal/allocation"
	ruledomain "github.com/smallbiznis/ziswaf/internal/allocationrule/domain"
	auditdomain "github.com/smallbiznis/ziswaf/internal/audit/domain"
	cascadedomain "github.com/smallbiznis/ziswaf/internal/cascade/domain"
	collectiondomain "github.com/smallbiznis/ziswaf/internal/collection/domain"
	distributiondomain "github.com/smallbiznis/ziswaf/internal/distribution/domain"
	"github.com/smallbiznis/ziswaf/internal/events"
	"github.com/smallbiznis/ziswaf/internal/fund"
	"github.com/smallbiznis/ziswaf/internal/period"
	recapdomain "github.com/smallbiznis/ziswaf/internal/recap/domain"
	"github.com/smallbiznis/ziswaf/internal/report"
	unitdomain "github.com/smallbiznis/ziswaf/internal/unit/domain"
	"gorm.io/gorm"
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

var (
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
	ErrTooManyRequests    = errors.New("too_many_requests")
)

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

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
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

// classifyErrorForLog feeds the request logger the same type and code the
// client sees.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	if status >= http.StatusInternalServerError {
		return payload.Type, payload.Type
	}
	return payload.Type, code
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

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ruledomain.ErrConfigurationMissing):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "allocation_configuration_incomplete",
			Message: "allocation configuration is incomplete for this fund type",
		}
	case errors.Is(err, allocation.ErrConsistencyViolation):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "allocation_consistency_violation",
			Message: "allocation parts do not add up to the total",
		}
	case errors.Is(err, report.ErrNoRows):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "report_has_no_rows",
			Message: "no recap rows match the report filter",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, ruledomain.ErrDuplicateRule),
		errors.Is(err, unitdomain.ErrDuplicateCode),
		errors.Is(err, cascadedomain.ErrNotDead),
		errors.Is(err, events.ErrNotDeleted),
		errors.Is(err, gorm.ErrDuplicatedKey):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflictMessage(err),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrTooManyRequests):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "too_many_requests",
			Message: "too many imports for this unit, retry later",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, ruledomain.ErrDuplicateRule):
		return "a rule already exists for this fund type and year"
	case errors.Is(err, unitdomain.ErrDuplicateCode):
		return "unit code already in use"
	case errors.Is(err, cascadedomain.ErrNotDead):
		return "task is not dead"
	case errors.Is(err, events.ErrNotDeleted):
		return "record is not deleted"
	default:
		return "conflict"
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
	case errors.Is(err, ErrInvalidRequest):
		return true
	case isRuleValidationError(err),
		isUnitValidationError(err),
		isCollectionValidationError(err),
		isDistributionValidationError(err),
		isRecapValidationError(err),
		isCascadeValidationError(err),
		isAuditValidationError(err),
		isFundValidationError(err):
		return true
	default:
		return false
	}
}

func isRuleValidationError(err error) bool {
	return errors.Is(err, ruledomain.ErrInvalidID) ||
		errors.Is(err, ruledomain.ErrInvalidEffectiveYear) ||
		errors.Is(err, ruledomain.ErrInvalidPercentage) ||
		errors.Is(err, ruledomain.ErrInvalidSplit)
}

func isUnitValidationError(err error) bool {
	return errors.Is(err, unitdomain.ErrInvalidID) ||
		errors.Is(err, unitdomain.ErrInvalidName) ||
		errors.Is(err, unitdomain.ErrInvalidCode) ||
		errors.Is(err, unitdomain.ErrInvalidRicePrice)
}

func isCollectionValidationError(err error) bool {
	return errors.Is(err, collectiondomain.ErrInvalidID) ||
		errors.Is(err, collectiondomain.ErrInvalidUnit) ||
		errors.Is(err, collectiondomain.ErrInvalidDate) ||
		errors.Is(err, collectiondomain.ErrInvalidAmount) ||
		errors.Is(err, collectiondomain.ErrInvalidRice) ||
		errors.Is(err, collectiondomain.ErrInvalidCount) ||
		errors.Is(err, collectiondomain.ErrEmptyTransaction) ||
		errors.Is(err, collectiondomain.ErrInvalidImport)
}

func isDistributionValidationError(err error) bool {
	return errors.Is(err, distributiondomain.ErrInvalidID) ||
		errors.Is(err, distributiondomain.ErrInvalidUnit) ||
		errors.Is(err, distributiondomain.ErrInvalidDate) ||
		errors.Is(err, distributiondomain.ErrInvalidProgram) ||
		errors.Is(err, distributiondomain.ErrInvalidAmount) ||
		errors.Is(err, distributiondomain.ErrInvalidRice) ||
		errors.Is(err, distributiondomain.ErrInvalidCount) ||
		errors.Is(err, distributiondomain.ErrEmptyEvent)
}

func isRecapValidationError(err error) bool {
	return errors.Is(err, recapdomain.ErrInvalidUnit) ||
		errors.Is(err, recapdomain.ErrInvalidKind) ||
		errors.Is(err, recapdomain.ErrRangeTooWide) ||
		errors.Is(err, period.ErrInvalidGranularity) ||
		errors.Is(err, period.ErrInvalidPeriodKey)
}

func isCascadeValidationError(err error) bool {
	return errors.Is(err, cascadedomain.ErrInvalidRange) ||
		errors.Is(err, cascadedomain.ErrRangeTooWide) ||
		errors.Is(err, cascadedomain.ErrInvalidUnit) ||
		errors.Is(err, cascadedomain.ErrUnknownType)
}

func isAuditValidationError(err error) bool {
	return errors.Is(err, auditdomain.ErrInvalidRecordType) ||
		errors.Is(err, auditdomain.ErrInvalidRecordID) ||
		errors.Is(err, auditdomain.ErrInvalidUnitID) ||
		errors.Is(err, auditdomain.ErrInvalidAction) ||
		errors.Is(err, auditdomain.ErrInvalidPageToken) ||
		errors.Is(err, auditdomain.ErrInvalidTimeRange)
}

func isFundValidationError(err error) bool {
	return errors.Is(err, fund.ErrInvalidFundType) ||
		errors.Is(err, fund.ErrInvalidKind) ||
		errors.Is(err, fund.ErrInvalidAsnaf)
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ruledomain.ErrNotFound),
		errors.Is(err, unitdomain.ErrNotFound),
		errors.Is(err, collectiondomain.ErrNotFound),
		errors.Is(err, collectiondomain.ErrUnitNotFound),
		errors.Is(err, distributiondomain.ErrNotFound),
		errors.Is(err, distributiondomain.ErrUnitNotFound),
		errors.Is(err, recapdomain.ErrNotFound),
		errors.Is(err, cascadedomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		return rootCode(err)
	}
}

// rootCode returns the sentinel text when err wraps one, so wrapped
// errors like "row 3: invalid_amount" still yield "invalid_amount".
func rootCode(err error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, ": "); i >= 0 {
		return msg[i+2:]
	}
	return msg
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "remit_retain_must_total_100":
		return "remit and retain percentages must total 100"
	case "period_range_too_wide", "rebuild_range_too_wide":
		return "requested range is too wide"
	default:
		return "invalid value"
	}
}
