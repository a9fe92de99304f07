package errors

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// ErrorResponse is the JSON body of every API error
type ErrorResponse struct {
	Error     bool                   `json:"error"`
	Type      string                 `json:"type"`
	Message   string                 `json:"message"`
	Code      string                 `json:"code,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
}

// ErrorHandler renders errors as JSON responses. In debug mode internal
// messages and stack traces are included in the body.
type ErrorHandler struct {
	logger *zap.Logger
	debug  bool
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *zap.Logger, debug bool) *ErrorHandler {
	return &ErrorHandler{logger: logger, debug: debug}
}

// Handle writes err to w. AppErrors keep their status and message; anything
// else becomes a 500 with a generic message.
func (h *ErrorHandler) Handle(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	appErr := GetAppError(err)
	if appErr == nil {
		h.logger.Error("Unhandled error", append(requestFields(r, http.StatusInternalServerError), zap.Error(err))...)

		message := "An internal error occurred"
		if h.debug {
			message = err.Error()
		}
		h.write(w, http.StatusInternalServerError, h.response(r, string(ErrorTypeInternal), message))
		return
	}

	status := appErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	h.logAppError(r, appErr, status)

	resp := h.response(r, string(appErr.Type), appErr.Message)
	resp.Code = appErr.Code
	resp.Details = appErr.Details
	if h.debug && appErr.StackTrace != "" {
		details := make(map[string]interface{}, len(resp.Details)+1)
		for k, v := range resp.Details {
			details[k] = v
		}
		details["stack_trace"] = appErr.StackTrace
		resp.Details = details
	}
	h.write(w, status, resp)
}

// HandleStatus writes an error for a bare status, such as an unmatched route
func (h *ErrorHandler) HandleStatus(w http.ResponseWriter, r *http.Request, status int, message string) {
	h.logger.Warn("HTTP error", append(requestFields(r, status), zap.String("message", message))...)
	h.write(w, status, h.response(r, statusErrorType(status), message))
}

// NotFound renders unmatched routes
func (h *ErrorHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.HandleStatus(w, r, http.StatusNotFound, "route not found")
}

// MethodNotAllowed renders routes matched with the wrong method
func (h *ErrorHandler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.HandleStatus(w, r, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
}

// Recover turns a handler panic into an INTERNAL error response
func (h *ErrorHandler) Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			h.logger.Error("Handler panicked", zap.Any("panic", rec), zap.String("path", r.URL.Path), zap.Stack("stack"))
			h.Handle(w, r, NewInternalError(fmt.Sprintf("panic: %v", rec)))
		}()
		next.ServeHTTP(w, r)
	})
}

func (h *ErrorHandler) response(r *http.Request, errType, message string) ErrorResponse {
	return ErrorResponse{
		Error:     true,
		Type:      errType,
		Message:   message,
		RequestID: requestIDFrom(r),
		TraceID:   r.Header.Get("X-Amzn-Trace-Id"),
	}
}

func (h *ErrorHandler) logAppError(r *http.Request, err *AppError, status int) {
	fields := append(requestFields(r, status), zap.String("error_type", string(err.Type)))
	if err.Code != "" {
		fields = append(fields, zap.String("error_code", err.Code))
	}
	if err.Cause != nil {
		fields = append(fields, zap.Error(err.Cause))
	}
	if err.Details != nil {
		fields = append(fields, zap.Any("details", err.Details))
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error(err.Message, fields...)
	} else {
		h.logger.Warn(err.Message, fields...)
	}
}

func (h *ErrorHandler) write(w http.ResponseWriter, status int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Failed to encode error response", zap.Error(err))
	}
}

func requestFields(r *http.Request, status int) []zap.Field {
	return []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.String("request_id", requestIDFrom(r)),
	}
}

// requestIDFrom prefers the id assigned by the chi RequestID middleware
func requestIDFrom(r *http.Request) string {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return id
	}
	return r.Header.Get("X-Request-ID")
}

var statusErrorTypes = map[int]ErrorType{
	http.StatusBadRequest:         ErrorTypeValidation,
	http.StatusUnauthorized:       ErrorTypeUnauthorized,
	http.StatusForbidden:          ErrorTypeForbidden,
	http.StatusNotFound:           ErrorTypeNotFound,
	http.StatusMethodNotAllowed:   ErrorTypeValidation,
	http.StatusConflict:           ErrorTypeConflict,
	http.StatusTooManyRequests:    ErrorTypeRateLimit,
	http.StatusRequestTimeout:     ErrorTypeTimeout,
	http.StatusServiceUnavailable: ErrorTypeUnavailable,
	http.StatusBadGateway:         ErrorTypeExternal,
}

func statusErrorType(status int) string {
	if t, ok := statusErrorTypes[status]; ok {
		return string(t)
	}
	return string(ErrorTypeInternal)
}
