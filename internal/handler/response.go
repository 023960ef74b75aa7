package handler

// Response helpers. JSON routes answer errors with one shape:
//
//	{"error": "not_found", "message": "Post not found"}
//
// Page routes never render an error body: they set a message cookie and
// redirect (see redirectWithMessage).

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/geosocial/internal/apperror"
	"github.com/sakif/geosocial/internal/session"
)

// GenericErrorMessage replaces store error text on pages when error
// exposure is turned off.
const GenericErrorMessage = "Something went wrong"

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps a service error to a status code. Errors outside the
// apperror taxonomy are logged and answered with a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status, errorType := statusFor(err)
		writeJSON(w, status, ErrorResponse{Error: errorType, Message: appErr.Message})
		return
	}

	logger.Error("request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// Pages turns errors into flash messages and redirects.
type Pages struct {
	cookies *session.Cookies
	view    View
	logger  *slog.Logger
	// exposeErrors shows store error text to the user instead of
	// GenericErrorMessage.
	exposeErrors bool
}

func NewPages(cookies *session.Cookies, view View, logger *slog.Logger, exposeErrors bool) *Pages {
	return &Pages{cookies: cookies, view: view, logger: logger, exposeErrors: exposeErrors}
}

// messageFor returns the text shown to the user for err.
func (p *Pages) messageFor(r *http.Request, err error) string {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}

	p.logger.Error("request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	if p.exposeErrors {
		return err.Error()
	}
	return GenericErrorMessage
}

func (p *Pages) redirectWithMessage(w http.ResponseWriter, r *http.Request, to, message string) {
	p.cookies.SetMessage(w, message)
	http.Redirect(w, r, to, http.StatusSeeOther)
}

func (p *Pages) fail(w http.ResponseWriter, r *http.Request, to string, err error) {
	p.redirectWithMessage(w, r, to, p.messageFor(r, err))
}

// render writes a page, popping any pending message into data.
func (p *Pages) render(w http.ResponseWriter, r *http.Request, status int, name string, data PageData) {
	data.Message = p.cookies.PopMessage(w, r)
	if err := p.view.Render(w, status, name, data); err != nil {
		p.logger.Error("failed to render template",
			slog.String("template", name),
			slog.String("error", err.Error()),
		)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
