// Package handler contains the HTTP handlers. Page handlers answer with
// rendered HTML or a redirect carrying a message cookie; API handlers
// answer with JSON. Business rules live in the service package.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/geosocial/internal/auth"
	"github.com/sakif/geosocial/internal/model"
	"github.com/sakif/geosocial/internal/repository"
)

// View renders a named page. web.Renderer implements it.
type View interface {
	Render(w http.ResponseWriter, status int, name string, data any) error
}

// PageData is what every page template receives.
type PageData struct {
	Title    string
	Message  string
	Identity *auth.Identity
	User     *model.User
	GitHub   bool
}

// HomeHandler serves the landing page.
type HomeHandler struct {
	pages  *Pages
	github bool
}

func NewHomeHandler(pages *Pages, githubEnabled bool) *HomeHandler {
	return &HomeHandler{pages: pages, github: githubEnabled}
}

// HandleHome renders the landing page. Mounted behind OptionalSession so a
// signed-in visitor gets a link to their profile.
func (h *HomeHandler) HandleHome(w http.ResponseWriter, r *http.Request) {
	data := PageData{Title: "Geosocial", GitHub: h.github}
	if id, ok := auth.IdentityFromContext(r.Context()); ok {
		data.Identity = &id
	}
	h.pages.render(w, r, http.StatusOK, "index", data)
}

type HealthHandler struct {
	store  repository.Pinger
	logger *slog.Logger
}

func NewHealthHandler(store repository.Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{store: store, logger: logger}
}

// HandleHealth answers 200 when the store responds within two seconds.
//
// HTTP: GET /healthz
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("health check failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
