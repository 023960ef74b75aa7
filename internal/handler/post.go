package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/sakif/geosocial/internal/apperror"
	"github.com/sakif/geosocial/internal/auth"
	"github.com/sakif/geosocial/internal/model"
	"github.com/sakif/geosocial/internal/repository"
	"github.com/sakif/geosocial/internal/service"
)

const maxBodyBytes = 1 << 20

// PostHandler serves the JSON posts API. Routes are mounted behind
// Guard.RequireAPISession.
type PostHandler struct {
	posts    *service.PostService
	markdown goldmark.Markdown
	logger   *slog.Logger
}

func NewPostHandler(posts *service.PostService, logger *slog.Logger) *PostHandler {
	return &PostHandler{
		posts: posts,
		// Raw HTML in descriptions is dropped (goldmark's default).
		markdown: goldmark.New(goldmark.WithExtensions(extension.Linkify, extension.Strikethrough)),
		logger:   logger,
	}
}

// postResponse is a post plus its description rendered from Markdown.
type postResponse struct {
	model.Post
	DescriptionHTML string   `json:"descriptionHtml"`
	DistanceKm      *float64 `json:"distanceKm,omitempty"`
}

func (h *PostHandler) present(p model.Post) postResponse {
	var buf bytes.Buffer
	if err := h.markdown.Convert([]byte(p.Description), &buf); err != nil {
		h.logger.Warn("markdown conversion failed", slog.Int64("postID", p.ID), slog.String("error", err.Error()))
		buf.Reset()
	}
	return postResponse{Post: p, DescriptionHTML: buf.String()}
}

// HandleList returns the caller's posts, newest first.
//
// HTTP: GET /api/users/{id}/posts?limit=&offset=
func (h *PostHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.IdentityFromContext(r.Context())

	opts := repository.ListOptions{}
	var err error
	if opts.Limit, err = intParam(r, "limit"); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if opts.Offset, err = intParam(r, "offset"); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	posts, err := h.posts.List(r.Context(), caller, chi.URLParam(r, "id"), opts)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	out := make([]postResponse, 0, len(posts))
	for _, p := range posts {
		out = append(out, h.present(p))
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleCreate stores a new post.
//
// HTTP: POST /api/users/{id}/posts
// Body: {"title","description","location":{"lat","lng"},"date","participants","accessGroups","picture"}
func (h *PostHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.IdentityFromContext(r.Context())

	var in service.PostInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	post, err := h.posts.Create(r.Context(), caller, chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.present(*post))
}

// HTTP: GET /api/users/{id}/posts/{postID}
func (h *PostHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.IdentityFromContext(r.Context())

	post, err := h.posts.Get(r.Context(), caller, chi.URLParam(r, "id"), chi.URLParam(r, "postID"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.present(*post))
}

// HandleUpdate applies the fields present in the body.
//
// HTTP: PATCH /api/users/{id}/posts/{postID}
func (h *PostHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.IdentityFromContext(r.Context())

	var patch service.PostPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	post, err := h.posts.Update(r.Context(), caller, chi.URLParam(r, "id"), chi.URLParam(r, "postID"), patch)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.present(*post))
}

// HTTP: DELETE /api/users/{id}/posts/{postID}
func (h *PostHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.IdentityFromContext(r.Context())

	if err := h.posts.Delete(r.Context(), caller, chi.URLParam(r, "id"), chi.URLParam(r, "postID")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleNearby searches posts around a point.
//
// HTTP: GET /api/posts/nearby?lat=&lng=&radius=&limit=
func (h *PostHandler) HandleNearby(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.IdentityFromContext(r.Context())

	var q service.NearbyQuery
	var err error
	if q.Lat, err = floatParam(r, "lat", true); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if q.Lng, err = floatParam(r, "lng", true); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if q.RadiusKm, err = floatParam(r, "radius", false); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if q.Limit, err = intParam(r, "limit"); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	hits, err := h.posts.Nearby(r.Context(), caller, q)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	out := make([]postResponse, 0, len(hits))
	for _, hit := range hits {
		resp := h.present(hit.Post)
		d := hit.DistanceKm
		resp.DistanceKm = &d
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}

// decodeJSON reads a single JSON object, rejecting unknown fields and
// bodies over maxBodyBytes.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperror.ValidationFailed("body", "Request body too large")
		}
		return apperror.ValidationFailed("body", "Invalid JSON body: "+err.Error())
	}
	return nil
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperror.ValidationFailed(name, name+" must be an integer")
	}
	return n, nil
}

func floatParam(r *http.Request, name string, required bool) (float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		if required {
			return 0, apperror.ValidationFailed(name, name+" is required")
		}
		return 0, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, apperror.ValidationFailed(name, name+" must be a number")
	}
	return f, nil
}
