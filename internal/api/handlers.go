package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/pal/internal/pipeline"
	"github.com/kalambet/pal/internal/profile"
	"github.com/kalambet/pal/internal/proxy"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	maxUploadSize      = 5 << 20 // 5MB
)

// Chatter runs one chat turn against the stored profile.
type Chatter interface {
	Chat(ctx context.Context, message string) (pipeline.Result, error)
}

// Deps holds what the HTTP handlers need.
type Deps struct {
	Profiles  *profile.Manager
	Assistant Chatter
	Page      http.Handler
	Logger    *slog.Logger
}

// NewHandler returns the HTTP API and page router.
func NewHandler(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recovery(logger))

	if deps.Page != nil {
		r.Method(http.MethodGet, "/", deps.Page)
	}
	r.Get("/health", handleHealth)
	r.Post("/upload", handleUpload(deps))
	r.Post("/chat", handleChat(deps))
	r.Get("/profile", handleGetProfile(deps))
	r.Post("/profile/update", handleUpdateProfile(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// profileData is the "data" value for p: null when the profile is empty.
func profileData(p *profile.Profile) any {
	if p.IsEmpty() {
		return nil
	}
	return p
}

type dataResponse struct {
	Message string `json:"message,omitempty"`
	Data    any    `json:"data"`
}

func handleUpload(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		defer r.Body.Close()

		file, header, err := r.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				httpError(w, http.StatusBadRequest, "file too large (max %d bytes)", maxUploadSize)
				return
			}
			httpError(w, http.StatusBadRequest, "no file provided")
			return
		}
		defer file.Close()

		if header.Filename == "" {
			httpError(w, http.StatusBadRequest, "no file selected")
			return
		}

		parse := parserFor(header.Filename)
		if parse == nil {
			httpError(w, http.StatusBadRequest, "unsupported file type %q: upload a .json, .yaml or .yml file", filepath.Ext(header.Filename))
			return
		}

		data, err := io.ReadAll(file)
		if err != nil {
			httpError(w, http.StatusBadRequest, "reading file: %v", err)
			return
		}

		uploaded, err := parse(data)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid profile file: %v", err)
			return
		}
		// The merged document is saved as JSON.
		if _, err := uploaded.MarshalJSON(); err != nil {
			httpError(w, http.StatusBadRequest, "invalid profile file: %v", err)
			return
		}

		merged, err := deps.Profiles.Merge(uploaded)
		if err != nil {
			slog.Error("failed to save uploaded profile", "error", err, "request_id", RequestIDFrom(r.Context()))
			httpError(w, http.StatusInternalServerError, "failed to save profile")
			return
		}

		slog.Info("profile uploaded", "file", header.Filename, "keys", uploaded.Len())
		writeJSON(w, http.StatusOK, dataResponse{
			Message: "Profile uploaded successfully",
			Data:    profileData(merged),
		})
	}
}

// parserFor picks a document parser by file extension, case-insensitively.
// It returns nil for unsupported extensions.
func parserFor(filename string) func([]byte) (*profile.Profile, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		return profile.ParseJSON
	case ".yaml", ".yml":
		return profile.ParseYAML
	default:
		return nil
	}
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Reply         string           `json:"reply"`
	MemoryUpdated bool             `json:"memory_updated,omitempty"`
	Memory        *profile.Profile `json:"memory,omitempty"`
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req chatRequest
		if err := decodeJSON(r.Body, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}

		res, err := deps.Assistant.Chat(r.Context(), req.Message)
		if err != nil {
			httpError(w, chatStatus(err), "%s", pipeline.Reason(err))
			return
		}

		resp := chatResponse{Reply: res.Reply}
		if res.MemoryUpdated {
			resp.MemoryUpdated = true
			resp.Memory = res.Profile
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// chatStatus maps a Chat error to an HTTP status.
func chatStatus(err error) int {
	if errors.Is(err, pipeline.ErrEmptyMessage) || errors.Is(err, pipeline.ErrNoProfile) {
		return http.StatusBadRequest
	}
	var unavailable *proxy.UnavailableError
	if errors.As(err, &unavailable) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func handleGetProfile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Profiles.Get()
		if err != nil {
			slog.Error("failed to load profile", "error", err, "request_id", RequestIDFrom(r.Context()))
			httpError(w, http.StatusInternalServerError, "failed to load profile")
			return
		}
		writeJSON(w, http.StatusOK, dataResponse{Data: profileData(p)})
	}
}

func handleUpdateProfile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		body, err := io.ReadAll(r.Body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "reading request body: %v", err)
			return
		}
		if len(strings.TrimSpace(string(body))) == 0 {
			httpError(w, http.StatusBadRequest, "no data provided")
			return
		}

		update, err := profile.ParseJSON(body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "request body must be a JSON object")
			return
		}
		if update.IsEmpty() {
			httpError(w, http.StatusBadRequest, "no data provided")
			return
		}

		merged, err := deps.Profiles.Merge(update)
		if err != nil {
			slog.Error("failed to save profile update", "error", err, "request_id", RequestIDFrom(r.Context()))
			httpError(w, http.StatusInternalServerError, "failed to save profile")
			return
		}

		writeJSON(w, http.StatusOK, dataResponse{
			Message: "Profile updated successfully",
			Data:    profileData(merged),
		})
	}
}
