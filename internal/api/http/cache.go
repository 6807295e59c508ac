package http

import (
	"context"
	"net/http"
	"time"

	"github.com/dservsys/geolimes/internal/cache"
	"github.com/dservsys/geolimes/internal/manifest"
)

// CacheInspector lists and verifies stored artifacts.
type CacheInspector interface {
	List(ctx context.Context) ([]cache.Artifact, error)
	Verify(ctx context.Context) (*manifest.ReconciliationReport, error)
}

// ArtifactView is the JSON form of one cache artifact.
type ArtifactView struct {
	Fingerprint string     `json:"fingerprint"`
	ObjectPath  string     `json:"object_path"`
	Role        string     `json:"role,omitempty"`
	RowCount    int64      `json:"row_count,omitempty"`
	SizeBytes   int64      `json:"size_bytes,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	Tracked     bool       `json:"tracked"`
}

// CacheHandler serves GET /v1/cache and POST /v1/cache/verify.
type CacheHandler struct {
	cache CacheInspector
}

// NewCacheHandler creates a new cache handler.
func NewCacheHandler(c CacheInspector) *CacheHandler {
	return &CacheHandler{cache: c}
}

// List handles GET /v1/cache.
func (h *CacheHandler) List(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed", RequestID: requestID})
		return
	}

	artifacts, err := h.cache.List(r.Context())
	if err != nil {
		writeError(w, statusFor(err), ErrorResponse{Error: err.Error(), RequestID: requestID})
		return
	}

	views := make([]ArtifactView, 0, len(artifacts))
	for _, a := range artifacts {
		v := ArtifactView{Fingerprint: a.Fingerprint, ObjectPath: a.ObjectPath}
		if e := a.Entry; e != nil {
			created := e.CreatedAt
			v.Tracked = true
			v.Role = e.Role.String()
			v.RowCount = e.RowCount
			v.SizeBytes = e.SizeBytes
			v.CreatedAt = &created
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"artifacts":  views,
		"request_id": requestID,
	})
}

// Verify handles POST /v1/cache/verify.
func (h *CacheHandler) Verify(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed", RequestID: requestID})
		return
	}

	report, err := h.cache.Verify(r.Context())
	if err != nil {
		writeError(w, statusFor(err), ErrorResponse{Error: err.Error(), RequestID: requestID})
		return
	}
	writeJSON(w, http.StatusOK, report)
}
