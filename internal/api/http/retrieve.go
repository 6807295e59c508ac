package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/paulmach/orb"

	geoerrors "github.com/dservsys/geolimes/internal/errors"
	"github.com/dservsys/geolimes/internal/retrieval"
	"github.com/dservsys/geolimes/pkg/types"
)

// Retriever runs the configured query for a role.
type Retriever interface {
	Retrieve(ctx context.Context, role types.Role) (*retrieval.Outcome, error)
}

// Response formats.
const (
	FormatSummary = "summary"
	FormatGeoJSON = "geojson"
)

// RetrieveRequest selects a role and a response format.
type RetrieveRequest struct {
	Role   string `json:"role"`
	Format string `json:"format"`
}

// RetrieveResponse summarizes one retrieval.
type RetrieveResponse struct {
	SessionID   string    `json:"session_id"`
	Role        string    `json:"role"`
	Fingerprint string    `json:"fingerprint"`
	CacheHit    bool      `json:"cache_hit"`
	NoData      bool      `json:"no_data"`
	Rows        int       `json:"rows"`
	Columns     []string  `json:"columns"`
	Bound       []float64 `json:"bbox,omitempty"`
	ElapsedMs   int64     `json:"elapsed_ms"`
	RequestID   string    `json:"request_id"`
}

// RetrieveHandler handles POST /v1/retrieve requests.
type RetrieveHandler struct {
	retriever Retriever
}

// NewRetrieveHandler creates a new retrieve handler.
func NewRetrieveHandler(r Retriever) *RetrieveHandler {
	return &RetrieveHandler{retriever: r}
}

// ServeHTTP handles the retrieve HTTP request.
func (h *RetrieveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed", RequestID: requestID})
		return
	}

	var req RetrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{
			Error:     fmt.Sprintf("invalid request body: %v", err),
			RequestID: requestID,
		})
		return
	}

	role, err := types.ParseRole(req.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{
			Error:     err.Error(),
			Category:  string(geoerrors.ErrCategoryConfiguration),
			Code:      geoerrors.CodeInvalidRole,
			RequestID: requestID,
		})
		return
	}

	switch req.Format {
	case "", FormatSummary, FormatGeoJSON:
	default:
		writeError(w, http.StatusBadRequest, ErrorResponse{
			Error:     fmt.Sprintf("unknown format %q (must be summary or geojson)", req.Format),
			RequestID: requestID,
		})
		return
	}

	out, err := h.retriever.Retrieve(r.Context(), role)
	if err != nil {
		writeError(w, statusFor(err), ErrorResponse{
			Error:     err.Error(),
			Category:  string(geoerrors.GetCategory(err)),
			Code:      geoerrors.GetCode(err),
			RequestID: requestID,
		})
		return
	}

	if req.Format == FormatGeoJSON && out.Result != nil {
		writeJSON(w, http.StatusOK, out.Result.FeatureCollection())
		return
	}
	writeJSON(w, http.StatusOK, summarize(out, requestID))
}

func summarize(out *retrieval.Outcome, requestID string) RetrieveResponse {
	resp := RetrieveResponse{
		SessionID:   out.SessionID,
		Role:        out.Role.String(),
		Fingerprint: out.Fingerprint,
		CacheHit:    out.CacheHit,
		NoData:      out.NoData,
		Rows:        out.Rows(),
		Columns:     []string{},
		ElapsedMs:   out.Elapsed.Milliseconds(),
		RequestID:   requestID,
	}
	if out.Result != nil {
		resp.Columns = out.Result.Columns
		if out.Result.Len() > 0 {
			resp.Bound = boundBox(out.Result.Bound())
		}
	}
	return resp
}

func boundBox(b orb.Bound) []float64 {
	return []float64{b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y()}
}

// statusFor maps an error category onto an HTTP status.
func statusFor(err error) int {
	switch geoerrors.GetCategory(err) {
	case geoerrors.ErrCategoryConfiguration:
		return http.StatusBadRequest
	case geoerrors.ErrCategoryTransport, geoerrors.ErrCategoryDecode:
		return http.StatusBadGateway
	case geoerrors.ErrCategoryGeometry:
		return http.StatusUnprocessableEntity
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
