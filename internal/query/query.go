// Package query renders SPARQL queries for a dataset role and derives the
// fingerprint used as the cache key.
package query

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/dservsys/geolimes/internal/config"
	geoerrors "github.com/dservsys/geolimes/internal/errors"
	"github.com/dservsys/geolimes/pkg/types"
)

// Query is an immutable logical query for one role. The same configuration
// always renders to byte-identical text.
type Query struct {
	role     types.Role
	cfg      config.QueryConfig
	prefixes []config.Prefix

	fingerprint string
}

// New validates the configuration for role and builds a Query.
func New(role types.Role, cfg config.QueryConfig, prefixes []config.Prefix) (*Query, error) {
	if !role.Valid() {
		return nil, geoerrors.NewConfigurationError(geoerrors.CodeInvalidRole,
			fmt.Sprintf("wrong type %v specified (must be source or target)", role))
	}
	if err := validate(role, cfg); err != nil {
		return nil, err
	}
	if cfg.ShapeVar == "" {
		cfg.ShapeVar = "shape"
	}

	q := &Query{
		role:     role,
		cfg:      cfg,
		prefixes: append([]config.Prefix(nil), prefixes...),
	}
	q.fingerprint = Fingerprint(q.Render(cfg.Offset, cfg.Limit))
	return q, nil
}

// FromConfig builds the query for role from a full configuration.
func FromConfig(cfg *config.Config, role types.Role) (*Query, error) {
	qc, err := cfg.Query(role)
	if err != nil {
		return nil, geoerrors.NewConfigurationError(geoerrors.CodeInvalidRole, err.Error())
	}
	return New(role, qc, cfg.Prefixes)
}

func validate(role types.Role, cfg config.QueryConfig) error {
	missing := func(name string) error {
		return geoerrors.NewConfigurationError(geoerrors.CodeMissingParameter,
			fmt.Sprintf("%s.%s is required", role, name))
	}
	invalid := func(name string, v int) error {
		return geoerrors.NewConfigurationError(geoerrors.CodeInvalidParameter,
			fmt.Sprintf("%s.%s must not be negative, got %d", role, name, v))
	}

	if cfg.Endpoint == "" {
		return missing("endpoint")
	}
	// var keys the materialized result, so a raw query needs it too
	if cfg.Var == "" {
		return missing("var")
	}
	if cfg.RawQuery == "" {
		if cfg.Graph == "" {
			return missing("graph")
		}
		if cfg.Property == "" {
			return missing("property")
		}
	}
	if cfg.Offset < 0 {
		return invalid("offset", cfg.Offset)
	}
	if cfg.Limit < 0 {
		return invalid("limit", cfg.Limit)
	}
	if cfg.ChunkSize <= 0 {
		return geoerrors.NewConfigurationError(geoerrors.CodeInvalidParameter,
			fmt.Sprintf("%s.chunk_size must be positive, got %d", role, cfg.ChunkSize))
	}
	return nil
}

// Role returns the dataset role.
func (q *Query) Role() types.Role { return q.role }

// Endpoint returns the endpoint URL.
func (q *Query) Endpoint() string { return q.cfg.Endpoint }

// Offset returns the configured starting row.
func (q *Query) Offset() int { return q.cfg.Offset }

// Limit returns the configured absolute stop position (0 = unbounded).
func (q *Query) Limit() int { return q.cfg.Limit }

// ChunkSize returns the configured initial chunk size.
func (q *Query) ChunkSize() int { return q.cfg.ChunkSize }

// IndexColumn is the column that identifies a row in the result.
func (q *Query) IndexColumn() string { return q.cfg.Var }

// GeometryColumn is the column carrying WKT literals.
func (q *Query) GeometryColumn() string { return q.cfg.ShapeVar }

// IsRaw reports whether a verbatim override query is configured.
func (q *Query) IsRaw() bool { return q.cfg.RawQuery != "" }

// Fingerprint returns the cache key of the configured query.
func (q *Query) Fingerprint() string { return q.fingerprint }

// Text renders the configured (offset, limit) query, which is the text the
// fingerprint is computed from.
func (q *Query) Text() string { return q.Render(q.cfg.Offset, q.cfg.Limit) }

// Render builds the query text for a row window. Clauses are joined by a
// single space in a fixed order: prefixes, select, from, where, offset, limit.
// The limit clause is omitted when limit <= 0.
func (q *Query) Render(offset, limit int) string {
	if q.cfg.RawQuery != "" {
		return q.cfg.RawQuery
	}

	clauses := make([]string, 0, 6)
	if p := q.renderPrefixes(); p != "" {
		clauses = append(clauses, p)
	}
	clauses = append(clauses,
		"SELECT DISTINCT ?"+q.cfg.Var+" ?"+q.cfg.ShapeVar,
		"FROM <"+q.cfg.Graph+">",
		q.renderWhere(),
		"OFFSET "+strconv.Itoa(offset),
	)
	if limit > 0 {
		clauses = append(clauses, "LIMIT "+strconv.Itoa(limit))
	}
	return strings.Join(clauses, " ")
}

func (q *Query) renderPrefixes() string {
	parts := make([]string, 0, len(q.prefixes))
	for _, p := range q.prefixes {
		parts = append(parts, "PREFIX "+p.Label+": <"+p.Namespace+">")
	}
	return strings.Join(parts, " ")
}

func (q *Query) renderWhere() string {
	var b strings.Builder
	b.WriteString("WHERE {")
	if q.cfg.Restriction != "" {
		b.WriteString(q.cfg.Restriction)
		b.WriteString(" . ")
	}
	fmt.Fprintf(&b, "?%s %s ?%s .}", q.cfg.Var, q.cfg.Property, q.cfg.ShapeVar)
	return b.String()
}

// Fingerprint returns the lowercase hex md5 digest of a query text.
func Fingerprint(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}
