// Package httpapi wires the domain engines to the chi router that serves
// the federation-facing HTTP surface, under the /trp prefix plus the
// unprefixed operational routes (health, metrics, docs).
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"ringhub.sh/ringhub/core/audit"
	"ringhub.sh/ringhub/core/authn"
	"ringhub.sh/ringhub/core/authz"
	"ringhub.sh/ringhub/core/badges"
	"ringhub.sh/ringhub/core/content"
	"ringhub.sh/ringhub/core/db"
	"ringhub.sh/ringhub/core/httperr"
	"ringhub.sh/ringhub/core/identity"
	"ringhub.sh/ringhub/core/log"
	"ringhub.sh/ringhub/core/membership"
	"ringhub.sh/ringhub/core/metrics"
	"ringhub.sh/ringhub/core/profile"
	"ringhub.sh/ringhub/core/ratelimit"
	"ringhub.sh/ringhub/core/rings"
	"ringhub.sh/ringhub/core/scheduler"
)

// Handle holds every dependency the HTTP surface needs. Its handler
// methods are plain methods on this struct, grouped one file per resource
// family.
type Handle struct {
	db          *db.DB
	enforcer    *authz.Enforcer
	guards      *authz.Guards
	authn       *authn.Authenticator
	identity    *identity.Resolver
	profile     *profile.Resolver
	badges      *badges.Service
	rings       *rings.Engine
	membership  *membership.Engine
	content     *content.Engine
	audit       *audit.Engine
	limiter     *ratelimit.Limiter
	scheduler   *scheduler.Scheduler
	corsOrigins []string
	rootSlug    string
	l           *slog.Logger
	notifier    *auditNotifier
}

// Deps bundles the already-constructed engines New takes, so a caller in
// cmd/ringhubd can build each piece in whatever order it needs without a
// sprawling positional constructor.
type Deps struct {
	Db          *db.DB
	Enforcer    *authz.Enforcer
	Authn       *authn.Authenticator
	Identity    *identity.Resolver
	Profile     *profile.Resolver
	Badges      *badges.Service
	Rings       *rings.Engine
	Membership  *membership.Engine
	Content     *content.Engine
	Audit       *audit.Engine
	Limiter     *ratelimit.Limiter
	Scheduler   *scheduler.Scheduler
	CorsOrigins []string
	RootSlug    string
	Logger      *slog.Logger
}

func New(d Deps) *Handle {
	return &Handle{
		db:          d.Db,
		enforcer:    d.Enforcer,
		guards:      authz.New(d.Db, d.Enforcer),
		authn:       d.Authn,
		identity:    d.Identity,
		profile:     d.Profile,
		badges:      d.Badges,
		rings:       d.Rings,
		membership:  d.Membership,
		content:     d.Content,
		audit:       d.Audit,
		limiter:     d.Limiter,
		scheduler:   d.Scheduler,
		corsOrigins: d.CorsOrigins,
		rootSlug:    d.RootSlug,
		l:           log.SubLogger(d.Logger, "httpapi"),
		notifier:    newAuditNotifier(),
	}
}

// Router builds the complete handler: unprefixed operational routes plus
// the /trp federation surface.
func (h *Handle) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Digest", "Date", "Signature"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", h.health)
	r.Get("/health/live", h.healthLive)
	r.Get("/health/ready", h.healthReady)
	r.Get("/docs", h.docs)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/trp", func(r chi.Router) {
		h.mountPublic(r)
		h.mountRings(r)
		h.mountMembership(r)
		h.mountContent(r)
		h.mountBadges(r)
		h.mountChallenges(r)
		h.mountAudit(r)
		h.mountAdmin(r)
	})

	return r
}

func instrument(pattern string, fn http.HandlerFunc) http.Handler {
	return metrics.InstrumentHandler(pattern, fn)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON decodes r's body into v and rewinds it afterward, so a
// RingLocator reading the body to find a ring slug doesn't prevent the
// handler from decoding the same body again.
func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return httperr.Validation("MissingBody")
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return httperr.Validation("UnreadableBody", httperr.WithError(err))
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return httperr.Validation("MalformedBody", httperr.WithError(err))
	}
	return nil
}

func (h *Handle) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handle) healthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "live"})
}

func (h *Handle) healthReady(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *Handle) docs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":        "Ring Hub",
		"description": "federation hub for webring-style communities",
		"prefix":      "/trp",
	})
}

// ringBySlugLocator resolves the {slug} URL param into a *db.Ring, the
// RingLocator shape authz.Guards expects.
func (h *Handle) ringBySlugLocator(r *http.Request) (*db.Ring, error) {
	slug := chi.URLParam(r, "slug")
	ring, err := db.GetRingBySlug(r.Context(), h.db, slug)
	if err != nil {
		return nil, notFoundOrErr(err)
	}
	return ring, nil
}

func notFoundOrErr(err error) error {
	if err == db.ErrNotFound {
		return httperr.NotFound("RingNotFound")
	}
	return err
}

// callerDid returns the authenticated DID attached to the request, or
// empty for an unauthenticated caller.
func callerDid(ctx context.Context) string {
	id := authn.FromContext(ctx)
	if id == nil {
		return ""
	}
	return id.Did
}
