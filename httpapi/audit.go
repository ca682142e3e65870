package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ringhub.sh/ringhub/core/audit"
	"ringhub.sh/ringhub/core/httperr"
	"ringhub.sh/ringhub/core/pagination"
)

func (h *Handle) mountAudit(r chi.Router) {
	r.Method(http.MethodGet, "/rings/{slug}/audit", instrument("/trp/rings/{slug}/audit", h.authn.Require(
		h.guards.RequireVerifiedActor(h.guards.RequireMembership(h.ringBySlugLocator)(h.guards.RequirePermission("view_audit_log")(http.HandlerFunc(h.getAudit)))))))
	r.Method(http.MethodGet, "/rings/{slug}/audit/stream", instrument("/trp/rings/{slug}/audit/stream", h.authn.Require(
		h.guards.RequireVerifiedActor(h.guards.RequireMembership(h.ringBySlugLocator)(h.guards.RequirePermission("view_audit_log")(http.HandlerFunc(h.auditStream)))))))
}

func (h *Handle) getAudit(w http.ResponseWriter, r *http.Request) {
	ring, err := h.ringBySlugLocator(r)
	if err != nil {
		httperr.WriteErr(w, err)
		return
	}

	q := r.URL.Query()
	f := audit.Filter{
		Action:    q.Get("action"),
		ActorDid:  q.Get("actorDid"),
		TargetDid: q.Get("targetDid"),
	}
	if since := q.Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			f.Since = &t
		}
	}
	if until := q.Get("until"); until != "" {
		if t, err := time.Parse(time.RFC3339, until); err == nil {
			f.Until = &t
		}
	}

	page := pagination.FromRequest(r)
	entries, total, err := h.audit.List(r.Context(), ring.ID, f, page)
	if err != nil {
		httperr.WriteErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries, "total": total, "page": page})
}
