package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"ringhub.sh/ringhub/core/db"
	"ringhub.sh/ringhub/core/httperr"
)

func (h *Handle) mountAdmin(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return h.authn.Require(h.guards.RequireAdmin(next))
		})

		r.Method(http.MethodGet, "/flagged", instrument("/trp/admin/flagged", http.HandlerFunc(h.adminListFlagged)))
		r.Method(http.MethodPost, "/actors/{did}/clear-violations", instrument("/trp/admin/actors/{did}/clear-violations", http.HandlerFunc(h.adminClearViolations)))
		r.Method(http.MethodPost, "/actors/{did}/cooldown", instrument("/trp/admin/actors/{did}/cooldown", http.HandlerFunc(h.adminApplyCooldown)))
		r.Method(http.MethodPost, "/actors/{did}/admin", instrument("/trp/admin/actors/{did}/admin", http.HandlerFunc(h.adminSetAdmin)))
		r.Method(http.MethodGet, "/reputation/{did}", instrument("/trp/admin/reputation/{did}", http.HandlerFunc(h.adminGetReputation)))
		r.Method(http.MethodGet, "/rate-limit/config", instrument("/trp/admin/rate-limit/config", http.HandlerFunc(h.adminRateLimitConfig)))
	})
}

func (h *Handle) adminListFlagged(w http.ResponseWriter, r *http.Request) {
	flagged, err := h.limiter.ListFlagged(r.Context())
	if err != nil {
		httperr.WriteErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"actors": flagged})
}

func (h *Handle) adminClearViolations(w http.ResponseWriter, r *http.Request) {
	did := chi.URLParam(r, "did")
	if err := h.limiter.ClearViolations(r.Context(), did); err != nil {
		httperr.WriteErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handle) adminApplyCooldown(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Hours int `json:"hours"`
	}
	if err := decodeJSON(r, &body); err != nil {
		httperr.WriteErr(w, err)
		return
	}
	did := chi.URLParam(r, "did")
	if err := h.limiter.ApplyCooldown(r.Context(), did, body.Hours); err != nil {
		httperr.WriteErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handle) adminSetAdmin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Admin bool `json:"admin"`
	}
	if err := decodeJSON(r, &body); err != nil {
		httperr.WriteErr(w, err)
		return
	}
	did := chi.URLParam(r, "did")
	if err := h.limiter.SetAdmin(r.Context(), callerDid(r.Context()), did, body.Admin); err != nil {
		httperr.WriteErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handle) adminGetReputation(w http.ResponseWriter, r *http.Request) {
	did := chi.URLParam(r, "did")
	rep, err := db.GetReputation(r.Context(), h.db, did)
	if err != nil {
		httperr.WriteErr(w, notFoundOrErr(err))
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *Handle) adminRateLimitConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.limiter.Table())
}
