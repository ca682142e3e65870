package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ringhub.sh/ringhub/core/authn"
	"ringhub.sh/ringhub/core/db"
	"ringhub.sh/ringhub/core/httperr"
	"ringhub.sh/ringhub/core/metrics"
)

func (h *Handle) mountBadges(r chi.Router) {
	r.Method(http.MethodGet, "/badges/{id}", instrument("/trp/badges/{id}", http.HandlerFunc(h.getBadge)))
	r.Method(http.MethodPost, "/badges/{id}/verify", instrument("/trp/badges/{id}/verify", http.HandlerFunc(h.verifyBadge)))
	r.Method(http.MethodGet, "/actors/{did}/badges", instrument("/trp/actors/{did}/badges", http.HandlerFunc(h.listActorBadges)))
	r.Method(http.MethodPost, "/actors/{did}/profile-updated", instrument("/trp/actors/{did}/profile-updated", h.authn.Require(
		h.guards.RequireVerifiedActor(http.HandlerFunc(h.profileUpdated)))))
}

// badgeRing resolves the ring a badge belongs to, via its membership, so
// visibility can be enforced before the credential document is exposed.
func (h *Handle) badgeRing(r *http.Request, badge *db.Badge) (*db.Ring, error) {
	m, err := db.GetMembershipByID(r.Context(), h.db, badge.MembershipID)
	if err != nil {
		return nil, notFoundOrErr(err)
	}
	ring, err := db.GetRingByID(r.Context(), h.db, m.RingID)
	if err != nil {
		return nil, notFoundOrErr(err)
	}
	return ring, nil
}

func (h *Handle) getBadge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	badge, err := db.GetBadge(r.Context(), h.db, id)
	if err != nil {
		httperr.WriteErr(w, notFoundOrErr(err))
		return
	}
	ring, err := h.badgeRing(r, badge)
	if err != nil {
		httperr.WriteErr(w, err)
		return
	}
	if err := h.requireVisible(r.Context(), ring, ""); err != nil {
		httperr.WriteErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, badge)
}

func (h *Handle) verifyBadge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	badge, err := db.GetBadge(r.Context(), h.db, id)
	if err != nil {
		httperr.WriteErr(w, notFoundOrErr(err))
		return
	}
	ring, err := h.badgeRing(r, badge)
	if err != nil {
		httperr.WriteErr(w, err)
		return
	}
	if err := h.requireVisible(r.Context(), ring, ""); err != nil {
		httperr.WriteErr(w, err)
		return
	}

	valid, cred, err := h.badges.Verify(r.Context(), id)
	if err != nil {
		httperr.WriteErr(w, err)
		return
	}
	metrics.RecordBadgeOperation("verify", map[bool]string{true: "valid", false: "invalid"}[valid])
	writeJSON(w, http.StatusOK, map[string]interface{}{"valid": valid, "credential": cred})
}

func (h *Handle) listActorBadges(w http.ResponseWriter, r *http.Request) {
	did := chi.URLParam(r, "did")
	badges, err := h.badges.ListByActor(r.Context(), did)
	if err != nil {
		httperr.WriteErr(w, err)
		return
	}

	visible := make([]*db.Badge, 0, len(badges))
	for _, b := range badges {
		ring, err := h.badgeRing(r, b)
		if err != nil {
			continue
		}
		if h.requireVisible(r.Context(), ring, "") == nil {
			visible = append(visible, b)
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"badges": visible})
}

// profileUpdated lets an actor announce a fresh profile document is
// available, invalidating the cached copy and kicking off a re-fetch in
// the background so the request returns immediately.
func (h *Handle) profileUpdated(w http.ResponseWriter, r *http.Request) {
	did := chi.URLParam(r, "did")
	caller := callerDid(r.Context())
	if caller != did {
		httperr.WriteErr(w, httperr.Forbidden("SelfOnly", httperr.WithMessage("can only announce your own profile")))
		return
	}

	id := authn.FromContext(r.Context())
	if err := h.limiter.Precheck(r.Context(), did, id.IsAdmin, id.Trusted, "profile_updated"); err != nil {
		httperr.WriteErr(w, err)
		return
	}

	h.profile.Invalidate(r.Context(), did)
	go func() {
		if _, err := h.profile.Ensure(context.Background(), did, false); err != nil {
			h.l.Warn("background profile refresh failed", "did", did, "err", err)
		}
	}()

	if err := h.limiter.Record(r.Context(), did, "profile_updated", nil); err != nil {
		h.l.Error("recording profile_updated rate limit event", "error", err)
	}

	w.WriteHeader(http.StatusAccepted)
}
