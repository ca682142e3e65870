package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ringhub.sh/ringhub/core/db"
	"ringhub.sh/ringhub/core/httperr"
	"ringhub.sh/ringhub/core/metrics"
	"ringhub.sh/ringhub/core/pagination"
)

func (h *Handle) mountMembership(r chi.Router) {
	r.Method(http.MethodPost, "/join", instrument("/trp/join", h.authn.Require(
		h.guards.RequireVerifiedActor(h.guards.RequireNotBlocked(h.ringLocatorFromBody)(http.HandlerFunc(h.join))))))
	r.Method(http.MethodPost, "/leave", instrument("/trp/leave", h.authn.Require(
		h.guards.RequireVerifiedActor(http.HandlerFunc(h.leave)))))
	r.Method(http.MethodGet, "/my/memberships", instrument("/trp/my/memberships", h.authn.Require(
		h.guards.RequireVerifiedActor(http.HandlerFunc(h.myMemberships)))))
}

type ringSlugBody struct {
	RingSlug string `json:"ringSlug"`
}

// ringLocatorFromBody resolves the target ring from a JSON body field,
// used by endpoints (join, submit) that don't carry the slug in the URL
// path. Other body fields are ignored here and the body is rewound for the
// handler.
func (h *Handle) ringLocatorFromBody(r *http.Request) (*db.Ring, error) {
	if r.Body == nil {
		return nil, httperr.Validation("MissingBody")
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, httperr.Validation("UnreadableBody", httperr.WithError(err))
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))
	var body ringSlugBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, httperr.Validation("MalformedBody", httperr.WithError(err))
	}
	if body.RingSlug == "" {
		return nil, httperr.Validation("MissingRingSlug")
	}
	ring, err := db.GetRingBySlug(r.Context(), h.db, body.RingSlug)
	if err != nil {
		return nil, notFoundOrErr(err)
	}
	return ring, nil
}

func (h *Handle) join(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RingSlug           string `json:"ringSlug"`
		ApplicationMessage string `json:"applicationMessage"`
	}
	if err := decodeJSON(r, &body); err != nil {
		httperr.WriteErr(w, err)
		return
	}
	ring, err := db.GetRingBySlug(r.Context(), h.db, body.RingSlug)
	if err != nil {
		httperr.WriteErr(w, notFoundOrErr(err))
		return
	}
	did := callerDid(r.Context())
	if err := h.requireVisible(r.Context(), ring, did); err != nil {
		httperr.WriteErr(w, err)
		return
	}

	result, err := h.membership.Join(r.Context(), ring, did, body.ApplicationMessage)
	if err != nil {
		httperr.WriteErr(w, err)
		return
	}
	if result.RequiresApproval {
		metrics.RecordMembershipEvent("applied")
	} else {
		metrics.RecordMembershipEvent("joined")
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handle) leave(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RingSlug    string  `json:"ringSlug"`
		LeaveReason *string `json:"leaveReason"`
	}
	if err := decodeJSON(r, &body); err != nil {
		httperr.WriteErr(w, err)
		return
	}
	ring, err := db.GetRingBySlug(r.Context(), h.db, body.RingSlug)
	if err != nil {
		httperr.WriteErr(w, notFoundOrErr(err))
		return
	}
	if err := h.membership.Leave(r.Context(), ring, callerDid(r.Context()), body.LeaveReason); err != nil {
		httperr.WriteErr(w, err)
		return
	}
	metrics.RecordMembershipEvent("left")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handle) myMemberships(w http.ResponseWriter, r *http.Request) {
	did := callerDid(r.Context())
	page := pagination.FromRequest(r)
	all, err := db.ListMemberships(r.Context(), h.db, db.FilterEq("actor_did", did))
	if err != nil {
		httperr.WriteErr(w, err)
		return
	}
	total := len(all)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"memberships": paginateMemberships(all, page),
		"total":       total,
		"page":        page,
	})
}
