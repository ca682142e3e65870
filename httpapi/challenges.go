package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"ringhub.sh/ringhub/core/db"
	"ringhub.sh/ringhub/core/httperr"
)

func (h *Handle) mountChallenges(r chi.Router) {
	r.Method(http.MethodGet, "/rings/{slug}/challenges", instrument("/trp/rings/{slug}/challenges", h.authn.Optional(http.HandlerFunc(h.listChallenges))))
	r.Method(http.MethodPost, "/rings/{slug}/challenges", instrument("/trp/rings/{slug}/challenges", h.authn.Require(
		h.guards.RequireVerifiedActor(h.guards.RequireMembership(h.ringBySlugLocator)(h.guards.RequirePermission("manage_ring")(http.HandlerFunc(h.createChallenge)))))))
}

func (h *Handle) listChallenges(w http.ResponseWriter, r *http.Request) {
	ring, err := h.ringBySlugLocator(r)
	if err != nil {
		httperr.WriteErr(w, err)
		return
	}
	if err := h.requireVisible(r.Context(), ring, callerDid(r.Context())); err != nil {
		httperr.WriteErr(w, err)
		return
	}
	challenges, err := db.ListChallenges(r.Context(), h.db, ring.ID)
	if err != nil {
		httperr.WriteErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"challenges": challenges})
}

func (h *Handle) createChallenge(w http.ResponseWriter, r *http.Request) {
	ring, err := h.ringBySlugLocator(r)
	if err != nil {
		httperr.WriteErr(w, err)
		return
	}

	var body struct {
		Title     string     `json:"title"`
		Prompt    string     `json:"prompt"`
		ExpiresAt *time.Time `json:"expiresAt"`
		Metadata  *string    `json:"metadata"`
	}
	if err := decodeJSON(r, &body); err != nil {
		httperr.WriteErr(w, err)
		return
	}
	if body.Title == "" || body.Prompt == "" {
		httperr.WriteErr(w, httperr.Validation("MissingField", httperr.WithMessage("title and prompt are required")))
		return
	}

	challenge := &db.Challenge{
		ID:        uuid.NewString(),
		RingID:    ring.ID,
		Title:     body.Title,
		Prompt:    body.Prompt,
		CreatedBy: callerDid(r.Context()),
		CreatedAt: time.Now().UTC(),
		ExpiresAt: body.ExpiresAt,
		Active:    true,
		Metadata:  body.Metadata,
	}
	if err := db.InsertChallenge(r.Context(), h.db, challenge); err != nil {
		httperr.WriteErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, challenge)
}
