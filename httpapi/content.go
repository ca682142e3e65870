package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ringhub.sh/ringhub/core/authn"
	"ringhub.sh/ringhub/core/content"
	"ringhub.sh/ringhub/core/db"
	"ringhub.sh/ringhub/core/httperr"
	"ringhub.sh/ringhub/core/metrics"
	"ringhub.sh/ringhub/core/pagination"
)

func (h *Handle) mountContent(r chi.Router) {
	r.Method(http.MethodPost, "/submit", instrument("/trp/submit", h.authn.Require(
		h.guards.RequireVerifiedActor(h.guards.RequireNotBlocked(h.ringLocatorFromBody)(http.HandlerFunc(h.submit))))))
	r.Method(http.MethodGet, "/rings/{slug}/feed", instrument("/trp/rings/{slug}/feed", h.authn.Optional(http.HandlerFunc(h.getFeed))))
	r.Method(http.MethodGet, "/rings/{slug}/queue", instrument("/trp/rings/{slug}/queue", h.authn.Require(
		h.guards.RequireVerifiedActor(h.guards.RequireMembership(h.ringBySlugLocator)(h.guards.RequirePermission("moderate_posts")(http.HandlerFunc(h.getQueue)))))))
	r.Method(http.MethodPost, "/curate", instrument("/trp/curate", h.authn.Require(h.guards.RequireVerifiedActor(http.HandlerFunc(h.curate)))))
	r.Method(http.MethodGet, "/my/feed", instrument("/trp/my/feed", h.authn.Require(h.guards.RequireVerifiedActor(http.HandlerFunc(h.myFeed)))))
}

func (h *Handle) submit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RingSlug string  `json:"ringSlug"`
		URI      string  `json:"uri"`
		Digest   string  `json:"digest"`
		Metadata *string `json:"metadata"`
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

	id := authn.FromContext(r.Context())
	isMember := isActiveMember(r.Context(), h.db, ring.ID, did)

	post, err := h.content.Submit(r.Context(), ring, did, id.IsAdmin, isMember, content.SubmitInput{
		URI: body.URI, Digest: body.Digest, Metadata: body.Metadata,
	})
	if err != nil {
		httperr.WriteErr(w, err)
		return
	}
	metrics.RecordPostSubmission(string(post.Status))
	writeJSON(w, http.StatusCreated, post)
}

func contentFilterFromQuery(r *http.Request) content.FeedFilter {
	q := r.URL.Query()
	f := content.FeedFilter{
		Scope:    content.Scope(q.Get("scope")),
		ActorDid: q.Get("actorDid"),
	}
	if status := q.Get("status"); status != "" {
		s := db.PostStatus(status)
		f.Status = &s
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
	if pinned := q.Get("pinned"); pinned != "" {
		v := pinned == "true"
		f.Pinned = &v
	}
	return f
}

func (h *Handle) getFeed(w http.ResponseWriter, r *http.Request) {
	ring, err := h.ringBySlugLocator(r)
	if err != nil {
		httperr.WriteErr(w, err)
		return
	}
	did := callerDid(r.Context())
	if err := h.requireVisible(r.Context(), ring, did); err != nil {
		httperr.WriteErr(w, err)
		return
	}

	f := contentFilterFromQuery(r)
	ringIDs, err := h.content.ResolveScopeRingIDs(r.Context(), ring, f.Scope)
	if err != nil {
		httperr.WriteErr(w, err)
		return
	}

	isMember := isActiveMember(r.Context(), h.db, ring.ID, did)
	page := pagination.FromRequest(r)
	posts, total, err := h.content.Feed(r.Context(), ringIDs, did != "", isMember, f, page)
	if err != nil {
		httperr.WriteErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"posts": posts, "total": total, "page": page})
}

func (h *Handle) getQueue(w http.ResponseWriter, r *http.Request) {
	ring, err := h.ringBySlugLocator(r)
	if err != nil {
		httperr.WriteErr(w, err)
		return
	}
	page := pagination.FromRequest(r)
	posts, err := h.content.Queue(r.Context(), ring.ID, page)
	if err != nil {
		httperr.WriteErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"posts": posts, "page": page})
}

func (h *Handle) curate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PostID string               `json:"postId"`
		Action content.CurateAction `json:"action"`
		Reason string               `json:"reason"`
	}
	if err := decodeJSON(r, &body); err != nil {
		httperr.WriteErr(w, err)
		return
	}

	post, err := db.GetPostRefByID(r.Context(), h.db, body.PostID)
	if err != nil {
		httperr.WriteErr(w, notFoundOrErr(err))
		return
	}

	did := callerDid(r.Context())

	var result *content.CurateResult
	if did == post.ActorDid {
		result, err = h.content.CurateAsAuthor(r.Context(), did, post, body.Action, body.Reason)
	} else {
		has, permErr := h.enforcer.HasPermission(post.RingID, did, "moderate_posts")
		if permErr != nil {
			httperr.WriteErr(w, httperr.Internal("Internal", httperr.WithError(permErr)))
			return
		}
		if !has {
			httperr.WriteErr(w, httperr.Forbidden("MissingPermission", httperr.WithMessage("moderate_posts required")))
			return
		}
		result, err = h.content.CurateAsModerator(r.Context(), did, post, body.Action, body.Reason)
	}
	if err != nil {
		httperr.WriteErr(w, err)
		return
	}
	metrics.RecordCuration(string(body.Action))
	writeJSON(w, http.StatusOK, result)
}

func (h *Handle) myFeed(w http.ResponseWriter, r *http.Request) {
	did := callerDid(r.Context())
	memberships, err := db.ListMemberships(r.Context(), h.db, db.FilterEq("actor_did", did), db.FilterEq("status", db.MembershipActive))
	if err != nil {
		httperr.WriteErr(w, err)
		return
	}
	ringIDs := make([]string, 0, len(memberships))
	for _, m := range memberships {
		ringIDs = append(ringIDs, m.RingID)
	}
	if len(ringIDs) == 0 {
		writeJSON(w, http.StatusOK, map[string]interface{}{"posts": []interface{}{}, "total": 0})
		return
	}
	page := pagination.FromRequest(r)
	posts, total, err := h.content.Feed(r.Context(), ringIDs, true, true, contentFilterFromQuery(r), page)
	if err != nil {
		httperr.WriteErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"posts": posts, "total": total, "page": page})
}
