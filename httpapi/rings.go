package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	"ringhub.sh/ringhub/core/authn"
	"ringhub.sh/ringhub/core/db"
	"ringhub.sh/ringhub/core/httperr"
	"ringhub.sh/ringhub/core/metrics"
	"ringhub.sh/ringhub/core/pagination"
	"ringhub.sh/ringhub/core/rings"
)

func (h *Handle) mountPublic(r chi.Router) {
	r.Method(http.MethodGet, "/stats", instrument("/trp/stats", h.getStats))
	r.Method(http.MethodGet, "/root", instrument("/trp/root", h.getRoot))
	r.Method(http.MethodGet, "/trending/feed", instrument("/trp/trending/feed", h.getTrendingFeed))
}

func (h *Handle) mountRings(r chi.Router) {
	r.Method(http.MethodGet, "/rings", instrument("/trp/rings", h.authn.Optional(http.HandlerFunc(h.listRings))))
	r.Method(http.MethodGet, "/rings/trending", instrument("/trp/rings/trending", http.HandlerFunc(h.getTrending)))
	r.Method(http.MethodGet, "/rings/check-availability/{slug}", instrument("/trp/rings/check-availability/{slug}", http.HandlerFunc(h.checkAvailability)))
	r.Method(http.MethodPost, "/rings", instrument("/trp/rings", h.authn.Require(h.guards.RequireVerifiedActor(http.HandlerFunc(h.createRing)))))
	r.Method(http.MethodPost, "/fork", instrument("/trp/fork", h.authn.Require(h.guards.RequireVerifiedActor(http.HandlerFunc(h.forkRing)))))

	r.Method(http.MethodGet, "/rings/{slug}", instrument("/trp/rings/{slug}", h.authn.Optional(http.HandlerFunc(h.getRing))))
	r.Method(http.MethodGet, "/rings/{slug}/lineage", instrument("/trp/rings/{slug}/lineage", h.authn.Optional(http.HandlerFunc(h.getLineage))))
	r.Method(http.MethodGet, "/rings/{slug}/members", instrument("/trp/rings/{slug}/members", h.authn.Optional(http.HandlerFunc(h.listMembers))))
	r.Method(http.MethodGet, "/rings/{slug}/membership-info", instrument("/trp/rings/{slug}/membership-info", http.HandlerFunc(h.getMembershipInfo)))

	r.Method(http.MethodPut, "/rings/{slug}", instrument("/trp/rings/{slug}", h.authn.Require(
		h.guards.RequireVerifiedActor(h.guards.RequireMembership(h.ringBySlugLocator)(h.guards.RequirePermission("manage_ring")(http.HandlerFunc(h.updateRing)))))))
	r.Method(http.MethodDelete, "/rings/{slug}", instrument("/trp/rings/{slug}", h.authn.Require(
		h.guards.RequireVerifiedActor(h.guards.RequireMembership(h.ringBySlugLocator)(h.guards.RequirePermission("delete_ring")(http.HandlerFunc(h.deleteRing)))))))

	r.Method(http.MethodPut, "/rings/{slug}/members/{did}", instrument("/trp/rings/{slug}/members/{did}", h.authn.Require(
		h.guards.RequireVerifiedActor(h.guards.RequireMembership(h.ringBySlugLocator)(h.guards.RequirePermission("manage_members")(http.HandlerFunc(h.updateMemberRole)))))))
	r.Method(http.MethodDelete, "/rings/{slug}/members/{did}", instrument("/trp/rings/{slug}/members/{did}", h.authn.Require(
		h.guards.RequireVerifiedActor(http.HandlerFunc(h.removeMember)))))
	r.Method(http.MethodPost, "/rings/{slug}/invite", instrument("/trp/rings/{slug}/invite", h.authn.Require(
		h.guards.RequireVerifiedActor(h.guards.RequireMembership(h.ringBySlugLocator)(h.guards.RequirePermission("manage_members")(http.HandlerFunc(h.inviteMember)))))))
	r.Method(http.MethodPut, "/rings/{slug}/badge", instrument("/trp/rings/{slug}/badge", h.authn.Require(
		h.guards.RequireVerifiedActor(http.HandlerFunc(h.updateBadge)))))
}

func (h *Handle) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.rings.Stats(r.Context())
	if err != nil {
		httperr.WriteErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stats": stats,
		"summary": fmt.Sprintf("%s members across %s posts",
			humanize.Comma(int64(stats.MembershipsActive)), humanize.Comma(int64(stats.PostsAccepted))),
	})
}

func (h *Handle) getRoot(w http.ResponseWriter, r *http.Request) {
	ring, err := db.GetRingBySlug(r.Context(), h.db, h.rootSlug)
	if err != nil {
		httperr.WriteErr(w, notFoundOrErr(err))
		return
	}
	writeJSON(w, http.StatusOK, ring)
}

func (h *Handle) listRings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	did := callerDid(r.Context())
	page := pagination.FromRequest(r)

	// filters' element type is unexported in db, so it is built inline
	// and passed straight through rather than named in a helper's signature.
	filters := db.Filters()
	if search := q.Get("search"); search != "" {
		filters = append(filters, db.FilterLike("name", "%"+search+"%"))
	}
	if vis := q.Get("visibility"); vis != "" {
		filters = append(filters, db.FilterEq("visibility", db.Visibility(vis)))
	}
	if memberDid := q.Get("memberDid"); memberDid != "" && memberDid == did {
		memberships, err := db.ListMemberships(r.Context(), h.db, db.FilterEq("actor_did", memberDid), db.FilterEq("status", db.MembershipActive))
		if err != nil {
			httperr.WriteErr(w, err)
			return
		}
		ids := make([]string, 0, len(memberships))
		for _, m := range memberships {
			ids = append(ids, m.RingID)
		}
		if len(ids) == 0 {
			writeJSON(w, http.StatusOK, map[string]interface{}{"rings": []*db.Ring{}, "total": 0, "page": page})
			return
		}
		filters = append(filters, db.FilterIn("id", ids))
	}

	all, err := db.ListRings(r.Context(), h.db, filters, page.Limit, page.Offset)
	if err != nil {
		httperr.WriteErr(w, err)
		return
	}
	total, err := db.CountRings(r.Context(), h.db, filters...)
	if err != nil {
		httperr.WriteErr(w, err)
		return
	}

	visible := make([]*db.Ring, 0, len(all))
	for _, ring := range all {
		if ring.Visibility == db.VisibilityPrivate && !isActiveMember(r.Context(), h.db, ring.ID, did) {
			continue
		}
		visible = append(visible, ring)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rings": visible,
		"total": total,
		"page":  page,
	})
}

func (h *Handle) getTrending(w http.ResponseWriter, r *http.Request) {
	window := r.URL.Query().Get("timeWindow")
	if window == "" {
		window = "day"
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if cached := h.scheduler.Trending().Get(window); cached != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"rings": cached, "timeWindow": window})
		return
	}
	list, err := h.rings.Trending(r.Context(), window, limit)
	if err != nil {
		httperr.WriteErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rings": list, "timeWindow": window})
}

func (h *Handle) getTrendingFeed(w http.ResponseWriter, r *http.Request) {
	window := r.URL.Query().Get("timeWindow")
	if window == "" {
		window = "day"
	}
	cached := h.scheduler.Trending().Get(window)
	ringIDs := make([]string, 0, len(cached))
	for _, ring := range cached {
		ringIDs = append(ringIDs, ring.ID)
	}
	if len(ringIDs) == 0 {
		writeJSON(w, http.StatusOK, map[string]interface{}{"posts": []interface{}{}, "total": 0})
		return
	}
	page := pagination.FromRequest(r)
	posts, total, err := h.content.Feed(r.Context(), ringIDs, false, false, contentFilterFromQuery(r), page)
	if err != nil {
		httperr.WriteErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"posts": posts, "total": total, "page": page})
}

func (h *Handle) checkAvailability(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	available := rings.ValidSlug(slug)
	if available {
		taken, err := db.SlugExists(r.Context(), h.db, slug)
		if err != nil {
			httperr.WriteErr(w, err)
			return
		}
		available = !taken
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"slug": slug, "available": available})
}

type ringPayload struct {
	Slug                 string                 `json:"slug"`
	Name                 string                 `json:"name"`
	Description          *string                `json:"description"`
	ShortCode            *string                `json:"shortCode"`
	Visibility           db.Visibility          `json:"visibility"`
	JoinPolicy           db.JoinPolicy          `json:"joinPolicy"`
	PostPolicy           db.PostPolicy          `json:"postPolicy"`
	CuratorNote          *string                `json:"curatorNote"`
	BannerURL            *string                `json:"bannerUrl"`
	ThemeColor           *string                `json:"themeColor"`
	BadgeImageURL        *string                `json:"badgeImageUrl"`
	BadgeImageHighResURL *string                `json:"badgeImageHighResUrl"`
	Metadata             map[string]interface{} `json:"metadata"`
	Policies             *string                `json:"policies"`
	ParentSlug           string                 `json:"parentSlug"`
}

func (p ringPayload) toCreateInput() rings.CreateInput {
	return rings.CreateInput{
		Slug: p.Slug, Name: p.Name, Description: p.Description, ShortCode: p.ShortCode,
		Visibility: p.Visibility, JoinPolicy: p.JoinPolicy, PostPolicy: p.PostPolicy,
		CuratorNote: p.CuratorNote, BannerURL: p.BannerURL, ThemeColor: p.ThemeColor,
		BadgeImageURL: p.BadgeImageURL, BadgeImageHighResURL: p.BadgeImageHighResURL,
		Metadata: p.Metadata, Policies: p.Policies,
	}
}

func (h *Handle) createRing(w http.ResponseWriter, r *http.Request) {
	var p ringPayload
	if err := decodeJSON(r, &p); err != nil {
		httperr.WriteErr(w, err)
		return
	}
	did := callerDid(r.Context())
	in := p.toCreateInput()

	var ring *db.Ring
	var err error
	if p.ParentSlug != "" {
		parent, perr := db.GetRingBySlug(r.Context(), h.db, p.ParentSlug)
		if perr != nil {
			httperr.WriteErr(w, notFoundOrErr(perr))
			return
		}
		id := authn.FromContext(r.Context())
		ring, err = h.rings.Fork(r.Context(), did, id.IsAdmin, id.Trusted, parent, in)
		if err == nil {
			metrics.RecordRingCreated("fork")
		}
	} else {
		ring, err = h.rings.Create(r.Context(), did, in)
		if err == nil {
			metrics.RecordRingCreated("create")
		}
	}
	if err != nil {
		httperr.WriteErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ring)
}

func (h *Handle) forkRing(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ParentSlug string      `json:"parentSlug"`
		Ring       ringPayload `json:"ring"`
	}
	if err := decodeJSON(r, &body); err != nil {
		httperr.WriteErr(w, err)
		return
	}
	if body.ParentSlug == "" {
		httperr.WriteErr(w, httperr.Validation("MissingParentSlug"))
		return
	}
	parent, err := db.GetRingBySlug(r.Context(), h.db, body.ParentSlug)
	if err != nil {
		httperr.WriteErr(w, notFoundOrErr(err))
		return
	}

	did := callerDid(r.Context())
	id := authn.FromContext(r.Context())
	if err := h.requireVisible(r.Context(), parent, did); err != nil {
		httperr.WriteErr(w, err)
		return
	}

	in := body.Ring.toCreateInput()
	if in.Name == "" {
		in.Name = parent.Name
	}

	ring, err := h.rings.Fork(r.Context(), did, id.IsAdmin, id.Trusted, parent, in)
	if err != nil {
		httperr.WriteErr(w, err)
		return
	}
	metrics.RecordRingCreated("fork")
	writeJSON(w, http.StatusCreated, ring)
}

func (h *Handle) getRing(w http.ResponseWriter, r *http.Request) {
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
	writeJSON(w, http.StatusOK, ring)
}

func (h *Handle) getLineage(w http.ResponseWriter, r *http.Request) {
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
	lineage, err := h.rings.Lineage(r.Context(), ring, did)
	if err != nil {
		httperr.WriteErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lineage)
}

func (h *Handle) listMembers(w http.ResponseWriter, r *http.Request) {
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
	page := pagination.FromRequest(r)
	members, err := db.ListMemberships(r.Context(), h.db, db.FilterEq("ring_id", ring.ID), db.FilterEq("status", db.MembershipActive))
	if err != nil {
		httperr.WriteErr(w, err)
		return
	}
	total := len(members)
	members = paginateMemberships(members, page)
	writeJSON(w, http.StatusOK, map[string]interface{}{"members": members, "total": total, "page": page})
}

func paginateMemberships(all []*db.Membership, page pagination.Page) []*db.Membership {
	if page.Offset >= len(all) {
		return []*db.Membership{}
	}
	end := page.Offset + page.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[page.Offset:end]
}

func (h *Handle) getMembershipInfo(w http.ResponseWriter, r *http.Request) {
	ring, err := h.ringBySlugLocator(r)
	if err != nil {
		httperr.WriteErr(w, err)
		return
	}
	if ring.Visibility == db.VisibilityPrivate {
		httperr.WriteErr(w, httperr.NotFound("RingNotFound"))
		return
	}

	members, err := db.ListMemberships(r.Context(), h.db, db.FilterEq("ring_id", ring.ID), db.FilterEq("status", db.MembershipActive))
	if err != nil {
		httperr.WriteErr(w, err)
		return
	}

	moderators := []string{}
	for _, m := range members {
		if has, _ := h.enforcer.HasPermission(ring.ID, m.ActorDid, "moderate_posts"); has {
			moderators = append(moderators, m.ActorDid)
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"owner":       ring.OwnerDid,
		"moderators":  moderators,
		"memberCount": len(members),
		"joinPolicy":  ring.JoinPolicy,
		"visibility":  ring.Visibility,
	})
}

func (h *Handle) updateRing(w http.ResponseWriter, r *http.Request) {
	ring, err := h.ringBySlugLocator(r)
	if err != nil {
		httperr.WriteErr(w, err)
		return
	}
	var body struct {
		Name                 *string        `json:"name"`
		Description          *string        `json:"description"`
		ShortCode            *string        `json:"shortCode"`
		Visibility           *db.Visibility `json:"visibility"`
		JoinPolicy           *db.JoinPolicy `json:"joinPolicy"`
		PostPolicy           *db.PostPolicy `json:"postPolicy"`
		ParentSlug           *string        `json:"parentSlug"`
		CuratorNote          *string        `json:"curatorNote"`
		BannerURL            *string        `json:"bannerUrl"`
		ThemeColor           *string        `json:"themeColor"`
		BadgeImageURL        *string        `json:"badgeImageUrl"`
		BadgeImageHighResURL *string        `json:"badgeImageHighResUrl"`
		Metadata             *string        `json:"metadata"`
		Policies             *string        `json:"policies"`
		RegenerateBadges     bool           `json:"regenerateBadges"`
	}
	if err := decodeJSON(r, &body); err != nil {
		httperr.WriteErr(w, err)
		return
	}

	did := callerDid(r.Context())
	id := authn.FromContext(r.Context())
	isOwnerOrAdmin := did == ring.OwnerDid || (id != nil && id.IsAdmin)

	updated, err := h.rings.Update(r.Context(), ring, did, isOwnerOrAdmin, rings.UpdateInput{
		Name: body.Name, Description: body.Description, ShortCode: body.ShortCode,
		Visibility: body.Visibility, JoinPolicy: body.JoinPolicy, PostPolicy: body.PostPolicy,
		ParentSlug: body.ParentSlug, CuratorNote: body.CuratorNote, BannerURL: body.BannerURL,
		ThemeColor: body.ThemeColor, BadgeImageURL: body.BadgeImageURL, BadgeImageHighResURL: body.BadgeImageHighResURL,
		Metadata: body.Metadata, Policies: body.Policies, RegenerateBadges: body.RegenerateBadges,
	})
	if err != nil {
		httperr.WriteErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handle) deleteRing(w http.ResponseWriter, r *http.Request) {
	ring, err := h.ringBySlugLocator(r)
	if err != nil {
		httperr.WriteErr(w, err)
		return
	}
	if err := h.rings.Delete(r.Context(), ring, callerDid(r.Context())); err != nil {
		httperr.WriteErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handle) updateMemberRole(w http.ResponseWriter, r *http.Request) {
	ring, err := h.ringBySlugLocator(r)
	if err != nil {
		httperr.WriteErr(w, err)
		return
	}
	target := chi.URLParam(r, "did")
	var body struct {
		Role string `json:"role"`
	}
	if err := decodeJSON(r, &body); err != nil {
		httperr.WriteErr(w, err)
		return
	}
	if err := h.membership.UpdateRole(r.Context(), ring, callerDid(r.Context()), target, body.Role); err != nil {
		httperr.WriteErr(w, err)
		return
	}
	metrics.RecordMembershipEvent("role_updated")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handle) removeMember(w http.ResponseWriter, r *http.Request) {
	ring, err := h.ringBySlugLocator(r)
	if err != nil {
		httperr.WriteErr(w, err)
		return
	}
	target := chi.URLParam(r, "did")
	if err := h.membership.RemoveMember(r.Context(), ring, callerDid(r.Context()), target); err != nil {
		httperr.WriteErr(w, err)
		return
	}
	metrics.RecordMembershipEvent("removed")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handle) inviteMember(w http.ResponseWriter, r *http.Request) {
	ring, err := h.ringBySlugLocator(r)
	if err != nil {
		httperr.WriteErr(w, err)
		return
	}
	var body struct {
		InviteeDid string `json:"inviteeDid"`
		Message    string `json:"message"`
		TTLHours   int    `json:"ttlHours"`
	}
	if err := decodeJSON(r, &body); err != nil {
		httperr.WriteErr(w, err)
		return
	}
	var ttl time.Duration
	if body.TTLHours > 0 {
		ttl = time.Duration(body.TTLHours) * time.Hour
	}
	inv, err := h.membership.Invite(r.Context(), ring, callerDid(r.Context()), body.InviteeDid, body.Message, ttl)
	if err != nil {
		httperr.WriteErr(w, err)
		return
	}
	metrics.RecordMembershipEvent("invited")
	writeJSON(w, http.StatusCreated, inv)
}

func (h *Handle) updateBadge(w http.ResponseWriter, r *http.Request) {
	ring, err := h.ringBySlugLocator(r)
	if err != nil {
		httperr.WriteErr(w, err)
		return
	}
	did := callerDid(r.Context())
	if did != ring.OwnerDid {
		httperr.WriteErr(w, httperr.Forbidden("OwnerRequired"))
		return
	}
	var body struct {
		BadgeImageURL        *string `json:"badgeImageUrl"`
		BadgeImageHighResURL *string `json:"badgeImageHighResUrl"`
	}
	if err := decodeJSON(r, &body); err != nil {
		httperr.WriteErr(w, err)
		return
	}
	updated, err := h.rings.Update(r.Context(), ring, did, true, rings.UpdateInput{
		BadgeImageURL: body.BadgeImageURL, BadgeImageHighResURL: body.BadgeImageHighResURL, RegenerateBadges: true,
	})
	if err != nil {
		httperr.WriteErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
