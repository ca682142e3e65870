// Package rings implements ring creation, forking, mutation, lineage
// traversal, trending, and global stats -- the ring engine at the center
// of the federation graph.
package rings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ringhub.sh/ringhub/core/authz"
	"ringhub.sh/ringhub/core/badges"
	"ringhub.sh/ringhub/core/db"
	"ringhub.sh/ringhub/core/httperr"
	"ringhub.sh/ringhub/core/ratelimit"
)

var (
	ErrInvalidSlug = errors.New("rings: invalid slug")
	ErrSlugTaken   = errors.New("rings: slug already taken")
)

var ownerPermissions = []string{"manage_ring", "manage_members", "manage_roles", "moderate_posts", "update_ring_info", "delete_ring", "view_audit_log"}
var memberPermissions = []string{"submit_posts", "view_content"}

type Engine struct {
	db       *db.DB
	enforcer *authz.Enforcer
	badges   *badges.Service
	limiter  *ratelimit.Limiter
	rootSlug string
	logger   *slog.Logger
	ranker   TrendingRanker
}

func New(database *db.DB, enforcer *authz.Enforcer, badgeSvc *badges.Service, limiter *ratelimit.Limiter, rootSlug string, logger *slog.Logger) *Engine {
	return &Engine{db: database, enforcer: enforcer, badges: badgeSvc, limiter: limiter, rootSlug: rootSlug, logger: logger, ranker: recencyRanker{}}
}

// TrendingRanker orders a window's candidate rings (already filtered to
// PUBLIC and recently updated). The default ranker trusts the recency
// order the query already imposes; a scored ranker can be swapped in with
// SetTrendingRanker without touching callers.
type TrendingRanker interface {
	Rank(ctx context.Context, candidates []*db.Ring) []*db.Ring
}

type recencyRanker struct{}

func (recencyRanker) Rank(ctx context.Context, candidates []*db.Ring) []*db.Ring {
	return candidates
}

// SetTrendingRanker overrides the trending ranker, e.g. with one that
// scores by join velocity instead of plain recency.
func (e *Engine) SetTrendingRanker(r TrendingRanker) {
	e.ranker = r
}

// CreateInput carries the caller-supplied fields for a new ring. Zero
// values fall back to the defaults noted per field.
type CreateInput struct {
	Slug                 string // empty derives from Name
	Name                 string
	Description          *string
	ShortCode            *string
	Visibility           db.Visibility // defaults to PUBLIC
	JoinPolicy           db.JoinPolicy // defaults to OPEN
	PostPolicy           db.PostPolicy // defaults to OPEN
	CuratorNote          *string
	BannerURL            *string
	ThemeColor           *string
	BadgeImageURL        *string
	BadgeImageHighResURL *string
	Metadata             map[string]interface{}
	Policies             *string
}

func (in *CreateInput) applyDefaults() {
	if in.Visibility == "" {
		in.Visibility = db.VisibilityPublic
	}
	if in.JoinPolicy == "" {
		in.JoinPolicy = db.JoinPolicyOpen
	}
	if in.PostPolicy == "" {
		in.PostPolicy = db.PostPolicyOpen
	}
}

// Create inserts a new top-level or free-standing ring, its owner/member
// roles, the caller's ACTIVE owner membership, and issues the owner's
// badge, all within one transaction, and writes a ring.created audit
// entry.
func (e *Engine) Create(ctx context.Context, ownerDid string, in CreateInput) (*db.Ring, error) {
	in.applyDefaults()
	if in.Name == "" {
		return nil, httperr.Validation("MissingName", httperr.WithMessage("name is required"))
	}

	var created *db.Ring
	err := e.db.WithTx(ctx, func(tx *sql.Tx) error {
		r, err := e.createRingLocked(ctx, tx, ownerDid, in, nil)
		if err != nil {
			return err
		}
		created = r
		return nil
	})
	return created, err
}

// Fork creates a ring identical to Create, except it is parented to an
// existing ring, records fork provenance in metadata, is rate-limited on
// fork_ring, and issues the creator's owner badge inline.
func (e *Engine) Fork(ctx context.Context, ownerDid string, isAdmin, isTrusted bool, parent *db.Ring, in CreateInput) (*db.Ring, error) {
	in.applyDefaults()
	if in.Name == "" {
		return nil, httperr.Validation("MissingName", httperr.WithMessage("name is required"))
	}

	if err := e.limiter.Precheck(ctx, ownerDid, isAdmin, isTrusted, "fork_ring"); err != nil {
		return nil, err
	}

	var created *db.Ring
	err := e.db.WithTx(ctx, func(tx *sql.Tx) error {
		r, err := e.createRingLocked(ctx, tx, ownerDid, in, parent)
		if err != nil {
			return err
		}
		created = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := e.limiter.Record(ctx, ownerDid, "fork_ring", nil); err != nil {
		e.logger.Error("rings: recording fork_ring rate limit event", "error", err)
	}
	return created, nil
}

func (e *Engine) createRingLocked(ctx context.Context, tx *sql.Tx, ownerDid string, in CreateInput, parent *db.Ring) (*db.Ring, error) {
	slug, err := ResolveSlug(ctx, tx, in.Slug, in.Name)
	if err != nil {
		if errors.Is(err, ErrInvalidSlug) {
			return nil, httperr.Validation("InvalidSlug", httperr.WithError(err))
		}
		if errors.Is(err, ErrSlugTaken) {
			return nil, httperr.Conflict("SlugTaken", httperr.WithError(err))
		}
		return nil, err
	}

	now := time.Now().UTC()
	metadata := in.Metadata
	var parentID *string
	if parent != nil {
		pid := parent.ID
		parentID = &pid
		if metadata == nil {
			metadata = map[string]interface{}{}
		}
		metadata["forkedFrom"] = parent.ID
		metadata["forkedAt"] = now.Format(time.RFC3339)
	}

	var metadataJSON *string
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return nil, fmt.Errorf("rings: marshal metadata: %w", err)
		}
		s := string(b)
		metadataJSON = &s
	}

	ring := &db.Ring{
		ID:                   uuid.NewString(),
		Slug:                 slug,
		Name:                 in.Name,
		Description:          in.Description,
		ShortCode:            in.ShortCode,
		Visibility:           in.Visibility,
		JoinPolicy:           in.JoinPolicy,
		PostPolicy:           in.PostPolicy,
		OwnerDid:             ownerDid,
		ParentID:             parentID,
		CuratorNote:          in.CuratorNote,
		BannerURL:            in.BannerURL,
		ThemeColor:           in.ThemeColor,
		BadgeImageURL:        in.BadgeImageURL,
		BadgeImageHighResURL: in.BadgeImageHighResURL,
		Metadata:             metadataJSON,
		Policies:             in.Policies,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := db.InsertRing(ctx, tx, ring); err != nil {
		return nil, fmt.Errorf("rings: insert ring: %w", err)
	}

	ownerRole := &db.RingRole{ID: uuid.NewString(), RingID: ring.ID, Name: "owner", Permissions: ownerPermissions}
	memberRole := &db.RingRole{ID: uuid.NewString(), RingID: ring.ID, Name: "member", Permissions: memberPermissions}
	if err := db.InsertRingRole(ctx, tx, ownerRole); err != nil {
		return nil, fmt.Errorf("rings: insert owner role: %w", err)
	}
	if err := db.InsertRingRole(ctx, tx, memberRole); err != nil {
		return nil, fmt.Errorf("rings: insert member role: %w", err)
	}
	if err := e.enforcer.SetRolePermissions(ring.ID, "owner", ownerPermissions); err != nil {
		return nil, fmt.Errorf("rings: set owner permissions: %w", err)
	}
	if err := e.enforcer.SetRolePermissions(ring.ID, "member", memberPermissions); err != nil {
		return nil, fmt.Errorf("rings: set member permissions: %w", err)
	}

	membership := &db.Membership{
		ID:       uuid.NewString(),
		RingID:   ring.ID,
		ActorDid: ownerDid,
		RoleID:   &ownerRole.ID,
		Status:   db.MembershipActive,
		JoinedAt: &now,
	}
	if err := db.InsertMembership(ctx, tx, membership); err != nil {
		return nil, fmt.Errorf("rings: insert owner membership: %w", err)
	}
	if err := e.enforcer.AssignRole(ring.ID, ownerDid, "owner"); err != nil {
		return nil, fmt.Errorf("rings: assign owner role: %w", err)
	}

	if _, err := e.badges.Issue(ctx, tx, membership.ID, ownerDid, ring.Slug, ring.Name, "owner", nil); err != nil {
		e.logger.Error("rings: issuing owner badge", "ringId", ring.ID, "error", err)
	}

	action := "ring.created"
	if parent != nil {
		action = "ring.forked"
	}
	if err := db.InsertAuditLog(ctx, tx, &db.AuditLog{
		ID:        uuid.NewString(),
		RingID:    ring.ID,
		Action:    action,
		ActorDid:  ownerDid,
		Timestamp: now,
	}); err != nil {
		return nil, fmt.Errorf("rings: write audit log: %w", err)
	}

	return ring, nil
}

// UpdateInput carries the mutable §3 fields; a nil pointer field leaves
// the existing value untouched.
type UpdateInput struct {
	Name                 *string
	Description          *string
	ShortCode            *string
	Visibility           *db.Visibility
	JoinPolicy           *db.JoinPolicy
	PostPolicy           *db.PostPolicy
	ParentSlug           *string // empty string means "set to root"
	CuratorNote          *string
	BannerURL            *string
	ThemeColor           *string
	BadgeImageURL        *string
	BadgeImageHighResURL *string
	Metadata             *string
	Policies             *string
	RegenerateBadges     bool
}

// Update applies UpdateInput to ring. callerIsOwnerOrAdmin gates parent
// reassignment specifically; manage_ring permission is assumed to have
// already been checked by the caller (the authz guard chain).
func (e *Engine) Update(ctx context.Context, ring *db.Ring, callerDid string, callerIsOwnerOrAdmin bool, in UpdateInput) (*db.Ring, error) {
	parentChanged := false
	var newParentID *string = ring.ParentID

	if in.ParentSlug != nil {
		if !callerIsOwnerOrAdmin {
			return nil, httperr.Forbidden("OwnerOrAdminRequired", httperr.WithMessage("only the ring owner or an admin may reassign its parent"))
		}
		if ring.Slug == e.rootSlug {
			return nil, httperr.Validation("RootRingHasNoParent", httperr.WithMessage("the root ring cannot have a parent"))
		}

		target := *in.ParentSlug
		if target == "" {
			target = e.rootSlug
		}

		parent, err := db.GetRingBySlug(ctx, e.db, target)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return nil, httperr.NotFound("ParentNotFound")
			}
			return nil, err
		}
		if parent.ID == ring.ID {
			return nil, httperr.Validation("SelfParent", httperr.WithMessage("a ring cannot be its own parent"))
		}
		if err := e.rejectCycle(ctx, ring.ID, parent.ID); err != nil {
			return nil, err
		}
		newParentID = &parent.ID
		parentChanged = true
	}

	if in.Name != nil {
		ring.Name = *in.Name
	}
	if in.Description != nil {
		ring.Description = in.Description
	}
	if in.ShortCode != nil {
		ring.ShortCode = in.ShortCode
	}
	if in.Visibility != nil {
		ring.Visibility = *in.Visibility
	}
	if in.JoinPolicy != nil {
		ring.JoinPolicy = *in.JoinPolicy
	}
	if in.PostPolicy != nil {
		ring.PostPolicy = *in.PostPolicy
	}
	ring.ParentID = newParentID
	if in.CuratorNote != nil {
		ring.CuratorNote = in.CuratorNote
	}
	if in.BannerURL != nil {
		ring.BannerURL = in.BannerURL
	}
	if in.ThemeColor != nil {
		ring.ThemeColor = in.ThemeColor
	}
	if in.BadgeImageURL != nil {
		ring.BadgeImageURL = in.BadgeImageURL
	}
	if in.BadgeImageHighResURL != nil {
		ring.BadgeImageHighResURL = in.BadgeImageHighResURL
	}
	if in.Metadata != nil {
		ring.Metadata = in.Metadata
	}
	if in.Policies != nil {
		ring.Policies = in.Policies
	}
	ring.UpdatedAt = time.Now().UTC()

	action := "ring.updated"
	if parentChanged {
		action = "ring.parent_updated"
	}

	err := e.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := db.UpdateRing(ctx, tx, ring); err != nil {
			return err
		}
		return db.InsertAuditLog(ctx, tx, &db.AuditLog{
			ID:        uuid.NewString(),
			RingID:    ring.ID,
			Action:    action,
			ActorDid:  callerDid,
			Timestamp: ring.UpdatedAt,
		})
	})
	if err != nil {
		return nil, err
	}

	if in.RegenerateBadges {
		ok, failed := e.badges.RegenerateRingBadges(ctx, ring.ID, ring.Slug, ring.Name)
		e.logger.Info("rings: badge regeneration", "ringId", ring.ID, "ok", ok, "failed", failed)
	}

	return ring, nil
}

// rejectCycle walks candidateParentID's ancestor chain; if it encounters
// ringID, reassigning ringID's parent to candidateParentID would form a
// cycle.
func (e *Engine) rejectCycle(ctx context.Context, ringID, candidateParentID string) error {
	visited := map[string]bool{}
	cur := candidateParentID
	for cur != "" {
		if cur == ringID {
			return httperr.Validation("ParentCycle", httperr.WithMessage("parent reassignment would create a cycle"))
		}
		if visited[cur] {
			break
		}
		visited[cur] = true
		r, err := db.GetRingByID(ctx, e.db, cur)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				break
			}
			return err
		}
		if r.ParentID == nil {
			break
		}
		cur = *r.ParentID
	}
	return nil
}

// Delete removes ring and its FK-cascaded children (roles, memberships,
// posts, audit entries), and cascades its RBAC footprint.
func (e *Engine) Delete(ctx context.Context, ring *db.Ring, callerDid string) error {
	return e.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := db.InsertAuditLog(ctx, tx, &db.AuditLog{
			ID:        uuid.NewString(),
			RingID:    ring.ID,
			Action:    "ring.deleted",
			ActorDid:  callerDid,
			Timestamp: time.Now().UTC(),
		}); err != nil {
			return err
		}
		if err := db.DeleteRing(ctx, tx, ring.ID); err != nil {
			return err
		}
		return e.enforcer.RemoveRing(ring.ID)
	})
}

// Trending lists PUBLIC rings updated within window, newest first.
func (e *Engine) Trending(ctx context.Context, window string, limit int) ([]*db.Ring, error) {
	d, ok := trendingWindows[window]
	if !ok {
		d = trendingWindows["day"]
	}
	since := time.Now().UTC().Add(-d)
	filters := db.Filters(
		db.FilterEq("visibility", db.VisibilityPublic),
		db.FilterGte("updated_at", since),
	)
	candidates, err := db.ListRings(ctx, e.db, filters, limit, 0)
	if err != nil {
		return nil, err
	}
	return e.ranker.Rank(ctx, candidates), nil
}

var trendingWindows = map[string]time.Duration{
	"hour":  time.Hour,
	"day":   24 * time.Hour,
	"week":  7 * 24 * time.Hour,
	"month": 30 * 24 * time.Hour,
}

// Stats reports global counts for the public dashboard endpoint.
type Stats struct {
	RingsByVisibility map[string]int `json:"ringsByVisibility"`
	ActorsTotal       int            `json:"actorsTotal"`
	ActorsVerified    int            `json:"actorsVerified"`
	MembershipsTotal  int            `json:"membershipsTotal"`
	MembershipsActive int            `json:"membershipsActive"`
	PostsTotal        int            `json:"postsTotal"`
	PostsAccepted     int            `json:"postsAccepted"`
}

func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	s := &Stats{RingsByVisibility: map[string]int{}}
	for _, v := range []db.Visibility{db.VisibilityPublic, db.VisibilityUnlisted, db.VisibilityPrivate} {
		n, err := db.CountRings(ctx, e.db, db.FilterEq("visibility", v))
		if err != nil {
			return nil, err
		}
		s.RingsByVisibility[string(v)] = n
	}

	var err error
	if s.ActorsTotal, err = db.CountActors(ctx, e.db); err != nil {
		return nil, err
	}
	if s.ActorsVerified, err = db.CountActors(ctx, e.db, db.FilterEq("verified", true)); err != nil {
		return nil, err
	}
	if s.MembershipsTotal, err = db.CountMemberships(ctx, e.db); err != nil {
		return nil, err
	}
	if s.MembershipsActive, err = db.CountMemberships(ctx, e.db, db.FilterEq("status", db.MembershipActive)); err != nil {
		return nil, err
	}
	if s.PostsTotal, err = db.CountPostRefs(ctx, e.db); err != nil {
		return nil, err
	}
	if s.PostsAccepted, err = db.CountPostRefs(ctx, e.db, db.FilterEq("status", db.PostAccepted)); err != nil {
		return nil, err
	}
	return s, nil
}
