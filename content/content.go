// Package content implements post submission, ring feeds, the moderation
// queue, and curation -- including the dual author-global vs
// moderator-local semantics of removal.
package content

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ringhub.sh/ringhub/core/db"
	"ringhub.sh/ringhub/core/httperr"
	"ringhub.sh/ringhub/core/pagination"
)

type Engine struct {
	db *db.DB
}

func New(database *db.DB) *Engine {
	return &Engine{db: database}
}

// Digest computes the content-addressing digest recorded alongside a
// submitted uri.
func Digest(raw []byte) string {
	sum := sha256.Sum256(raw)
	return "sha-256=" + base64.StdEncoding.EncodeToString(sum[:])
}

// SubmitInput carries a post submission.
type SubmitInput struct {
	URI      string
	Raw      []byte // optional raw content used only to compute Digest when Digest is empty
	Digest   string
	Metadata *string
}

// Submit resolves ring.postPolicy for submitterDid and inserts a PostRef,
// auto-accepting unless the policy requires moderation.
func (e *Engine) Submit(ctx context.Context, ring *db.Ring, submitterDid string, isAdmin bool, isMember bool, in SubmitInput) (*db.PostRef, error) {
	if in.URI == "" {
		return nil, httperr.Validation("MissingURI")
	}

	switch ring.PostPolicy {
	case db.PostPolicyClosed:
		return nil, httperr.Forbidden("RingClosedToPosts")
	case db.PostPolicyMembers:
		if !isMember && !isAdmin {
			return nil, httperr.Forbidden("MembershipRequired", httperr.WithMessage("submitting to this ring requires membership"))
		}
	case db.PostPolicyOpen, db.PostPolicyCurated:
		// any verified actor may submit; CURATED additionally holds the
		// post PENDING below.
	}

	digest := in.Digest
	if digest == "" {
		digest = Digest(in.Raw)
	}

	now := time.Now().UTC()
	post := &db.PostRef{
		ID:          uuid.NewString(),
		RingID:      ring.ID,
		ActorDid:    submitterDid,
		SubmittedBy: submitterDid,
		URI:         in.URI,
		Digest:      digest,
		SubmittedAt: now,
		Status:      db.PostPending,
		Metadata:    in.Metadata,
	}

	if ring.PostPolicy != db.PostPolicyCurated {
		post.Status = db.PostAccepted
		post.ModeratedAt = &now
		post.ModeratedBy = &submitterDid
	}

	var result *db.PostRef
	err := e.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := db.InsertPostRef(ctx, tx, post); err != nil {
			if isUniqueConstraintErr(err) {
				existing, getErr := db.GetPostRefByURI(ctx, tx, ring.ID, in.URI)
				if getErr != nil {
					return getErr
				}
				result = existing
				return httperr.Conflict("DuplicatePost", httperr.WithResource(existing))
			}
			return err
		}
		result = post
		return db.InsertAuditLog(ctx, tx, &db.AuditLog{
			ID:        uuid.NewString(),
			RingID:    ring.ID,
			Action:    "content.submitted",
			ActorDid:  submitterDid,
			Timestamp: now,
		})
	})
	if err != nil {
		return result, err
	}
	return result, nil
}

func isUniqueConstraintErr(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}

// Scope enumerates the feed's ring-set resolution modes.
type Scope string

const (
	ScopeRing     Scope = "ring"
	ScopeParent   Scope = "parent"
	ScopeChildren Scope = "children"
	ScopeSiblings Scope = "siblings"
	ScopeFamily   Scope = "family"
)

// FeedFilter carries the feed query's optional filters.
type FeedFilter struct {
	Scope    Scope
	Status   *db.PostStatus
	ActorDid string
	Since    *time.Time
	Until    *time.Time
	Pinned   *bool
}

// ResolveScopeRingIDs expands scope into the concrete set of ring ids the
// feed should read from.
func (e *Engine) ResolveScopeRingIDs(ctx context.Context, ring *db.Ring, scope Scope) ([]string, error) {
	switch scope {
	case "", ScopeRing:
		return []string{ring.ID}, nil

	case ScopeParent:
		if ring.ParentID == nil {
			return []string{ring.ID}, nil
		}
		return []string{*ring.ParentID}, nil

	case ScopeChildren:
		children, err := db.ChildRings(ctx, e.db, ring.ID)
		if err != nil {
			return nil, err
		}
		ids := []string{ring.ID}
		for _, c := range children {
			ids = append(ids, c.ID)
		}
		return ids, nil

	case ScopeSiblings:
		if ring.ParentID == nil {
			return []string{ring.ID}, nil
		}
		siblings, err := db.ChildRings(ctx, e.db, *ring.ParentID)
		if err != nil {
			return nil, err
		}
		ids := []string{}
		for _, s := range siblings {
			ids = append(ids, s.ID)
		}
		if len(ids) == 0 {
			ids = []string{ring.ID}
		}
		return ids, nil

	case ScopeFamily:
		set := map[string]bool{ring.ID: true}
		if ring.ParentID != nil {
			set[*ring.ParentID] = true
			siblings, err := db.ChildRings(ctx, e.db, *ring.ParentID)
			if err != nil {
				return nil, err
			}
			for _, s := range siblings {
				set[s.ID] = true
			}
		}
		children, err := db.ChildRings(ctx, e.db, ring.ID)
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			set[c.ID] = true
		}
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		return ids, nil

	default:
		return nil, httperr.Validation("UnknownScope")
	}
}

// Feed returns the filtered, paginated PostRefs for the resolved ring
// set. isMember gates visibility into non-ACCEPTED statuses; unauthenticated
// and non-member callers always see ACCEPTED only.
func (e *Engine) Feed(ctx context.Context, ringIDs []string, isAuthenticated, isMember bool, f FeedFilter, page pagination.Page) ([]*db.PostRef, int, error) {
	fs := db.Filters(db.FilterIn("ring_id", ringIDs))

	status := f.Status
	if !isMember {
		accepted := db.PostAccepted
		status = &accepted
	}
	if status != nil {
		fs = append(fs, db.FilterEq("status", *status))
	}
	if f.ActorDid != "" {
		fs = append(fs, db.FilterEq("actor_did", f.ActorDid))
	}
	if f.Since != nil {
		fs = append(fs, db.FilterGte("submitted_at", *f.Since))
	}
	if f.Until != nil {
		fs = append(fs, db.FilterLte("submitted_at", *f.Until))
	}
	if f.Pinned != nil {
		fs = append(fs, db.FilterEq("pinned", *f.Pinned))
	}

	posts, err := db.ListPostRefs(ctx, e.db, fs, "pinned desc, submitted_at desc", page.Limit, page.Offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := db.CountPostRefs(ctx, e.db, fs...)
	if err != nil {
		return nil, 0, err
	}
	return posts, total, nil
}

// Queue returns PENDING posts for a ring, oldest first, for moderators.
func (e *Engine) Queue(ctx context.Context, ringID string, page pagination.Page) ([]*db.PostRef, error) {
	fs := db.Filters(db.FilterEq("ring_id", ringID), db.FilterEq("status", db.PostPending))
	return db.ListPostRefs(ctx, e.db, fs, "submitted_at asc", page.Limit, page.Offset)
}

// CurateAction enumerates the moderation verbs accepted by Curate.
type CurateAction string

const (
	ActionAccept CurateAction = "accept"
	ActionReject CurateAction = "reject"
	ActionPin    CurateAction = "pin"
	ActionUnpin  CurateAction = "unpin"
	ActionRemove CurateAction = "remove"
)

// CurateResult reports the rings touched by a curation action -- more
// than one only for an author-global removal.
type CurateResult struct {
	Post          *db.PostRef
	AffectedRings []string
}

// CurateAsAuthor applies the author-only global-removal path: every
// PostRef sharing (actorDid, uri) across every ring is marked REMOVED in
// one bulk update.
func (e *Engine) CurateAsAuthor(ctx context.Context, callerDid string, post *db.PostRef, action CurateAction, reason string) (*CurateResult, error) {
	if action != ActionRemove {
		return nil, httperr.Forbidden("AuthorActionLimited", httperr.WithMessage("authors may only remove their own posts"))
	}

	now := time.Now().UTC()
	note := "Removed by author"
	if reason != "" {
		note = fmt.Sprintf("Removed by author: %s", reason)
	}

	var ringIDs []string
	err := e.db.WithTx(ctx, func(tx *sql.Tx) error {
		ids, err := db.RemovePostRefsGlobally(ctx, tx, post.ActorDid, post.URI, callerDid, note, now)
		if err != nil {
			return err
		}
		ringIDs = ids

		logs := make([]*db.AuditLog, 0, len(ids))
		for _, ringID := range ids {
			logs = append(logs, &db.AuditLog{
				ID:        uuid.NewString(),
				RingID:    ringID,
				Action:    "content.author_removed_globally",
				ActorDid:  callerDid,
				TargetDid: &post.ActorDid,
				Timestamp: now,
			})
		}
		return db.InsertAuditLogsBatch(ctx, tx, logs)
	})
	if err != nil {
		return nil, err
	}

	post.Status = db.PostRemoved
	post.ModeratedAt = &now
	post.ModeratedBy = &callerDid
	post.ModerationNote = &note
	return &CurateResult{Post: post, AffectedRings: ringIDs}, nil
}

// CurateAsModerator applies a single-ring moderation action, requiring
// the caller to hold moderate_posts in the post's ring (checked by the
// caller's permission guard before this is invoked).
func (e *Engine) CurateAsModerator(ctx context.Context, callerDid string, post *db.PostRef, action CurateAction, reason string) (*CurateResult, error) {
	now := time.Now().UTC()

	switch action {
	case ActionAccept:
		post.Status = db.PostAccepted
	case ActionReject:
		post.Status = db.PostRejected
	case ActionRemove:
		post.Status = db.PostRemoved
	case ActionPin:
		post.Pinned = true
	case ActionUnpin:
		post.Pinned = false
	default:
		return nil, httperr.Validation("UnknownAction")
	}

	if action == ActionAccept || action == ActionReject || action == ActionRemove {
		post.ModeratedAt = &now
		post.ModeratedBy = &callerDid
		if reason != "" {
			post.ModerationNote = &reason
		}
	}

	err := e.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := db.UpdatePostRef(ctx, tx, post); err != nil {
			return err
		}
		return db.InsertAuditLog(ctx, tx, &db.AuditLog{
			ID:        uuid.NewString(),
			RingID:    post.RingID,
			Action:    "content." + string(action),
			ActorDid:  callerDid,
			TargetDid: &post.ActorDid,
			Timestamp: now,
		})
	})
	if err != nil {
		return nil, err
	}
	return &CurateResult{Post: post, AffectedRings: []string{post.RingID}}, nil
}
