// Package membership implements join/leave/role-update/removal and
// invitations -- the membership lifecycle that sits between the ring
// engine and badge issuance.
package membership

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ringhub.sh/ringhub/core/authz"
	"ringhub.sh/ringhub/core/badges"
	"ringhub.sh/ringhub/core/db"
	"ringhub.sh/ringhub/core/httperr"
	"ringhub.sh/ringhub/core/profile"
)

const defaultInvitationTTL = 7 * 24 * time.Hour

type Engine struct {
	db       *db.DB
	enforcer *authz.Enforcer
	badges   *badges.Service
	profile  *profile.Resolver
	logger   *slog.Logger
}

func New(database *db.DB, enforcer *authz.Enforcer, badgeSvc *badges.Service, profileResolver *profile.Resolver, logger *slog.Logger) *Engine {
	return &Engine{db: database, enforcer: enforcer, badges: badgeSvc, profile: profileResolver, logger: logger}
}

// JoinResult reports the outcome of Join: whether the resulting
// membership requires moderator approval before it becomes active.
type JoinResult struct {
	Membership       *db.Membership
	RequiresApproval bool
}

// Join applies ring.joinPolicy to decide whether actorDid's membership is
// created ACTIVE, PENDING, or rejected outright.
func (e *Engine) Join(ctx context.Context, ring *db.Ring, actorDid, applicationMessage string) (*JoinResult, error) {
	existing, err := db.GetMembership(ctx, e.db, ring.ID, actorDid)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}
	if err == nil {
		switch existing.Status {
		case db.MembershipActive:
			return nil, httperr.Conflict("AlreadyMember", httperr.WithMessage("already an active member of this ring"))
		case db.MembershipPending:
			return nil, httperr.Conflict("ApplicationPending", httperr.WithMessage("a membership application is already pending"))
		}
	}

	// federation UX depends on the profile URL, so membership operations
	// (unlike authentication) block on profile resolution failing.
	if _, err := e.profile.Ensure(ctx, actorDid, true); err != nil {
		return nil, err
	}

	var result *JoinResult
	err = e.db.WithTx(ctx, func(tx *sql.Tx) error {
		switch ring.JoinPolicy {
		case db.JoinPolicyClosed:
			return httperr.Forbidden("RingClosed", httperr.WithMessage("this ring is not accepting new members"))

		case db.JoinPolicyOpen:
			m, err := e.createMembership(ctx, tx, ring.ID, actorDid, db.MembershipActive, "")
			if err != nil {
				return err
			}
			if err := e.auditJoin(ctx, tx, ring.ID, actorDid, "membership.joined"); err != nil {
				return err
			}
			result = &JoinResult{Membership: m}
			return nil

		case db.JoinPolicyApplication:
			m, err := e.createMembership(ctx, tx, ring.ID, actorDid, db.MembershipPending, applicationMessage)
			if err != nil {
				return err
			}
			if err := e.auditJoin(ctx, tx, ring.ID, actorDid, "membership.applied"); err != nil {
				return err
			}
			result = &JoinResult{Membership: m, RequiresApproval: true}
			return nil

		case db.JoinPolicyInvitation:
			inv, err := db.GetInvitation(ctx, tx, ring.ID, actorDid)
			if err != nil {
				if errors.Is(err, db.ErrNotFound) {
					return httperr.Forbidden("InvitationRequired", httperr.WithMessage("this ring requires an invitation to join"))
				}
				return err
			}
			if inv.Status != db.InvitationPending || inv.ExpiresAt.Before(time.Now().UTC()) {
				return httperr.Forbidden("InvitationRequired", httperr.WithMessage("no valid invitation found"))
			}
			now := time.Now().UTC()
			inv.Status = db.InvitationAccepted
			inv.RespondedAt = &now
			if err := db.UpdateInvitation(ctx, tx, inv); err != nil {
				return err
			}
			m, err := e.createMembership(ctx, tx, ring.ID, actorDid, db.MembershipActive, "")
			if err != nil {
				return err
			}
			if err := e.auditJoin(ctx, tx, ring.ID, actorDid, "membership.joined"); err != nil {
				return err
			}
			result = &JoinResult{Membership: m}
			return nil

		default:
			return httperr.Internal("UnknownJoinPolicy")
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) createMembership(ctx context.Context, tx *sql.Tx, ringID, actorDid string, status db.MembershipStatus, applicationMessage string) (*db.Membership, error) {
	roleID, roleName, err := e.defaultRole(ctx, tx, ringID)
	if err != nil {
		return nil, err
	}

	m := &db.Membership{
		ID:       uuid.NewString(),
		RingID:   ringID,
		ActorDid: actorDid,
		RoleID:   roleID,
		Status:   status,
	}
	if applicationMessage != "" {
		m.ApplicationMessage = &applicationMessage
	}
	if status == db.MembershipActive {
		now := time.Now().UTC()
		m.JoinedAt = &now
	}
	if err := db.InsertMembership(ctx, tx, m); err != nil {
		return nil, err
	}

	if status == db.MembershipActive {
		if err := e.enforcer.AssignRole(ringID, actorDid, roleName); err != nil {
			return nil, err
		}
		if ring, err := db.GetRingByID(ctx, tx, ringID); err == nil {
			if _, issueErr := e.badges.Issue(ctx, tx, m.ID, actorDid, ring.Slug, ring.Name, roleName, m.ActorName); issueErr != nil {
				e.logger.Error("membership: badge issuance failed", "ringId", ringID, "actorDid", actorDid, "error", issueErr)
			}
		}
	}

	return m, nil
}

// defaultRole resolves the role assigned on join: "member" if present,
// else the first available role for the ring.
func (e *Engine) defaultRole(ctx context.Context, x db.Execer, ringID string) (*string, string, error) {
	if role, err := db.GetRingRoleByName(ctx, x, ringID, "member"); err == nil {
		return &role.ID, role.Name, nil
	}
	roles, err := db.ListRingRoles(ctx, x, ringID)
	if err != nil {
		return nil, "", err
	}
	if len(roles) == 0 {
		return nil, "", httperr.Internal("NoRolesConfigured")
	}
	return &roles[0].ID, roles[0].Name, nil
}

func (e *Engine) auditJoin(ctx context.Context, x db.Execer, ringID, actorDid, action string) error {
	return db.InsertAuditLog(ctx, x, &db.AuditLog{
		ID:        uuid.NewString(),
		RingID:    ringID,
		Action:    action,
		ActorDid:  actorDid,
		TargetDid: &actorDid,
		Timestamp: time.Now().UTC(),
	})
}

// Leave revokes actorDid's membership in ring. An owner may only leave if
// no other ACTIVE member remains.
func (e *Engine) Leave(ctx context.Context, ring *db.Ring, actorDid string, leaveReason *string) error {
	m, err := db.GetMembership(ctx, e.db, ring.ID, actorDid)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return httperr.NotFound("NotAMember")
		}
		return err
	}
	if m.Status != db.MembershipActive && m.Status != db.MembershipPending {
		return httperr.Conflict("NotActiveOrPending")
	}

	if ring.OwnerDid == actorDid {
		activeCount, err := db.CountMemberships(ctx, e.db, db.Filters(
			db.FilterEq("ring_id", ring.ID),
			db.FilterEq("status", db.MembershipActive),
		)...)
		if err != nil {
			return err
		}
		if activeCount > 1 {
			return httperr.Validation("TransferOwnershipRequired", httperr.WithMessage("transfer ownership before leaving this ring"))
		}
	}

	now := time.Now().UTC()
	return e.db.WithTx(ctx, func(tx *sql.Tx) error {
		m.Status = db.MembershipRevoked
		m.LeftAt = &now
		m.LeaveReason = leaveReason
		if err := db.UpdateMembership(ctx, tx, m); err != nil {
			return err
		}
		if err := e.enforcer.RevokeRole(ring.ID, actorDid); err != nil {
			return err
		}
		if m.BadgeID != nil {
			reason := "membership left"
			if err := db.RevokeBadge(ctx, tx, *m.BadgeID, &reason, now); err != nil {
				e.logger.Error("membership: badge revocation failed", "badgeId", *m.BadgeID, "error", err)
			}
		}
		return db.InsertAuditLog(ctx, tx, &db.AuditLog{
			ID:        uuid.NewString(),
			RingID:    ring.ID,
			Action:    "membership.left",
			ActorDid:  actorDid,
			TargetDid: &actorDid,
			Timestamp: now,
		})
	})
}

// UpdateRole changes the role of a member other than the owner, whose
// role can never be changed away from "owner" here.
func (e *Engine) UpdateRole(ctx context.Context, ring *db.Ring, callerDid, targetDid, roleName string) error {
	m, err := db.GetMembership(ctx, e.db, ring.ID, targetDid)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return httperr.NotFound("NotAMember")
		}
		return err
	}
	if targetDid == ring.OwnerDid && roleName != "owner" {
		return httperr.Validation("CannotChangeOwnerRole", httperr.WithMessage("the ring owner's role can only be changed via ownership transfer"))
	}

	role, err := db.GetRingRoleByName(ctx, e.db, ring.ID, roleName)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return httperr.Validation("UnknownRole")
		}
		return err
	}

	return e.db.WithTx(ctx, func(tx *sql.Tx) error {
		m.RoleID = &role.ID
		if err := db.UpdateMembership(ctx, tx, m); err != nil {
			return err
		}
		if m.Status == db.MembershipActive {
			if err := e.enforcer.AssignRole(ring.ID, targetDid, roleName); err != nil {
				return err
			}
		}
		return db.InsertAuditLog(ctx, tx, &db.AuditLog{
			ID:        uuid.NewString(),
			RingID:    ring.ID,
			Action:    "membership.role_updated",
			ActorDid:  callerDid,
			TargetDid: &targetDid,
			Timestamp: time.Now().UTC(),
		})
	})
}

// RemoveMember is invoked only by the owner; the owner cannot be removed
// this way.
func (e *Engine) RemoveMember(ctx context.Context, ring *db.Ring, callerDid, targetDid string) error {
	if callerDid != ring.OwnerDid {
		return httperr.Forbidden("OwnerRequired")
	}
	if targetDid == ring.OwnerDid {
		return httperr.Validation("CannotRemoveOwner")
	}

	m, err := db.GetMembership(ctx, e.db, ring.ID, targetDid)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return httperr.NotFound("NotAMember")
		}
		return err
	}

	now := time.Now().UTC()
	return e.db.WithTx(ctx, func(tx *sql.Tx) error {
		m.Status = db.MembershipRevoked
		m.LeftAt = &now
		if err := db.UpdateMembership(ctx, tx, m); err != nil {
			return err
		}
		if err := e.enforcer.RevokeRole(ring.ID, targetDid); err != nil {
			return err
		}
		if m.BadgeID != nil {
			reason := "removed by ring owner"
			if err := db.RevokeBadge(ctx, tx, *m.BadgeID, &reason, now); err != nil {
				e.logger.Error("membership: badge revocation failed", "badgeId", *m.BadgeID, "error", err)
			}
		}
		return db.InsertAuditLog(ctx, tx, &db.AuditLog{
			ID:        uuid.NewString(),
			RingID:    ring.ID,
			Action:    "membership.removed",
			ActorDid:  callerDid,
			TargetDid: &targetDid,
			Timestamp: now,
		})
	})
}

// Invite creates a pending invitation, requiring an ACTIVE owner or
// moderator (manage_members) membership of the inviter -- enforced by the
// caller's permission guard. Rejects if the invitee is already a member or
// already invited.
func (e *Engine) Invite(ctx context.Context, ring *db.Ring, inviterDid, inviteeDid, message string, ttl time.Duration) (*db.Invitation, error) {
	if _, err := db.GetMembership(ctx, e.db, ring.ID, inviteeDid); err == nil {
		return nil, httperr.Conflict("AlreadyMember")
	} else if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}

	if existing, err := db.GetInvitation(ctx, e.db, ring.ID, inviteeDid); err == nil && existing.Status == db.InvitationPending {
		return nil, httperr.Conflict("InvitationAlreadyPending")
	} else if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}

	if ttl <= 0 {
		ttl = defaultInvitationTTL
	}

	now := time.Now().UTC()
	inv := &db.Invitation{
		ID:         uuid.NewString(),
		RingID:     ring.ID,
		InviteeDid: inviteeDid,
		InviterDid: inviterDid,
		Status:     db.InvitationPending,
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
	}
	if message != "" {
		inv.Message = &message
	}

	err := e.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := db.InsertInvitation(ctx, tx, inv); err != nil {
			return err
		}
		return db.InsertAuditLog(ctx, tx, &db.AuditLog{
			ID:        uuid.NewString(),
			RingID:    ring.ID,
			Action:    "membership.invited",
			ActorDid:  inviterDid,
			TargetDid: &inviteeDid,
			Timestamp: now,
		})
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}
