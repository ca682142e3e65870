package authz

import (
	"context"
	"net/http"

	"ringhub.sh/ringhub/core/authn"
	"ringhub.sh/ringhub/core/db"
	"ringhub.sh/ringhub/core/httperr"
)

// MembershipCtx is the membership context attached to a request once
// RequireMembership succeeds: the ring id, the actor's role name, and its
// resolved permission set.
type MembershipCtx struct {
	RingID      string
	RoleName    string
	Permissions []string
}

type membershipCtxKey struct{}

func IntoContext(ctx context.Context, m *MembershipCtx) context.Context {
	return context.WithValue(ctx, membershipCtxKey{}, m)
}

func FromContext(ctx context.Context) *MembershipCtx {
	v := ctx.Value(membershipCtxKey{})
	if v == nil {
		return nil
	}
	return v.(*MembershipCtx)
}

// RingLocator resolves the ring a request targets, e.g. from a chi URL
// param or a JSON body field, returning the Ring row.
type RingLocator func(r *http.Request) (*db.Ring, error)

type Guards struct {
	Db       *db.DB
	Enforcer *Enforcer
}

func New(database *db.DB, enforcer *Enforcer) *Guards {
	return &Guards{Db: database, Enforcer: enforcer}
}

// RequireVerifiedActor rejects any request whose attached identity is
// missing or unverified.
func (g *Guards) RequireVerifiedActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := authn.FromContext(r.Context())
		if id == nil || !id.Verified {
			httperr.WriteErr(w, httperr.Forbidden("NotVerified", httperr.WithMessage("a verified identity is required")))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects any request whose attached identity is not flagged
// admin in the actors table.
func (g *Guards) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := authn.FromContext(r.Context())
		if id == nil || !id.IsAdmin {
			httperr.WriteErr(w, httperr.Forbidden("AdminOnly", httperr.WithMessage("admin privileges are required")))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireNotBlocked rejects the request if the ring (as resolved by
// locate) has blocked the caller's DID.
func (g *Guards) RequireNotBlocked(locate RingLocator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := authn.FromContext(r.Context())
			if id == nil {
				httperr.WriteErr(w, httperr.Forbidden("NotVerified"))
				return
			}
			ring, err := locate(r)
			if err != nil {
				httperr.WriteErr(w, err)
				return
			}
			blocked, err := db.IsBlocked(r.Context(), g.Db, ring.ID, id.Did)
			if err != nil {
				httperr.WriteErr(w, httperr.Internal("Internal", httperr.WithError(err)))
				return
			}
			if blocked {
				httperr.WriteErr(w, httperr.Forbidden("Blocked", httperr.WithMessage("you are blocked from this ring")))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireMembership requires an ACTIVE membership in the located ring and
// attaches its MembershipCtx (ring id, role name, permission set).
func (g *Guards) RequireMembership(locate RingLocator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := authn.FromContext(r.Context())
			if id == nil {
				httperr.WriteErr(w, httperr.Forbidden("NotVerified"))
				return
			}
			ring, err := locate(r)
			if err != nil {
				httperr.WriteErr(w, err)
				return
			}
			m, err := db.GetMembership(r.Context(), g.Db, ring.ID, id.Did)
			if err != nil || m.Status != db.MembershipActive {
				httperr.WriteErr(w, httperr.Forbidden("NotAMember", httperr.WithMessage("an active membership is required")))
				return
			}

			roleName, _ := g.Enforcer.RoleOf(ring.ID, id.Did)
			perms := g.Enforcer.PermissionsOf(ring.ID, id.Did)

			mctx := &MembershipCtx{RingID: ring.ID, RoleName: roleName, Permissions: perms}
			next.ServeHTTP(w, r.WithContext(IntoContext(r.Context(), mctx)))
		})
	}
}

// RequirePermission requires that the membership context attached by
// RequireMembership contains permission.
func (g *Guards) RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mctx := FromContext(r.Context())
			if mctx == nil {
				httperr.WriteErr(w, httperr.Forbidden("MissingPermission"))
				return
			}
			for _, p := range mctx.Permissions {
				if p == permission {
					next.ServeHTTP(w, r)
					return
				}
			}
			httperr.WriteErr(w, httperr.Forbidden("MissingPermission", httperr.WithMessage("missing required permission: "+permission)))
		})
	}
}
