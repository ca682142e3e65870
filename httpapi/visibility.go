package httpapi

import (
	"context"
	"errors"
	"net/http"

	"ringhub.sh/ringhub/core/db"
	"ringhub.sh/ringhub/core/httperr"
)

// requireVisible returns a 404 (never a 403) if ring is PRIVATE and did is
// not an ACTIVE member, so a PRIVATE ring's existence is never leaked to
// non-members.
func (h *Handle) requireVisible(ctx context.Context, ring *db.Ring, did string) error {
	if ring.Visibility != db.VisibilityPrivate {
		return nil
	}
	if did == "" {
		return httperr.NotFound("RingNotFound")
	}
	m, err := db.GetMembership(ctx, h.db, ring.ID, did)
	if err != nil || m.Status != db.MembershipActive {
		return httperr.NotFound("RingNotFound")
	}
	return nil
}

func isActiveMember(ctx context.Context, database *db.DB, ringID, did string) bool {
	if did == "" {
		return false
	}
	m, err := db.GetMembership(ctx, database, ringID, did)
	if err != nil {
		return false
	}
	return m.Status == db.MembershipActive
}

func isNotFound(err error) bool {
	return errors.Is(err, db.ErrNotFound)
}

func writeErrStatus(w http.ResponseWriter, err error) {
	httperr.WriteErr(w, err)
}
