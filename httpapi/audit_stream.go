package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"ringhub.sh/ringhub/core/audit"
	"ringhub.sh/ringhub/core/pagination"
)

var auditUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// auditNotifier is a placeholder for a push-based fanout, the way
// knotserver/notifier.Notifier wakes subscribers when new ops land.
// Audit rows here are written by several engines calling db.InsertAuditLog
// directly rather than through a single choke point, so there's no one
// place to call NotifyAll from without threading a notify call into every
// writer. auditStream instead polls audit.Engine.List on an interval and
// diffs against the last-seen timestamp. The type is kept so the polling
// interval and any future push-based upgrade have a home.
type auditNotifier struct {
	pollInterval time.Duration
}

func newAuditNotifier() *auditNotifier {
	return &auditNotifier{pollInterval: 2 * time.Second}
}

// auditStream upgrades to a websocket and pushes newly appended audit
// entries for ring, polling at n.pollInterval. Connections close when the
// client disconnects or the request context ends.
func (h *Handle) auditStream(w http.ResponseWriter, r *http.Request) {
	ring, err := h.ringBySlugLocator(r)
	if err != nil {
		writeErrStatus(w, err)
		return
	}

	l := h.l.With("handler", "auditStream", "ring", ring.Slug)

	conn, err := auditUpgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Error("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	since := time.Now()
	ticker := time.NewTicker(h.notifier.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.Debug("stopping audit stream: client disconnected")
			return
		case <-ticker.C:
			entries, _, err := h.audit.List(ctx, ring.ID, audit.Filter{Since: &since}, pagination.Page{Limit: 100})
			if err != nil {
				l.Error("audit poll failed", "err", err)
				return
			}
			if len(entries) == 0 {
				continue
			}
			since = entries[0].Timestamp.Add(time.Nanosecond)
			for i := len(entries) - 1; i >= 0; i-- {
				if err := conn.WriteJSON(entries[i]); err != nil {
					l.Error("failed to write", "err", err)
					return
				}
			}
		}
	}
}
