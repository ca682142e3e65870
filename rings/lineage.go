package rings

import (
	"context"
	"errors"
	"time"

	"ringhub.sh/ringhub/core/db"
)

// LineageNode is one entry in a descendant tree, carrying the descendant
// count computed before any visibility filtering was applied.
type LineageNode struct {
	Ring            *db.Ring       `json:"ring"`
	DescendantCount int            `json:"descendantCount"`
	Children        []*LineageNode `json:"children,omitempty"`
}

type Lineage struct {
	Ring        *db.Ring       `json:"ring"`
	Ancestors   []*db.Ring     `json:"ancestors"`
	Descendants []*LineageNode `json:"descendants"`
	GeneratedAt time.Time      `json:"generatedAt"`
}

// Visible reports whether a ring can be shown to the caller: PUBLIC and
// UNLISTED rings always qualify; PRIVATE rings only with an ACTIVE
// membership.
func (e *Engine) visible(ctx context.Context, ring *db.Ring, callerDid string) bool {
	if ring.Visibility != db.VisibilityPrivate {
		return true
	}
	if callerDid == "" {
		return false
	}
	m, err := db.GetMembership(ctx, e.db, ring.ID, callerDid)
	return err == nil && m.Status == db.MembershipActive
}

// Lineage walks ring's ancestor chain upward and its descendant tree
// downward, filtering each node by visibility for callerDid (empty for an
// unauthenticated caller). Descendant counts are computed before
// filtering. A visited-set guards against cycles even though the data
// model forbids them.
func (e *Engine) Lineage(ctx context.Context, ring *db.Ring, callerDid string) (*Lineage, error) {
	ancestors, err := e.ancestorChain(ctx, ring, callerDid)
	if err != nil {
		return nil, err
	}

	descendants, err := e.descendantTree(ctx, ring.ID, callerDid, map[string]bool{ring.ID: true})
	if err != nil {
		return nil, err
	}

	return &Lineage{
		Ring:        ring,
		Ancestors:   ancestors,
		Descendants: descendants,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

func (e *Engine) ancestorChain(ctx context.Context, ring *db.Ring, callerDid string) ([]*db.Ring, error) {
	var out []*db.Ring
	visited := map[string]bool{ring.ID: true}

	cur := ring.ParentID
	for cur != nil {
		if visited[*cur] {
			break
		}
		visited[*cur] = true

		parent, err := db.GetRingByID(ctx, e.db, *cur)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				break
			}
			return nil, err
		}
		if e.visible(ctx, parent, callerDid) {
			out = append(out, parent)
		}
		cur = parent.ParentID
	}
	return out, nil
}

func (e *Engine) descendantTree(ctx context.Context, ringID, callerDid string, visited map[string]bool) ([]*LineageNode, error) {
	children, err := db.ChildRings(ctx, e.db, ringID)
	if err != nil {
		return nil, err
	}

	var nodes []*LineageNode
	for _, child := range children {
		if visited[child.ID] {
			continue
		}
		visited[child.ID] = true

		count, err := e.countDescendants(ctx, child.ID, map[string]bool{child.ID: true})
		if err != nil {
			return nil, err
		}

		if !e.visible(ctx, child, callerDid) {
			continue
		}

		grandchildren, err := e.descendantTree(ctx, child.ID, callerDid, visited)
		if err != nil {
			return nil, err
		}

		nodes = append(nodes, &LineageNode{
			Ring:            child,
			DescendantCount: count,
			Children:        grandchildren,
		})
	}
	return nodes, nil
}

// countDescendants returns the full recursive subtree size rooted at
// ringID, ignoring visibility -- the count is computed before any
// filtering is applied. visited guards against cycles.
func (e *Engine) countDescendants(ctx context.Context, ringID string, visited map[string]bool) (int, error) {
	children, err := db.ChildRings(ctx, e.db, ringID)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, child := range children {
		if visited[child.ID] {
			continue
		}
		visited[child.ID] = true
		total++

		sub, err := e.countDescendants(ctx, child.ID, visited)
		if err != nil {
			return 0, err
		}
		total += sub
	}
	return total, nil
}
