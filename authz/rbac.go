// Package authz implements ring-scoped permission checks: a casbin
// enforcer mirroring the teacher's RBAC domain model, plus the chainable
// HTTP guards built on top of it.
package authz

import (
	"database/sql"
	"fmt"

	adapter "github.com/Blank-Xu/sql-adapter"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

// Model scopes every grouping/policy tuple to a ring: g(actorDid, roleName,
// ringId), p(roleName, ringId, ringId, permission). The object column is
// always the ring id itself since every permission in this system is
// ring-scoped.
const Model = `
[request_definition]
r = sub, dom, obj, act

[policy_definition]
p = sub, dom, obj, act

[role_definition]
g = _, _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.act == p.act && r.dom == p.dom && r.obj == p.obj && g(r.sub, p.sub, r.dom)
`

type Enforcer struct {
	E *casbin.Enforcer
}

func NewEnforcer(dbPath string) (*Enforcer, error) {
	m, err := model.NewModelFromString(Model)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	a, err := adapter.NewAdapter(conn, "sqlite3", "ring_acl")
	if err != nil {
		return nil, err
	}

	e, err := casbin.NewEnforcer(m, a)
	if err != nil {
		return nil, err
	}
	e.EnableAutoSave(false)

	return &Enforcer{E: e}, nil
}

// SetRolePermissions replaces every policy for (roleName, ringID) with
// perms. Called whenever a RingRole's permission set is created or
// updated.
func (e *Enforcer) SetRolePermissions(ringID, roleName string, perms []string) error {
	if _, err := e.E.RemoveFilteredPolicy(0, roleName, ringID); err != nil {
		return err
	}
	rules := make([][]string, 0, len(perms))
	for _, p := range perms {
		rules = append(rules, []string{roleName, ringID, ringID, p})
	}
	if len(rules) == 0 {
		return nil
	}
	_, err := e.E.AddPolicies(rules)
	return err
}

// AssignRole grants actorDid the given role within ringID, replacing any
// role the actor previously held there.
func (e *Enforcer) AssignRole(ringID, actorDid, roleName string) error {
	existing, err := e.E.GetRolesForUserInDomain(actorDid, ringID)
	if err != nil {
		return err
	}
	for _, r := range existing {
		if _, err := e.E.DeleteRoleForUserInDomain(actorDid, r, ringID); err != nil {
			return err
		}
	}
	_, err = e.E.AddRoleForUserInDomain(actorDid, roleName, ringID)
	return err
}

// RevokeRole removes every role grant the actor holds in ringID.
func (e *Enforcer) RevokeRole(ringID, actorDid string) error {
	roles, err := e.E.GetRolesForUserInDomain(actorDid, ringID)
	if err != nil {
		return err
	}
	for _, r := range roles {
		if _, err := e.E.DeleteRoleForUserInDomain(actorDid, r, ringID); err != nil {
			return err
		}
	}
	return nil
}

// RoleOf returns the role name the actor currently holds in ringID, if any.
func (e *Enforcer) RoleOf(ringID, actorDid string) (string, bool) {
	roles, err := e.E.GetRolesForUserInDomain(actorDid, ringID)
	if err != nil || len(roles) == 0 {
		return "", false
	}
	return roles[0], true
}

// HasPermission reports whether actorDid's role in ringID grants
// permission.
func (e *Enforcer) HasPermission(ringID, actorDid, permission string) (bool, error) {
	return e.E.Enforce(actorDid, ringID, ringID, permission)
}

// PermissionsOf lists every permission actorDid holds within ringID.
func (e *Enforcer) PermissionsOf(ringID, actorDid string) []string {
	var perms []string
	for _, p := range e.E.GetPermissionsForUserInDomain(actorDid, ringID) {
		if len(p) == 4 && p[2] == ringID {
			perms = append(perms, p[3])
		}
	}
	return perms
}

// RemoveRing deletes every grouping and policy rule scoped to ringID, used
// when a ring is deleted so its RBAC footprint is cascaded along with its
// rows.
func (e *Enforcer) RemoveRing(ringID string) error {
	if _, err := e.E.RemoveFilteredPolicy(1, ringID); err != nil {
		return fmt.Errorf("authz: remove ring policies: %w", err)
	}
	if _, err := e.E.RemoveFilteredGroupingPolicy(2, ringID); err != nil {
		return fmt.Errorf("authz: remove ring groupings: %w", err)
	}
	return nil
}
