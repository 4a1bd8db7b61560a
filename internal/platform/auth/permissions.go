package auth

import "strings"

// Actions gated by the permission lookup before admin operations execute.
const (
	ActionOrdersRead      = "orders:read"
	ActionOrdersUpdate    = "orders:update"
	ActionOrdersDelete    = "orders:delete"
	ActionInventoryRead   = "inventory:read"
	ActionInventoryAdjust = "inventory:adjust"
)

// Authorizer answers whether an identity may perform a named action. The
// implementation is injected so tests can swap in permissive or denying stubs.
type Authorizer interface {
	Allow(identity *Identity, action string) bool
}

// AuthorizerFunc adapts a function to the Authorizer interface.
type AuthorizerFunc func(identity *Identity, action string) bool

// Allow implements Authorizer.
func (f AuthorizerFunc) Allow(identity *Identity, action string) bool {
	if f == nil {
		return false
	}
	return f(identity, action)
}

// StaticAuthorizer gates actions on a fixed role to action-set table.
type StaticAuthorizer struct {
	grants map[string]map[string]struct{}
}

// NewStaticAuthorizer builds an Authorizer from a role to actions table. Role
// names are matched case-insensitively against the identity's roles.
func NewStaticAuthorizer(table map[string][]string) *StaticAuthorizer {
	grants := make(map[string]map[string]struct{}, len(table))
	for role, actions := range table {
		role = normaliseRole(role)
		if role == "" {
			continue
		}
		set := make(map[string]struct{}, len(actions))
		for _, action := range actions {
			action = strings.TrimSpace(action)
			if action == "" {
				continue
			}
			set[action] = struct{}{}
		}
		grants[role] = set
	}
	return &StaticAuthorizer{grants: grants}
}

// DefaultAuthorizer returns the production permission table: staff operate
// orders and inventory, admins additionally delete orders.
func DefaultAuthorizer() *StaticAuthorizer {
	return NewStaticAuthorizer(map[string][]string{
		RoleStaff: {
			ActionOrdersRead,
			ActionOrdersUpdate,
			ActionInventoryRead,
			ActionInventoryAdjust,
		},
		RoleAdmin: {
			ActionOrdersRead,
			ActionOrdersUpdate,
			ActionOrdersDelete,
			ActionInventoryRead,
			ActionInventoryAdjust,
		},
	})
}

// Allow implements Authorizer.
func (a *StaticAuthorizer) Allow(identity *Identity, action string) bool {
	if a == nil || identity == nil {
		return false
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return false
	}
	for _, role := range identity.Roles {
		actions, ok := a.grants[normaliseRole(role)]
		if !ok {
			continue
		}
		if _, ok := actions[action]; ok {
			return true
		}
	}
	return false
}
