// Package authz resolves space permission queries: may this user perform
// this action on this resource type in this space?
//
// Resolution layers a small set of denial-only overrides over two constant
// role matrices (one for shared spaces, one for personal spaces). Overrides
// never grant beyond the base table, and their order is part of the
// contract: tenant entitlements and module gates deny unconditionally, while
// the publication and insight gates apply only when a concrete resource
// instance is supplied.
//
// All lookups are pure, synchronous reads of process-wide constants, safe
// for unlimited concurrent callers.
package authz

import (
	"errors"
	"reflect"

	"github.com/ashita-ai/kotoba/internal/model"
)

// ErrUnauthorized is returned by Require when a permission check fails.
// Surfaced as a permission-denied response; never retried.
var ErrUnauthorized = errors.New("authz: not permitted in this space")

// Publishable is implemented by resources carrying a publication flag.
type Publishable interface {
	IsPublished() bool
}

// InsightScoped is implemented by resources carrying an insight flag.
type InsightScoped interface {
	InsightViewable() bool
}

// Actor is a short-lived, per-request resolver binding one user to one
// space. It holds no state beyond the two references; create one per
// authorization query and discard it.
type Actor struct {
	user  *model.User
	space *model.Space
}

// NewActor creates an Actor for user within space.
func NewActor(user *model.User, space *model.Space) *Actor {
	return &Actor{user: user, space: space}
}

// CanPerformAction reports whether the actor's user may perform action on
// resourceType within the actor's space. resource is an optional concrete
// instance; pass nil for a bare capability check, which skips the
// publication and insight gates.
func (a *Actor) CanPerformAction(action model.SpaceAction, resourceType model.SpaceResourceType, resource any) bool {
	role := a.space.RoleOf(a.user.ID)

	table := Shared
	if a.space.IsPersonal() {
		table = Personal
	}
	base := table[role][resourceType]

	// Entitlement gate: in personal spaces the tenant permission system
	// overrides the owner's default rights.
	if a.space.IsPersonal() {
		if perm, gated := entitlementGated[resourceType]; gated && !a.user.HasPermission(perm) {
			return false
		}
	}

	// Module gate: services require the applications module.
	if resourceType == model.ResourceService && !a.user.HasModule(model.ModuleApplications) {
		return false
	}

	// Publication gate: viewers only ever act on published instances.
	if role == model.RoleViewer && publishable[resourceType] && resourcePresent(resource) {
		if p, ok := resource.(Publishable); ok && !p.IsPublished() {
			return false
		}
	}

	// Insight gate: insight viewing requires the flag on the instance.
	if insightCapable[resourceType] && action == model.ActionInsightView && resourcePresent(resource) {
		if s, ok := resource.(InsightScoped); ok && !s.InsightViewable() {
			return false
		}
	}

	return base[action]
}

// Require returns ErrUnauthorized when CanPerformAction denies.
func (a *Actor) Require(action model.SpaceAction, resourceType model.SpaceResourceType, resource any) error {
	if !a.CanPerformAction(action, resourceType, resource) {
		return ErrUnauthorized
	}
	return nil
}

// Convenience predicates for the busiest call sites. Anything not covered
// here goes through CanPerformAction directly.

func (a *Actor) CanReadAssistant(as *model.Assistant) bool {
	return a.CanPerformAction(model.ActionRead, model.ResourceAssistant, as)
}

func (a *Actor) CanEditAssistant(as *model.Assistant) bool {
	return a.CanPerformAction(model.ActionEdit, model.ResourceAssistant, as)
}

func (a *Actor) CanPublishAssistant(as *model.Assistant) bool {
	return a.CanPerformAction(model.ActionPublish, model.ResourceAssistant, as)
}

func (a *Actor) CanReadGroupChat(g *model.GroupChat) bool {
	return a.CanPerformAction(model.ActionRead, model.ResourceGroupChat, g)
}

func (a *Actor) CanViewInsights(resource any, resourceType model.SpaceResourceType) bool {
	return a.CanPerformAction(model.ActionInsightView, resourceType, resource)
}

func (a *Actor) CanCreateCollection() bool {
	return a.CanPerformAction(model.ActionCreate, model.ResourceCollection, nil)
}

func (a *Actor) CanManageMembers() bool {
	return a.CanPerformAction(model.ActionEdit, model.ResourceMember, nil)
}

// resourcePresent reports whether resource carries a concrete instance.
// A nil pointer boxed in a non-nil interface, as the convenience wrappers
// produce when handed a nil resource, counts as absent; the instance gates
// then skip rather than dereference it.
func resourcePresent(resource any) bool {
	if resource == nil {
		return false
	}
	v := reflect.ValueOf(resource)
	return v.Kind() != reflect.Pointer || !v.IsNil()
}
