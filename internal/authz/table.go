package authz

import "github.com/ashita-ai/kotoba/internal/model"

// actionSet is the set of actions a role holds on one resource type.
type actionSet map[model.SpaceAction]bool

func actions(as ...model.SpaceAction) actionSet {
	s := make(actionSet, len(as))
	for _, a := range as {
		s[a] = true
	}
	return s
}

// ACL maps role -> resource type -> permitted actions. The two instances
// below are process-wide constants: loaded once, read concurrently, never
// mutated at runtime.
type ACL map[model.SpaceRole]map[model.SpaceResourceType]actionSet

// Shared is the permission matrix for shared (membership-based) spaces.
//
// The roles are not a strict ladder: editor and admin overlap, but only
// admin manages members and the space itself.
var Shared = ACL{
	model.RoleViewer: {
		model.ResourceSpace:     actions(model.ActionRead),
		model.ResourceAssistant: actions(model.ActionRead),
		model.ResourceGroupChat: actions(model.ActionRead),
		model.ResourceApp:       actions(model.ActionRead),
	},
	model.RoleEditor: {
		model.ResourceSpace: actions(model.ActionRead),
		model.ResourceAssistant: actions(model.ActionCreate, model.ActionRead, model.ActionEdit,
			model.ActionDelete, model.ActionPublish),
		model.ResourceGroupChat: actions(model.ActionCreate, model.ActionRead, model.ActionEdit,
			model.ActionDelete, model.ActionPublish),
		model.ResourceApp: actions(model.ActionCreate, model.ActionRead, model.ActionEdit,
			model.ActionDelete, model.ActionPublish),
		model.ResourceService: actions(model.ActionCreate, model.ActionRead, model.ActionEdit,
			model.ActionDelete),
		// Collections are explicitly non-publishable for editors.
		model.ResourceCollection: actions(model.ActionCreate, model.ActionRead, model.ActionEdit,
			model.ActionDelete),
		model.ResourceWebsite: actions(model.ActionCreate, model.ActionRead, model.ActionEdit,
			model.ActionDelete),
		model.ResourceIntegrationKnowledge: actions(model.ActionCreate, model.ActionRead,
			model.ActionEdit, model.ActionDelete),
		model.ResourceCompletionModel: actions(model.ActionRead),
		model.ResourceEmbeddingModel:  actions(model.ActionRead),
	},
	model.RoleAdmin: {
		model.ResourceSpace: actions(model.ActionRead, model.ActionEdit, model.ActionDelete),
		model.ResourceAssistant: actions(model.ActionCreate, model.ActionRead, model.ActionEdit,
			model.ActionDelete, model.ActionPublish, model.ActionInsightView),
		model.ResourceGroupChat: actions(model.ActionCreate, model.ActionRead, model.ActionEdit,
			model.ActionDelete, model.ActionPublish, model.ActionInsightView),
		model.ResourceApp: actions(model.ActionCreate, model.ActionRead, model.ActionEdit,
			model.ActionDelete, model.ActionPublish),
		model.ResourceService: actions(model.ActionCreate, model.ActionRead, model.ActionEdit,
			model.ActionDelete),
		model.ResourceCollection: actions(model.ActionCreate, model.ActionRead, model.ActionEdit,
			model.ActionDelete),
		model.ResourceWebsite: actions(model.ActionCreate, model.ActionRead, model.ActionEdit,
			model.ActionDelete),
		model.ResourceIntegrationKnowledge: actions(model.ActionCreate, model.ActionRead,
			model.ActionEdit, model.ActionDelete),
		model.ResourceMember: actions(model.ActionCreate, model.ActionRead, model.ActionEdit,
			model.ActionDelete),
		model.ResourceCompletionModel: actions(model.ActionRead, model.ActionEdit),
		model.ResourceEmbeddingModel:  actions(model.ActionRead, model.ActionEdit),
	},
}

// Personal is the permission matrix for single-owner personal spaces.
// Publish never appears: personal-space resources cannot be published.
var Personal = ACL{
	model.RoleOwner: {
		model.ResourceSpace: actions(model.ActionRead, model.ActionEdit),
		model.ResourceAssistant: actions(model.ActionCreate, model.ActionRead, model.ActionEdit,
			model.ActionDelete, model.ActionInsightView),
		model.ResourceGroupChat: actions(model.ActionCreate, model.ActionRead, model.ActionEdit,
			model.ActionDelete, model.ActionInsightView),
		model.ResourceApp: actions(model.ActionCreate, model.ActionRead, model.ActionEdit,
			model.ActionDelete),
		model.ResourceService: actions(model.ActionCreate, model.ActionRead, model.ActionEdit,
			model.ActionDelete),
		model.ResourceCollection: actions(model.ActionCreate, model.ActionRead, model.ActionEdit,
			model.ActionDelete),
		model.ResourceWebsite: actions(model.ActionCreate, model.ActionRead, model.ActionEdit,
			model.ActionDelete),
		model.ResourceIntegrationKnowledge: actions(model.ActionCreate, model.ActionRead,
			model.ActionEdit, model.ActionDelete),
		model.ResourceCompletionModel: actions(model.ActionRead),
		model.ResourceEmbeddingModel:  actions(model.ActionRead),
	},
}

// entitlementGated maps resource types to the tenant-level permission a user
// must hold to act on them in a personal space. The tenant permission system
// overrides even an owner's default rights in their own space.
var entitlementGated = map[model.SpaceResourceType]model.Permission{
	model.ResourceAssistant:            model.PermissionAssistants,
	model.ResourceGroupChat:            model.PermissionGroupChats,
	model.ResourceApp:                  model.PermissionApps,
	model.ResourceService:              model.PermissionServices,
	model.ResourceCollection:           model.PermissionCollections,
	model.ResourceWebsite:              model.PermissionWebsites,
	model.ResourceIntegrationKnowledge: model.PermissionIntegrationKnowledge,
}

// publishable is the set of resource types a viewer may only see once a
// concrete instance has been published.
var publishable = map[model.SpaceResourceType]bool{
	model.ResourceAssistant: true,
	model.ResourceGroupChat: true,
	model.ResourceApp:       true,
}

// insightCapable is the set of resource types carrying an insight flag.
var insightCapable = map[model.SpaceResourceType]bool{
	model.ResourceAssistant: true,
	model.ResourceGroupChat: true,
}
