// Package model defines the core domain types shared across Kotoba:
// spaces and their role matrix inputs, retrieved knowledge chunks,
// conversation history, and completion-model descriptors.
package model

import (
	"time"

	"github.com/google/uuid"
)

// SpaceRole is a user's role within a space.
//
// Shared spaces use viewer/editor/admin. Personal spaces have exactly one
// role, owner. Editor and admin overlap but are not nested: only admin
// manages members, while both publish assistants.
type SpaceRole string

const (
	RoleViewer SpaceRole = "viewer"
	RoleEditor SpaceRole = "editor"
	RoleAdmin  SpaceRole = "admin"
	RoleOwner  SpaceRole = "owner"
)

// SpaceResourceType enumerates the resource kinds governed by space permissions.
type SpaceResourceType string

const (
	ResourceSpace                SpaceResourceType = "space"
	ResourceAssistant            SpaceResourceType = "assistant"
	ResourceGroupChat            SpaceResourceType = "group_chat"
	ResourceApp                  SpaceResourceType = "app"
	ResourceService              SpaceResourceType = "service"
	ResourceCollection           SpaceResourceType = "collection"
	ResourceWebsite              SpaceResourceType = "website"
	ResourceIntegrationKnowledge SpaceResourceType = "integration_knowledge"
	ResourceMember               SpaceResourceType = "member"
	ResourceCompletionModel      SpaceResourceType = "completion_model"
	ResourceEmbeddingModel       SpaceResourceType = "embedding_model"
)

// SpaceAction enumerates the operations a role may hold on a resource type.
type SpaceAction string

const (
	ActionCreate      SpaceAction = "create"
	ActionRead        SpaceAction = "read"
	ActionEdit        SpaceAction = "edit"
	ActionDelete      SpaceAction = "delete"
	ActionPublish     SpaceAction = "publish"
	ActionInsightView SpaceAction = "insight_view"
)

// Permission is a tenant-level entitlement. A missing entitlement denies
// access to the corresponding resource type even in the user's own
// personal space.
type Permission string

const (
	PermissionAssistants           Permission = "assistants"
	PermissionGroupChats           Permission = "group_chats"
	PermissionApps                 Permission = "apps"
	PermissionServices             Permission = "services"
	PermissionCollections          Permission = "collections"
	PermissionWebsites             Permission = "websites"
	PermissionIntegrationKnowledge Permission = "integration_knowledge"
)

// ModuleName is a tenant-enabled feature module.
type ModuleName string

const (
	ModuleApplications ModuleName = "applications"
	ModuleIntelligence ModuleName = "intelligence"
)

// Space is a tenancy/collaboration boundary. A space with a non-nil OwnerID
// is personal (single owner); otherwise it is shared with role-based
// membership.
type Space struct {
	ID        uuid.UUID  `json:"id"`
	TenantID  uuid.UUID  `json:"tenant_id"`
	OwnerID   *uuid.UUID `json:"owner_id,omitempty"`
	Name      string     `json:"name"`
	Members   map[uuid.UUID]SpaceRole
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsPersonal reports whether the space is a single-owner personal space.
func (s *Space) IsPersonal() bool { return s.OwnerID != nil }

// RoleOf resolves the role a user holds in this space, or "" when the user
// has no standing (not the owner of a personal space, not a member of a
// shared one).
func (s *Space) RoleOf(userID uuid.UUID) SpaceRole {
	if s.IsPersonal() {
		if *s.OwnerID == userID {
			return RoleOwner
		}
		return ""
	}
	return s.Members[userID]
}

// User is the authenticated principal consulted by the permission engine.
// Permissions and Modules come from the tenant/user context collaborator.
type User struct {
	ID          uuid.UUID    `json:"id"`
	TenantID    uuid.UUID    `json:"tenant_id"`
	Email       string       `json:"email"`
	Permissions []Permission `json:"permissions"`
	Modules     []ModuleName `json:"modules"`
}

// HasPermission reports whether the user's tenant-level entitlements include p.
func (u *User) HasPermission(p Permission) bool {
	for _, q := range u.Permissions {
		if q == p {
			return true
		}
	}
	return false
}

// HasModule reports whether the user's tenant has module m enabled.
func (u *User) HasModule(m ModuleName) bool {
	for _, q := range u.Modules {
		if q == m {
			return true
		}
	}
	return false
}

// Assistant is the publishable, insight-capable resource most permission
// checks run against. Only the fields the permission overrides read are
// carried here; the full CRUD representation lives in the service layer.
type Assistant struct {
	ID             uuid.UUID `json:"id"`
	SpaceID        uuid.UUID `json:"space_id"`
	Name           string    `json:"name"`
	Prompt         string    `json:"prompt"`
	Published      bool      `json:"published"`
	InsightEnabled bool      `json:"insight_enabled"`
	ModelID        uuid.UUID `json:"completion_model_id"`
}

// IsPublished implements authz.Publishable.
func (a *Assistant) IsPublished() bool { return a.Published }

// InsightViewable implements authz.InsightScoped.
func (a *Assistant) InsightViewable() bool { return a.InsightEnabled }

// GroupChat is a multi-assistant conversation resource. Like Assistant it is
// publishable and insight-capable.
type GroupChat struct {
	ID             uuid.UUID `json:"id"`
	SpaceID        uuid.UUID `json:"space_id"`
	Name           string    `json:"name"`
	Published      bool      `json:"published"`
	InsightEnabled bool      `json:"insight_enabled"`
}

// IsPublished implements authz.Publishable.
func (g *GroupChat) IsPublished() bool { return g.Published }

// InsightViewable implements authz.InsightScoped.
func (g *GroupChat) InsightViewable() bool { return g.InsightEnabled }
