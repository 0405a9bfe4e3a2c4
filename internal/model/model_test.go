package model

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestSpaceRoleOf_Personal(t *testing.T) {
	owner := uuid.New()
	stranger := uuid.New()
	space := Space{ID: uuid.New(), OwnerID: &owner}

	assert.True(t, space.IsPersonal())
	assert.Equal(t, RoleOwner, space.RoleOf(owner))
	assert.Equal(t, SpaceRole(""), space.RoleOf(stranger))
}

func TestSpaceRoleOf_Shared(t *testing.T) {
	admin := uuid.New()
	viewer := uuid.New()
	space := Space{
		ID: uuid.New(),
		Members: map[uuid.UUID]SpaceRole{
			admin:  RoleAdmin,
			viewer: RoleViewer,
		},
	}

	assert.False(t, space.IsPersonal())
	assert.Equal(t, RoleAdmin, space.RoleOf(admin))
	assert.Equal(t, RoleViewer, space.RoleOf(viewer))
	assert.Equal(t, SpaceRole(""), space.RoleOf(uuid.New()))
}

func TestUserEntitlements(t *testing.T) {
	u := User{
		Permissions: []Permission{PermissionAssistants},
		Modules:     []ModuleName{ModuleIntelligence},
	}

	assert.True(t, u.HasPermission(PermissionAssistants))
	assert.False(t, u.HasPermission(PermissionCollections))
	assert.True(t, u.HasModule(ModuleIntelligence))
	assert.False(t, u.HasModule(ModuleApplications))
}

func TestPartitionFiles(t *testing.T) {
	files := []File{
		{Name: "notes.txt", Kind: FileText},
		{Name: "photo.png", Kind: FileImage},
		{Name: "more.md", Kind: FileText},
	}

	text, images := PartitionFiles(files)
	assert.Len(t, text, 2)
	assert.Len(t, images, 1)
	assert.Equal(t, "notes.txt", text[0].Name)
	assert.Equal(t, "more.md", text[1].Name)
	assert.Equal(t, "photo.png", images[0].Name)
}

func TestPartitionFiles_Empty(t *testing.T) {
	text, images := PartitionFiles(nil)
	assert.Empty(t, text)
	assert.Empty(t, images)
}
