package storage_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kotoba/internal/auth"
	"github.com/ashita-ai/kotoba/internal/model"
	"github.com/ashita-ai/kotoba/internal/storage"
	"github.com/ashita-ai/kotoba/internal/testutil"
)

// testDB holds a shared test database connection for all tests in this package.
var testDB *storage.DB

func TestMain(m *testing.M) {
	ctx := context.Background()

	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

	db, err := tc.NewTestDB(ctx, testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create test DB: %v\n", err)
		os.Exit(1)
	}
	testDB = db
	defer db.Close()

	os.Exit(m.Run())
}

func createTestUser(t *testing.T, tenantID uuid.UUID) model.User {
	t.Helper()
	user, err := testDB.CreateUser(context.Background(), model.User{
		TenantID:    tenantID,
		Email:       fmt.Sprintf("user-%s@example.com", uuid.New().String()[:8]),
		Permissions: []model.Permission{model.PermissionAssistants, model.PermissionCollections},
		Modules:     []model.ModuleName{model.ModuleIntelligence},
	})
	require.NoError(t, err)
	return user
}

func createTestSpace(t *testing.T, tenantID uuid.UUID, ownerID *uuid.UUID) model.Space {
	t.Helper()
	space, err := testDB.CreateSpace(context.Background(), model.Space{
		TenantID: tenantID,
		OwnerID:  ownerID,
		Name:     "test space",
	})
	require.NoError(t, err)
	return space
}

func TestSpacesAndMembers(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()
	owner := createTestUser(t, tenantID)
	member := createTestUser(t, tenantID)

	space := createTestSpace(t, tenantID, nil)

	require.NoError(t, testDB.UpsertSpaceMember(ctx, space.ID, owner.ID, model.RoleAdmin))
	require.NoError(t, testDB.UpsertSpaceMember(ctx, space.ID, member.ID, model.RoleViewer))

	got, err := testDB.GetSpace(ctx, space.ID)
	require.NoError(t, err)
	assert.Equal(t, space.TenantID, got.TenantID)
	assert.Equal(t, model.RoleAdmin, got.Members[owner.ID])
	assert.Equal(t, model.RoleViewer, got.Members[member.ID])

	// Role upgrade via upsert.
	require.NoError(t, testDB.UpsertSpaceMember(ctx, space.ID, member.ID, model.RoleEditor))
	got, err = testDB.GetSpace(ctx, space.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RoleEditor, got.Members[member.ID])

	require.NoError(t, testDB.RemoveSpaceMember(ctx, space.ID, member.ID))
	err = testDB.RemoveSpaceMember(ctx, space.ID, member.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGetSpace_NotFound(t *testing.T) {
	_, err := testDB.GetSpace(context.Background(), uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUserPermissionsRoundTrip(t *testing.T) {
	ctx := context.Background()
	user := createTestUser(t, uuid.New())

	got, err := testDB.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.Permissions, got.Permissions)
	assert.Equal(t, user.Modules, got.Modules)

	require.NoError(t, testDB.TouchUserPermissions(ctx, user.ID,
		[]model.Permission{model.PermissionGroupChats}, nil))
	got, err = testDB.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []model.Permission{model.PermissionGroupChats}, got.Permissions)
	assert.Empty(t, got.Modules)
}

func TestRecentMessages(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()
	user := createTestUser(t, tenantID)
	space := createTestSpace(t, tenantID, &user.ID)

	session, err := testDB.CreateSession(ctx, model.Session{
		SpaceID: space.ID,
		UserID:  user.ID,
		Name:    "lunch plans",
	})
	require.NoError(t, err)

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		_, err := testDB.AppendMessage(ctx, model.Message{
			SessionID: session.ID,
			Question:  fmt.Sprintf("question %d", i),
			Answer:    fmt.Sprintf("answer %d", i),
			AttachedFiles: []model.File{
				{ID: uuid.New(), Name: "notes.txt", Kind: model.FileText, Text: "attached"},
			},
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	// A limit smaller than the thread keeps the recent end, oldest first.
	msgs, err := testDB.RecentMessages(ctx, session.ID, 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "question 2", msgs[0].Question)
	assert.Equal(t, "question 4", msgs[2].Question)

	// File metadata survives the jsonb round trip.
	require.Len(t, msgs[0].AttachedFiles, 1)
	assert.Equal(t, "notes.txt", msgs[0].AttachedFiles[0].Name)
	assert.Equal(t, model.FileText, msgs[0].AttachedFiles[0].Kind)

	require.NoError(t, testDB.DeleteSession(ctx, session.ID))
	msgs, err = testDB.RecentMessages(ctx, session.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestAssistants(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()
	user := createTestUser(t, tenantID)
	space := createTestSpace(t, tenantID, &user.ID)

	asst, err := testDB.CreateAssistant(ctx, model.Assistant{
		SpaceID: space.ID,
		Name:    "support bot",
		Prompt:  "You answer support questions.",
	})
	require.NoError(t, err)

	got, err := testDB.GetAssistant(ctx, asst.ID)
	require.NoError(t, err)
	assert.False(t, got.Published)
	assert.Equal(t, "You answer support questions.", got.Prompt)

	got.Published = true
	got.InsightEnabled = true
	require.NoError(t, testDB.UpdateAssistant(ctx, got))

	got, err = testDB.GetAssistant(ctx, asst.ID)
	require.NoError(t, err)
	assert.True(t, got.Published)
	assert.True(t, got.InsightEnabled)

	list, err := testDB.ListAssistants(ctx, space.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestChunkIngestion(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()
	user := createTestUser(t, tenantID)
	space := createTestSpace(t, tenantID, &user.ID)

	coll, err := testDB.CreateCollection(ctx, model.Collection{
		SpaceID:        space.ID,
		TenantID:       tenantID,
		Name:           "handbook",
		EmbeddingModel: "text-embedding-3-small",
	})
	require.NoError(t, err)

	doc, err := testDB.CreateDocument(ctx, model.Document{
		CollectionID: coll.ID,
		TenantID:     tenantID,
		Title:        "Employee Handbook",
	})
	require.NoError(t, err)

	chunks := make([]model.Chunk, 4)
	embeddings := make([]pgvector.Vector, 4)
	for i := range chunks {
		chunks[i] = model.Chunk{
			DocumentID: doc.ID,
			Title:      doc.Title,
			Position:   i,
			Text:       fmt.Sprintf("section %d text", i),
		}
		embeddings[i] = pgvector.NewVector(make([]float32, 1536))
	}

	n, err := testDB.InsertChunks(ctx, chunks, embeddings)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	got, err := testDB.ListChunksByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, got, 4)
	for i, c := range got {
		assert.Equal(t, i, c.Position)
		assert.Equal(t, doc.ID, c.DocumentID)
	}

	require.NoError(t, testDB.DeleteDocument(ctx, doc.ID))
	got, err = testDB.ListChunksByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestInsertChunks_MismatchedEmbeddings(t *testing.T) {
	_, err := testDB.InsertChunks(context.Background(),
		[]model.Chunk{{ID: uuid.New()}}, nil)
	require.Error(t, err)
}

func TestAPIKeys(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()
	user := createTestUser(t, tenantID)

	key, err := testDB.CreateAPIKey(ctx, model.APIKey{
		UserID:   user.ID,
		TenantID: tenantID,
		Name:     "ci key",
		Prefix:   "ktb_abc1",
		KeyHash:  "argon2-hash-placeholder",
	})
	require.NoError(t, err)

	keys, err := testDB.GetActiveAPIKeysByPrefix(ctx, "ktb_abc1")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)

	require.NoError(t, testDB.TouchAPIKeyUsed(ctx, key.ID))

	require.NoError(t, testDB.RevokeAPIKey(ctx, tenantID, key.ID))
	keys, err = testDB.GetActiveAPIKeysByPrefix(ctx, "ktb_abc1")
	require.NoError(t, err)
	assert.Empty(t, keys)

	err = testDB.RevokeAPIKey(ctx, tenantID, key.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// TestAPIKeyProvisioning walks the flow the genkey script performs: mint a
// key, store only hash and prefix, then authenticate with the plaintext the
// way the token exchange does.
func TestAPIKeyProvisioning(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()
	user := createTestUser(t, tenantID)

	plaintext, prefix, err := auth.GenerateAPIKey()
	require.NoError(t, err)
	hash, err := auth.HashAPIKey(plaintext)
	require.NoError(t, err)

	created, err := testDB.CreateAPIKey(ctx, model.APIKey{
		UserID:   user.ID,
		TenantID: tenantID,
		Name:     "provisioned key",
		Prefix:   prefix,
		KeyHash:  hash,
	})
	require.NoError(t, err)

	candidates, err := testDB.GetActiveAPIKeysByPrefix(ctx, plaintext[:auth.KeyPrefixLen])
	require.NoError(t, err)
	require.NotEmpty(t, candidates)

	var matched bool
	for _, c := range candidates {
		ok, err := auth.VerifyAPIKey(plaintext, c.KeyHash)
		require.NoError(t, err)
		if ok {
			matched = true
			assert.Equal(t, created.ID, c.ID)
			assert.Equal(t, user.ID, c.UserID)
		}
	}
	assert.True(t, matched, "stored hash must verify against the minted plaintext")
}

func TestCompletionModelCatalog(t *testing.T) {
	ctx := context.Background()

	mdl, err := testDB.UpsertCompletionModel(ctx, model.CompletionModel{
		Name:       "gpt-4o-mini",
		Nickname:   "mini",
		Family:     model.FamilyOpenAI,
		TokenLimit: 128000,
	})
	require.NoError(t, err)

	got, err := testDB.GetCompletionModel(ctx, mdl.ID)
	require.NoError(t, err)
	assert.Equal(t, model.FamilyOpenAI, got.Family)
	assert.Equal(t, 128000, got.TokenLimit)
	assert.False(t, got.Vision)

	// Re-seeding the same name updates in place and keeps the ID.
	updated, err := testDB.UpsertCompletionModel(ctx, model.CompletionModel{
		Name:       "gpt-4o-mini",
		Nickname:   "mini",
		Family:     model.FamilyOpenAI,
		TokenLimit: 128000,
		Vision:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, mdl.ID, updated.ID)

	got, err = testDB.GetCompletionModel(ctx, mdl.ID)
	require.NoError(t, err)
	assert.True(t, got.Vision)

	list, err := testDB.ListCompletionModels(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, list)

	_, err = testDB.GetCompletionModel(ctx, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAssistantWithoutModel(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()
	user := createTestUser(t, tenantID)
	space := createTestSpace(t, tenantID, &user.ID)

	asst, err := testDB.CreateAssistant(ctx, model.Assistant{
		SpaceID: space.ID,
		Name:    "unbound",
	})
	require.NoError(t, err)

	got, err := testDB.GetAssistant(ctx, asst.ID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, got.ModelID)
}
