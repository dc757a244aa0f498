package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	customErrors "github.com/muckrock/foia-coach-api/internal/common/errors"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newTestRepo(t *testing.T) *Repo {
	return NewRepo(openTestDB(t), nil)
}

func createResource(t *testing.T, repo *Repo, abbrev string) *JurisdictionResource {
	t.Helper()
	res := &JurisdictionResource{
		JurisdictionID:     1,
		JurisdictionAbbrev: abbrev,
		FilePath:           "foia_coach/jurisdiction_resources/2025/01/cora.pdf",
		FileName:           "colorado_open-records.pdf",
		ResourceType:       ResourceLawGuide,
	}
	require.NoError(t, repo.CreateResource(context.Background(), res))
	return res
}

func TestCreateResourceDerivesDefaults(t *testing.T) {
	repo := newTestRepo(t)

	first := createResource(t, repo, "CO")
	assert.Equal(t, "Colorado Open Records", first.DisplayName)
	assert.Equal(t, "Law Guide for CO", first.Description)
	assert.Equal(t, 1, first.Order)
	assert.True(t, first.IsActive)

	second := createResource(t, repo, "CO")
	assert.Equal(t, 2, second.Order)

	explicit := &JurisdictionResource{JurisdictionID: 1, JurisdictionAbbrev: "CO", FilePath: "x.pdf",
		DisplayName: "Custom", Description: "Mine", Order: 10}
	require.NoError(t, repo.CreateResource(context.Background(), explicit))
	assert.Equal(t, "Custom", explicit.DisplayName)
	assert.Equal(t, 10, explicit.Order)
	assert.Equal(t, ResourceGeneral, explicit.ResourceType)
}

func TestCreateResourceFallsBackWhenNameHasNoWords(t *testing.T) {
	repo := newTestRepo(t)

	for _, name := range []string{"_.pdf", "---.pdf", ".pdf"} {
		res := &JurisdictionResource{JurisdictionID: 1, JurisdictionAbbrev: "CO", FilePath: "resources/" + name,
			FileName: name, ResourceType: ResourceExemptions}
		require.NoError(t, repo.CreateResource(context.Background(), res), name)
		assert.Equal(t, "Exemptions for CO", res.DisplayName, name)

		loaded, err := repo.GetResource(context.Background(), res.ID)
		require.NoError(t, err)
		assert.NotEmpty(t, loaded.DisplayName, name)
	}
}

func TestInitiateUploadIsIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	res := createResource(t, repo, "CO")

	first, queued, err := repo.InitiateUpload(ctx, res.ID, "openai")
	require.NoError(t, err)
	assert.True(t, queued)
	assert.Equal(t, StatusPending, first.IndexStatus)

	second, queued, err := repo.InitiateUpload(ctx, res.ID, "openai")
	require.NoError(t, err)
	assert.False(t, queued)
	assert.Equal(t, first.ID, second.ID)

	uploads, err := repo.Uploads(ctx, res.ID)
	require.NoError(t, err)
	assert.Len(t, uploads, 1)
}

func TestInitiateUploadResetsError(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	res := createResource(t, repo, "CO")

	row, _, err := repo.InitiateUpload(ctx, res.ID, "gemini")
	require.NoError(t, err)
	require.NoError(t, repo.MarkUploading(ctx, row.ID))
	require.NoError(t, repo.MarkError(ctx, row.ID, "quota exceeded"))

	failed, err := repo.GetUpload(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, failed.IndexStatus)
	assert.Equal(t, "quota exceeded", failed.ErrorMessage)

	reset, queued, err := repo.InitiateUpload(ctx, res.ID, "gemini")
	require.NoError(t, err)
	assert.True(t, queued)
	assert.Equal(t, row.ID, reset.ID)
	assert.Equal(t, StatusPending, reset.IndexStatus)
	assert.Empty(t, reset.ErrorMessage)
}

func TestInitiateUploadConcurrent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	res := createResource(t, repo, "CO")

	// shared-cache sqlite reports table locks instead of waiting
	sqlDB, err := repo.DB().DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	const workers = 16
	var (
		wg     sync.WaitGroup
		queued atomic.Int32
		ids    = make([]uint, workers)
		errs   = make([]error, workers)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			row, q, err := repo.InitiateUpload(ctx, res.ID, "gemini")
			errs[i] = err
			if err != nil {
				return
			}
			ids[i] = row.ID
			if q {
				queued.Add(1)
			}
		}(i)
	}
	wg.Wait()

	for i := range errs {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	assert.EqualValues(t, 1, queued.Load())

	var rows int64
	require.NoError(t, repo.DB().Model(&ResourceProviderUpload{}).
		Where("resource_id = ? AND provider = ?", res.ID, "gemini").Count(&rows).Error)
	assert.EqualValues(t, 1, rows)
}

func TestInitiateUploadLeavesReadyUnchanged(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	res := createResource(t, repo, "CO")

	row, _, err := repo.InitiateUpload(ctx, res.ID, "openai")
	require.NoError(t, err)
	require.NoError(t, repo.MarkUploading(ctx, row.ID))
	require.NoError(t, repo.MarkIndexing(ctx, row.ID))
	require.NoError(t, repo.MarkReady(ctx, row.ID, "file_1", "vs_1", map[string]interface{}{"chunks": 3}))

	again, queued, err := repo.InitiateUpload(ctx, res.ID, "openai")
	require.NoError(t, err)
	assert.False(t, queued)
	assert.Equal(t, StatusReady, again.IndexStatus)
	assert.Equal(t, "file_1", again.ProviderFileID)
	assert.Equal(t, "vs_1", again.ProviderStoreID)
	assert.NotNil(t, again.IndexedAt)
	assert.Equal(t, json.Number("3"), again.ProviderMetadata["chunks"])

	// legacy id is mirrored onto the resource
	loaded, err := repo.GetResource(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "file_1", loaded.ProviderFileID)
	assert.Empty(t, loaded.GeminiFileID)
}

func TestInitiateUploadUnknownResource(t *testing.T) {
	repo := newTestRepo(t)

	_, _, err := repo.InitiateUpload(context.Background(), 999, "openai")
	require.Error(t, err)
	assert.True(t, errors.Is(err, customErrors.ErrNotFound))
}

func TestInvalidTransitions(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	res := createResource(t, repo, "CO")
	row, _, err := repo.InitiateUpload(ctx, res.ID, "mock")
	require.NoError(t, err)

	assert.ErrorIs(t, repo.MarkIndexing(ctx, row.ID), ErrInvalidTransition)
	assert.ErrorIs(t, repo.MarkReady(ctx, row.ID, "f", "s", nil), ErrInvalidTransition)

	require.NoError(t, repo.MarkUploading(ctx, row.ID))
	assert.ErrorIs(t, repo.MarkUploading(ctx, row.ID), ErrInvalidTransition)

	require.NoError(t, repo.MarkReady(ctx, row.ID, "f", "s", nil))
	assert.ErrorIs(t, repo.MarkError(ctx, row.ID, "late"), ErrInvalidTransition)

	err = repo.MarkUploading(ctx, 12345)
	assert.True(t, errors.Is(err, customErrors.ErrNotFound))
}

func TestDuplicateUploadRejected(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	res := createResource(t, repo, "CO")

	require.NoError(t, repo.CreateUpload(ctx, &ResourceProviderUpload{ResourceID: res.ID, Provider: "openai"}))
	err := repo.CreateUpload(ctx, &ResourceProviderUpload{ResourceID: res.ID, Provider: "openai"})
	assert.ErrorIs(t, err, ErrDuplicateUpload)

	require.NoError(t, repo.CreateUpload(ctx, &ResourceProviderUpload{ResourceID: res.ID, Provider: "gemini"}))
}

func TestDeleteResourceCascades(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	res := createResource(t, repo, "CO")
	other := createResource(t, repo, "WA")

	for _, p := range []string{"openai", "gemini", "mock"} {
		_, _, err := repo.InitiateUpload(ctx, res.ID, p)
		require.NoError(t, err)
	}
	_, _, err := repo.InitiateUpload(ctx, other.ID, "openai")
	require.NoError(t, err)

	removed, err := repo.DeleteResource(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	var remaining int64
	require.NoError(t, repo.DB().Model(&ResourceProviderUpload{}).Count(&remaining).Error)
	assert.Equal(t, int64(1), remaining)

	_, err = repo.DeleteResource(ctx, res.ID)
	assert.True(t, errors.Is(err, customErrors.ErrNotFound))
}

func TestHasReadyResources(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	co := createResource(t, repo, "CO")

	ready, err := repo.HasReadyResources(ctx, "gemini", "CO")
	require.NoError(t, err)
	assert.False(t, ready)

	row, _, err := repo.InitiateUpload(ctx, co.ID, "gemini")
	require.NoError(t, err)
	require.NoError(t, repo.MarkUploading(ctx, row.ID))
	require.NoError(t, repo.MarkReady(ctx, row.ID, "doc", "store", nil))

	tests := []struct {
		provider, state string
		want            bool
	}{
		{"gemini", "CO", true},
		{"gemini", "", true},
		{"gemini", "WA", false},
		{"openai", "CO", false},
	}
	for _, tt := range tests {
		t.Run(tt.provider+"_"+tt.state, func(t *testing.T) {
			got, err := repo.HasReadyResources(ctx, tt.provider, tt.state)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	require.NoError(t, repo.DB().Model(&JurisdictionResource{}).Where("id = ?", co.ID).Update("is_active", false).Error)
	ready, err = repo.HasReadyResources(ctx, "gemini", "CO")
	require.NoError(t, err)
	assert.False(t, ready)
}

func TestListResourcesAndSummary(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	co := createResource(t, repo, "CO")
	createResource(t, repo, "WA")
	_, _, err := repo.InitiateUpload(ctx, co.ID, "openai")
	require.NoError(t, err)

	all, err := repo.ListResources(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	colorado, err := repo.ListResources(ctx, "CO")
	require.NoError(t, err)
	require.Len(t, colorado, 1)
	assert.Equal(t, map[string]IndexStatus{"openai": StatusPending}, StatusSummary(colorado[0].Uploads))
}

func TestDeriveDisplayName(t *testing.T) {
	tests := map[string]string{
		"colorado_open-records.pdf":   "Colorado Open Records",
		"path/to/FOIA_appeal_tips.pdf": "Foia Appeal Tips",
		"single.pdf":                  "Single",
		"_.pdf":                       "",
		"---.pdf":                     "",
		".pdf":                        "",
	}
	for in, want := range tests {
		assert.Equal(t, want, DeriveDisplayName(in), in)
	}
}
