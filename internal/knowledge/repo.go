package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	customErrors "github.com/muckrock/foia-coach-api/internal/common/errors"
	"github.com/muckrock/foia-coach-api/internal/common/logging"
)

var (
	// ErrDuplicateUpload is returned when a (resource, provider) row already exists
	ErrDuplicateUpload = errors.New("upload for this resource and provider already exists")

	// ErrInvalidTransition is returned when an upload is not in a state the
	// requested transition may start from
	ErrInvalidTransition = errors.New("invalid upload status transition")
)

// legacyFileIDColumn maps providers to the deprecated id column on the resource
var legacyFileIDColumn = map[string]string{
	"openai": "provider_file_id",
	"gemini": "gemini_file_id",
}

// Repo is the data access layer for resources and uploads
type Repo struct {
	db     *gorm.DB
	logger *logging.Logger
}

// NewRepo creates a repository over db
func NewRepo(db *gorm.DB, logger *logging.Logger) *Repo {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Repo{db: db, logger: logger.WithName("knowledge")}
}

// DB exposes the underlying handle
func (r *Repo) DB() *gorm.DB {
	return r.db
}

func notFound(what string, id uint) error {
	return customErrors.WrapWithDomain(customErrors.ErrNotFound, customErrors.ErrorDomainStorage,
		customErrors.CodeNotFound, fmt.Sprintf("%s %d not found", what, id))
}

func storageError(err error, message string) error {
	return customErrors.WrapStorageError(err, customErrors.CodeStorageFailed, message)
}

// CreateResource inserts a resource, filling in derived defaults
func (r *Repo) CreateResource(ctx context.Context, res *JurisdictionResource) error {
	if res.ResourceType == "" {
		res.ResourceType = ResourceGeneral
	}
	if strings.TrimSpace(res.DisplayName) == "" {
		res.DisplayName = DeriveDisplayName(firstNonEmpty(res.FileName, res.FilePath))
	}
	if res.DisplayName == "" {
		res.DisplayName = fmt.Sprintf("%s for %s", res.ResourceType.Label(), res.JurisdictionAbbrev)
	}
	if res.Description == "" {
		res.Description = fmt.Sprintf("%s for %s", res.ResourceType.Label(), res.JurisdictionAbbrev)
	}
	res.IsActive = true

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if res.Order == 0 {
			var maxOrder *int
			err := tx.Model(&JurisdictionResource{}).
				Where("jurisdiction_id = ?", res.JurisdictionID).
				Select("MAX(display_order)").
				Scan(&maxOrder).Error
			if err != nil {
				return storageError(err, "failed to compute resource order")
			}
			if maxOrder != nil {
				res.Order = *maxOrder + 1
			} else {
				res.Order = 1
			}
		}
		if err := tx.Create(res).Error; err != nil {
			return storageError(err, "failed to create resource")
		}
		return nil
	})
}

// GetResource loads a resource with its uploads
func (r *Repo) GetResource(ctx context.Context, id uint) (*JurisdictionResource, error) {
	var res JurisdictionResource
	err := r.db.WithContext(ctx).Preload("Uploads").First(&res, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("resource", id)
	}
	if err != nil {
		return nil, storageError(err, "failed to load resource")
	}
	return &res, nil
}

// ListResources returns active resources, optionally for one jurisdiction
func (r *Repo) ListResources(ctx context.Context, state string) ([]JurisdictionResource, error) {
	q := r.db.WithContext(ctx).Preload("Uploads").Where("is_active = ?", true)
	if state != "" {
		q = q.Where("jurisdiction_abbrev = ?", state)
	}
	var out []JurisdictionResource
	if err := q.Order("jurisdiction_abbrev, display_order, id").Find(&out).Error; err != nil {
		return nil, storageError(err, "failed to list resources")
	}
	return out, nil
}

// DeleteResource removes a resource and its uploads in one transaction and
// reports how many upload rows went with it.
func (r *Repo) DeleteResource(ctx context.Context, id uint) (int64, error) {
	var removed int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("resource_id = ?", id).Delete(&ResourceProviderUpload{})
		if result.Error != nil {
			return storageError(result.Error, "failed to delete uploads")
		}
		removed = result.RowsAffected

		result = tx.Delete(&JurisdictionResource{}, id)
		if result.Error != nil {
			return storageError(result.Error, "failed to delete resource")
		}
		if result.RowsAffected == 0 {
			return notFound("resource", id)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	r.logger.InfoKV("Deleted resource", "resource_id", id, "uploads", removed)
	return removed, nil
}

// CreateUpload inserts an upload row. A second row for the same resource and
// provider fails with ErrDuplicateUpload.
func (r *Repo) CreateUpload(ctx context.Context, u *ResourceProviderUpload) error {
	if u.IndexStatus == "" {
		u.IndexStatus = StatusNotUploaded
	}
	err := r.db.WithContext(ctx).Create(u).Error
	if isDuplicate(err) {
		return ErrDuplicateUpload
	}
	if err != nil {
		return storageError(err, "failed to create upload")
	}
	return nil
}

func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "duplicate key value")
}

// GetUpload loads an upload row with its resource
func (r *Repo) GetUpload(ctx context.Context, id uint) (*ResourceProviderUpload, error) {
	var u ResourceProviderUpload
	err := r.db.WithContext(ctx).Preload("Resource").First(&u, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("upload", id)
	}
	if err != nil {
		return nil, storageError(err, "failed to load upload")
	}
	return &u, nil
}

// Uploads lists every provider row for a resource
func (r *Repo) Uploads(ctx context.Context, resourceID uint) ([]ResourceProviderUpload, error) {
	var out []ResourceProviderUpload
	err := r.db.WithContext(ctx).Where("resource_id = ?", resourceID).Order("provider").Find(&out).Error
	if err != nil {
		return nil, storageError(err, "failed to list uploads")
	}
	return out, nil
}

// InitiateUpload makes sure a row exists for (resource, provider) and queues
// it when it is new or previously failed. Rows that are in flight or ready
// are returned unchanged. The bool reports whether the caller should start
// work for the row.
func (r *Repo) InitiateUpload(ctx context.Context, resourceID uint, provider string) (*ResourceProviderUpload, bool, error) {
	db := r.db.WithContext(ctx)

	var exists int64
	if err := db.Model(&JurisdictionResource{}).Where("id = ?", resourceID).Count(&exists).Error; err != nil {
		return nil, false, storageError(err, "failed to load resource")
	}
	if exists == 0 {
		return nil, false, notFound("resource", resourceID)
	}

	row := ResourceProviderUpload{ResourceID: resourceID, Provider: provider, IndexStatus: StatusPending}
	created := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "resource_id"}, {Name: "provider"}},
		DoNothing: true,
	}).Create(&row)
	if created.Error != nil {
		return nil, false, storageError(created.Error, "failed to create upload")
	}
	if created.RowsAffected == 1 {
		r.logger.InfoKV("Queued new upload", "resource_id", resourceID, "provider", provider, "upload_id", row.ID)
		return &row, true, nil
	}

	reset := db.Model(&ResourceProviderUpload{}).
		Where("resource_id = ? AND provider = ? AND index_status IN ?", resourceID, provider,
			[]IndexStatus{StatusError, StatusNotUploaded}).
		Updates(map[string]interface{}{
			"index_status":      StatusPending,
			"error_message":     "",
			"provider_file_id":  "",
			"provider_store_id": "",
			"indexed_at":        nil,
		})
	if reset.Error != nil {
		return nil, false, storageError(reset.Error, "failed to reset upload")
	}

	var current ResourceProviderUpload
	err := db.Where("resource_id = ? AND provider = ?", resourceID, provider).First(&current).Error
	if err != nil {
		return nil, false, storageError(err, "failed to reload upload")
	}
	queued := reset.RowsAffected > 0
	if queued {
		r.logger.InfoKV("Re-queued upload", "resource_id", resourceID, "provider", provider, "upload_id", current.ID)
	}
	return &current, queued, nil
}

// transition moves an upload to a new status when it is currently in one
// of from. The conditional update makes concurrent transitions safe.
func (r *Repo) transition(ctx context.Context, tx *gorm.DB, id uint, from []IndexStatus, updates map[string]interface{}) error {
	result := tx.WithContext(ctx).Model(&ResourceProviderUpload{}).
		Where("id = ? AND index_status IN ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return storageError(result.Error, "failed to update upload status")
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var current ResourceProviderUpload
	err := tx.WithContext(ctx).Select("id", "index_status").First(&current, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound("upload", id)
	}
	if err != nil {
		return storageError(err, "failed to load upload")
	}
	return fmt.Errorf("%w: %s to %v", ErrInvalidTransition, current.IndexStatus, updates["index_status"])
}

// MarkUploading moves a pending upload to uploading
func (r *Repo) MarkUploading(ctx context.Context, id uint) error {
	return r.transition(ctx, r.db, id, []IndexStatus{StatusPending},
		map[string]interface{}{"index_status": StatusUploading})
}

// MarkIndexing moves an uploading upload to indexing
func (r *Repo) MarkIndexing(ctx context.Context, id uint) error {
	return r.transition(ctx, r.db, id, []IndexStatus{StatusUploading},
		map[string]interface{}{"index_status": StatusIndexing})
}

// MarkReady records a finished upload and mirrors the file id onto the
// resource's legacy column for openai and gemini.
func (r *Repo) MarkReady(ctx context.Context, id uint, fileID, storeID string, metadata map[string]interface{}) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		updates := map[string]interface{}{
			"index_status":      StatusReady,
			"provider_file_id":  fileID,
			"provider_store_id": storeID,
			"indexed_at":        &now,
			"error_message":     "",
		}
		if metadata != nil {
			updates["provider_metadata"] = datatypes.JSONMap(metadata)
		}
		if err := r.transition(ctx, tx, id, []IndexStatus{StatusUploading, StatusIndexing}, updates); err != nil {
			return err
		}

		var u ResourceProviderUpload
		if err := tx.Select("resource_id", "provider").First(&u, id).Error; err != nil {
			return storageError(err, "failed to load upload")
		}
		if column, ok := legacyFileIDColumn[u.Provider]; ok {
			err := tx.Model(&JurisdictionResource{}).Where("id = ?", u.ResourceID).Update(column, fileID).Error
			if err != nil {
				return storageError(err, "failed to mirror legacy file id")
			}
		}
		return nil
	})
}

// MarkError records a failure from any non-terminal state
func (r *Repo) MarkError(ctx context.Context, id uint, message string) error {
	return r.transition(ctx, r.db, id,
		[]IndexStatus{StatusNotUploaded, StatusPending, StatusUploading, StatusIndexing},
		map[string]interface{}{"index_status": StatusError, "error_message": message})
}

// HasReadyResources reports whether provider has at least one ready, active
// resource, optionally limited to one jurisdiction.
func (r *Repo) HasReadyResources(ctx context.Context, provider, state string) (bool, error) {
	q := r.db.WithContext(ctx).Model(&ResourceProviderUpload{}).
		Joins("JOIN jurisdiction_resources ON jurisdiction_resources.id = resource_provider_uploads.resource_id").
		Where("resource_provider_uploads.provider = ? AND resource_provider_uploads.index_status = ?", provider, StatusReady).
		Where("jurisdiction_resources.is_active = ?", true)
	if state != "" {
		q = q.Where("jurisdiction_resources.jurisdiction_abbrev = ?", state)
	}

	var ids []uint
	if err := q.Limit(1).Pluck("resource_provider_uploads.id", &ids).Error; err != nil {
		return false, storageError(err, "failed to check ready resources")
	}
	return len(ids) > 0, nil
}

// StatusSummary maps provider name to index status for a resource
func StatusSummary(uploads []ResourceProviderUpload) map[string]IndexStatus {
	summary := make(map[string]IndexStatus, len(uploads))
	for _, u := range uploads {
		summary[u.Provider] = u.IndexStatus
	}
	return summary
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
