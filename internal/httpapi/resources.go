package httpapi

import (
	"context"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	customErrors "github.com/muckrock/foia-coach-api/internal/common/errors"
	"github.com/muckrock/foia-coach-api/internal/ingest"
	"github.com/muckrock/foia-coach-api/internal/knowledge"
)

// resourceResponse is a resource with its per-provider status summary
type resourceResponse struct {
	*knowledge.JurisdictionResource
	UploadStatus map[string]knowledge.IndexStatus `json:"upload_status"`
}

func newResourceResponse(res *knowledge.JurisdictionResource) resourceResponse {
	return resourceResponse{JurisdictionResource: res, UploadStatus: knowledge.StatusSummary(res.Uploads)}
}

// CreateResource stores an uploaded PDF, records it, and queues it for
// indexing with the requested provider.
func (h *Handler) CreateResource(c *gin.Context) {
	ctx := c.Request.Context()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.upload.MaxSizeBytes+maxQueryBodyBytes)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		abortWithError(c, customErrors.NewValidationError("file", "a PDF file is required"), nil)
		return
	}
	defer file.Close()

	if err := h.validateFile(header.Filename, header.Size); err != nil {
		abortWithError(c, err, nil)
		return
	}
	res, err := resourceFromForm(c)
	if err != nil {
		abortWithError(c, err, nil)
		return
	}
	provider, err := h.providers.Resolve(c.PostForm("provider"))
	if err != nil {
		abortWithError(c, customErrors.NewValidationError("provider", err.Error()), nil)
		return
	}

	key, err := h.storage.Save(header.Filename, file)
	if err != nil {
		abortWithError(c, customErrors.WrapStorageError(err, customErrors.CodeStorageFailed, "failed to store file"), nil)
		return
	}
	res.FilePath = key
	res.FileName = filepath.Base(header.Filename)

	if err := h.repo.CreateResource(ctx, res); err != nil {
		if delErr := h.storage.Delete(key); delErr != nil {
			h.logger.WarnKV("Failed to remove orphaned file", "key", key, "error", delErr)
		}
		abortWithError(c, err, nil)
		return
	}

	upload, err := h.initiateUpload(ctx, res.ID, string(provider))
	if err != nil {
		abortWithError(c, err, nil)
		return
	}

	h.logger.InfoKV("Resource created", "request_id", requestID(c), "resource_id", res.ID,
		"jurisdiction", res.JurisdictionAbbrev, "provider", provider)
	res.Uploads = []knowledge.ResourceProviderUpload{*upload}
	c.JSON(http.StatusCreated, gin.H{
		"resource": newResourceResponse(res),
		"upload":   upload,
	})
}

func (h *Handler) validateFile(name string, size int64) error {
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		return customErrors.NewValidationError("file", "only PDF files are allowed")
	}
	if size > h.upload.MaxSizeBytes {
		return customErrors.NewValidationErrorf("file", "file size cannot exceed %dMB", h.upload.MaxSizeBytes/(1024*1024))
	}
	if len(filepath.Base(name)) > h.upload.MaxFilenameLength {
		return customErrors.NewValidationErrorf("file", "filename cannot exceed %d characters", h.upload.MaxFilenameLength)
	}
	return nil
}

func resourceFromForm(c *gin.Context) (*knowledge.JurisdictionResource, error) {
	jurisdictionID, err := strconv.ParseUint(c.PostForm("jurisdiction_id"), 10, 64)
	if err != nil || jurisdictionID == 0 {
		return nil, customErrors.NewValidationError("jurisdiction_id", "a jurisdiction id is required")
	}
	abbrev := strings.ToUpper(strings.TrimSpace(c.PostForm("jurisdiction_abbrev")))
	if abbrev == "" || len(abbrev) > 5 {
		return nil, customErrors.NewValidationError("jurisdiction_abbrev", "a jurisdiction abbreviation of at most 5 characters is required")
	}
	resourceType, ok := knowledge.ParseResourceType(c.PostForm("resource_type"))
	if !ok {
		return nil, customErrors.NewValidationErrorf("resource_type", "unknown resource type %q", c.PostForm("resource_type"))
	}

	res := &knowledge.JurisdictionResource{
		JurisdictionID:     uint(jurisdictionID),
		JurisdictionAbbrev: abbrev,
		DisplayName:        strings.TrimSpace(c.PostForm("display_name")),
		Description:        strings.TrimSpace(c.PostForm("description")),
		ResourceType:       resourceType,
	}
	if raw := c.PostForm("order"); raw != "" {
		order, err := strconv.Atoi(raw)
		if err != nil || order < 0 {
			return nil, customErrors.NewValidationError("order", "order must be a non-negative integer")
		}
		res.Order = order
	}
	return res, nil
}

// initiateUpload creates or resets the upload row and enqueues it when it
// needs work. A failed enqueue is recorded on the row.
func (h *Handler) initiateUpload(ctx context.Context, resourceID uint, provider string) (*knowledge.ResourceProviderUpload, error) {
	upload, queued, err := h.repo.InitiateUpload(ctx, resourceID, provider)
	if err != nil {
		return nil, err
	}
	if !queued {
		return upload, nil
	}

	if err := h.dispatcher.Enqueue(ctx, ingest.NewJob(upload.ID, provider)); err != nil {
		h.logger.ErrorKV("Failed to enqueue upload", "upload_id", upload.ID, "error", err)
		if markErr := h.repo.MarkError(context.WithoutCancel(ctx), upload.ID, "failed to queue upload: "+err.Error()); markErr != nil {
			h.logger.ErrorKV("Failed to record enqueue error", "upload_id", upload.ID, "error", markErr)
		}
		return nil, customErrors.WrapWithDomain(err, customErrors.ErrorDomainStorage, customErrors.CodeQueueFailure, "failed to queue upload")
	}
	return h.repo.GetUpload(ctx, upload.ID)
}

// ListResources lists active resources, optionally for ?state=
func (h *Handler) ListResources(c *gin.Context) {
	state := strings.ToUpper(strings.TrimSpace(c.Query("state")))
	resources, err := h.repo.ListResources(c.Request.Context(), state)
	if err != nil {
		abortWithError(c, err, nil)
		return
	}
	out := make([]resourceResponse, 0, len(resources))
	for i := range resources {
		out = append(out, newResourceResponse(&resources[i]))
	}
	c.JSON(http.StatusOK, gin.H{"resources": out, "count": len(out)})
}

// GetResource returns one resource with its uploads
func (h *Handler) GetResource(c *gin.Context) {
	id, ok := resourceID(c)
	if !ok {
		return
	}
	res, err := h.repo.GetResource(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"resource": newResourceResponse(res), "uploads": res.Uploads})
}

type initiateUploadRequest struct {
	Provider string `json:"provider"`
}

// InitiateUpload queues a resource for a provider. Rows already pending,
// in flight, or ready are returned unchanged.
func (h *Handler) InitiateUpload(c *gin.Context) {
	id, ok := resourceID(c)
	if !ok {
		return
	}
	var body initiateUploadRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			abortWithError(c, customErrors.NewValidationErrorf("body", "invalid request body: %v", err), nil)
			return
		}
	}
	provider, err := h.providers.Resolve(body.Provider)
	if err != nil {
		abortWithError(c, customErrors.NewValidationError("provider", err.Error()), nil)
		return
	}

	upload, err := h.initiateUpload(c.Request.Context(), id, string(provider))
	if err != nil {
		abortWithError(c, err, nil)
		return
	}
	status := http.StatusOK
	if upload.IndexStatus == knowledge.StatusPending {
		status = http.StatusAccepted
	}
	c.JSON(status, gin.H{"upload": upload})
}

// DeleteResource removes the resource from every provider index it reached,
// deletes the stored file, then deletes the resource and its uploads.
func (h *Handler) DeleteResource(c *gin.Context) {
	ctx := c.Request.Context()
	id, ok := resourceID(c)
	if !ok {
		return
	}
	res, err := h.repo.GetResource(ctx, id)
	if err != nil {
		abortWithError(c, err, nil)
		return
	}

	for _, upload := range res.Uploads {
		if upload.ProviderFileID == "" {
			continue
		}
		provider, err := h.providers.Get(upload.Provider, true)
		if err != nil {
			h.logger.WarnKV("Skipping provider cleanup", "provider", upload.Provider, "error", err)
			continue
		}
		pr := ingest.ProviderResource(res, nil)
		pr.StoreID = upload.ProviderStoreID
		provider.RemoveResource(ctx, pr, upload.ProviderFileID)
	}

	if err := h.storage.Delete(res.FilePath); err != nil {
		h.logger.WarnKV("Failed to delete stored file", "key", res.FilePath, "error", err)
	}

	removed, err := h.repo.DeleteResource(ctx, id)
	if err != nil {
		abortWithError(c, err, nil)
		return
	}
	h.logger.InfoKV("Resource deleted", "request_id", requestID(c), "resource_id", id, "uploads_removed", removed)
	c.JSON(http.StatusOK, gin.H{"deleted": id, "uploads_removed": removed})
}

func resourceID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		abortWithError(c, customErrors.NewValidationError("id", "resource id must be a positive integer"), nil)
		return 0, false
	}
	return uint(id), true
}
