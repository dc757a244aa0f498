// Package ingest moves uploaded resources into provider indexes and owns
// the upload status transitions.
package ingest

import (
	"context"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/muckrock/foia-coach-api/internal/common/logging"
	"github.com/muckrock/foia-coach-api/internal/knowledge"
	"github.com/muckrock/foia-coach-api/internal/monitoring"
	"github.com/muckrock/foia-coach-api/internal/rag"
)

// Processor handles one upload job
type Processor interface {
	Process(ctx context.Context, uploadID uint) error
}

// Runner drives a single upload through pending, uploading, indexing and
// then ready or error.
type Runner struct {
	repo      *knowledge.Repo
	providers *rag.ProviderCache
	storage   *knowledge.Storage
	logger    *logging.Logger
}

// NewRunner creates a runner
func NewRunner(repo *knowledge.Repo, providers *rag.ProviderCache, storage *knowledge.Storage, logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Runner{
		repo:      repo,
		providers: providers,
		storage:   storage,
		logger:    logger.WithName("ingest"),
	}
}

// Process uploads the resource behind uploadID. Uploads that are no longer
// pending are skipped so redelivered jobs are harmless.
func (r *Runner) Process(ctx context.Context, uploadID uint) (err error) {
	ctx, span := otel.Tracer("foia-coach/ingest").Start(ctx, "upload.process")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	upload, err := r.repo.GetUpload(ctx, uploadID)
	if err != nil {
		return err
	}
	span.SetAttributes(
		attribute.Int("upload.id", int(upload.ID)),
		attribute.String("rag.provider", upload.Provider),
		attribute.Int("resource.id", int(upload.ResourceID)),
	)
	log := r.logger.With("upload_id", upload.ID, "resource_id", upload.ResourceID, "provider", upload.Provider)

	if upload.IndexStatus != knowledge.StatusPending {
		log.InfoKV("Skipping upload that is not pending", "status", upload.IndexStatus)
		return nil
	}
	if err := r.repo.MarkUploading(ctx, upload.ID); err != nil {
		return err
	}
	monitoring.RecordUploadTransition(upload.Provider, string(knowledge.StatusUploading))

	start := time.Now()
	// the final status is written even if the job context is gone by then
	finalCtx := context.WithoutCancel(ctx)
	result, err := r.upload(ctx, upload, log)
	if err != nil {
		log.ErrorKV("Upload failed", "error", err)
		r.markError(finalCtx, upload, err, start, log)
		return err
	}

	if err := r.repo.MarkReady(finalCtx, upload.ID, result.FileID, result.StoreID, result.Metadata); err != nil {
		log.ErrorKV("Failed to record finished upload", "error", err, "file_id", result.FileID)
		r.markError(finalCtx, upload, err, start, log)
		return err
	}
	monitoring.RecordUploadTransition(upload.Provider, string(knowledge.StatusReady))
	monitoring.ObserveUploadDuration(upload.Provider, "ready", time.Since(start))
	log.InfoKV("Upload ready", "file_id", result.FileID, "store_id", result.StoreID, "elapsed", time.Since(start))
	return nil
}

func (r *Runner) markError(ctx context.Context, upload *knowledge.ResourceProviderUpload, cause error, start time.Time, log *logging.Logger) {
	if err := r.repo.MarkError(ctx, upload.ID, cause.Error()); err != nil {
		log.ErrorKV("Failed to record upload error", "error", err)
	}
	monitoring.RecordUploadTransition(upload.Provider, string(knowledge.StatusError))
	monitoring.ObserveUploadDuration(upload.Provider, "error", time.Since(start))
}

func (r *Runner) upload(ctx context.Context, upload *knowledge.ResourceProviderUpload, log *logging.Logger) (*rag.UploadResult, error) {
	provider, err := r.providers.Get(upload.Provider, true)
	if err != nil {
		return nil, err
	}
	return provider.UploadResource(ctx, r.providerResource(ctx, upload, log))
}

// providerResource builds the provider view of an upload's resource. The
// indexing callback advances the status while the provider waits.
func (r *Runner) providerResource(ctx context.Context, upload *knowledge.ResourceProviderUpload, log *logging.Logger) *rag.Resource {
	res := ProviderResource(upload.Resource, r.storage)
	res.StoreID = upload.ProviderStoreID
	res.OnIndexing = func() {
		if err := r.repo.MarkIndexing(ctx, upload.ID); err != nil {
			log.WarnKV("Failed to mark upload indexing", "error", err)
			return
		}
		monitoring.RecordUploadTransition(upload.Provider, string(knowledge.StatusIndexing))
	}
	return res
}

// ProviderResource converts a stored resource into what providers consume
func ProviderResource(res *knowledge.JurisdictionResource, storage *knowledge.Storage) *rag.Resource {
	out := &rag.Resource{
		ID:                 res.ID,
		JurisdictionAbbrev: res.JurisdictionAbbrev,
		ResourceType:       string(res.ResourceType),
		DisplayName:        res.DisplayName,
		Description:        res.Description,
		FileName:           res.FileName,
	}
	if storage != nil && res.FilePath != "" {
		key := res.FilePath
		out.Path = storage.Path(key)
		out.Open = func() (io.ReadCloser, error) { return storage.Open(key) }
	}
	return out
}
