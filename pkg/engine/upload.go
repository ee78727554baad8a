package engine

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/open-workshop/storage/pkg/fsguard"
	"github.com/open-workshop/storage/pkg/imaging"
	"github.com/open-workshop/storage/pkg/registry"
	"github.com/open-workshop/storage/pkg/token"
	"github.com/open-workshop/storage/pkg/types"
)

// RunUpload ingests a request body as a transfer job on the calling
// goroutine. The body is streamed straight to disk and then processed to
// its packed form before the function returns; contentLength below zero
// means the total is unknown.
func (e *Engine) RunUpload(claims *token.TransferClaims, filename string, body io.Reader, contentLength int64) (registry.Snapshot, *TransferError) {
	if !fsguard.IsSafeJobID(claims.JobID) {
		return registry.Snapshot{}, badRequest(types.ReasonInvalidJobID, "invalid job id")
	}

	var mode types.Mode
	switch claims.TransferKind {
	case types.KindArchive:
		if claims.PackFormat != "" && claims.PackFormat != types.PackFormatZip {
			return registry.Snapshot{}, badRequest(types.ReasonUnsupportedFormat, "unsupported pack format "+claims.PackFormat)
		}
		mode = types.ModeUploadArchive
	case types.KindImage:
		if !types.IsAllowedUploadType(claims.StorageType) || claims.FileKind != "img" {
			return registry.Snapshot{}, badRequest(types.ReasonUnsupportedKind, "storage type not allowed for image upload")
		}
		mode = types.ModeUploadImage
	default:
		return registry.Snapshot{}, badRequest(types.ReasonUnsupportedKind, "unsupported transfer kind")
	}

	name := filename
	if name == "" {
		name = claims.Filename
	}
	name = fsguard.SanitizeFilename(name, "upload")

	dir, err := e.reg.JobDir(claims.JobID)
	if err != nil {
		return registry.Snapshot{}, badRequest(types.ReasonInvalidJobID, "invalid job id")
	}

	jobID := claims.JobID
	_, created := e.reg.GetOrCreate(jobID, func(j *registry.Job) {
		j.Mode = mode
		j.Dir = dir
		j.Meta.ModID = claims.ModID
		j.Meta.TransferKind = claims.TransferKind
		j.Meta.StorageType = claims.StorageType
		j.Meta.FileKind = claims.FileKind
		j.Meta.Filename = name
		j.Meta.DownloadPath = path.Join("temp", jobID, name)
		if claims.TransferKind == types.KindArchive {
			j.Meta.PackFormat = types.PackFormatZip
			j.Meta.PackLevel = claims.Level()
		}
	})
	if !created {
		return registry.Snapshot{}, badRequest("", "job already exists")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		e.reg.Remove(jobID)
		return registry.Snapshot{}, internal(types.ReasonException, "failed to create job directory")
	}

	e.setStage(jobID, types.StageUploading)
	e.persist(jobID)

	var total *int64
	if contentLength >= 0 {
		t := contentLength
		total = &t
		e.reg.Progress(jobID, 0, total)
	}
	limit := e.effectiveLimit(claims.MaxBytes)
	if limit > 0 && total != nil && *total > limit {
		terr := &TransferError{Code: http.StatusRequestEntityTooLarge, Reason: types.ReasonSizeLimit, Msg: "announced size exceeds limit"}
		e.finishError(jobID, claims, mode, terr)
		return registry.Snapshot{}, terr
	}

	dest := filepath.Join(dir, name)
	if _, terr := e.streamToFile(jobID, body, dest, total, limit, types.StageUploading); terr != nil {
		e.finishError(jobID, claims, mode, terr)
		return registry.Snapshot{}, terr
	}

	e.reg.UpdateMeta(jobID, func(m *types.Meta) {
		m.UploadCompletedAt = time.Now().Unix()
	})
	e.setStage(jobID, types.StageUploaded)
	e.persist(jobID)

	var terr *TransferError
	if mode == types.ModeUploadImage {
		terr = e.prepareImage(jobID, dir, dest)
	} else {
		// Post-ingest processing continues even if the uploader has
		// already gone away, so it runs off the request context.
		terr = e.repack(e.baseCtx, jobID, dir, dest, claims.Level())
	}
	if terr != nil {
		e.finishError(jobID, claims, mode, terr)
		return registry.Snapshot{}, terr
	}

	e.finishSuccess(jobID, claims, mode)
	snap, _ := e.reg.Snapshot(jobID)
	return snap, nil
}

// prepareImage converts the uploaded payload to the canonical image format
// and removes the source so no original bytes remain in temp.
func (e *Engine) prepareImage(jobID, dir, source string) *TransferError {
	e.setStage(jobID, types.StageProcessing)
	e.persist(jobID)

	packed := filepath.Join(dir, "packed."+imaging.Format)
	size, err := imaging.FileToWebP(source, packed, imaging.DefaultQuality)
	if err != nil {
		os.Remove(packed)
		if errors.Is(err, imaging.ErrNotImage) {
			return badRequest(types.ReasonNotImage, "payload is not a decodable image")
		}
		return internal(types.ReasonImagePrepareFailed, "failed to prepare image: "+err.Error())
	}
	if err := os.Remove(source); err != nil {
		e.logger.Warn().Err(err).Str("job_id", jobID).Msg("failed to remove image source")
	}

	rel, err := filepath.Rel(e.reg.Root(), packed)
	if err != nil {
		return internal(types.ReasonImagePrepareFailed, "failed to resolve packed path")
	}
	e.reg.UpdateMeta(jobID, func(m *types.Meta) {
		m.PackedPath = filepath.ToSlash(rel)
		m.PackedBytes = size
		m.PackedFormat = imaging.Format
	})
	e.setStage(jobID, types.StagePacked)
	e.persist(jobID)
	return nil
}
