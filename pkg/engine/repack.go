package engine

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/open-workshop/storage/pkg/archive"
	"github.com/open-workshop/storage/pkg/fsguard"
	"github.com/open-workshop/storage/pkg/metrics"
	"github.com/open-workshop/storage/pkg/registry"
	"github.com/open-workshop/storage/pkg/types"
)

// repack normalizes the job's source file into the canonical packed form.
// A source that already is a canonical zip is adopted as-is; anything else
// is extracted (or moved in whole, when it is not an archive) and rezipped
// at the requested level.
func (e *Engine) repack(ctx context.Context, jobID, dir, source string, level int) *TransferError {
	e.setStage(jobID, types.StageRepacking)
	e.persist(jobID)

	probe, err := e.tool.Probe(ctx, source)
	if err != nil {
		metrics.RepacksTotal.WithLabelValues("error").Inc()
		return internal(types.ReasonRepackFailed, "failed to probe source: "+err.Error())
	}
	if probe != nil && probe.Encrypted {
		metrics.RepacksTotal.WithLabelValues("error").Inc()
		os.Remove(source)
		return &TransferError{Code: http.StatusBadRequest, Reason: types.ReasonEncryptedZip, Msg: "archive is encrypted"}
	}

	if probe != nil && archive.IsCanonicalZip(probe) {
		info, err := os.Stat(source)
		if err != nil {
			metrics.RepacksTotal.WithLabelValues("error").Inc()
			return internal(types.ReasonRepackFailed, "failed to stat source")
		}
		rel, err := filepath.Rel(e.reg.Root(), source)
		if err != nil {
			metrics.RepacksTotal.WithLabelValues("error").Inc()
			return internal(types.ReasonRepackFailed, "failed to resolve source path")
		}
		e.reg.UpdateMeta(jobID, func(m *types.Meta) {
			m.PackedPath = filepath.ToSlash(rel)
			m.PackedBytes = info.Size()
			m.PackedFormat = types.PackFormatZip
		})
		e.setStage(jobID, types.StagePacked)
		e.persist(jobID)
		metrics.RepacksTotal.WithLabelValues("canonical").Inc()
		e.logger.Debug().Str("job_id", jobID).Msg("source already canonical, adopted without rewrite")
		return nil
	}

	repackDir := filepath.Join(dir, "repack")
	if err := os.MkdirAll(repackDir, 0o755); err != nil {
		metrics.RepacksTotal.WithLabelValues("error").Inc()
		return internal(types.ReasonRepackFailed, "failed to create repack directory")
	}

	if probe == nil {
		// Not an archive: the payload becomes the sole member of the
		// new zip.
		if err := os.Rename(source, filepath.Join(repackDir, filepath.Base(source))); err != nil {
			metrics.RepacksTotal.WithLabelValues("error").Inc()
			return internal(types.ReasonRepackFailed, "failed to stage source for packing")
		}
	} else if err := e.tool.Extract(ctx, source, repackDir, probe); err != nil {
		metrics.RepacksTotal.WithLabelValues("error").Inc()
		if errors.Is(err, archive.ErrEncrypted) {
			return &TransferError{Code: http.StatusBadRequest, Reason: types.ReasonEncryptedZip, Msg: "archive is encrypted"}
		}
		return internal(types.ReasonRepackFailed, "failed to extract source: "+err.Error())
	}

	packed := filepath.Join(dir, "packed.zip")
	size, err := archive.BuildZip(repackDir, packed, level)
	if err != nil {
		metrics.RepacksTotal.WithLabelValues("error").Inc()
		return internal(types.ReasonRepackFailed, "failed to build zip: "+err.Error())
	}
	if err := os.RemoveAll(repackDir); err != nil {
		e.logger.Warn().Err(err).Str("job_id", jobID).Msg("failed to remove repack directory")
	}

	rel, err := filepath.Rel(e.reg.Root(), packed)
	if err != nil {
		metrics.RepacksTotal.WithLabelValues("error").Inc()
		return internal(types.ReasonRepackFailed, "failed to resolve packed path")
	}
	e.reg.UpdateMeta(jobID, func(m *types.Meta) {
		m.PackedPath = filepath.ToSlash(rel)
		m.PackedBytes = size
		m.PackedFormat = types.PackFormatZip
		m.PackLevel = level
	})
	e.setStage(jobID, types.StagePacked)
	e.persist(jobID)
	metrics.RepacksTotal.WithLabelValues("packed").Inc()
	e.logger.Info().Str("job_id", jobID).Int64("packed_bytes", size).Int("level", level).Msg("repack complete")
	return nil
}

// Repack re-runs the pack step for an existing job on operator request.
// State is read from disk so the operation works for jobs that predate a
// process restart. No manager callback fires here; the caller gets the
// outcome synchronously.
func (e *Engine) Repack(ctx context.Context, jobID, format string, level int) (types.Meta, *TransferError) {
	if !fsguard.IsSafeJobID(jobID) {
		return types.Meta{}, badRequest(types.ReasonInvalidJobID, "invalid job id")
	}
	if format != "" && format != types.PackFormatZip {
		return types.Meta{}, badRequest(types.ReasonUnsupportedFormat, "unsupported pack format "+format)
	}
	if level < 0 {
		level = types.DefaultPackLevel
	}

	meta, err := e.reg.LoadMeta(jobID)
	if err != nil {
		return types.Meta{}, notFound("job not found")
	}
	if meta.DownloadPath == "" {
		return types.Meta{}, notFound("job has no source payload")
	}
	source, err := fsguard.SafeJoin(e.reg.Root(), filepath.FromSlash(meta.DownloadPath))
	if err != nil {
		return types.Meta{}, &TransferError{Code: http.StatusLocked, Reason: types.ReasonUnsafePath, Msg: "source path escapes storage root"}
	}
	if _, err := os.Stat(source); err != nil {
		return types.Meta{}, notFound("source payload missing")
	}

	dir, err := e.reg.JobDir(jobID)
	if err != nil {
		return types.Meta{}, badRequest(types.ReasonInvalidJobID, "invalid job id")
	}

	// Rehydrate the live entry when the job is only known from disk.
	e.reg.GetOrCreate(jobID, func(j *registry.Job) {
		j.Dir = dir
		j.Stage = meta.Stage
		*j.Meta = *meta
		if meta.DownloadURL != "" {
			j.Mode = types.ModeDownloadURL
		} else {
			j.Mode = types.ModeUploadArchive
		}
	})

	if terr := e.repack(ctx, jobID, dir, source, level); terr != nil {
		if _, ok := e.reg.Fail(jobID, terr.Reason, terr.Msg); ok {
			e.persist(jobID)
			e.reg.Broadcast(jobID, types.NewErrorEvent(terr.Msg))
		}
		return types.Meta{}, terr
	}

	result, _ := e.reg.Meta(jobID)
	return result, nil
}

// Move promotes a packed artifact into permanent storage under the
// requested type root and tears the job down. Meta is read from disk so
// jobs packed before a restart remain movable.
func (e *Engine) Move(jobID, typ, relPath string) (string, int64, *TransferError) {
	if !fsguard.IsSafeJobID(jobID) {
		return "", 0, badRequest(types.ReasonInvalidJobID, "invalid job id")
	}
	if !types.IsAllowedType(typ) {
		return "", 0, badRequest(types.ReasonUnsupportedKind, "type not allowed")
	}
	if relPath == "" {
		return "", 0, badRequest("", "path required")
	}

	meta, err := e.reg.LoadMeta(jobID)
	if err != nil {
		return "", 0, notFound("job not found")
	}
	if meta.PackedPath == "" {
		return "", 0, notFound("job has no packed artifact")
	}
	src, err := fsguard.SafeJoin(e.reg.Root(), filepath.FromSlash(meta.PackedPath))
	if err != nil {
		return "", 0, &TransferError{Code: http.StatusLocked, Reason: types.ReasonUnsafePath, Msg: "packed path escapes storage root"}
	}
	if _, err := os.Stat(src); err != nil {
		return "", 0, notFound("packed file missing")
	}

	typeRoot := filepath.Join(e.reg.Root(), typ)
	dest, err := fsguard.SafeJoin(typeRoot, filepath.FromSlash(relPath))
	if err != nil || dest == typeRoot {
		return "", 0, &TransferError{Code: http.StatusLocked, Reason: types.ReasonUnsafePath, Msg: "destination escapes type root"}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", 0, internal(types.ReasonException, "failed to create destination directory")
	}
	if err := moveFile(src, dest); err != nil {
		return "", 0, internal(types.ReasonException, "failed to move packed file: "+err.Error())
	}
	info, err := os.Stat(dest)
	if err != nil {
		return "", 0, internal(types.ReasonException, "failed to stat moved file")
	}

	finalRel := path.Join(typ, path.Clean(filepath.ToSlash(relPath)))
	meta.FinalPath = finalRel
	meta.FinalBytes = info.Size()
	meta.MovedAt = time.Now().Unix()
	meta.SetStage(types.StageMoved)

	dir, _ := e.reg.JobDir(jobID)
	e.reg.UpdateMeta(jobID, func(m *types.Meta) { *m = *meta })
	e.reg.SetStage(jobID, types.StageMoved)
	if err := registry.WriteMeta(dir, meta); err != nil {
		e.logger.Warn().Err(err).Str("job_id", jobID).Msg("failed to write final meta")
	}
	e.reg.Broadcast(jobID, types.NewStageEvent(types.StageMoved))

	if err := os.RemoveAll(dir); err != nil {
		e.logger.Warn().Err(err).Str("job_id", jobID).Msg("failed to remove temp directory")
	}
	e.reg.Remove(jobID)

	e.logger.Info().
		Str("job_id", jobID).
		Str("final_path", finalRel).
		Int64("final_bytes", info.Size()).
		Msg("packed file promoted")
	return finalRel, info.Size(), nil
}

// moveFile renames src onto dest, falling back to copy+remove when the
// rename crosses filesystems.
func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dest)
		return err
	}
	return os.Remove(src)
}
