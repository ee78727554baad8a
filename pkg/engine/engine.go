package engine

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/open-workshop/storage/pkg/archive"
	"github.com/open-workshop/storage/pkg/client"
	"github.com/open-workshop/storage/pkg/fsguard"
	"github.com/open-workshop/storage/pkg/log"
	"github.com/open-workshop/storage/pkg/metrics"
	"github.com/open-workshop/storage/pkg/registry"
	"github.com/open-workshop/storage/pkg/token"
	"github.com/open-workshop/storage/pkg/types"
)

const (
	// chunkSize is the unit of streaming I/O for both ingest modes.
	chunkSize = 256 * 1024

	// progressInterval caps the broadcast rate on the progress channel.
	progressInterval = 250 * time.Millisecond

	// Throughput logging cadence: every 10% when the total is known,
	// every 50 MiB otherwise.
	logPercentStep = 10
	logBytesStep   = 50 << 20
)

// Archiver is the archive-toolkit surface the engine depends on. It is
// satisfied by *archive.Tool.
type Archiver interface {
	Probe(ctx context.Context, path string) (*archive.Probe, error)
	Extract(ctx context.Context, src, dest string, p *archive.Probe) error
}

// Engine drives transfer jobs through their stages. Every mutation of job
// state goes through the registry; the engine owns all disk and network
// I/O for the pipeline.
type Engine struct {
	reg         *registry.Registry
	tool        Archiver
	manager     *client.Manager
	maxBytes    int64
	idleTimeout time.Duration

	baseCtx    context.Context
	httpClient *http.Client
	wg         sync.WaitGroup
	logger     zerolog.Logger
}

// New creates the transfer engine. ctx bounds background download tasks;
// canceling it aborts in-flight downloads during shutdown. maxBytes is the
// process-wide ingest cap (0 = unlimited).
func New(ctx context.Context, reg *registry.Registry, tool Archiver, manager *client.Manager, maxBytes int64, idleTimeout time.Duration) *Engine {
	if idleTimeout <= 0 {
		idleTimeout = 60 * time.Second
	}
	return &Engine{
		reg:         reg,
		tool:        tool,
		manager:     manager,
		maxBytes:    maxBytes,
		idleTimeout: idleTimeout,
		baseCtx:     ctx,
		// No client-level timeout: large downloads are bounded by the
		// per-read idle watchdog instead.
		httpClient: &http.Client{},
		logger:     log.WithComponent("engine"),
	}
}

// Wait blocks until every background download task has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// StartDownload admits a download-mode job and spawns its background task.
// Calling it again with a live job id returns the current state without
// spawning a second task.
func (e *Engine) StartDownload(claims *token.TransferClaims) (registry.Snapshot, *TransferError) {
	if !fsguard.IsSafeJobID(claims.JobID) {
		return registry.Snapshot{}, badRequest(types.ReasonInvalidJobID, "invalid job id")
	}
	u, err := url.Parse(claims.DownloadURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return registry.Snapshot{}, badRequest(types.ReasonInvalidDownloadURL, "download_url must be an absolute http or https URL")
	}
	if claims.PackFormat != "" && claims.PackFormat != types.PackFormatZip {
		return registry.Snapshot{}, badRequest(types.ReasonUnsupportedFormat, "unsupported pack format "+claims.PackFormat)
	}

	dir, err := e.reg.JobDir(claims.JobID)
	if err != nil {
		return registry.Snapshot{}, badRequest(types.ReasonInvalidJobID, "invalid job id")
	}
	filename := fsguard.SanitizeFilename(claims.Filename, "download")

	snap, created := e.reg.GetOrCreate(claims.JobID, func(j *registry.Job) {
		j.Mode = types.ModeDownloadURL
		j.Dir = dir
		j.Meta.ModID = claims.ModID
		j.Meta.TransferKind = transferKind(claims)
		j.Meta.StorageType = claims.StorageType
		j.Meta.FileKind = claims.FileKind
		j.Meta.DownloadURL = claims.DownloadURL
		j.Meta.Filename = filename
		j.Meta.DownloadPath = path.Join("temp", claims.JobID, filename)
		j.Meta.PackFormat = types.PackFormatZip
		j.Meta.PackLevel = claims.Level()
	})
	if !created {
		return snap, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		e.reg.Remove(claims.JobID)
		return registry.Snapshot{}, internal(types.ReasonException, "failed to create job directory")
	}
	e.persist(claims.JobID)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runDownload(claims, dir, filename)
	}()

	e.logger.Info().
		Str("job_id", claims.JobID).
		Str("url", claims.DownloadURL).
		Msg("download task started")
	return snap, nil
}

// runDownload executes the download pipeline for one job. It runs detached
// from any HTTP request: a disconnected client does not cancel it.
func (e *Engine) runDownload(claims *token.TransferClaims, dir, filename string) {
	jobID := claims.JobID
	logger := log.WithJobID(jobID)

	e.setStage(jobID, types.StageDownloading)
	e.reg.UpdateMeta(jobID, func(m *types.Meta) {
		m.DownloadStartedAt = time.Now().Unix()
	})
	e.persist(jobID)

	// The watchdog cancels the request when no data arrives for a full
	// idle window.
	var timedOut atomic.Bool
	ctx, cancel := context.WithCancel(e.baseCtx)
	defer cancel()
	watchdog := time.AfterFunc(e.idleTimeout, func() {
		timedOut.Store(true)
		cancel()
	})
	defer watchdog.Stop()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, claims.DownloadURL, nil)
	if err != nil {
		e.finishError(jobID, claims, types.ModeDownloadURL, badRequest(types.ReasonInvalidDownloadURL, "invalid download url"))
		return
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		if timedOut.Load() {
			e.finishError(jobID, claims, types.ModeDownloadURL, internal(types.ReasonTimeout, "upstream stalled"))
			return
		}
		e.finishError(jobID, claims, types.ModeDownloadURL, internal(types.ReasonException, "failed to reach upstream: "+err.Error()))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		e.finishError(jobID, claims, types.ModeDownloadURL,
			internal(types.UpstreamStatusReason(resp.StatusCode), "upstream returned HTTP "+resp.Status))
		return
	}

	var total *int64
	if resp.ContentLength >= 0 {
		t := resp.ContentLength
		total = &t
		e.reg.Progress(jobID, 0, total)
	}
	limit := e.effectiveLimit(claims.MaxBytes)
	if limit > 0 && total != nil && *total > limit {
		e.finishError(jobID, claims, types.ModeDownloadURL,
			&TransferError{Code: http.StatusRequestEntityTooLarge, Reason: types.ReasonSizeLimit, Msg: "announced size exceeds limit"})
		return
	}

	dest := filepath.Join(dir, filename)
	body := &idleReader{r: resp.Body, watchdog: watchdog, window: e.idleTimeout}
	written, terr := e.streamToFile(jobID, body, dest, total, limit, types.StageDownloading)
	watchdog.Stop()
	if terr != nil {
		if timedOut.Load() && terr.Reason == types.ReasonException {
			terr = internal(types.ReasonTimeout, "download stalled")
		}
		e.finishError(jobID, claims, types.ModeDownloadURL, terr)
		return
	}

	logger.Info().Int64("bytes", written).Msg("download complete")
	e.reg.UpdateMeta(jobID, func(m *types.Meta) {
		m.DownloadCompletedAt = time.Now().Unix()
	})
	e.setStage(jobID, types.StageDownloaded)
	e.persist(jobID)

	if terr := e.repack(e.baseCtx, jobID, dir, dest, claims.Level()); terr != nil {
		e.finishError(jobID, claims, types.ModeDownloadURL, terr)
		return
	}
	e.finishSuccess(jobID, claims, types.ModeDownloadURL)
}

// streamToFile copies src into dest in fixed-size chunks, enforcing the
// byte limit and feeding throttled progress broadcasts. On failure the
// partial file is removed.
func (e *Engine) streamToFile(jobID string, src io.Reader, dest string, total *int64, limit int64, stage types.Stage) (int64, *TransferError) {
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, internal(types.ReasonException, "failed to create payload file")
	}

	limiter := rate.NewLimiter(rate.Every(progressInterval), 1)
	buf := make([]byte, chunkSize)
	var written int64
	logMark := int64(-1)

	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				out.Close()
				os.Remove(dest)
				return written, internal(types.ReasonException, "failed to write payload: "+werr.Error())
			}
			written += int64(n)
			if limit > 0 && written > limit {
				out.Close()
				os.Remove(dest)
				return written, &TransferError{Code: http.StatusRequestEntityTooLarge, Reason: types.ReasonSizeLimit, Msg: "payload exceeds size limit"}
			}
			snap, ok := e.reg.Progress(jobID, written, total)
			if ok && limiter.Allow() {
				e.reg.Broadcast(jobID, types.NewProgressEvent(written, snap.Total, stage))
			}
			e.logThroughput(jobID, written, total, &logMark)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			out.Close()
			os.Remove(dest)
			return written, internal(types.ReasonException, "failed to read stream: "+rerr.Error())
		}
	}

	if err := out.Close(); err != nil {
		os.Remove(dest)
		return written, internal(types.ReasonException, "failed to flush payload")
	}
	return written, nil
}

func (e *Engine) logThroughput(jobID string, written int64, total *int64, mark *int64) {
	var bucket int64
	if total != nil && *total > 0 {
		bucket = written * 100 / *total / logPercentStep
	} else {
		bucket = written / logBytesStep
	}
	if bucket <= *mark {
		return
	}
	*mark = bucket
	ev := e.logger.Info().Str("job_id", jobID).Int64("bytes", written)
	if total != nil {
		ev = ev.Int64("total", *total)
	}
	ev.Msg("transfer progress")
}

// setStage transitions the job and announces it on the progress channel.
func (e *Engine) setStage(jobID string, stage types.Stage) {
	if _, ok := e.reg.SetStage(jobID, stage); ok {
		e.reg.Broadcast(jobID, types.NewStageEvent(stage))
	}
}

func (e *Engine) persist(jobID string) {
	if err := e.reg.PersistMeta(jobID); err != nil {
		e.logger.Warn().Err(err).Str("job_id", jobID).Msg("failed to persist meta")
	}
}

// finishError drives the terminal failure sequence: record, broadcast,
// clean payload artifacts, notify the manager, close subscribers.
func (e *Engine) finishError(jobID string, claims *token.TransferClaims, mode types.Mode, terr *TransferError) {
	snap, ok := e.reg.Fail(jobID, terr.Reason, terr.Msg)
	if !ok {
		return
	}
	e.persist(jobID)
	e.reg.Broadcast(jobID, types.NewErrorEvent(terr.Msg))
	e.cleanupPayload(jobID)
	metrics.TransfersTotal.WithLabelValues(string(mode), "error").Inc()
	e.logger.Warn().
		Str("job_id", jobID).
		Str("reason", string(terr.Reason)).
		Str("error", terr.Msg).
		Msg("transfer failed")
	e.sendCallback(jobID, claims, snap, types.CallbackError, terr.Reason)
	e.reg.DrainSubscribers(jobID)
}

// finishSuccess announces completion, counts the job, and notifies the
// manager. The job stays registered so move and repack can still address
// it.
func (e *Engine) finishSuccess(jobID string, claims *token.TransferClaims, mode types.Mode) {
	snap, ok := e.reg.Snapshot(jobID)
	if !ok {
		return
	}
	e.persist(jobID)
	e.reg.Broadcast(jobID, types.NewCompleteEvent(snap.Bytes, snap.Total, snap.Stage))
	metrics.TransfersTotal.WithLabelValues(string(mode), "success").Inc()
	metrics.TransferBytesTotal.WithLabelValues("in").Add(float64(snap.Bytes))
	e.logger.Info().
		Str("job_id", jobID).
		Int64("bytes", snap.Bytes).
		Msg("transfer complete")
	e.sendCallback(jobID, claims, snap, types.CallbackSuccess, "")
	e.reg.DrainSubscribers(jobID)
}

func (e *Engine) sendCallback(jobID string, claims *token.TransferClaims, snap registry.Snapshot, status types.CallbackStatus, reason types.Reason) {
	meta, _ := e.reg.Meta(jobID)
	payload := &types.CallbackPayload{
		JobID:           jobID,
		Status:          status,
		Reason:          reason,
		Bytes:           snap.Bytes,
		Total:           snap.Total,
		TransferKind:    meta.TransferKind,
		PackedFormat:    meta.PackedFormat,
		ModID:           claims.ModID,
		StorageType:     claims.StorageType,
		FileKind:        claims.FileKind,
		CallbackAction:  claims.CallbackAction,
		CallbackContext: claims.CallbackContext,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.manager.PostTransferCallback(ctx, payload); err != nil {
		e.logger.Warn().Err(err).Str("job_id", jobID).Msg("manager callback failed")
	}
}

// cleanupPayload removes the job's payload artifacts while keeping
// meta.json, which has just been persisted with the terminal state.
func (e *Engine) cleanupPayload(jobID string) {
	dir, err := e.reg.JobDir(jobID)
	if err != nil {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, ent := range entries {
		if ent.Name() == registry.MetaFilename {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, ent.Name())); err != nil {
			e.logger.Warn().Err(err).Str("job_id", jobID).Str("name", ent.Name()).Msg("payload cleanup failed")
		}
	}
}

// effectiveLimit combines the per-token cap with the process-wide cap,
// taking the tightest positive bound.
func (e *Engine) effectiveLimit(claimMax int64) int64 {
	switch {
	case claimMax > 0 && e.maxBytes > 0 && claimMax < e.maxBytes:
		return claimMax
	case claimMax > 0 && e.maxBytes <= 0:
		return claimMax
	default:
		return e.maxBytes
	}
}

func transferKind(claims *token.TransferClaims) types.TransferKind {
	if claims.TransferKind == "" {
		return types.KindArchive
	}
	return claims.TransferKind
}

// idleReader resets the stall watchdog on every successful read.
type idleReader struct {
	r        io.Reader
	watchdog *time.Timer
	window   time.Duration
}

func (ir *idleReader) Read(p []byte) (int, error) {
	n, err := ir.r.Read(p)
	if n > 0 {
		ir.watchdog.Reset(ir.window)
	}
	return n, err
}
