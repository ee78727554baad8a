package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/open-workshop/storage/pkg/fsguard"
	"github.com/open-workshop/storage/pkg/log"
	"github.com/open-workshop/storage/pkg/metrics"
	"github.com/open-workshop/storage/pkg/types"
)

// MetaFilename is the durable per-job state file inside the job directory.
const MetaFilename = "meta.json"

// Job is the live state of one transfer. Fields are guarded by the
// registry's mutex and mutated only through registry methods; the owning
// task is the sole writer of everything except the subscriber set.
type Job struct {
	ID        string
	Mode      types.Mode
	Dir       string
	Stage     types.Stage
	Bytes     int64
	Total     *int64
	Reason    types.Reason
	Err       string
	Meta      *types.Meta
	CreatedAt time.Time

	subs map[*Subscriber]struct{}
}

// Snapshot is a point-in-time copy of observable job state.
type Snapshot struct {
	JobID  string
	Mode   types.Mode
	Stage  types.Stage
	Bytes  int64
	Total  *int64
	Reason types.Reason
	Err    string
}

// Registry holds every live job behind a single coarse mutex. Job volume is
// tens of concurrent transfers; critical sections stay free of I/O.
type Registry struct {
	mu     sync.Mutex
	root   string
	jobs   map[string]*Job
	logger zerolog.Logger
}

// New creates a registry rooted at the storage directory.
func New(root string) *Registry {
	return &Registry{
		root:   root,
		jobs:   make(map[string]*Job),
		logger: log.WithComponent("registry"),
	}
}

// Root returns the storage root directory.
func (r *Registry) Root() string {
	return r.root
}

// JobDir resolves the temp directory for a job id under the storage root.
// The id is validated here as well as at the API edge; a crafted id must
// never resolve outside temp/.
func (r *Registry) JobDir(jobID string) (string, error) {
	if !fsguard.IsSafeJobID(jobID) {
		return "", fsguard.ErrUnsafePath
	}
	return fsguard.SafeJoin(r.root, filepath.Join("temp", jobID))
}

// GetOrCreate returns the job for jobID, creating it when absent. init is
// invoked on a freshly created job while the lock is held; it must not
// perform I/O. The boolean reports whether this call created the job.
func (r *Registry) GetOrCreate(jobID string, init func(*Job)) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if job, ok := r.jobs[jobID]; ok {
		return job.snapshot(), false
	}

	job := &Job{
		ID:        jobID,
		Stage:     types.StagePending,
		Meta:      &types.Meta{JobID: jobID, CreatedAt: time.Now().Unix()},
		CreatedAt: time.Now(),
		subs:      make(map[*Subscriber]struct{}),
	}
	job.Meta.SetStage(types.StagePending)
	if init != nil {
		init(job)
	}
	r.jobs[jobID] = job
	metrics.SetActiveJobs(len(r.jobs))
	return job.snapshot(), true
}

// Snapshot returns the observable state of a job.
func (r *Registry) Snapshot(jobID string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return Snapshot{}, false
	}
	return job.snapshot(), true
}

func (j *Job) snapshot() Snapshot {
	return Snapshot{
		JobID:  j.ID,
		Mode:   j.Mode,
		Stage:  j.Stage,
		Bytes:  j.Bytes,
		Total:  j.Total,
		Reason: j.Reason,
		Err:    j.Err,
	}
}

// SetStage moves the job to a new stage, updating both the live state and
// the meta projection. The caller persists and broadcasts afterwards.
func (r *Registry) SetStage(jobID string, stage types.Stage) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return Snapshot{}, false
	}
	job.Stage = stage
	job.Meta.SetStage(stage)
	return job.snapshot(), true
}

// Progress updates the byte counters.
func (r *Registry) Progress(jobID string, bytes int64, total *int64) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return Snapshot{}, false
	}
	job.Bytes = bytes
	if total != nil {
		job.Total = total
		job.Meta.TotalBytes = total
	}
	switch job.Mode {
	case types.ModeDownloadURL:
		job.Meta.DownloadedBytes = bytes
	default:
		job.Meta.UploadBytes = bytes
	}
	return job.snapshot(), true
}

// Fail marks the job terminally failed with a reason code and message.
func (r *Registry) Fail(jobID string, reason types.Reason, msg string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return Snapshot{}, false
	}
	job.Stage = types.StageError
	job.Reason = reason
	job.Err = msg
	job.Meta.SetStage(types.StageError)
	job.Meta.Error = msg
	job.Meta.ErrorReason = reason
	return job.snapshot(), true
}

// UpdateMeta applies fn to the job's meta projection under the lock. fn
// must not perform I/O.
func (r *Registry) UpdateMeta(jobID string, fn func(*types.Meta)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return false
	}
	fn(job.Meta)
	return true
}

// Meta returns a copy of the job's meta projection.
func (r *Registry) Meta(jobID string) (types.Meta, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return types.Meta{}, false
	}
	return *job.Meta, true
}

// AddSubscriber attaches a new progress-channel client to the job and
// returns it with the snapshot to seed the stream.
func (r *Registry) AddSubscriber(jobID string) (*Subscriber, Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, Snapshot{}, false
	}
	sub := newSubscriber()
	job.subs[sub] = struct{}{}
	metrics.WSSubscribersGauge.Inc()
	return sub, job.snapshot(), true
}

// RemoveSubscriber detaches a client. Safe to call after a drain.
func (r *Registry) RemoveSubscriber(jobID string, sub *Subscriber) {
	r.mu.Lock()
	job, ok := r.jobs[jobID]
	if ok {
		if _, present := job.subs[sub]; present {
			delete(job.subs, sub)
			metrics.WSSubscribersGauge.Dec()
		}
	}
	r.mu.Unlock()
	sub.close()
}

// DrainSubscribers clears the job's subscriber set and closes every stream.
// Buffered events are still delivered before readers observe the close.
func (r *Registry) DrainSubscribers(jobID string) {
	r.mu.Lock()
	job, ok := r.jobs[jobID]
	if !ok {
		r.mu.Unlock()
		return
	}
	subs := make([]*Subscriber, 0, len(job.subs))
	for s := range job.subs {
		subs = append(subs, s)
	}
	if len(subs) > 0 {
		metrics.WSSubscribersGauge.Sub(float64(len(subs)))
	}
	job.subs = make(map[*Subscriber]struct{})
	r.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
}

// Broadcast fans an event out to every subscriber of the job. Delivery is
// best-effort: a subscriber whose buffer is full is dropped on the spot.
func (r *Registry) Broadcast(jobID string, ev types.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		r.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to marshal event")
		return
	}

	r.mu.Lock()
	job, ok := r.jobs[jobID]
	if !ok {
		r.mu.Unlock()
		return
	}
	subs := make([]*Subscriber, 0, len(job.subs))
	for s := range job.subs {
		subs = append(subs, s)
	}
	r.mu.Unlock()

	var dead []*Subscriber
	for _, s := range subs {
		if !s.send(payload) {
			dead = append(dead, s)
		}
	}
	if len(dead) == 0 {
		return
	}

	r.mu.Lock()
	if job, ok := r.jobs[jobID]; ok {
		for _, s := range dead {
			if _, present := job.subs[s]; present {
				delete(job.subs, s)
				metrics.WSSubscribersGauge.Dec()
			}
		}
	}
	r.mu.Unlock()
	r.logger.Debug().Str("job_id", jobID).Int("dropped", len(dead)).Msg("dropped slow subscribers")
}

// Remove forgets the job. Disk cleanup is the caller's concern; any
// remaining subscribers are drained first.
func (r *Registry) Remove(jobID string) {
	r.DrainSubscribers(jobID)
	r.mu.Lock()
	delete(r.jobs, jobID)
	metrics.SetActiveJobs(len(r.jobs))
	r.mu.Unlock()
}

// PersistMeta writes the job's meta projection atomically into its temp
// directory. Failures leave the in-memory state authoritative for the run.
func (r *Registry) PersistMeta(jobID string) error {
	r.mu.Lock()
	job, ok := r.jobs[jobID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("unknown job %q", jobID)
	}
	meta := *job.Meta
	dir := job.Dir
	r.mu.Unlock()

	if dir == "" {
		return fmt.Errorf("job %q has no directory", jobID)
	}
	return WriteMeta(dir, &meta)
}

// WriteMeta atomically rewrites meta.json inside dir (temp file + rename).
func WriteMeta(dir string, meta *types.Meta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal meta: %w", err)
	}
	tmp := filepath.Join(dir, MetaFilename+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write meta: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, MetaFilename)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace meta: %w", err)
	}
	return nil
}

// LoadMeta reads meta.json for a job id directly from disk. Used by the
// move and repack surfaces, which must work for jobs that predate a process
// restart.
func (r *Registry) LoadMeta(jobID string) (*types.Meta, error) {
	dir, err := r.JobDir(jobID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, MetaFilename))
	if err != nil {
		return nil, err
	}
	meta := &types.Meta{}
	if err := json.Unmarshal(data, meta); err != nil {
		return nil, fmt.Errorf("failed to parse meta: %w", err)
	}
	return meta, nil
}
