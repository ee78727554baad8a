/*
Package types defines the shared domain vocabulary of the storage service.

Every cross-package value that crosses a wire or a disk boundary lives here:
job stages, failure reason codes, progress-channel events, the durable
meta.json projection, and the manager callback payload. Packages communicate
through these types instead of ad-hoc maps so that the wire contracts stay in
one place.

# Job Lifecycle

A transfer job moves through stages:

	pending ─► downloading ─► downloaded ─┐
	                                       ├─► repacking ─► packed ─► moved
	pending ─► uploading   ─► uploaded ───┘
	                                   └─► processing ─► packed (image mode)
	any stage ─► error (terminal)

Stage transitions are driven only by the job's owning task; observers read
snapshots and events, never write.

# Events

Progress-channel payloads are one of four kinds:

	{"event":"stage","stage":"downloading"}
	{"event":"progress","bytes":262144,"total":1048576,"stage":"downloading"}
	{"event":"complete","bytes":1048576,"total":1048576,"stage":"packed"}
	{"event":"error","message":"size_limit"}

total is null whenever the upstream size is unknown. The first payload a
subscriber receives is a snapshot: a progress event that also carries status.

# Reasons

Reason codes are the stable failure vocabulary surfaced in meta.json
(error_reason), in error events, and in the manager callback. Upstream HTTP
failures are encoded dynamically as "status:<N>" via UpstreamStatusReason.

# Meta

Meta is the on-disk projection of a job (temp/<job_id>/meta.json). It is
rewritten atomically on every stage change and survives process restarts for
forensics and for late move/repack requests. The status and stage keys are
synonyms projected from the same variable; SetStage keeps them in lockstep.
*/
package types
