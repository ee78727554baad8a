/*
Package engine implements the transfer state machine: ingest, normalize,
promote.

A transfer job enters through one of two doors. Download mode is admitted
by StartDownload and runs as a detached background task pulling from an
upstream URL. Upload mode runs on the request goroutine via RunUpload,
consuming the request body as the byte source. Both converge on the same
packed form: archives become canonical zips, images become webp.

# Architecture

	┌──────────────────── TRANSFER ENGINE ─────────────────────────┐
	│                                                              │
	│  StartDownload ──► background task          RunUpload        │
	│        │            (detached from            │ (request     │
	│        │             the request)             │  goroutine)  │
	│        ▼                                      ▼              │
	│   pending ─► downloading ─► downloaded ─┐                    │
	│                                         ├─► repacking ─►     │
	│   pending ─► uploading ─► uploaded ─────┘       packed       │
	│                              │                    │          │
	│                              └─► processing ──────┤ (img)    │
	│                                                   ▼          │
	│                       Move (operator) ──────►  moved         │
	│                                                              │
	│   any stage ──► error (terminal)                             │
	│                                                              │
	│   every transition: registry update, meta.json persist,      │
	│   progress-channel broadcast                                 │
	└──────────────────────────────────────────────────────────────┘

# Streaming

Both ingest modes stream in 256 KiB chunks. After each chunk the byte
counter updates, the size limit is enforced (tightest positive bound of
the token's max_bytes and the process cap), and a progress event may be
broadcast, throttled to one per 250 ms per job. Throughput is logged at
every 10% when the total is known, every 50 MiB otherwise.

Downloads carry a per-read idle watchdog: a window with no data cancels
the upstream request and fails the job with the timeout reason. An HTTP
client that disconnects after starting a download does not cancel it; the
task runs to its terminal state and the callback still fires.

# Normalization

The repack step probes the source with the archive toolkit. An encrypted
archive fails the job. A source that already satisfies the canonical-zip
predicate is adopted as the packed artifact without a rewrite, so the
packed file stays byte-identical to what was ingested. Everything else is
extracted into a scratch directory (traversal and encrypted members
rejected) and rezipped at the token's pack level; a payload that is not
an archive at all is zipped as the sole member. Image mode instead decodes
the payload and encodes packed.webp, then removes the source.

# Terminal handling

Success broadcasts a complete event, counts the transfer, posts the
manager callback, and closes all subscribers. Failure records the reason
in meta, broadcasts an error event, removes payload artifacts while
keeping meta.json, posts an error callback, and closes subscribers.
Callbacks are one-shot; the manager reconciles through meta.json when a
callback is lost.

# Operator surfaces

Repack and Move read job state from disk rather than memory, so both keep
working for jobs that predate a process restart. Move resolves the
destination under the requested type root through the path guard, promotes
the packed file (rename with a copy fallback for cross-device roots),
records the final location in meta, and removes the whole temp directory.

# Integration Points

  - pkg/registry: job state, subscriber fan-out, meta persistence
  - pkg/archive: probe, extract, canonical zip predicate, zip building
  - pkg/imaging: webp conversion for image mode
  - pkg/client: manager callbacks
  - pkg/fsguard: job id validation and path confinement
  - pkg/metrics: transfer, byte, and repack counters
*/
package engine
