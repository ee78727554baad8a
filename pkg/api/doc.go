/*
Package api implements the HTTP and WebSocket surface of the storage
service.

The api package is the only ingress into the transfer pipeline: managers
admit jobs with signed transfer tokens, browsers follow progress over a
WebSocket, and operators promote finished artifacts with static tokens. A
set of legacy plain-text file endpoints is kept alongside for direct
storage access.

# Architecture

	┌──────────────────────── CLIENTS ───────────────────────────┐
	│                                                             │
	│   Manager (signed JWT)    Browser (WS)    Operator (bcrypt) │
	└───────────┬───────────────────┬────────────────┬───────────┘
	            │                   │                │
	┌───────────▼───────────────────▼────────────────▼───────────┐
	│                      middleware chain                       │
	│   CORS (any origin, OPTIONS short-circuit)                  │
	│   access log (request id, zerolog, Prometheus counters)     │
	├─────────────────────────────────────────────────────────────┤
	│  /transfer/start    admit download job        JSON          │
	│  /transfer/upload   stream-ingest job         JSON          │
	│  /transfer/ws/{id}  progress event stream     WebSocket     │
	│  /transfer/repack   re-run normalization      JSON          │
	│  /transfer/move     promote packed artifact   JSON          │
	│  /download/...      serve stored file         plain text    │
	│  /upload, /delete   legacy file management    plain text    │
	│  /health /ready /metrics                                    │
	└───────────┬───────────────────────────────┬─────────────────┘
	            │                               │
	     pkg/engine (pipeline)           pkg/registry (job state)

# Authentication

Three credential shapes, one per caller class:

  - Transfer endpoints accept a signed transfer token (aud "storage") in
    the query string, a form field, or an Authorization bearer header.
    A missing token is 401, a failed signature or audience is 403.
  - The WebSocket requires the token's job_id claim to equal the path
    parameter; a mismatch is answered with a policy-violation close frame
    rather than an HTTP status, since the upgrade has already happened.
  - Repack, move and the legacy file endpoints authenticate against
    bcrypt-hashed static tokens (storage_manage_token, upload_file,
    delete_file) carried as form fields.

# WebSocket lifecycle

On accept the peer is registered as a job subscriber and immediately
receives a snapshot event carrying the current stage and byte counters;
live events follow in order. The server never interprets incoming frames;
a read loop discards them and detects disconnects while a write pump
pushes events and pings. When the job reaches a terminal state the
registry closes the subscriber stream and the peer receives a normal
close frame after the buffered events.

# Legacy file endpoints

The plain-text contract predates the transfer pipeline and is preserved
verbatim: "Invalid type", "Access denied", "File not found" bodies with
the matching status codes. Downloads of mod archives consult the manager
for per-user access before serving. Uploads into the archive tree wrap
non-zip payloads into a single-member zip; deletes prune directories left
empty up to the per-type root.
*/
package api
