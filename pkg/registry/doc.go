/*
Package registry tracks live transfer jobs and fans progress events out to
connected clients.

Each running transfer is a Job guarded by the registry's single mutex. The
owning task mutates job state through registry methods (SetStage, Progress,
Fail, UpdateMeta); progress-channel handlers attach Subscribers and consume
pre-marshaled event payloads. The registry also owns the durable meta.json
projection so that the move and repack surfaces keep working for jobs that
predate a process restart.

# Architecture

	┌───────────────────── REGISTRY ─────────────────────────┐
	│                                                        │
	│   transfer task ──► SetStage / Progress / Fail         │
	│                          │                             │
	│                     ┌────▼────┐    PersistMeta         │
	│                     │   Job   │──────────────────┐     │
	│                     │  state  │                  │     │
	│                     └────┬────┘                  ▼     │
	│                          │ Broadcast     temp/<id>/    │
	│                          │ (marshal once)  meta.json   │
	│              ┌───────────┼───────────┐                 │
	│              ▼           ▼           ▼                 │
	│         Subscriber  Subscriber  Subscriber             │
	│         (buffered   (slow ones   chan []byte)          │
	│          chan)       dropped)                          │
	└────────────────────────────────────────────────────────┘

Events are marshaled once per broadcast and delivered as raw JSON payloads.
A subscriber whose buffer fills is dropped on the spot rather than allowed
to back-pressure the transfer; its channel closes after the reader drains
what was already queued.

Meta persistence is atomic (temp file + rename) so a concurrent reader of
meta.json never observes a torn write. LoadMeta reads straight from disk and
is the only lookup path that survives restarts.
*/
package registry
