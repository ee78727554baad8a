/*
Package client provides the HTTP client for the workshop manager service.

The storage service makes exactly two kinds of calls to the manager:
terminal-state callbacks for transfer jobs, and access checks for mod
archive downloads. Both are plain HTTP+JSON over the manager's API base
URL.

# Architecture

	┌──────────── pkg/engine ─ pkg/api ────────────┐
	│                                              │
	│  PostTransferCallback      CheckModAccess    │
	└──────────┬───────────────────────┬───────────┘
	           │ POST JSON             │ GET
	           │ Bearer <signed JWT>   │ x-token header
	           ▼                       ▼
	   <callback URL>        <manager>/list/mods/access/[id]?user=N
	           │                       │
	           └──────── Manager ──────┘

# Callbacks

PostTransferCallback fires once when a job reaches a terminal stage. The
request carries a short-lived JWT signed for the manager audience; the
manager verifies it against the shared transfer secret. Delivery is
deliberately one-shot: a failed callback is logged and counted, never
retried, because the manager also polls job state through meta.json when
it must reconcile. When no signing secret is configured the call is
skipped with a warning so that local development works without the
manager side.

# Access checks

CheckModAccess guards mod archive downloads. The manager answers with the
subset of requested mod ids the user may read; an empty list denies. Any
transport or decode failure is an error, mapped by the API layer to
service unavailable rather than a silent deny.

# Usage

	codec := token.NewCodec(cfg.TransferJWTSecret)
	mgr := client.New(cfg.ManagerURL, cfg.CallbackURL(), cfg.CheckAccessToken,
		cfg.CallbackTTL(), codec)

	err := mgr.PostTransferCallback(ctx, &types.CallbackPayload{
		JobID:  jobID,
		Status: types.CallbackSuccess,
	})

	ok, err := mgr.CheckModAccess(ctx, userID, modID)
*/
package client
