// Package gatewayerr names the error kinds the core distinguishes (§7) so
// callers can match on them with errors.Is instead of string comparison.
// Most of these are never propagated past the component that absorbs
// them — they exist for logging context and tests.
package gatewayerr

import "errors"

var (
	// ErrTransientDispatchFailure marks an enqueue to a per-connection queue
	// that failed. Policy: unregister the connection, count as "not sent",
	// continue with remaining recipients. Never surfaced to the ingesting
	// source.
	ErrTransientDispatchFailure = errors.New("transient dispatch failure")

	// ErrReplayStoreUnavailable marks a remote store that isn't connected or
	// timed out. Realtime fan-out proceeds regardless; the write is
	// dropped and get_after returns empty.
	ErrReplayStoreUnavailable = errors.New("replay store unavailable")

	// ErrMalformedReplayCursor marks a Last-Event-ID that failed to parse.
	// The subscription continues with an empty backlog.
	ErrMalformedReplayCursor = errors.New("malformed replay cursor")

	// ErrSourceError wraps a failure from an external ingestion adapter.
	// The source task may terminate or retry per its own policy; the core
	// treats a terminated source as "no more ingress."
	ErrSourceError = errors.New("ingestion source error")

	// ErrBindFailure marks a fatal startup failure (e.g. the HTTP listener
	// could not bind). The process exits nonzero.
	ErrBindFailure = errors.New("bind failure")
)

// ClientDisconnect is not an error condition — it is the expected way an
// SSE stream ends and triggers exactly-once cleanup. It exists here only
// so logging call sites can name it consistently; it is never wrapped with
// errors.Is checks against a real error value.
const ClientDisconnect = "client disconnect"
