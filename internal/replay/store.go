// Package replay implements the replay log (C4): an append-capped ordered
// log of events per channel, queryable strictly-after a cursor, with an
// in-memory implementation and a Redis-backed remote variant.
package replay

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ssefanout/gateway/internal/event"
)

// Store is the replay log contract. Implementations must be safe for
// concurrent use.
type Store interface {
	// GenerateID allocates a fresh, strictly-increasing stream id.
	GenerateID() string

	// Store records ev under the given explicit stream id on channelID.
	Store(channelID, streamID string, ev event.Event)

	// GetAfter returns every stored entry on channelID with stream id
	// strictly greater than afterID, in ascending order, capped at the
	// store's capacity. afterID == "" returns no backlog (a fresh
	// subscriber). A malformed afterID also returns no backlog.
	GetAfter(channelID, afterID string) []event.Event

	// IsAvailable reports whether writes/reads against this store are
	// currently serviceable. The in-memory store is always available;
	// the remote store reports false if its startup ping failed.
	IsAvailable() bool

	// Name identifies the store implementation, for logging/metrics.
	Name() string
}

// idGenerator produces the spec's "<millis>-<seq>" stream ids from a
// process-wide atomic sequence counter. Shared by every Store
// implementation so ids remain comparable across them.
type idGenerator struct{}

// streamSeq is the process-wide sequence counter behind every idGenerator.
var streamSeq atomic.Uint64

func (g *idGenerator) next() string {
	n := streamSeq.Add(1) - 1
	return fmt.Sprintf("%d-%d", time.Now().UnixMilli(), n)
}

// parsedStreamID is a stream id split into its comparable parts.
type parsedStreamID struct {
	millis uint64
	seq    uint64
}

// parseStreamID validates and decomposes a wire stream id. ok is false for
// any input not matching "<unsigned>-<unsigned>".
func parseStreamID(id string) (parsed parsedStreamID, ok bool) {
	i := strings.IndexByte(id, '-')
	if i <= 0 || i == len(id)-1 {
		return parsedStreamID{}, false
	}
	millis, err := strconv.ParseUint(id[:i], 10, 64)
	if err != nil {
		return parsedStreamID{}, false
	}
	seq, err := strconv.ParseUint(id[i+1:], 10, 64)
	if err != nil {
		return parsedStreamID{}, false
	}
	return parsedStreamID{millis: millis, seq: seq}, true
}

// less reports whether a compares strictly less than b, pairwise on
// (millis, seq).
func (a parsedStreamID) less(b parsedStreamID) bool {
	if a.millis != b.millis {
		return a.millis < b.millis
	}
	return a.seq < b.seq
}

// IsValidCursor reports whether id is a well-formed stream id. Callers
// composing a stream (internal/sseio) use this to distinguish "no cursor
// supplied" from "malformed cursor supplied" for logging purposes; both
// result in an empty backlog from GetAfter.
func IsValidCursor(id string) bool {
	_, ok := parseStreamID(id)
	return ok
}
