package replay

import (
	"context"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ssefanout/gateway/internal/event"
	"github.com/ssefanout/gateway/internal/gatewayerr"
	"github.com/ssefanout/gateway/internal/gwlog"
	"github.com/ssefanout/gateway/internal/metrics"
)

// streamKeyPrefix and channelTTL follow the key schema shared with the
// service-discovery package: "sse:stream:{ch}", refreshed on every write.
const streamKeyPrefix = "sse:stream:"

// writeRequest is one queued append, carried through the batching channel.
type writeRequest struct {
	channelID string
	streamID  string
	ev        event.Event
}

// RemoteStore is the Redis-backed Store variant. Writes are never made on
// the caller's goroutine: Store enqueues onto a bounded channel and a single
// background flusher drains it in batches, so the hot dispatch path never
// blocks on Redis I/O. Reads (GetAfter) go straight to Redis since they are
// off the realtime fan-out path.
type RemoteStore struct {
	idGen idGenerator

	client     *redis.Client
	capacity   int64
	channelTTL time.Duration

	batchSize  int
	flushEvery time.Duration
	opTimeout  time.Duration

	queue chan writeRequest

	logger zerolog.Logger

	connected atomic.Bool
}

// RemoteStoreConfig bundles the tunables read from the environment.
type RemoteStoreConfig struct {
	RedisURL     string
	Capacity     int
	BatchSize    int
	FlushEvery   time.Duration
	OpTimeout    time.Duration
	QueueSize    int
	ChannelTTL   time.Duration
}

// NewRemoteStore parses the Redis URL and starts the background flusher.
// One ping at construction fixes the store's state for its lifetime:
// "connected" if the ping succeeds, otherwise "not connected" (IsAvailable
// is false, writes are dropped, reads return no backlog). There is no
// separate connect() step and no later transition.
func NewRemoteStore(ctx context.Context, cfg RemoteStoreConfig, logger zerolog.Logger) (*RemoteStore, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	s := &RemoteStore{
		client:     client,
		capacity:   int64(cfg.Capacity),
		channelTTL: cfg.ChannelTTL,
		batchSize:  cfg.BatchSize,
		flushEvery: cfg.FlushEvery,
		opTimeout:  cfg.OpTimeout,
		queue:      make(chan writeRequest, cfg.QueueSize),
		logger:     logger,
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.OpTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		s.connected.Store(false)
	} else {
		s.connected.Store(true)
	}

	go s.runFlusher(ctx)
	return s, nil
}

func (s *RemoteStore) GenerateID() string { return s.idGen.next() }

// Store enqueues a write request. On back-pressure (queue full) the request
// is silently dropped — the spec's explicit "never block the hot dispatch
// path" rule.
func (s *RemoteStore) Store(channelID, streamID string, ev event.Event) {
	if !s.connected.Load() {
		s.logger.Debug().Err(gatewayerr.ErrReplayStoreUnavailable).
			Str("channel_id", channelID).Msg("replay store not connected, dropping write")
		metrics.ReplayWriteErrorsTotal.Inc()
		return
	}

	select {
	case s.queue <- writeRequest{channelID: channelID, streamID: streamID, ev: ev}:
	default:
		s.logger.Debug().Str("channel_id", channelID).Msg("replay store queue full, dropping write")
	}
}

// GetAfter reads directly from the remote stream; it is off the hot
// dispatch path so a synchronous round trip is acceptable.
func (s *RemoteStore) GetAfter(channelID, afterID string) []event.Event {
	if afterID == "" {
		return nil
	}
	cursor, ok := parseStreamID(afterID)
	if !ok {
		return nil
	}
	if !s.connected.Load() {
		s.logger.Debug().Err(gatewayerr.ErrReplayStoreUnavailable).
			Str("channel_id", channelID).Msg("replay store not connected, serving no backlog")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()

	raw, err := s.client.LRange(ctx, streamKeyPrefix+channelID, 0, -1).Result()
	if err != nil {
		s.logger.Debug().Err(err).Str("channel_id", channelID).Msg("replay get_after failed")
		return nil
	}

	var out []event.Event
	for _, item := range raw {
		id, text, ok := splitStoredEntry(item)
		if !ok {
			continue
		}
		parsed, ok := parseStreamID(id)
		if !ok || !cursor.less(parsed) {
			continue
		}
		out = append(out, event.NewRaw("message", text).WithStreamID(id))
	}
	if int64(len(out)) > s.capacity {
		out = out[len(out)-int(s.capacity):]
	}
	metrics.ReplayServedEventsTotal.Add(float64(len(out)))
	return out
}

func (s *RemoteStore) IsAvailable() bool { return s.connected.Load() }

func (s *RemoteStore) Name() string { return "redis" }

// runFlusher drains the write queue in batches, flushed either on reaching
// batchSize or every flushEvery, whichever comes first.
func (s *RemoteStore) runFlusher(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			gwlog.Recover(s.logger, r, "replay flusher panicked", map[string]any{"stack": string(debug.Stack())})
		}
	}()

	ticker := time.NewTicker(s.flushEvery)
	defer ticker.Stop()

	batch := make([]writeRequest, 0, s.batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		s.flushBatch(batch)
		metrics.ReplayBatchSize.Observe(float64(len(batch)))
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case req := <-s.queue:
			batch = append(batch, req)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// flushBatch pipelines every request in one transaction: an RPUSH+LTRIM per
// entry (approximate cap), then one EXPIRE per unique channel touched.
// A 200ms-class timeout bounds the whole pipeline; on timeout or error the
// batch is dropped and counted, never retried (at-most-once to remote).
func (s *RemoteStore) flushBatch(batch []writeRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()

	pipe := s.client.TxPipeline()
	touched := make(map[string]struct{}, len(batch))
	for _, req := range batch {
		text, err := req.ev.Text()
		if err != nil {
			continue
		}
		key := streamKeyPrefix + req.channelID
		pipe.RPush(ctx, key, encodeStoredEntry(req.streamID, text))
		pipe.LTrim(ctx, key, -s.capacity, -1)
		touched[key] = struct{}{}
	}
	for key := range touched {
		pipe.Expire(ctx, key, s.channelTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		metrics.ReplayWriteErrorsTotal.Inc()
		s.logger.Debug().Err(err).Int("batch_size", len(batch)).Msg("replay batch flush failed")
		return
	}
	metrics.ReplayWritesTotal.Add(float64(len(batch)))
}
