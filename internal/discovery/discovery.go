// Package discovery implements the multi-instance service-discovery layer
// (C9): a Redis-backed instance registry with heartbeat TTL, and a
// channel→instance binding map with compare-and-delete release semantics.
//
// This package is read/status-only — it never forwards a message to
// another instance's connections. Cross-instance delivery is an explicit
// non-goal; an operator inspects instance/binding state to route requests
// at the load-balancer layer, outside this process.
package discovery

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ssefanout/gateway/internal/metrics"
)

const (
	instancesSetKey   = "gateway:instances"
	instanceKeyPrefix = "gateway:instance:"
	bindingKeyPrefix  = "channel:"
	bindingKeySuffix  = ":instance"
)

// Instance is one running gateway process as seen through the registry.
type Instance struct {
	ID           string
	Address      string
	LastSeen     time.Time
	RegisteredAt time.Time
}

// Registry is the Redis-backed instance/binding tracker for one process.
// selfID/address identify this instance; Heartbeat and Release always
// act on selfID's own records.
type Registry struct {
	client  *redis.Client
	selfID  string
	address string

	instanceTTL time.Duration
	bindingTTL  time.Duration
}

// New builds a Registry. instanceTTL defaults to 30s, bindingTTL to 60s,
// matching the spec's defaults.
func New(client *redis.Client, selfID, address string, instanceTTL, bindingTTL time.Duration) *Registry {
	if instanceTTL <= 0 {
		instanceTTL = 30 * time.Second
	}
	if bindingTTL <= 0 {
		bindingTTL = 60 * time.Second
	}
	return &Registry{
		client:      client,
		selfID:      selfID,
		address:     address,
		instanceTTL: instanceTTL,
		bindingTTL:  bindingTTL,
	}
}

// Register adds this instance to the shared set and writes its hash record
// with a fresh TTL. Call once at startup, then Heartbeat periodically.
func (r *Registry) Register(ctx context.Context) error {
	now := time.Now().UTC()
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, instancesSetKey, r.selfID)
	key := instanceKeyPrefix + r.selfID
	pipe.HSet(ctx, key, map[string]any{
		"address":       r.address,
		"last_seen":     now.Format(time.RFC3339),
		"registered_at": now.Format(time.RFC3339),
	})
	pipe.Expire(ctx, key, r.instanceTTL)
	_, err := pipe.Exec(ctx)
	recordOutcome("register", err)
	return err
}

// Heartbeat refreshes this instance's last_seen and TTL. Call every 10s.
func (r *Registry) Heartbeat(ctx context.Context) error {
	key := instanceKeyPrefix + r.selfID
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, "last_seen", time.Now().UTC().Format(time.RFC3339))
	pipe.Expire(ctx, key, r.instanceTTL)
	_, err := pipe.Exec(ctx)
	recordOutcome("heartbeat", err)
	return err
}

// Deregister removes this instance from the shared set and deletes its
// hash record. Call on graceful shutdown; on a crash the TTL lapses
// instead.
func (r *Registry) Deregister(ctx context.Context) error {
	pipe := r.client.TxPipeline()
	pipe.SRem(ctx, instancesSetKey, r.selfID)
	pipe.Del(ctx, instanceKeyPrefix+r.selfID)
	_, err := pipe.Exec(ctx)
	recordOutcome("deregister", err)
	return err
}

// Instances lists every instance currently present in the shared set,
// along with its hash record. Entries whose hash has expired between the
// SMEMBERS and the HGETALL are silently skipped.
func (r *Registry) Instances(ctx context.Context) ([]Instance, error) {
	ids, err := r.client.SMembers(ctx, instancesSetKey).Result()
	if err != nil {
		recordOutcome("list", err)
		return nil, err
	}

	out := make([]Instance, 0, len(ids))
	for _, id := range ids {
		fields, err := r.client.HGetAll(ctx, instanceKeyPrefix+id).Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		inst := Instance{ID: id, Address: fields["address"]}
		inst.LastSeen, _ = time.Parse(time.RFC3339, fields["last_seen"])
		inst.RegisteredAt, _ = time.Parse(time.RFC3339, fields["registered_at"])
		out = append(out, inst)
	}
	recordOutcome("list", nil)
	return out, nil
}

func bindingKey(channelID string) string {
	return bindingKeyPrefix + channelID + bindingKeySuffix
}

// Bind records that channelID is currently served by this instance,
// refreshing the binding's TTL. Overwrites any existing owner
// unconditionally — binding creation is not itself compare-and-swap, only
// release is.
func (r *Registry) Bind(ctx context.Context, channelID string) error {
	err := r.client.Set(ctx, bindingKey(channelID), r.selfID, r.bindingTTL).Err()
	recordOutcome("bind", err)
	return err
}

// InstanceFor returns the instance id currently bound to channelID, if any.
func (r *Registry) InstanceFor(ctx context.Context, channelID string) (string, bool, error) {
	id, err := r.client.Get(ctx, bindingKey(channelID)).Result()
	if err == redis.Nil {
		recordOutcome("lookup", nil)
		return "", false, nil
	}
	if err != nil {
		recordOutcome("lookup", err)
		return "", false, err
	}
	recordOutcome("lookup", nil)
	return id, true, nil
}

// releaseScript atomically deletes a binding key only if its current value
// still equals the caller's own instance id. Go-redis ships no built-in
// compare-and-delete, so the check-then-delete is pushed into Redis as a
// single Lua script to keep it atomic against a racing Bind from another
// instance.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// Release performs the compare-and-delete: the binding for channelID is
// removed only if it currently names this instance. If another instance
// has since taken over the channel, the binding is left untouched.
func (r *Registry) Release(ctx context.Context, channelID string) error {
	err := r.client.Eval(ctx, releaseScript, []string{bindingKey(channelID)}, r.selfID).Err()
	recordOutcome("release", err)
	return err
}

// ChannelStatus is the composed view returned by Status: whether a channel
// is currently bound, and if so, the instance serving it.
type ChannelStatus struct {
	Online          bool
	InstanceID      string
	InstanceAddress string
}

// Status reports whether channelID is currently bound to an instance, and
// if so, that instance's address. It reads the binding, then the bound
// instance's hash record; if the instance's record has since expired the
// channel is reported offline even though the binding itself may briefly
// still exist.
func (r *Registry) Status(ctx context.Context, channelID string) (ChannelStatus, error) {
	instanceID, bound, err := r.InstanceFor(ctx, channelID)
	if err != nil {
		return ChannelStatus{}, err
	}
	if !bound {
		return ChannelStatus{Online: false}, nil
	}

	fields, err := r.client.HGetAll(ctx, instanceKeyPrefix+instanceID).Result()
	if err != nil {
		recordOutcome("status", err)
		return ChannelStatus{}, err
	}
	if len(fields) == 0 {
		recordOutcome("status", nil)
		return ChannelStatus{Online: false}, nil
	}

	recordOutcome("status", nil)
	return ChannelStatus{
		Online:          true,
		InstanceID:      instanceID,
		InstanceAddress: fields["address"],
	}, nil
}

func recordOutcome(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.DiscoveryOperationsTotal.WithLabelValues(op, outcome).Inc()
}
