// Package lease provides cross-process exclusivity for conversation pairs.
// A town running in several processes against one Redis instance cannot
// double book an agent, because a session only starts once both agent keys
// are claimed.
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/agenttown/conversation"
)

const defaultPrefix = "agenttown:engaged:"

// Claims every key or none. ARGV[1] is the session id, ARGV[2] the ttl in ms.
var acquireScript = redis.NewScript(`
for i, key in ipairs(KEYS) do
	if redis.call("EXISTS", key) == 1 then
		return 0
	end
end
for i, key in ipairs(KEYS) do
	redis.call("SET", key, ARGV[1], "PX", ARGV[2])
end
return 1
`)

// Deletes only the keys still owned by the session.
var releaseScript = redis.NewScript(`
local n = 0
for i, key in ipairs(KEYS) do
	if redis.call("GET", key) == ARGV[1] then
		redis.call("DEL", key)
		n = n + 1
	end
end
return n
`)

// Options configures a RedisLease.
type Options struct {
	// Prefix is prepended to every agent id.
	Prefix string
	// TTL bounds how long a crashed process can hold an agent.
	TTL time.Duration
}

// RedisLease implements conversation.Lease on Redis keys.
type RedisLease struct {
	rdb  redis.UniversalClient
	opts Options
}

var _ conversation.Lease = (*RedisLease)(nil)

// New wraps an existing client.
func New(rdb redis.UniversalClient, optFns ...func(o *Options)) *RedisLease {
	opts := Options{
		Prefix: defaultPrefix,
		TTL:    10 * time.Minute,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &RedisLease{rdb: rdb, opts: opts}
}

// Dial connects to a redis:// URL or a bare host:port address.
func Dial(ctx context.Context, addr string, optFns ...func(o *Options)) (*RedisLease, error) {
	var opt *redis.Options
	if parsed, err := redis.ParseURL(addr); err == nil {
		opt = parsed
	} else {
		opt = &redis.Options{Addr: addr}
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return New(rdb, optFns...), nil
}

func (l *RedisLease) keys(agentIDs []string) []string {
	keys := make([]string, len(agentIDs))
	for i, id := range agentIDs {
		keys[i] = l.opts.Prefix + id
	}
	return keys
}

// Acquire claims all agent ids for sessionID.
func (l *RedisLease) Acquire(ctx context.Context, sessionID string, agentIDs ...string) (bool, error) {
	if len(agentIDs) == 0 {
		return false, errors.New("lease: no agent ids")
	}
	n, err := acquireScript.Run(ctx, l.rdb, l.keys(agentIDs), sessionID, l.opts.TTL.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("lease acquire: %w", err)
	}
	return n == 1, nil
}

// Release frees the agent ids held by sessionID. Keys taken over by another
// session are left alone.
func (l *RedisLease) Release(ctx context.Context, sessionID string, agentIDs ...string) error {
	if len(agentIDs) == 0 {
		return nil
	}
	if err := releaseScript.Run(ctx, l.rdb, l.keys(agentIDs), sessionID).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("lease release: %w", err)
	}
	return nil
}

// Holder returns the session currently holding agentID, if any.
func (l *RedisLease) Holder(ctx context.Context, agentID string) (string, bool, error) {
	sid, err := l.rdb.Get(ctx, l.opts.Prefix+agentID).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return sid, true, nil
}

// Close closes the underlying client.
func (l *RedisLease) Close() error {
	return l.rdb.Close()
}
