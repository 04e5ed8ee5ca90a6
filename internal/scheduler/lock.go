package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// LeaseKey is the Redis key guarding sync runs across replicas.
const LeaseKey = "address-sync:run-lease"

// Lease is a lock shared with other replicas of the service.
type Lease interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Only the holder's token may delete the key; an expired lease taken over by
// another replica is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript pushes the expiry forward only while the holder's token is stored.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLease is a Lease stored under a single Redis key with a TTL. While held,
// the expiry is renewed every third of the TTL so a run longer than the TTL keeps it.
type RedisLease struct {
	client *redis.Client
	key    string
	ttl    time.Duration

	mu          sync.Mutex
	token       string
	stopRenewal context.CancelFunc
	renewalDone chan struct{}
}

func NewRedisLease(client *redis.Client, key string, ttl time.Duration) *RedisLease {
	return &RedisLease{client: client, key: key, ttl: ttl}
}

// Acquire takes the lease with SET NX PX. It returns false when another holder has it.
func (l *RedisLease) Acquire(ctx context.Context) (bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("set %s: %w", l.key, err)
	}
	if !ok {
		return false, nil
	}

	renewCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	l.mu.Lock()
	l.token = token
	l.stopRenewal = cancel
	l.renewalDone = done
	l.mu.Unlock()

	go l.renew(renewCtx, token, done)
	return true, nil
}

func (l *RedisLease) renew(ctx context.Context, token string, done chan struct{}) {
	defer close(done)

	interval := l.ttl / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			held, err := extendScript.Run(ctx, l.client, []string{l.key}, token, l.ttl.Milliseconds()).Int()
			if err == nil && held == 0 {
				// taken over after expiry; nothing left to renew
				return
			}
		}
	}
}

func (l *RedisLease) Release(ctx context.Context) error {
	l.mu.Lock()
	token, stop, done := l.token, l.stopRenewal, l.renewalDone
	l.token, l.stopRenewal, l.renewalDone = "", nil, nil
	l.mu.Unlock()

	if token == "" {
		return nil
	}
	stop()
	<-done

	if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	return nil
}

// NewRedisClient connects to the Redis server at url.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}
