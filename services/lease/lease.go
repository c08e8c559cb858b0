package leasesvc

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/studyboard/studyboard/core"
	"github.com/studyboard/studyboard/core/curriculum"
)

// releaseScript deletes the lease only while the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// New returns a Redis backed leaser when redis.addr is configured, an in-process one otherwise.
func New(conf *core.Config) (curriculum.Leaser, func() error, error) {
	if conf.Redis.Addr == "" {
		return NewLocalLeaser(), func() error { return nil }, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Addr,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, errors.Wrap(err, "pinging redis")
	}
	return NewRedisLeaser(client), client.Close, nil
}

type RedisLeaser struct {
	client *redis.Client
}

var _ curriculum.Leaser = (*RedisLeaser)(nil)

func NewRedisLeaser(client *redis.Client) *RedisLeaser {
	return &RedisLeaser{client: client}
}

func (l *RedisLeaser) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "acquiring lease %s", key)
	}
	if !ok {
		return nil, curriculum.ErrLeaseHeld
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			return errors.Wrapf(err, "releasing lease %s", key)
		}
		return nil
	}
	return release, nil
}

// LocalLeaser guards leases within a single process.
type LocalLeaser struct {
	mu   sync.Mutex
	held map[string]localLease
	now  func() time.Time
}

type localLease struct {
	token   string
	expires time.Time
}

var _ curriculum.Leaser = (*LocalLeaser)(nil)

func NewLocalLeaser() *LocalLeaser {
	return &LocalLeaser{held: make(map[string]localLease), now: time.Now}
}

func (l *LocalLeaser) Acquire(_ context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, ok := l.held[key]; ok && now.Before(cur.expires) {
		return nil, curriculum.ErrLeaseHeld
	}
	token := uuid.NewString()
	l.held[key] = localLease{token: token, expires: now.Add(ttl)}

	release := func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if cur, ok := l.held[key]; ok && cur.token == token {
			delete(l.held, key)
		}
		return nil
	}
	return release, nil
}
