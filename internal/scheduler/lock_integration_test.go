//go:build integration

package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/ThiagoRGoveia/address-sync/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

type RedisLeaseSuite struct {
	suite.Suite
	container *tcredis.RedisContainer
	client    *redis.Client
}

func TestRedisLeaseSuite(t *testing.T) {
	suite.Run(t, new(RedisLeaseSuite))
}

func (s *RedisLeaseSuite) SetupSuite() {
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	s.Require().NoError(err)
	s.container = container

	url, err := container.ConnectionString(ctx)
	s.Require().NoError(err)

	s.client, err = NewRedisClient(ctx, url)
	s.Require().NoError(err)
}

func (s *RedisLeaseSuite) TearDownSuite() {
	if s.client != nil {
		_ = s.client.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

func (s *RedisLeaseSuite) SetupTest() {
	s.Require().NoError(s.client.FlushAll(context.Background()).Err())
}

func (s *RedisLeaseSuite) TestSecondReplicaIsRefused() {
	ctx := context.Background()
	first := NewRedisLease(s.client, LeaseKey, time.Minute)
	second := NewRedisLease(s.client, LeaseKey, time.Minute)

	ok, err := first.Acquire(ctx)
	s.Require().NoError(err)
	s.True(ok)

	ok, err = second.Acquire(ctx)
	s.Require().NoError(err)
	s.False(ok)

	// releasing a lease it never held leaves the key in place
	s.Require().NoError(second.Release(ctx))
	s.Equal(int64(1), s.client.Exists(ctx, LeaseKey).Val())

	s.Require().NoError(first.Release(ctx))
	s.Equal(int64(0), s.client.Exists(ctx, LeaseKey).Val())

	ok, err = second.Acquire(ctx)
	s.Require().NoError(err)
	s.True(ok)
}

func (s *RedisLeaseSuite) TestLeaseOutlivesItsTTLWhileHeld() {
	ctx := context.Background()
	first := NewRedisLease(s.client, LeaseKey, 300*time.Millisecond)
	second := NewRedisLease(s.client, LeaseKey, time.Minute)

	ok, err := first.Acquire(ctx)
	s.Require().NoError(err)
	s.True(ok)

	// a run three times longer than the TTL
	time.Sleep(time.Second)

	ok, err = second.Acquire(ctx)
	s.Require().NoError(err)
	s.False(ok)
	s.Positive(s.client.PTTL(ctx, LeaseKey).Val())

	s.Require().NoError(first.Release(ctx))
	s.Equal(int64(0), s.client.Exists(ctx, LeaseKey).Val())
}

func (s *RedisLeaseSuite) TestTakenOverLeaseIsNotStolenBack() {
	ctx := context.Background()
	first := NewRedisLease(s.client, LeaseKey, 300*time.Millisecond)

	ok, err := first.Acquire(ctx)
	s.Require().NoError(err)
	s.True(ok)

	// another replica took the key after an expiry
	s.Require().NoError(s.client.Set(ctx, LeaseKey, "other-replica", time.Minute).Err())
	time.Sleep(200 * time.Millisecond)

	s.Require().NoError(first.Release(ctx))
	s.Equal("other-replica", s.client.Get(ctx, LeaseKey).Val())
	s.Greater(s.client.PTTL(ctx, LeaseKey).Val(), 30*time.Second)
}

func (s *RedisLeaseSuite) TestSchedulersShareTheLease() {
	ctx := context.Background()
	runner := newBlockingRunner()
	other := &MockRunner{}

	a, err := NewScheduler(runner, Config{CronSpec: "5 20 * * *"}, NewRedisLease(s.client, LeaseKey, time.Minute), nil, discardLogger())
	s.Require().NoError(err)
	b, err := NewScheduler(other, Config{CronSpec: "5 20 * * *"}, NewRedisLease(s.client, LeaseKey, time.Minute), nil, discardLogger())
	s.Require().NoError(err)

	s.Require().NoError(a.TriggerAsync(SourceManual))
	<-runner.started

	_, err = b.Trigger(ctx, SourceCron)
	s.ErrorIs(err, ErrRunInProgress)
	other.AssertNotCalled(s.T(), "Execute", mock.Anything)

	close(runner.unblock)
	s.Require().NoError(a.Stop(ctx))

	other.On("Execute", mock.Anything).Return(&models.RunReport{Success: true}, nil)
	_, err = b.Trigger(ctx, SourceCron)
	require.NoError(s.T(), err)
	s.Require().NoError(b.Stop(ctx))
}
