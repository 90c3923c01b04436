package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"quel-fitting-server/modules/common/config"
	"quel-fitting-server/modules/common/model"
)

func newMini(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

type countingSource struct {
	calls int
	data  map[string]int
	err   error
}

func (s *countingSource) PricingOverrides(ctx context.Context) (map[string]int, error) {
	s.calls++
	return s.data, s.err
}

func TestPricingCache_HitAfterMiss(t *testing.T) {
	_, rdb := newMini(t)
	src := &countingSource{data: map[string]int{"generation": 3}}
	cache := NewPricingCache(rdb, src, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := cache.PricingOverrides(ctx)
		if err != nil || got["generation"] != 3 {
			t.Fatalf("PricingOverrides = %v, %v", got, err)
		}
	}
	if src.calls != 1 {
		t.Fatalf("source calls = %d, want 1", src.calls)
	}
}

func TestPricingCache_Expires(t *testing.T) {
	mr, rdb := newMini(t)
	src := &countingSource{data: map[string]int{}}
	cache := NewPricingCache(rdb, src, time.Minute)
	ctx := context.Background()

	cache.PricingOverrides(ctx)
	mr.FastForward(2 * time.Minute)
	cache.PricingOverrides(ctx)
	if src.calls != 2 {
		t.Fatalf("after TTL source calls = %d, want 2", src.calls)
	}
	if ttl := mr.TTL(pricingKey); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("cache ttl = %v, want (0, 1m]", ttl)
	}
}

func TestPricingCache_SourceError(t *testing.T) {
	_, rdb := newMini(t)
	cache := NewPricingCache(rdb, &countingSource{err: errors.New("db down")}, time.Minute)
	if _, err := cache.PricingOverrides(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestPricingCache_RedisDownFallsBackToSource(t *testing.T) {
	mr, rdb := newMini(t)
	mr.Close()
	src := &countingSource{data: map[string]int{"add_logo": 2}}
	cache := NewPricingCache(rdb, src, time.Minute)

	got, err := cache.PricingOverrides(context.Background())
	if err != nil || got["add_logo"] != 2 {
		t.Fatalf("PricingOverrides = %v, %v", got, err)
	}
}

func TestStatus_PublishSubscribe(t *testing.T) {
	_, rdb := newMini(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan model.StatusEvent, 1)
	if err := SubscribeStatus(ctx, rdb, func(e model.StatusEvent) { got <- e }); err != nil {
		t.Fatalf("SubscribeStatus: %v", err)
	}

	pub := NewStatusPublisher(rdb)
	evt := model.StatusEvent{GenerationID: "g1", UserID: "u1", Status: model.StatusCompleted}
	if err := pub.PublishStatus(ctx, evt); err != nil {
		t.Fatalf("PublishStatus: %v", err)
	}

	select {
	case e := <-got:
		if e != evt {
			t.Fatalf("event = %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestStatusPublisher_NilClientIsNoop(t *testing.T) {
	var p *StatusPublisher
	if err := p.PublishStatus(context.Background(), model.StatusEvent{}); err != nil {
		t.Fatal(err)
	}
	if err := NewStatusPublisher(nil).PublishStatus(context.Background(), model.StatusEvent{}); err != nil {
		t.Fatal(err)
	}
}

func TestConnect(t *testing.T) {
	if rdb := Connect(&config.Config{}); rdb != nil {
		t.Fatal("expected nil without REDIS_HOST")
	}

	mr := miniredis.RunT(t)
	cfg := &config.Config{RedisHost: mr.Host(), RedisPort: mr.Port(), RedisUseTLS: false}
	rdb := Connect(cfg)
	if rdb == nil {
		t.Fatal("expected client")
	}
	rdb.Close()
}
