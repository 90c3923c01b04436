package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"quel-fitting-server/modules/common/model"
)

// StatusChannel - generation 상태 변경 pub/sub 채널
const StatusChannel = "fitting:status"

// StatusPublisher - 상태 이벤트를 Redis 로 발행. rdb 가 nil 이면 no-op
type StatusPublisher struct {
	rdb *redis.Client
}

func NewStatusPublisher(rdb *redis.Client) *StatusPublisher {
	return &StatusPublisher{rdb: rdb}
}

func (p *StatusPublisher) PublishStatus(ctx context.Context, evt model.StatusEvent) error {
	if p == nil || p.rdb == nil {
		return nil
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode status event: %w", err)
	}
	return p.rdb.Publish(ctx, StatusChannel, payload).Err()
}

// SubscribeStatus - ctx 가 끝날 때까지 이벤트를 handle 로 전달.
// 구독이 성립된 뒤에 반환하므로 호출 직후 발행된 이벤트도 받는다
func SubscribeStatus(ctx context.Context, rdb *redis.Client, handle func(model.StatusEvent)) error {
	sub := rdb.Subscribe(ctx, StatusChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", StatusChannel, err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var evt model.StatusEvent
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					log.Warn().Err(err).Msg("⚠️  [Redis] Dropping malformed status event")
					continue
				}
				handle(evt)
			}
		}
	}()
	return nil
}
