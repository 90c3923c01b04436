package redis

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"quel-fitting-server/modules/common/config"
)

// Connect - Redis 연결 생성. 설정이 없거나 ping 실패 시 nil
func Connect(cfg *config.Config) *redis.Client {
	if !cfg.RedisEnabled() {
		log.Info().Msg("ℹ️  [Redis] REDIS_HOST not set, pricing cache and status events disabled")
		return nil
	}
	log.Info().Str("addr", cfg.GetRedisAddr()).Msg("🔌 [Redis] Connecting")

	// TLS 설정 (InsecureSkipVerify 추가)
	var tlsConfig *tls.Config
	if cfg.RedisUseTLS {
		tlsConfig = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: true, // Render.com Redis용
		}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.GetRedisAddr(),
		Username:     cfg.RedisUsername,
		Password:     cfg.RedisPassword,
		TLSConfig:    tlsConfig,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	// 연결 테스트
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error().Err(err).Msg("❌ [Redis] Ping failed")
		_ = rdb.Close()
		return nil
	}

	log.Info().Msg("✅ [Redis] Connected")
	return rdb
}
