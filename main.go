package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/supabase-community/supabase-go"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"

	"quel-fitting-server/modules/common/auth"
	"quel-fitting-server/modules/common/config"
	"quel-fitting-server/modules/common/database"
	"quel-fitting-server/modules/common/gemini"
	"quel-fitting-server/modules/common/localdb"
	"quel-fitting-server/modules/common/logger"
	"quel-fitting-server/modules/common/metrics"
	"quel-fitting-server/modules/common/middleware"
	"quel-fitting-server/modules/common/observability"
	redisClient "quel-fitting-server/modules/common/redis"
	"quel-fitting-server/modules/common/storage"
	"quel-fitting-server/modules/fitting"
	"quel-fitting-server/modules/notify"
)

var version = "dev"

// store - Supabase / GORM 저장소 공통 인터페이스
type store interface {
	fitting.ReferenceStore
	fitting.RecordStore
	fitting.Ledger
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Failed to load config")
	}
	logger.Setup(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg, version)
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Failed to set up tracing")
	}

	// Supabase (storage 는 드라이버와 무관하게 항상 사용)
	sb, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, &supabase.ClientOptions{})
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Failed to create Supabase client")
	}
	st, err := openStore(cfg, sb)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("❌ Failed to open store")
	}

	gateway, err := gemini.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Failed to create Gemini gateway")
	}

	deps := fitting.Deps{
		Gateway: gateway,
		Refs:    st,
		Records: st,
		Storage: storage.NewClient(sb.Storage, cfg.SupabaseBucket),
		Ledger:  st,
		Prices:  fitting.Pricing{Generation: cfg.PriceGeneration, PerEdit: cfg.PricePerEdit},
	}

	// Redis (선택) - pricing cache + 상태 pub/sub
	rdb := redisClient.Connect(cfg)
	var hub *notify.Hub
	verifier := auth.NewVerifier(cfg.JWTSecret)
	if rdb != nil {
		deps.Pricing = redisClient.NewPricingCache(rdb, st, cfg.PricingCacheTTL)
		deps.Publisher = redisClient.NewStatusPublisher(rdb)

		hub = notify.NewHub(verifier)
		if err := hub.Start(ctx, rdb); err != nil {
			log.Warn().Err(err).Msg("⚠️  Status subscription failed, websocket disabled")
			hub = nil
		}
	}

	pipeline := fitting.New(deps)
	fitting.NewReaper(st, cfg.OrphanTimeout).Start(ctx)

	// Router
	r := mux.NewRouter()
	r.Use(middleware.RequestID, middleware.Logger, middleware.Recovery, otelmux.Middleware(cfg.ServiceName), metrics.Middleware)

	r.HandleFunc("/health", healthCheck(cfg, hub)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	if hub != nil {
		r.HandleFunc("/ws", hub.ServeWS).Methods(http.MethodGet)
		log.Info().Msg("✅ WebSocket status route registered")
	}
	fitting.NewHandler(pipeline).RegisterRoutes(r, verifier.Middleware)
	log.Info().Msg("✅ Fitting routes registered")

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           middleware.CORS(r),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("version", version).Msg("🚀 Fitting server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("❌ Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("🛑 Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if hub != nil {
		hub.Shutdown()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("❌ HTTP shutdown error")
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("❌ Tracer shutdown error")
	}
	log.Info().Msg("👋 Server stopped")
}

// openStore - STORE_DRIVER 에 따라 Supabase(postgrest) 또는 GORM(postgres)
func openStore(cfg *config.Config, sb *supabase.Client) (store, error) {
	if cfg.StoreDriver != "postgres" {
		return database.NewStoreFromClient(sb), nil
	}
	db, err := localdb.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := localdb.AutoMigrate(db); err != nil {
		return nil, err
	}
	return localdb.New(db), nil
}

// 헬스 체크 엔드포인트
func healthCheck(cfg *config.Config, hub *notify.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{
			"status":  "healthy",
			"service": cfg.ServiceName,
			"version": version,
		}
		if hub != nil {
			body["wsConnections"] = hub.Connections()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(body)
	}
}
