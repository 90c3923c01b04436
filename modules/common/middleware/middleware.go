// Package middleware holds the net/http middleware shared by every route:
// request ids, access logging, panic recovery and CORS.
//
// Recommended order: RequestID, Logger, Recovery, CORS.
package middleware

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"quel-fitting-server/modules/common/auth"
	"quel-fitting-server/modules/common/metrics"
)

const (
	requestIDHeader   = "X-Request-ID"
	maxQueryLogLength = 2048
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	loggerKey
)

// RequestID - X-Request-ID 전달 또는 생성
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, rid)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, rid)))
	})
}

// RequestIDFrom returns the correlation id stored by RequestID.
func RequestIDFrom(ctx context.Context) string {
	rid, _ := ctx.Value(requestIDKey).(string)
	return rid
}

type responseRecorder struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (r *responseRecorder) WriteHeader(code int) {
	if !r.written {
		r.status = code
		r.written = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if !r.written {
		r.status = http.StatusOK
		r.written = true
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// Hijack - websocket 업그레이드가 래핑된 writer 를 통과하도록
func (r *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.written = true
	return h.Hijack()
}

// Logger - 요청별 access log. 5xx error, 4xx warn, 나머지 info
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		l := log.With().
			Str("request_id", RequestIDFrom(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_ip", r.RemoteAddr).
			Str("query", truncate(r.URL.RawQuery, maxQueryLogLength)).
			Int64("bytes_in", r.ContentLength).
			Logger()
		ctx := context.WithValue(r.Context(), loggerKey, &l)

		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		ev := l.With().
			Str("route", metrics.RoutePath(r)).
			Int("status", rec.status).
			Dur("latency", time.Since(start)).
			Int("bytes_out", rec.bytes).
			Logger()

		switch {
		case rec.status >= 500:
			ev.Error().Msg("request")
		case rec.status >= 400:
			ev.Warn().Msg("request")
		default:
			ev.Info().Msg("request")
		}
	})
}

// LoggerFrom - 요청 범위 logger. 없으면 전역 logger 에 user id 만 붙여 반환
func LoggerFrom(ctx context.Context) *zerolog.Logger {
	if l, ok := ctx.Value(loggerKey).(*zerolog.Logger); ok {
		if uid, ok := auth.UserIDFrom(ctx); ok {
			withUser := l.With().Str("user_id", uid).Logger()
			return &withUser
		}
		return l
	}
	l := log.With().Logger()
	return &l
}

// Recovery - panic 을 500 JSON 응답으로 변환
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			if v := recover(); v != nil {
				rid := RequestIDFrom(r.Context())
				log.Error().
					Interface("panic", v).
					Bytes("stack", debug.Stack()).
					Str("request_id", rid).
					Msg("💥 panic recovered")

				if rec.written {
					return
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				json.NewEncoder(w).Encode(map[string]string{
					"error":     "internal server error",
					"requestId": rid,
				})
			}
		}()
		next.ServeHTTP(rec, r)
	})
}

// CORS 헤더 추가
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Expose-Headers", requestIDHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
