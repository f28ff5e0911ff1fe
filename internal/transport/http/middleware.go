package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"OrderListService/internal/model"
)

// HeaderRequestID: заголовок с идентификатором запроса
const HeaderRequestID = "X-Request-ID"

type ctxKey int

const (
	actorKey ctxKey = iota
	requestIDKey
)

// WithActor кладёт пользователя в контекст запроса
func WithActor(ctx context.Context, actor model.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext возвращает пользователя, определённого AuthMiddleware
func ActorFromContext(ctx context.Context) (model.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(model.Actor)
	return actor, ok
}

// RequestIDFromContext возвращает идентификатор запроса или пустую строку
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// statusResponseWriter запоминает статус ответа для логирования
type statusResponseWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// RequestIDMiddleware берёт X-Request-ID клиента или выдаёт новый и возвращает его в ответе
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// LoggingMiddleware пишет строку на каждый запрос; панику логирует и пробрасывает дальше
func LoggingMiddleware(log logrus.FieldLogger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			srw := &statusResponseWriter{ResponseWriter: w, status: http.StatusOK}
			entry := log.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"request_id": RequestIDFromContext(r.Context()),
			})
			defer func() {
				if rec := recover(); rec != nil {
					entry.WithFields(logrus.Fields{
						"status":      http.StatusInternalServerError,
						"duration_ms": time.Since(start).Milliseconds(),
						"panic":       rec,
					}).Error("PANIC while handling request")
					panic(rec)
				}
			}()
			next.ServeHTTP(srw, r)
			entry = entry.WithFields(logrus.Fields{
				"status":      srw.status,
				"duration_ms": time.Since(start).Milliseconds(),
			})
			if srw.status >= http.StatusInternalServerError {
				entry.Warn("request failed")
				return
			}
			entry.Info("request handled")
		})
	}
}

// ActorProvider определяет пользователя по входящему запросу
type ActorProvider interface {
	Actor(r *http.Request) (model.Actor, error)
}

// AuthMiddleware пропускает дальше только запросы с валидным токеном
func AuthMiddleware(p ActorProvider) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := p.Actor(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, ErrorResponse{2, "errors.common.unauthorized", map[string]interface{}{"kind": "authorization"}})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

// ActorLimiter ограничивает частоту изменяющих запросов отдельно для каждого пользователя
type ActorLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration

	mu       sync.Mutex
	limiters map[string]*actorBucket
	lastGC   time.Time
}

type actorBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewActorLimiter создаёт ограничитель: rps запросов в секунду с запасом burst
func NewActorLimiter(rps float64, burst int) *ActorLimiter {
	return &ActorLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		idle:     10 * time.Minute,
		limiters: make(map[string]*actorBucket),
		lastGC:   time.Now(),
	}
}

// Allow сообщает, можно ли пропустить ещё один запрос пользователя
func (l *ActorLimiter) Allow(actorID string) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.lastGC) > l.idle {
		for id, b := range l.limiters {
			if now.Sub(b.lastSeen) > l.idle {
				delete(l.limiters, id)
			}
		}
		l.lastGC = now
	}
	b, ok := l.limiters[actorID]
	if !ok {
		b = &actorBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[actorID] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// RateLimitMiddleware отвечает 429 на изменяющие запросы сверх лимита; чтение не ограничивается
func RateLimitMiddleware(l *ActorLimiter) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			actor, _ := ActorFromContext(r.Context())
			if !l.Allow(actor.ID) {
				writeError(w, http.StatusTooManyRequests, ErrorResponse{7, "errors.common.tooManyRequests", map[string]interface{}{}})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
