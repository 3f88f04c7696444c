package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Domenick1991/airticket/internal/audit"
	"github.com/Domenick1991/airticket/internal/auth"
	"github.com/Domenick1991/airticket/internal/cache"
	"github.com/Domenick1991/airticket/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const IdempotencyHeader = "Idempotency-Key"

// idempotencyLockTTL bounds how long an unfinished request holds its key, so
// a crashed worker cannot block retries until the response TTL runs out.
const idempotencyLockTTL = 30 * time.Second

// RequestLogger logs one line per request.
func RequestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"latency":  time.Since(start).String(),
			"ip":       c.ClientIP(),
			"bytes":    c.Writer.Size(),
			"user_id":  actorID(c),
			"is_error": len(c.Errors) > 0,
		})
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.WithField("errors", c.Errors.String()).Error("request failed")
		case c.Writer.Status() >= http.StatusBadRequest:
			entry.Info("request rejected")
		default:
			entry.Debug("request served")
		}
	}
}

// RequestMeta puts the caller identity and client details on the request
// context for audit entries. It must run after authentication.
func RequestMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := audit.WithRequestMeta(c.Request.Context(), audit.RequestMeta{
			ActorID:   actorID(c),
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func actorID(c *gin.Context) string {
	if claims, ok := auth.ClaimsFrom(c); ok {
		return claims.UserID
	}
	return ""
}

type IdempotencyStore interface {
	LookupRequest(ctx context.Context, key string) (*cache.StoredResponse, error)
	ReserveRequest(ctx context.Context, key string, ttl time.Duration) (bool, error)
	SaveResponse(ctx context.Context, key string, resp cache.StoredResponse, ttl time.Duration) error
	ReleaseRequest(ctx context.Context, key string) error
}

// Idempotency replays the stored response for a repeated Idempotency-Key
// header. A request that fails with 500 or panics releases its key so the
// client can retry; every other response is kept for ttl. When the store is unreachable
// requests are served without replay protection.
func Idempotency(store IdempotencyStore, ttl time.Duration, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader(IdempotencyHeader)
		if header == "" {
			c.Next()
			return
		}
		key := c.Request.Method + ":" + c.FullPath() + ":" + actorID(c) + ":" + header
		ctx := c.Request.Context()
		log := log.WithField("idempotency_key", header)

		stored, err := store.LookupRequest(ctx, key)
		switch {
		case errors.Is(err, cache.ErrRequestInProgress):
			abortInProgress(c)
			return
		case err != nil:
			log.WithError(err).Warn("idempotency store unavailable")
			c.Next()
			return
		case stored != nil:
			c.Header("Idempotent-Replayed", "true")
			c.Data(stored.Status, "application/json; charset=utf-8", stored.Body)
			c.Abort()
			return
		}

		reserved, err := store.ReserveRequest(ctx, key, idempotencyLockTTL)
		if err != nil {
			log.WithError(err).Warn("idempotency store unavailable")
			c.Next()
			return
		}
		if !reserved {
			abortInProgress(c)
			return
		}

		recorder := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = recorder
		saveCtx := context.WithoutCancel(ctx)
		completed := false
		// runs while a handler panic unwinds too; the panic keeps propagating
		defer func() {
			if !completed || recorder.Status() == http.StatusInternalServerError {
				if err := store.ReleaseRequest(saveCtx, key); err != nil {
					log.WithError(err).Warn("failed to release idempotency key")
				}
				return
			}
			resp := cache.StoredResponse{Status: recorder.Status(), Body: recorder.body.Bytes()}
			if err := store.SaveResponse(saveCtx, key, resp, ttl); err != nil {
				log.WithError(err).Warn("failed to store idempotent response")
			}
		}()

		c.Next()
		completed = true
	}
}

func abortInProgress(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusConflict, errorResponse{
		Error: cache.ErrRequestInProgress.Error(),
		Kind:  domain.KindConflict,
	})
}

type bodyRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyRecorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}
