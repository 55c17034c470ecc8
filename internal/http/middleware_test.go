package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyaro/vps-broker/internal/security"
	"github.com/kyaro/vps-broker/internal/service"
)

type staticSecrets struct {
	workerID uuid.UUID
	secret   string
}

func (s *staticSecrets) WorkerSecret(_ context.Context, workerID uuid.UUID) (string, error) {
	if workerID != s.workerID {
		return "", service.ErrUnauthorized
	}
	return s.secret, nil
}

type signedCall struct {
	workerID  string
	timestamp string
	signature string
	body      []byte
}

func newSignedCall(workerID uuid.UUID, secret string, body []byte) signedCall {
	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	return signedCall{
		workerID:  workerID.String(),
		timestamp: timestamp,
		signature: security.ComputeSignature(secret, body, timestamp),
		body:      body,
	}
}

func performSigned(t *testing.T, secrets SecretResolver, call signedCall) (*httptest.ResponseRecorder, *gin.Context) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var captured *gin.Context
	router := gin.New()
	router.POST("/callback", WorkerSignatureMiddleware(secrets), func(c *gin.Context) {
		captured = c.Copy()
		body, _ := io.ReadAll(c.Request.Body)
		c.JSON(http.StatusOK, gin.H{"received": len(body)})
	})

	req := httptest.NewRequest(http.MethodPost, "/callback", bytes.NewReader(call.body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Worker-Id", call.workerID)
	req.Header.Set("X-Timestamp", call.timestamp)
	req.Header.Set("X-Signature", call.signature)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec, captured
}

func TestWorkerSignatureMiddleware(t *testing.T) {
	workerID := uuid.New()
	secret := "worker-signing-secret-0123456789"
	secrets := &staticSecrets{workerID: workerID, secret: secret}
	body := []byte(`{"session_id":"abc","status":"ready"}`)

	t.Run("valid signature passes and identifies the worker", func(t *testing.T) {
		call := newSignedCall(workerID, secret, body)
		rec, captured := performSigned(t, secrets, call)

		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, captured)
		assert.Equal(t, workerID.String(), captured.GetString("workerID"))
	})

	t.Run("body survives verification for the handler", func(t *testing.T) {
		call := newSignedCall(workerID, secret, body)
		rec, _ := performSigned(t, secrets, call)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), fmt.Sprintf("%d", len(body)))
	})

	t.Run("mutated body is rejected", func(t *testing.T) {
		call := newSignedCall(workerID, secret, body)
		call.body = []byte(`{"session_id":"abc","status":"failed"}`)
		rec, captured := performSigned(t, secrets, call)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Nil(t, captured)
	})

	t.Run("stale timestamp is rejected", func(t *testing.T) {
		stale := fmt.Sprintf("%d", time.Now().Add(-10*time.Minute).Unix())
		call := signedCall{
			workerID:  workerID.String(),
			timestamp: stale,
			signature: security.ComputeSignature(secret, body, stale),
			body:      body,
		}
		rec, captured := performSigned(t, secrets, call)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Nil(t, captured)
	})

	t.Run("future timestamp is rejected", func(t *testing.T) {
		future := fmt.Sprintf("%d", time.Now().Add(10*time.Minute).Unix())
		call := signedCall{
			workerID:  workerID.String(),
			timestamp: future,
			signature: security.ComputeSignature(secret, body, future),
			body:      body,
		}
		rec, _ := performSigned(t, secrets, call)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unknown worker is rejected", func(t *testing.T) {
		other := uuid.New()
		call := newSignedCall(other, secret, body)
		rec, captured := performSigned(t, secrets, call)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Nil(t, captured)
	})

	t.Run("missing headers are rejected", func(t *testing.T) {
		gin.SetMode(gin.TestMode)
		router := gin.New()
		router.POST("/callback", WorkerSignatureMiddleware(secrets), func(c *gin.Context) {
			c.Status(http.StatusOK)
		})

		req := httptest.NewRequest(http.MethodPost, "/callback", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("signature over wrong secret is rejected", func(t *testing.T) {
		call := newSignedCall(workerID, "some-other-secret-0123456789xyz", body)
		rec, _ := performSigned(t, secrets, call)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("user-1"))
	}
	assert.False(t, rl.Allow("user-1"))

	// 其他用户不受影响
	assert.True(t, rl.Allow("user-2"))
}
