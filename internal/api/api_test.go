package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-dispatch/internal/api"
	"github.com/tinywideclouds/go-push-dispatch/internal/engine"
	"github.com/tinywideclouds/go-push-dispatch/internal/ingest"
	"github.com/tinywideclouds/go-push-dispatch/internal/storage/memory"
	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

// fakeGateway delivers everything except tokens listed in invalid.
type fakeGateway struct {
	invalid map[string]bool
}

func (g *fakeGateway) outcome(token string) push.DeliveryOutcome {
	if g.invalid[token] {
		return push.DeliveryOutcome{Token: token, Status: push.StatusInvalidToken, Reason: "unregistered"}
	}
	return push.DeliveryOutcome{Token: token, Status: push.StatusDelivered}
}

func (g *fakeGateway) SendToToken(_ context.Context, _ *push.Message, token string) (push.DeliveryOutcome, error) {
	return g.outcome(token), nil
}

func (g *fakeGateway) SendToTokens(_ context.Context, _ *push.Message, tokens []string) ([]push.DeliveryOutcome, error) {
	outcomes := make([]push.DeliveryOutcome, len(tokens))
	for i, tok := range tokens {
		outcomes[i] = g.outcome(tok)
	}
	return outcomes, nil
}

func (g *fakeGateway) SendToTopic(_ context.Context, _ *push.Message, _ string) error {
	return nil
}

func (g *fakeGateway) SubscribeToTopic(_ context.Context, tokens []string, _ string) ([]push.DeliveryOutcome, error) {
	return g.SendToTokens(nil, nil, tokens)
}

func (g *fakeGateway) UnsubscribeFromTopic(_ context.Context, tokens []string, _ string) ([]push.DeliveryOutcome, error) {
	return g.SendToTokens(nil, nil, tokens)
}

func setup(t *testing.T) (*echo.Echo, *memory.Registry) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := memory.NewRegistry()

	eng, err := engine.New(registry, &fakeGateway{invalid: map[string]bool{"dead-token": true}})
	require.NoError(t, err)

	e := echo.New()
	api.New(eng, registry, logger).RegisterRoutes(e)
	return e, registry
}

func doJSON(e *echo.Echo, method, path, recipient, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if recipient != "" {
		req.Header.Set("X-Recipient-ID", recipient)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestTokenEndpoints(t *testing.T) {
	t.Run("Register Token", func(t *testing.T) {
		e, registry := setup(t)

		rec := doJSON(e, http.MethodPut, "/tokens", "user-1", `{"token":"token-a","platform":"android"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var got push.DeviceToken
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.True(t, got.Active)

		tokens, err := registry.ActiveTokens(context.Background(), "user-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"token-a"}, tokens)
	})

	t.Run("Register Without Identity Is Unauthorized", func(t *testing.T) {
		e, _ := setup(t)
		rec := doJSON(e, http.MethodPut, "/tokens", "", `{"token":"token-a","platform":"android"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("Register With Unknown Platform Is Rejected", func(t *testing.T) {
		e, _ := setup(t)
		rec := doJSON(e, http.MethodPut, "/tokens", "user-1", `{"token":"token-a","platform":"blackberry"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("Remove Token", func(t *testing.T) {
		e, registry := setup(t)
		_, err := registry.Upsert(context.Background(), "user-1", "token-a", push.PlatformWeb)
		require.NoError(t, err)

		rec := doJSON(e, http.MethodDelete, "/tokens", "user-1", `{"token":"token-a"}`)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("Remove Foreign Token Is NotFound", func(t *testing.T) {
		e, registry := setup(t)
		_, err := registry.Upsert(context.Background(), "user-1", "token-a", push.PlatformWeb)
		require.NoError(t, err)

		rec := doJSON(e, http.MethodDelete, "/tokens", "user-2", `{"token":"token-a"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestNotifyEndpoints(t *testing.T) {
	t.Run("Notify Recipient", func(t *testing.T) {
		e, registry := setup(t)
		_, err := registry.Upsert(context.Background(), "user-1", "token-a", push.PlatformAndroid)
		require.NoError(t, err)

		rec := doJSON(e, http.MethodPost, "/notify", "",
			`{"recipient_id":"user-1","intent":{"title":"Hi","body":"There"}}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var res push.DispatchResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.Equal(t, 1, res.Delivered)
	})

	t.Run("Missing Title Is BadRequest", func(t *testing.T) {
		e, _ := setup(t)
		rec := doJSON(e, http.MethodPost, "/notify", "",
			`{"recipient_id":"user-1","intent":{"body":"no title"}}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("No Active Tokens Is Still OK", func(t *testing.T) {
		e, _ := setup(t)
		rec := doJSON(e, http.MethodPost, "/notify", "",
			`{"recipient_id":"ghost","intent":{"title":"Hi","body":"There"}}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var res push.DispatchResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.True(t, res.NoActiveTokens)
	})

	t.Run("Invalid Token Deactivated Through Dispatch", func(t *testing.T) {
		e, registry := setup(t)
		ctx := context.Background()
		_, err := registry.Upsert(ctx, "user-1", "dead-token", push.PlatformAndroid)
		require.NoError(t, err)
		_, err = registry.Upsert(ctx, "user-1", "live-token", push.PlatformAndroid)
		require.NoError(t, err)

		rec := doJSON(e, http.MethodPost, "/notify", "",
			`{"recipient_id":"user-1","intent":{"title":"Hi","body":"There"}}`)
		require.Equal(t, http.StatusOK, rec.Code)

		tokens, err := registry.ActiveTokens(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"live-token"}, tokens)
	})

	t.Run("Platform Notify", func(t *testing.T) {
		e, registry := setup(t)
		ctx := context.Background()
		_, err := registry.Upsert(ctx, "user-1", "token-web", push.PlatformWeb)
		require.NoError(t, err)
		_, err = registry.Upsert(ctx, "user-1", "token-droid", push.PlatformAndroid)
		require.NoError(t, err)

		rec := doJSON(e, http.MethodPost, "/notify/platform", "",
			`{"recipient_id":"user-1","platform":"web","intent":{"title":"Hi","body":"There"}}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var res push.DispatchResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.Equal(t, 1, res.Attempted)
	})

	t.Run("Data Only Requires Payload", func(t *testing.T) {
		e, _ := setup(t)
		rec := doJSON(e, http.MethodPost, "/notify/data", "",
			`{"recipient_id":"user-1","data":{}}`)
		// validator rejects the empty map before the engine sees it
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("Topic Notify", func(t *testing.T) {
		e, _ := setup(t)
		rec := doJSON(e, http.MethodPost, "/notify/topic", "",
			`{"topic":"news","intent":{"title":"Hi","body":"There"}}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var res push.DispatchResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.Equal(t, 1, res.Delivered)
	})

	t.Run("Broadcast", func(t *testing.T) {
		e, registry := setup(t)
		ctx := context.Background()
		for _, tok := range []string{"t1", "t2", "t3"} {
			_, err := registry.Upsert(ctx, "user-"+tok, tok, push.PlatformAndroid)
			require.NoError(t, err)
		}

		rec := doJSON(e, http.MethodPost, "/notify/broadcast", "",
			`{"intent":{"title":"Hi","body":"Everyone"}}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var res push.DispatchResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.Equal(t, 3, res.TotalTokens)
		assert.Equal(t, 3, res.Delivered)
	})
}

func TestTopicMembershipEndpoints(t *testing.T) {
	e, _ := setup(t)

	t.Run("Subscribe", func(t *testing.T) {
		rec := doJSON(e, http.MethodPost, "/topics/subscribe", "",
			`{"topic":"news","tokens":["t1","t2"]}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Outcomes []push.DeliveryOutcome `json:"outcomes"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Len(t, body.Outcomes, 2)
	})

	t.Run("Empty Token List Rejected", func(t *testing.T) {
		rec := doJSON(e, http.MethodPost, "/topics/unsubscribe", "",
			`{"topic":"news","tokens":[]}`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

// fakeEnqueuer records the envelope it was handed.
type fakeEnqueuer struct {
	env  ingest.Envelope
	fail bool
}

func (f *fakeEnqueuer) EnqueueBroadcast(_ context.Context, env ingest.Envelope) (string, error) {
	if f.fail {
		return "", errors.New("redis down")
	}
	f.env = env
	return "job-42", nil
}

func TestQueuedBroadcast(t *testing.T) {
	setupQueued := func(t *testing.T, enq *fakeEnqueuer) *echo.Echo {
		t.Helper()
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		registry := memory.NewRegistry()
		eng, err := engine.New(registry, &fakeGateway{})
		require.NoError(t, err)

		e := echo.New()
		api.New(eng, registry, logger).WithQueue(enq).RegisterRoutes(e)
		return e
	}

	t.Run("Broadcast Is Enqueued", func(t *testing.T) {
		enq := &fakeEnqueuer{}
		e := setupQueued(t, enq)

		rec := doJSON(e, http.MethodPost, "/notify/broadcast", "",
			`{"intent":{"title":"Hi","body":"Everyone"}}`)
		require.Equal(t, http.StatusAccepted, rec.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "job-42", body["job_id"])
		assert.Equal(t, ingest.KindBroadcast, enq.env.Kind)
		assert.Equal(t, "Hi", enq.env.Intent.Title)
	})

	t.Run("Malformed Intent Rejected Before Enqueue", func(t *testing.T) {
		enq := &fakeEnqueuer{}
		e := setupQueued(t, enq)

		rec := doJSON(e, http.MethodPost, "/notify/broadcast", "",
			`{"intent":{"body":"no title"}}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, enq.env.Kind)
	})

	t.Run("Queue Outage Is Service Unavailable", func(t *testing.T) {
		e := setupQueued(t, &fakeEnqueuer{fail: true})

		rec := doJSON(e, http.MethodPost, "/notify/broadcast", "",
			`{"intent":{"title":"Hi","body":"Everyone"}}`)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
