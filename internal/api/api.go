// Package api exposes the token registry and dispatch engine over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/tinywideclouds/go-push-dispatch/internal/engine"
	"github.com/tinywideclouds/go-push-dispatch/internal/ingest"
	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

// recipientHeader carries the authenticated recipient identity. An upstream
// gateway is expected to strip and re-set it after verifying the caller.
const recipientHeader = "X-Recipient-ID"

// Enqueuer hands dispatches to the background queue instead of running them
// inside the request.
type Enqueuer interface {
	EnqueueBroadcast(ctx context.Context, env ingest.Envelope) (string, error)
}

type API struct {
	engine    *engine.Engine
	registry  push.TokenRegistry
	queue     Enqueuer
	validator *validator.Validate
	logger    *slog.Logger
}

func New(eng *engine.Engine, registry push.TokenRegistry, logger *slog.Logger) *API {
	return &API{
		engine:    eng,
		registry:  registry,
		validator: validator.New(),
		logger:    logger.With("component", "API"),
	}
}

// WithQueue routes broadcasts through q. Without it broadcasts run inline.
func (a *API) WithQueue(q Enqueuer) *API {
	a.queue = q
	return a
}

// RegisterRoutes mounts every handler on e.
func (a *API) RegisterRoutes(e *echo.Echo) {
	e.PUT("/tokens", a.RegisterToken)
	e.DELETE("/tokens", a.RemoveToken)

	e.POST("/notify", a.Notify)
	e.POST("/notify/platform", a.NotifyPlatform)
	e.POST("/notify/data", a.SendDataOnly)
	e.POST("/notify/topic", a.NotifyTopic)
	e.POST("/notify/broadcast", a.Broadcast)

	e.POST("/topics/subscribe", a.SubscribeToTopic)
	e.POST("/topics/unsubscribe", a.UnsubscribeFromTopic)
}

func recipientID(ctx echo.Context) (string, error) {
	id := ctx.Request().Header.Get(recipientHeader)
	if id == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing recipient identity")
	}
	return id, nil
}

// --- Token registration ---

type RegisterTokenRequest struct {
	Token    string `json:"token" validate:"required"`
	Platform string `json:"platform" validate:"required,oneof=android ios web"`
}

func (a *API) RegisterToken(ctx echo.Context) error {
	recipient, err := recipientID(ctx)
	if err != nil {
		return err
	}

	var req RegisterTokenRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	if err := a.validator.Struct(req); err != nil {
		return ctx.JSON(http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	}

	platform, _ := push.ParsePlatform(req.Platform)
	rec, err := a.registry.Upsert(ctx.Request().Context(), recipient, req.Token, platform)
	if err != nil {
		a.logger.Error("failed to register token", "err", err, "recipient", recipient)
		return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": "storage failed"})
	}

	return ctx.JSON(http.StatusOK, rec)
}

type RemoveTokenRequest struct {
	Token string `json:"token" validate:"required"`
}

func (a *API) RemoveToken(ctx echo.Context) error {
	recipient, err := recipientID(ctx)
	if err != nil {
		return err
	}

	var req RemoveTokenRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	if err := a.validator.Struct(req); err != nil {
		return ctx.JSON(http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	}

	err = a.registry.Remove(ctx.Request().Context(), recipient, req.Token)
	if errors.Is(err, push.ErrNotFound) {
		return ctx.JSON(http.StatusNotFound, map[string]string{"error": "token not registered for this recipient"})
	}
	if err != nil {
		a.logger.Error("failed to remove token", "err", err, "recipient", recipient)
		return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": "storage failed"})
	}

	return ctx.NoContent(http.StatusNoContent)
}

// --- Dispatch ---

type NotifyRequest struct {
	RecipientID string      `json:"recipient_id" validate:"required"`
	Intent      push.Intent `json:"intent"`
}

func (a *API) Notify(ctx echo.Context) error {
	var req NotifyRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	if err := a.validator.Struct(req); err != nil {
		return ctx.JSON(http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	}

	res, err := a.engine.NotifyRecipient(ctx.Request().Context(), req.RecipientID, req.Intent)
	return a.dispatchResponse(ctx, res, err)
}

type NotifyPlatformRequest struct {
	RecipientID string      `json:"recipient_id" validate:"required"`
	Platform    string      `json:"platform" validate:"required,oneof=android ios web"`
	Intent      push.Intent `json:"intent"`
}

func (a *API) NotifyPlatform(ctx echo.Context) error {
	var req NotifyPlatformRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	if err := a.validator.Struct(req); err != nil {
		return ctx.JSON(http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	}

	platform, _ := push.ParsePlatform(req.Platform)
	res, err := a.engine.NotifyPlatform(ctx.Request().Context(), req.RecipientID, platform, req.Intent)
	return a.dispatchResponse(ctx, res, err)
}

type SendDataOnlyRequest struct {
	RecipientID string            `json:"recipient_id" validate:"required"`
	Data        map[string]string `json:"data" validate:"required"`
}

func (a *API) SendDataOnly(ctx echo.Context) error {
	var req SendDataOnlyRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	if err := a.validator.Struct(req); err != nil {
		return ctx.JSON(http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	}

	res, err := a.engine.SendDataOnly(ctx.Request().Context(), req.RecipientID, req.Data)
	return a.dispatchResponse(ctx, res, err)
}

type NotifyTopicRequest struct {
	Topic  string      `json:"topic" validate:"required"`
	Intent push.Intent `json:"intent"`
}

func (a *API) NotifyTopic(ctx echo.Context) error {
	var req NotifyTopicRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	if err := a.validator.Struct(req); err != nil {
		return ctx.JSON(http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	}

	res, err := a.engine.NotifyTopic(ctx.Request().Context(), req.Topic, req.Intent)
	return a.dispatchResponse(ctx, res, err)
}

type BroadcastRequest struct {
	Intent push.Intent `json:"intent"`
}

func (a *API) Broadcast(ctx echo.Context) error {
	var req BroadcastRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	if a.queue != nil {
		// Reject malformed intents before they reach the queue, where the
		// failure would only surface in worker logs.
		if _, err := push.BuildMessage(req.Intent, push.VariantGeneric); err != nil {
			return ctx.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		jobID, err := a.queue.EnqueueBroadcast(ctx.Request().Context(), ingest.Envelope{
			Kind:   ingest.KindBroadcast,
			Intent: req.Intent,
		})
		if err != nil {
			a.logger.Error("broadcast enqueue failed", "err", err)
			return ctx.JSON(http.StatusServiceUnavailable, map[string]string{"error": "queue unavailable"})
		}
		return ctx.JSON(http.StatusAccepted, map[string]string{"job_id": jobID})
	}

	res, err := a.engine.Broadcast(ctx.Request().Context(), req.Intent)
	return a.dispatchResponse(ctx, res, err)
}

// --- Topic membership ---

type TopicMembershipRequest struct {
	Topic  string   `json:"topic" validate:"required"`
	Tokens []string `json:"tokens" validate:"required,min=1"`
}

func (a *API) SubscribeToTopic(ctx echo.Context) error {
	return a.topicMembership(ctx, a.engine.SubscribeToTopic)
}

func (a *API) UnsubscribeFromTopic(ctx echo.Context) error {
	return a.topicMembership(ctx, a.engine.UnsubscribeFromTopic)
}

func (a *API) topicMembership(ctx echo.Context, op func(ctx context.Context, tokens []string, topic string) ([]push.DeliveryOutcome, error)) error {
	var req TopicMembershipRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	if err := a.validator.Struct(req); err != nil {
		return ctx.JSON(http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	}

	outcomes, err := op(ctx.Request().Context(), req.Tokens, req.Topic)
	if err != nil {
		return a.gatewayError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, map[string]any{"outcomes": outcomes})
}

// --- Responses ---

func (a *API) dispatchResponse(ctx echo.Context, res *push.DispatchResult, err error) error {
	if err != nil {
		if errors.Is(err, push.ErrInvalidIntent) {
			return ctx.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		return a.gatewayError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, res)
}

func (a *API) gatewayError(ctx echo.Context, err error) error {
	if errors.Is(err, push.ErrTopicsUnsupported) {
		return ctx.JSON(http.StatusNotImplemented, map[string]string{"error": err.Error()})
	}
	var te *push.TransportError
	if errors.As(err, &te) {
		a.logger.Error("gateway transport failure", "err", err)
		return ctx.JSON(http.StatusBadGateway, map[string]string{"error": "upstream delivery service unavailable"})
	}
	a.logger.Error("dispatch failed", "err", err)
	return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": "dispatch failed"})
}
