package fcm_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-dispatch/internal/gateway/fcm"
	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

// MockClient satisfies the MessagingClient interface.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Send(ctx context.Context, msg *messaging.Message) (string, error) {
	args := m.Called(ctx, msg)
	return args.String(0), args.Error(1)
}

func (m *MockClient) SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*messaging.BatchResponse), args.Error(1)
}

func (m *MockClient) SubscribeToTopic(ctx context.Context, tokens []string, topic string) (*messaging.TopicManagementResponse, error) {
	args := m.Called(ctx, tokens, topic)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*messaging.TopicManagementResponse), args.Error(1)
}

func (m *MockClient) UnsubscribeFromTopic(ctx context.Context, tokens []string, topic string) (*messaging.TopicManagementResponse, error) {
	args := m.Called(ctx, tokens, topic)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*messaging.TopicManagementResponse), args.Error(1)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func genericMsg() *push.Message {
	msg, _ := push.BuildMessage(push.Intent{Title: "Test", Body: "Body", Data: map[string]string{"id": "1"}}, push.VariantGeneric)
	return msg
}

func TestSendToTokens(t *testing.T) {
	ctx := context.Background()

	t.Run("Happy path - all delivered", func(t *testing.T) {
		mockClient := new(MockClient)
		gw := fcm.New(mockClient, newTestLogger())
		tokens := []string{"token-1", "token-2"}

		mockClient.On("SendEachForMulticast", ctx, mock.Anything).Return(&messaging.BatchResponse{
			SuccessCount: 2,
			Responses: []*messaging.SendResponse{
				{Success: true, MessageID: "msg-1"},
				{Success: true, MessageID: "msg-2"},
			},
		}, nil)

		outcomes, err := gw.SendToTokens(ctx, genericMsg(), tokens)
		require.NoError(t, err)

		require.Len(t, outcomes, 2)
		assert.Equal(t, push.StatusDelivered, outcomes[0].Status)
		assert.Equal(t, "token-1", outcomes[0].Token)
		mockClient.AssertExpectations(t)
	})

	t.Run("Transport failure wraps TransportError", func(t *testing.T) {
		mockClient := new(MockClient)
		gw := fcm.New(mockClient, newTestLogger())

		mockClient.On("SendEachForMulticast", ctx, mock.Anything).Return(nil, errors.New("network down"))

		_, err := gw.SendToTokens(ctx, genericMsg(), []string{"token-1"})
		require.Error(t, err)

		var te *push.TransportError
		assert.ErrorAs(t, err, &te)
	})

	t.Run("Batch limit enforced", func(t *testing.T) {
		mockClient := new(MockClient)
		gw := fcm.New(mockClient, newTestLogger())

		tokens := make([]string, push.BatchLimit+1)
		_, err := gw.SendToTokens(ctx, genericMsg(), tokens)
		require.Error(t, err)
		mockClient.AssertNotCalled(t, "SendEachForMulticast", mock.Anything, mock.Anything)
	})

	t.Run("Failure statuses map per token", func(t *testing.T) {
		mockClient := new(MockClient)
		gw := fcm.New(mockClient, newTestLogger())
		tokens := []string{"ok", "flaky"}

		// A plain error is not one of the SDK's invalid-token error types, so
		// it must classify as a transient failure. The invalid-token mapping
		// itself is exercised in integration tests: fabricating the SDK's
		// internal error values here would be brittle.
		mockClient.On("SendEachForMulticast", ctx, mock.Anything).Return(&messaging.BatchResponse{
			SuccessCount: 1,
			FailureCount: 1,
			Responses: []*messaging.SendResponse{
				{Success: true},
				{Success: false, Error: errors.New("backend unavailable")},
			},
		}, nil)

		outcomes, err := gw.SendToTokens(ctx, genericMsg(), tokens)
		require.NoError(t, err)
		assert.Equal(t, push.StatusDelivered, outcomes[0].Status)
		assert.Equal(t, push.StatusTransientFailure, outcomes[1].Status)
		assert.Equal(t, "flaky", outcomes[1].Token)
	})

	t.Run("Empty batch is a no-op", func(t *testing.T) {
		mockClient := new(MockClient)
		gw := fcm.New(mockClient, newTestLogger())

		outcomes, err := gw.SendToTokens(ctx, genericMsg(), nil)
		require.NoError(t, err)
		assert.Empty(t, outcomes)
		mockClient.AssertNotCalled(t, "SendEachForMulticast", mock.Anything, mock.Anything)
	})
}

func TestPayloadShaping(t *testing.T) {
	ctx := context.Background()

	capture := func(t *testing.T, msg *push.Message) *messaging.MulticastMessage {
		t.Helper()
		mockClient := new(MockClient)
		gw := fcm.New(mockClient, newTestLogger())

		var captured *messaging.MulticastMessage
		mockClient.On("SendEachForMulticast", ctx, mock.Anything).Run(func(args mock.Arguments) {
			captured = args.Get(1).(*messaging.MulticastMessage)
		}).Return(&messaging.BatchResponse{
			SuccessCount: 1,
			Responses:    []*messaging.SendResponse{{Success: true}},
		}, nil)

		_, err := gw.SendToTokens(ctx, msg, []string{"tok"})
		require.NoError(t, err)
		require.NotNil(t, captured)
		return captured
	}

	t.Run("Data-only carries no notification block", func(t *testing.T) {
		msg, err := push.BuildMessage(push.Intent{Data: map[string]string{"k": "v"}}, push.VariantData)
		require.NoError(t, err)

		mm := capture(t, msg)
		assert.Nil(t, mm.Notification)
		assert.Equal(t, map[string]string{"k": "v"}, mm.Data)
	})

	t.Run("Android variant sets priority and sound", func(t *testing.T) {
		msg, err := push.BuildMessage(push.Intent{Title: "T", Body: "B"}, push.VariantAndroid)
		require.NoError(t, err)

		mm := capture(t, msg)
		require.NotNil(t, mm.Android)
		assert.Equal(t, "high", mm.Android.Priority)
		assert.Equal(t, "default", mm.Android.Notification.Sound)
	})

	t.Run("Web variant sets icon and link", func(t *testing.T) {
		msg, err := push.BuildMessage(push.Intent{Title: "T", Body: "B"}, push.VariantWeb)
		require.NoError(t, err)

		mm := capture(t, msg)
		require.NotNil(t, mm.Webpush)
		assert.Equal(t, push.DefaultWebIcon, mm.Webpush.Notification.Icon)
		assert.Equal(t, push.DefaultWebLink, mm.Webpush.FCMOptions.Link)
	})

	t.Run("Generic variant carries no platform config", func(t *testing.T) {
		mm := capture(t, genericMsg())
		assert.Nil(t, mm.Android)
		assert.Nil(t, mm.Webpush)
		require.NotNil(t, mm.Notification)
		assert.Equal(t, "Test", mm.Notification.Title)
	})
}

func TestTopics(t *testing.T) {
	ctx := context.Background()

	t.Run("Topic send", func(t *testing.T) {
		mockClient := new(MockClient)
		gw := fcm.New(mockClient, newTestLogger())

		mockClient.On("Send", ctx, mock.MatchedBy(func(m *messaging.Message) bool {
			return m.Topic == "news" && m.Token == ""
		})).Return("projects/x/messages/1", nil)

		require.NoError(t, gw.SendToTopic(ctx, genericMsg(), "news"))
	})

	t.Run("Subscribe maps per-token errors", func(t *testing.T) {
		mockClient := new(MockClient)
		gw := fcm.New(mockClient, newTestLogger())
		tokens := []string{"a", "b", "c"}

		mockClient.On("SubscribeToTopic", ctx, tokens, "news").Return(&messaging.TopicManagementResponse{
			SuccessCount: 2,
			FailureCount: 1,
			Errors:       []*messaging.ErrorInfo{{Index: 1, Reason: "NOT_FOUND"}},
		}, nil)

		outcomes, err := gw.SubscribeToTopic(ctx, tokens, "news")
		require.NoError(t, err)

		assert.Equal(t, push.StatusDelivered, outcomes[0].Status)
		assert.Equal(t, push.StatusInvalidToken, outcomes[1].Status)
		assert.Equal(t, push.StatusDelivered, outcomes[2].Status)
	})
}
