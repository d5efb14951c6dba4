package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sofia-platform/billing/internal/application/command"
	"github.com/sofia-platform/billing/internal/application/dto"
	"github.com/sofia-platform/billing/internal/application/middleware"
	"github.com/sofia-platform/billing/internal/application/query"
	"github.com/sofia-platform/billing/internal/domain/entity"
	domainErrors "github.com/sofia-platform/billing/internal/domain/errors"
	"github.com/sofia-platform/billing/internal/domain/repository"
	"github.com/sofia-platform/billing/internal/domain/service"
	"github.com/sofia-platform/billing/internal/infrastructure/cache"
	"github.com/sofia-platform/billing/internal/interfaces/http/handlers"
	"github.com/sofia-platform/billing/internal/mocks"
)

const adminToken = "cron-secret"

type handlerFixture struct {
	subscriptionRepo *mocks.MockSubscriptionRepository
	transactionRepo  *mocks.MockTransactionRepository
	notifier         *mocks.MockNotifier
	lease            *cache.LocalLease
	router           *gin.Engine
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &handlerFixture{
		subscriptionRepo: mocks.NewMockSubscriptionRepository(),
		transactionRepo:  mocks.NewMockTransactionRepository(),
		notifier:         mocks.NewMockNotifier(),
		lease:            cache.NewLocalLease(),
	}

	cfg := service.DefaultDunningConfig()
	svc := service.NewDunningService(f.subscriptionRepo, f.transactionRepo, f.notifier, cfg, zap.NewNop(), service.WithLease(f.lease))
	f.router = newRouter(
		command.NewRunDunningPassCommand(svc),
		command.NewProcessDunningSubscriptionCommand(svc),
		query.NewListDunningSubscriptionsQuery(f.subscriptionRepo, cfg),
	)
	return f
}

func newRouter(run *command.RunDunningPassCommand, process *command.ProcessDunningSubscriptionCommand, list *query.ListDunningSubscriptionsQuery) *gin.Engine {
	router := gin.New()
	handlers.NewDunningHandler(run, process, list).RegisterRoutes(router, middleware.DunningAdminAuth(adminToken, nil))
	return router
}

func doRequest(router *gin.Engine, method, path string, authorized bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if authorized {
		req.Header.Set("Authorization", "Bearer "+adminToken)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func subscriptionWith(meta entity.Metadata) *entity.Subscription {
	sub := entity.NewSubscription(uuid.New(), "cliente@example.com")
	sub.Status = entity.StatusPastDue
	sub.Metadata = meta
	return sub
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error
}

func TestDunningHandler_Status(t *testing.T) {
	router := newRouter(command.NewRunDunningPassCommand(nil), command.NewProcessDunningSubscriptionCommand(nil), query.NewListDunningSubscriptionsQuery(nil, service.DefaultDunningConfig()))

	w := doRequest(router, http.MethodGet, "/dunning/status", false)
	require.Equal(t, http.StatusOK, w.Code)

	var body dto.DunningStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "dunning", body.Task)
	_, err := time.Parse(time.RFC3339, body.Timestamp)
	assert.NoError(t, err)
}

func TestDunningHandler_Run(t *testing.T) {
	t.Run("mixed batch", func(t *testing.T) {
		f := newHandlerFixture(t)
		tomorrow := time.Now().Add(24 * time.Hour)

		fresh := subscriptionWith(entity.Metadata{})
		final := subscriptionWith(entity.Metadata{"retry_count": 2})
		waiting := subscriptionWith(entity.DunningPatch(entity.DunningState{RetryCount: 1, NextRetryAt: &tomorrow}))

		f.subscriptionRepo.On("ListByStatuses", mock.Anything, entity.DunningStatuses, 500).
			Return([]*entity.Subscription{fresh, final, waiting}, nil).Once()
		f.subscriptionRepo.On("Update", mock.Anything, mock.MatchedBy(func(u repository.SubscriptionUpdate) bool {
			return u.ID == fresh.ID && u.Status == nil
		})).Return(nil).Once()
		f.subscriptionRepo.On("Update", mock.Anything, mock.MatchedBy(func(u repository.SubscriptionUpdate) bool {
			return u.ID == final.ID && u.Status != nil && *u.Status == entity.StatusCanceled
		})).Return(nil).Once()
		f.transactionRepo.On("GetLatestByUserID", mock.Anything, mock.Anything).Return(nil, nil)
		f.notifier.On("SendDunningNotice", mock.Anything, mock.Anything).Return(errors.New("smtp down"))

		w := doRequest(f.router, http.MethodPost, "/dunning/run", true)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var body dto.RunDunningResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.True(t, body.Success)
		assert.Equal(t, 3, body.Reviewed)
		assert.Equal(t, 2, body.Attempted)
		assert.Equal(t, 1, body.Canceled)
		assert.Equal(t, 1, body.Skipped)
		assert.NotEmpty(t, body.Timestamp)
		f.subscriptionRepo.AssertExpectations(t)
	})

	t.Run("empty batch is a success", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.subscriptionRepo.On("ListByStatuses", mock.Anything, mock.Anything, mock.Anything).Return([]*entity.Subscription{}, nil).Once()

		w := doRequest(f.router, http.MethodPost, "/dunning/run", true)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `0`, jsonField(t, w, "reviewed"))
	})

	t.Run("requires credentials", func(t *testing.T) {
		f := newHandlerFixture(t)
		w := doRequest(f.router, http.MethodPost, "/dunning/run", false)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		f.subscriptionRepo.AssertNotCalled(t, "ListByStatuses", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("store not configured", func(t *testing.T) {
		router := newRouter(command.NewRunDunningPassCommand(nil), command.NewProcessDunningSubscriptionCommand(nil), query.NewListDunningSubscriptionsQuery(nil, service.DefaultDunningConfig()))
		w := doRequest(router, http.MethodPost, "/dunning/run", true)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "STORE_NOT_CONFIGURED", errorCode(t, w))
	})

	t.Run("store unavailable", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.subscriptionRepo.On("ListByStatuses", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, domainErrors.ErrExternalServiceUnavailable).Once()

		w := doRequest(f.router, http.MethodPost, "/dunning/run", true)
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.Equal(t, "STORE_UNAVAILABLE", errorCode(t, w))
	})

	t.Run("pass already running", func(t *testing.T) {
		f := newHandlerFixture(t)
		release, acquired, err := f.lease.TryAcquire(context.Background(), service.DunningLeaseKey, time.Minute)
		require.NoError(t, err)
		require.True(t, acquired)
		defer release()

		w := doRequest(f.router, http.MethodPost, "/dunning/run", true)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "DUNNING_IN_PROGRESS", errorCode(t, w))
	})
}

func TestDunningHandler_ListSubscriptions(t *testing.T) {
	f := newHandlerFixture(t)
	f.subscriptionRepo.On("ListByStatuses", mock.Anything, mock.Anything, 25).
		Return([]*entity.Subscription{subscriptionWith(entity.Metadata{})}, nil).Once()

	w := doRequest(f.router, http.MethodGet, "/dunning/subscriptions?limit=25", true)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data dto.DunningPreviewResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Data.Reviewed)
	assert.Equal(t, 1, body.Data.Due)

	w = doRequest(f.router, http.MethodGet, "/dunning/subscriptions?limit=abc", true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDunningHandler_ProcessSubscription(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		f := newHandlerFixture(t)
		sub := subscriptionWith(entity.Metadata{"retry_count": 1})
		f.subscriptionRepo.On("GetByID", mock.Anything, sub.ID).Return(sub, nil).Once()
		f.subscriptionRepo.On("Update", mock.Anything, mock.Anything).Return(nil).Once()
		f.transactionRepo.On("GetLatestByUserID", mock.Anything, sub.UserID).Return(nil, nil).Once()
		f.notifier.On("SendDunningNotice", mock.Anything, mock.Anything).Return(nil).Once()

		w := doRequest(f.router, http.MethodPost, "/dunning/subscriptions/"+sub.ID.String()+"/process", true)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var body struct {
			Data dto.ProcessDunningResponse `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, 2, body.Data.RetryCount)
		assert.False(t, body.Data.Canceled)
		assert.NotNil(t, body.Data.NextRetryAt)
		assert.Nil(t, body.Data.CanceledAt)
	})

	t.Run("invalid id", func(t *testing.T) {
		f := newHandlerFixture(t)
		w := doRequest(f.router, http.MethodPost, "/dunning/subscriptions/not-a-uuid/process", true)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("not found", func(t *testing.T) {
		f := newHandlerFixture(t)
		id := uuid.New()
		f.subscriptionRepo.On("GetByID", mock.Anything, id).
			Return(nil, &domainErrors.NotFoundError{Entity: "subscription", ID: id.String(), Err: domainErrors.ErrSubscriptionNotFound}).Once()

		w := doRequest(f.router, http.MethodPost, "/dunning/subscriptions/"+id.String()+"/process", true)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("exhausted", func(t *testing.T) {
		f := newHandlerFixture(t)
		sub := subscriptionWith(entity.Metadata{"retry_count": 3})
		f.subscriptionRepo.On("GetByID", mock.Anything, sub.ID).Return(sub, nil).Once()

		w := doRequest(f.router, http.MethodPost, "/dunning/subscriptions/"+sub.ID.String()+"/process", true)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "NOT_ELIGIBLE", errorCode(t, w))
	})

	t.Run("concurrent update", func(t *testing.T) {
		f := newHandlerFixture(t)
		sub := subscriptionWith(entity.Metadata{"retry_count": 1})
		f.subscriptionRepo.On("GetByID", mock.Anything, sub.ID).Return(sub, nil).Once()
		f.subscriptionRepo.On("Update", mock.Anything, mock.Anything).
			Return(&domainErrors.ConflictError{Entity: "subscription", Reason: "retry_count changed", Err: domainErrors.ErrConcurrentUpdate}).Once()

		w := doRequest(f.router, http.MethodPost, "/dunning/subscriptions/"+sub.ID.String()+"/process", true)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "CONCURRENT_UPDATE", errorCode(t, w))
		f.notifier.AssertNotCalled(t, "SendDunningNotice", mock.Anything, mock.Anything)
	})
}

func jsonField(t *testing.T, w *httptest.ResponseRecorder, key string) string {
	t.Helper()
	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return string(body[key])
}
