package supabase_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sofia-platform/billing/internal/domain/entity"
	domainErrors "github.com/sofia-platform/billing/internal/domain/errors"
	"github.com/sofia-platform/billing/internal/domain/repository"
	"github.com/sofia-platform/billing/internal/infrastructure/persistence/supabase"
)

const serviceKey = "service-role-secret"

func newClient(t *testing.T, handler http.HandlerFunc) *supabase.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return supabase.NewClient(supabase.Config{BaseURL: srv.URL, ServiceRoleKey: serviceKey, Timeout: 2 * time.Second}, nil)
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestSubscriptionStore_ListByStatuses(t *testing.T) {
	subID := uuid.New()
	userID := uuid.New()

	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/rest/v1/subscriptions", r.URL.Path)
		assert.Equal(t, serviceKey, r.Header.Get("apikey"))
		assert.Equal(t, "Bearer "+serviceKey, r.Header.Get("Authorization"))

		q := r.URL.Query()
		assert.Equal(t, "in.(past_due,unpaid)", q.Get("status"))
		assert.Equal(t, "500", q.Get("limit"))

		writeJSON(t, w, []map[string]any{{
			"id":         subID,
			"user_id":    userID,
			"user_email": "cliente@example.com",
			"status":     "past_due",
			"metadata":   map[string]any{"retry_count": 1, "next_retry_at": "2026-04-16T09:00:00.000Z", "origin": "pagarme"},
			"created_at": "2026-01-01T00:00:00+00:00",
			"updated_at": "2026-04-15T09:00:00.123456+00:00",
		}})
	})

	subs, err := supabase.NewSubscriptionStore(client).ListByStatuses(context.Background(), entity.DunningStatuses, 500)
	require.NoError(t, err)
	require.Len(t, subs, 1)

	sub := subs[0]
	assert.Equal(t, subID, sub.ID)
	assert.Equal(t, "cliente@example.com", sub.UserEmail)
	assert.Equal(t, entity.StatusPastDue, sub.Status)
	assert.Equal(t, 1, sub.Metadata.RetryCount())
	require.NotNil(t, sub.Metadata.NextRetryAt())
	assert.Equal(t, "pagarme", sub.Metadata["origin"])
}

func TestSubscriptionStore_GetByIDNotFound(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []any{})
	})

	_, err := supabase.NewSubscriptionStore(client).GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domainErrors.ErrSubscriptionNotFound)
}

func TestSubscriptionStore_Update(t *testing.T) {
	subID := uuid.New()
	row := map[string]any{
		"id":         subID,
		"user_id":    uuid.New(),
		"user_email": "cliente@example.com",
		"status":     "unpaid",
		"metadata":   map[string]any{"retry_count": 2, "plan": "mensal"},
		"created_at": "2026-01-01T00:00:00Z",
		"updated_at": "2026-01-01T00:00:00Z",
	}

	t.Run("merges metadata and sends guard filter", func(t *testing.T) {
		var patched map[string]any
		client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				writeJSON(t, w, []any{row})
			case http.MethodPatch:
				assert.Equal(t, "eq."+subID.String(), r.URL.Query().Get("id"))
				assert.Equal(t, "eq.2", r.URL.Query().Get("metadata->>retry_count"))
				assert.Equal(t, "return=representation", r.Header.Get("Prefer"))
				body, err := io.ReadAll(r.Body)
				require.NoError(t, err)
				require.NoError(t, json.Unmarshal(body, &patched))
				writeJSON(t, w, []any{row})
			}
		})

		sub, err := supabase.NewSubscriptionStore(client).GetByID(context.Background(), subID)
		require.NoError(t, err)

		canceledAt := time.Date(2026, 4, 15, 9, 0, 0, 0, time.UTC)
		status := entity.StatusCanceled
		guard := sub.Metadata.RetryCountGuard()
		err = supabase.NewSubscriptionStore(client).Update(context.Background(), repository.SubscriptionUpdate{
			ID:            subID,
			Status:        &status,
			CanceledAt:    &canceledAt,
			MetadataPatch: entity.DunningPatch(entity.DunningState{RetryCount: 3}),
			Guard:         &guard,
		})
		require.NoError(t, err)

		assert.Equal(t, "canceled", patched["status"])
		assert.Equal(t, "2026-04-15T09:00:00.000Z", patched["canceled_at"])
		meta := patched["metadata"].(map[string]any)
		assert.EqualValues(t, 3, meta["retry_count"])
		assert.Nil(t, meta["next_retry_at"])
		assert.Equal(t, "mensal", meta["plan"])
	})

	t.Run("stale guard is detected before writing", func(t *testing.T) {
		var patches int32
		client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPatch {
				atomic.AddInt32(&patches, 1)
			}
			writeJSON(t, w, []any{row})
		})

		stale := entity.Metadata{"retry_count": 1}.RetryCountGuard()
		err := supabase.NewSubscriptionStore(client).Update(context.Background(), repository.SubscriptionUpdate{
			ID:            subID,
			MetadataPatch: entity.DunningPatch(entity.DunningState{RetryCount: 2}),
			Guard:         &stale,
		})
		assert.ErrorIs(t, err, domainErrors.ErrConcurrentUpdate)
		assert.Zero(t, atomic.LoadInt32(&patches))
	})

	t.Run("empty representation is a conflict", func(t *testing.T) {
		client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPatch {
				writeJSON(t, w, []any{})
				return
			}
			writeJSON(t, w, []any{row})
		})

		guard := entity.Metadata{"retry_count": json.Number("2")}.RetryCountGuard()
		err := supabase.NewSubscriptionStore(client).Update(context.Background(), repository.SubscriptionUpdate{
			ID:            subID,
			MetadataPatch: entity.DunningPatch(entity.DunningState{RetryCount: 3}),
			Guard:         &guard,
		})
		assert.ErrorIs(t, err, domainErrors.ErrConcurrentUpdate)
	})

	t.Run("absent retry_count guards with is.null", func(t *testing.T) {
		fresh := map[string]any{
			"id": subID, "user_id": uuid.New(), "status": "past_due", "metadata": nil,
			"created_at": "2026-01-01T00:00:00Z", "updated_at": "2026-01-01T00:00:00Z",
		}
		client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPatch {
				assert.Equal(t, "is.null", r.URL.Query().Get("metadata->>retry_count"))
			}
			writeJSON(t, w, []any{fresh})
		})

		guard := entity.Metadata{}.RetryCountGuard()
		err := supabase.NewSubscriptionStore(client).Update(context.Background(), repository.SubscriptionUpdate{
			ID:            subID,
			MetadataPatch: entity.DunningPatch(entity.DunningState{RetryCount: 1}),
			Guard:         &guard,
		})
		require.NoError(t, err)
	})
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(t, w, []any{})
	})

	subs, err := supabase.NewSubscriptionStore(client).ListByStatuses(context.Background(), entity.DunningStatuses, 10)
	require.NoError(t, err)
	assert.Empty(t, subs)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Invalid API key"}`))
	})

	_, err := supabase.NewSubscriptionStore(client).ListByStatuses(context.Background(), entity.DunningStatuses, 10)
	require.Error(t, err)

	var apiErr *supabase.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.NotErrorIs(t, err, domainErrors.ErrExternalServiceUnavailable)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestTransactionStore(t *testing.T) {
	userID := uuid.New()
	txnID := uuid.New()

	t.Run("latest transaction and metadata merge", func(t *testing.T) {
		var patched map[string]any
		client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/rest/v1/transactions", r.URL.Path)
			switch r.Method {
			case http.MethodGet:
				q := r.URL.Query()
				if q.Get("user_id") != "" {
					assert.Equal(t, "eq."+userID.String(), q.Get("user_id"))
					assert.Equal(t, "created_at.desc", q.Get("order"))
					assert.Equal(t, "1", q.Get("limit"))
				}
				writeJSON(t, w, []map[string]any{{
					"id": txnID, "user_id": userID, "amount_cents": 4990, "currency": "BRL",
					"status": "failed", "gateway_id": "tran_abc", "metadata": map[string]any{"attempt": "card"},
					"created_at": "2026-04-01T00:00:00Z",
				}})
			case http.MethodPatch:
				assert.Equal(t, "eq."+txnID.String(), r.URL.Query().Get("id"))
				require.NoError(t, json.NewDecoder(r.Body).Decode(&patched))
				writeJSON(t, w, []any{})
			}
		})
		store := supabase.NewTransactionStore(client)

		txn, err := store.GetLatestByUserID(context.Background(), userID)
		require.NoError(t, err)
		require.NotNil(t, txn)
		assert.Equal(t, txnID, txn.ID)
		assert.True(t, txn.IsFailed())
		assert.Equal(t, "tran_abc", txn.GatewayID)

		next := time.Date(2026, 4, 17, 9, 0, 0, 0, time.UTC)
		require.NoError(t, store.MergeMetadata(context.Background(), txnID, entity.DunningPatch(entity.DunningState{RetryCount: 2, NextRetryAt: &next})))

		meta := patched["metadata"].(map[string]any)
		assert.Equal(t, "card", meta["attempt"])
		assert.EqualValues(t, 2, meta["retry_count"])
		assert.Equal(t, "2026-04-17T09:00:00.000Z", meta["next_retry_at"])
	})

	t.Run("no transactions", func(t *testing.T) {
		client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, []any{})
		})
		txn, err := supabase.NewTransactionStore(client).GetLatestByUserID(context.Background(), userID)
		require.NoError(t, err)
		assert.Nil(t, txn)
	})
}
