package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sofia-platform/billing/internal/domain/entity"
	domainErrors "github.com/sofia-platform/billing/internal/domain/errors"
	"github.com/sofia-platform/billing/internal/domain/repository"
)

const (
	subscriptionsTable  = "subscriptions"
	subscriptionColumns = "id,user_id,user_email,status,metadata,canceled_at,created_at,updated_at"
)

type subscriptionRow struct {
	ID         uuid.UUID       `json:"id"`
	UserID     uuid.UUID       `json:"user_id"`
	UserEmail  *string         `json:"user_email"`
	Status     string          `json:"status"`
	Metadata   json.RawMessage `json:"metadata"`
	CanceledAt *time.Time      `json:"canceled_at"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func (r subscriptionRow) toEntity() (*entity.Subscription, error) {
	meta, err := entity.DecodeMetadata(r.Metadata)
	if err != nil {
		return nil, fmt.Errorf("invalid metadata on subscription %s: %w", r.ID, err)
	}
	sub := &entity.Subscription{
		ID:         r.ID,
		UserID:     r.UserID,
		Status:     entity.SubscriptionStatus(r.Status),
		Metadata:   meta,
		CanceledAt: r.CanceledAt,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if r.UserEmail != nil {
		sub.UserEmail = *r.UserEmail
	}
	return sub, nil
}

// SubscriptionStore implements SubscriptionRepository over PostgREST
type SubscriptionStore struct {
	client *Client
	now    func() time.Time
}

// NewSubscriptionStore creates a new subscription store
func NewSubscriptionStore(client *Client) *SubscriptionStore {
	return &SubscriptionStore{client: client, now: time.Now}
}

// GetByID retrieves a subscription by ID
func (s *SubscriptionStore) GetByID(ctx context.Context, id uuid.UUID) (*entity.Subscription, error) {
	params := url.Values{}
	params.Set("select", subscriptionColumns)
	params.Set("id", "eq."+id.String())
	params.Set("limit", "1")

	var rows []subscriptionRow
	if err := s.client.get(ctx, subscriptionsTable, params, &rows); err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	if len(rows) == 0 {
		return nil, &domainErrors.NotFoundError{Entity: "subscription", ID: id.String(), Err: domainErrors.ErrSubscriptionNotFound}
	}
	return rows[0].toEntity()
}

// ListByStatuses retrieves the oldest subscriptions whose status is in statuses
func (s *SubscriptionStore) ListByStatuses(ctx context.Context, statuses []entity.SubscriptionStatus, limit int) ([]*entity.Subscription, error) {
	raw := make([]string, len(statuses))
	for i, st := range statuses {
		raw[i] = string(st)
	}

	params := url.Values{}
	params.Set("select", subscriptionColumns)
	params.Set("status", "in.("+strings.Join(raw, ",")+")")
	params.Set("order", "created_at.asc")
	params.Set("limit", strconv.Itoa(limit))

	var rows []subscriptionRow
	if err := s.client.get(ctx, subscriptionsTable, params, &rows); err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	results := make([]*entity.Subscription, 0, len(rows))
	for _, row := range rows {
		sub, err := row.toEntity()
		if err != nil {
			return nil, err
		}
		results = append(results, sub)
	}
	return results, nil
}

// Update reads the current metadata, merges the patch into it and writes the whole map back.
// The PATCH is filtered on the guarded retry_count so a concurrent writer is detected.
func (s *SubscriptionStore) Update(ctx context.Context, update repository.SubscriptionUpdate) error {
	current, err := s.GetByID(ctx, update.ID)
	if err != nil {
		return err
	}

	filter := url.Values{}
	filter.Set("id", "eq."+update.ID.String())
	if update.Guard != nil {
		if !sameGuard(current.Metadata.RetryCountGuard(), *update.Guard) {
			return concurrentUpdate()
		}
		filter.Set("metadata->>retry_count", guardFilter(*update.Guard))
	}

	payload := map[string]any{
		"metadata":   current.Metadata.Merge(update.MetadataPatch),
		"updated_at": entity.FormatTimestamp(s.now()),
	}
	if update.Status != nil {
		payload["status"] = string(*update.Status)
	}
	if update.CanceledAt != nil {
		payload["canceled_at"] = entity.FormatTimestamp(*update.CanceledAt)
	}

	var rows []subscriptionRow
	if err := s.client.patch(ctx, subscriptionsTable, filter, payload, &rows); err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if len(rows) == 0 {
		return concurrentUpdate()
	}
	return nil
}

func concurrentUpdate() error {
	return &domainErrors.ConflictError{Entity: "subscription", Reason: "retry_count changed since it was read", Err: domainErrors.ErrConcurrentUpdate}
}

func sameGuard(a, b entity.RetryCountGuard) bool {
	at, aok := a.Text()
	bt, bok := b.Text()
	return aok == bok && at == bt
}

func guardFilter(g entity.RetryCountGuard) string {
	if text, ok := g.Text(); ok {
		return "eq." + text
	}
	return "is.null"
}
