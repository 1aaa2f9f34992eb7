// Package services – ListService
//
// This file implements the ListService, which orchestrates one storage call
// per CRUD intent on the todo list and classifies the outcome (see errors.go).
// Text is normalized and validated before any storage call so blank items
// never reach the database.
//
// Observability: every public method opens an OpenTelemetry span, counts its
// classified outcome in Prometheus and logs successful mutations through the
// request-scoped zerolog logger carried by ctx.
package services

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-todo-backend/internal/domain"
	"github.com/tbourn/go-todo-backend/internal/repo"
)

// ItemRepo defines the storage gateway required by ListService.
// Implementations report a missing live row with repo.ErrNotFound.
type ItemRepo interface {
	// CreateItem inserts a new item and returns it with its assigned id.
	CreateItem(ctx context.Context, db *gorm.DB, text string) (*domain.Item, error)

	// GetItem fetches a live item by id.
	GetItem(ctx context.Context, db *gorm.DB, id int64) (*domain.Item, error)

	// ListItems returns all live items in storage order.
	ListItems(ctx context.Context, db *gorm.DB) ([]domain.Item, error)

	// UpdateItemText replaces the text of an existing live item.
	UpdateItemText(ctx context.Context, db *gorm.DB, id int64, text string) (*domain.Item, error)

	// DeleteItem removes a live item by id.
	DeleteItem(ctx context.Context, db *gorm.DB, id int64) error

	// ItemsStats returns the live item count and latest update time.
	ItemsStats(ctx context.Context, db *gorm.DB) (int64, *time.Time, error)
}

// IdempotencyRepo persists Idempotency-Key records for AddItemOnce.
type IdempotencyRepo interface {
	GetIdempotency(ctx context.Context, db *gorm.DB, key string, now time.Time) (*domain.Idempotency, error)
	CreateIdempotency(ctx context.Context, db *gorm.DB, key string, itemID int64, status int, ttl time.Duration) (*domain.Idempotency, error)
	DeleteIdempotency(ctx context.Context, db *gorm.DB, key string, itemID int64) error
}

// ListService provides the todo list operations.
type ListService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the item storage gateway.
	Repo ItemRepo
	// Idem stores idempotency records; nil disables AddItemOnce replays.
	Idem IdempotencyRepo
	// IdempotencyTTL bounds how long a key replays its original item.
	IdempotencyTTL time.Duration
}

// NewListService constructs a ListService with a 24h idempotency window.
func NewListService(db *gorm.DB, r ItemRepo, idem IdempotencyRepo) *ListService {
	return &ListService{
		DB:             db,
		Repo:           r,
		Idem:           idem,
		IdempotencyTTL: 24 * time.Hour,
	}
}

// validate is safe for concurrent use and caches struct metadata.
var validate = validator.New()

// AddItem persists a new item. Any id on the input is ignored; the stored
// item is returned with its assigned id.
func (s *ListService) AddItem(ctx context.Context, item domain.Item) (_ *domain.Item, err error) {
	ctx, span := s.start(ctx, "AddItem")
	defer func() { s.finish(span, "add_item", err) }()

	text, err := normalizedText(item)
	if err != nil {
		return nil, err
	}

	saved, err := s.Repo.CreateItem(ctx, s.DB, text)
	if err != nil {
		return nil, classify("add_item", 0, err)
	}

	span.SetAttributes(attribute.Int64("item.id", saved.ID))
	zerolog.Ctx(ctx).Info().Int64("item_id", saved.ID).Msg("item added")
	return saved, nil
}

// AddItemOnce is AddItem keyed by a client Idempotency-Key. The first call
// for a key creates the item and records the key in the same transaction;
// repeats within IdempotencyTTL return the original item and replayed=true.
// A blank key, or a service without an idempotency store, behaves exactly
// like AddItem.
//
// A record whose item has since been deleted is stale: it is dropped and the
// call creates a fresh item under the same key. Creation never reports
// ErrItemNotFound.
func (s *ListService) AddItemOnce(ctx context.Context, key string, item domain.Item) (_ *domain.Item, replayed bool, err error) {
	key = strings.TrimSpace(key)
	if key == "" || s.Idem == nil {
		it, err := s.AddItem(ctx, item)
		return it, false, err
	}

	ctx, span := s.start(ctx, "AddItemOnce")
	defer func() { s.finish(span, "add_item", err) }()

	text, err := normalizedText(item)
	if err != nil {
		return nil, false, err
	}

	// A concurrent request with the same key may commit between our lookup
	// and insert; the second pass then replays its item.
	for attempt := 0; ; attempt++ {
		it, ok, staleID, err := s.replay(ctx, key)
		if err != nil {
			return nil, false, err
		}
		if ok {
			span.SetAttributes(attribute.Bool("idempotency.replay", true))
			return it, true, nil
		}

		created, err := s.createKeyed(ctx, key, text, staleID)
		if errors.Is(err, repo.ErrDuplicate) && attempt == 0 {
			continue
		}
		if err != nil {
			return nil, false, classify("add_item", 0, err)
		}

		span.SetAttributes(attribute.Int64("item.id", created.ID))
		zerolog.Ctx(ctx).Info().Int64("item_id", created.ID).Str("idempotency_key", key).Msg("item added")
		return created, false, nil
	}
}

// createKeyed inserts the item and its idempotency record in one transaction.
// A non-zero staleID names the deleted item a previous record for key pointed
// at; that record is removed first.
func (s *ListService) createKeyed(ctx context.Context, key, text string, staleID int64) (*domain.Item, error) {
	var created *domain.Item
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if staleID != 0 {
			if err := s.Idem.DeleteIdempotency(ctx, tx, key, staleID); err != nil {
				return err
			}
		}
		it, err := s.Repo.CreateItem(ctx, tx, text)
		if err != nil {
			return err
		}
		if _, err := s.Idem.CreateIdempotency(ctx, tx, key, it.ID, http.StatusCreated, s.IdempotencyTTL); err != nil {
			return err
		}
		created = it
		return nil
	})
	return created, err
}

// replay looks up a live idempotency record for key and loads its item.
// When the record's item no longer exists it reports ok=false and the item id
// as staleID.
func (s *ListService) replay(ctx context.Context, key string) (it *domain.Item, ok bool, staleID int64, err error) {
	rec, err := s.Idem.GetIdempotency(ctx, s.DB, key, time.Now().UTC())
	if errors.Is(err, repo.ErrNotFound) {
		return nil, false, 0, nil
	}
	if err != nil {
		return nil, false, 0, classify("replay_item", 0, err)
	}
	it, err = s.Repo.GetItem(ctx, s.DB, rec.ItemID)
	if errors.Is(err, repo.ErrNotFound) || errors.Is(err, ErrItemNotFound) {
		zerolog.Ctx(ctx).Debug().Str("idempotency_key", key).Int64("item_id", rec.ItemID).Msg("stale idempotency record")
		return nil, false, rec.ItemID, nil
	}
	if err != nil {
		return nil, false, 0, classify("replay_item", rec.ItemID, err)
	}
	return it, true, 0, nil
}

// UpdateItem replaces the text of an existing item. The item must carry an
// id; updating an id that does not exist yields ErrItemNotFound rather than
// creating it.
func (s *ListService) UpdateItem(ctx context.Context, item domain.Item) (_ *domain.Item, err error) {
	ctx, span := s.start(ctx, "UpdateItem", attribute.Int64("item.id", item.ID))
	defer func() { s.finish(span, "update_item", err) }()

	if item.ID == 0 {
		return nil, Invalid("item id is required")
	}
	text, err := normalizedText(item)
	if err != nil {
		return nil, err
	}

	saved, err := s.Repo.UpdateItemText(ctx, s.DB, item.ID, text)
	if err != nil {
		return nil, classify("update_item", item.ID, err)
	}

	zerolog.Ctx(ctx).Info().Int64("item_id", saved.ID).Msg("item updated")
	return saved, nil
}

// ListItems returns every item wrapped in an ItemList. An empty list is a
// success.
func (s *ListService) ListItems(ctx context.Context) (_ domain.ItemList, err error) {
	ctx, span := s.start(ctx, "ListItems")
	defer func() { s.finish(span, "list_items", err) }()

	items, err := s.Repo.ListItems(ctx, s.DB)
	if err != nil {
		return domain.NewItemList(nil), classify("list_items", 0, err)
	}
	span.SetAttributes(attribute.Int("items.count", len(items)))
	return domain.NewItemList(items), nil
}

// GetItem returns the item with the given id.
func (s *ListService) GetItem(ctx context.Context, id int64) (_ *domain.Item, err error) {
	ctx, span := s.start(ctx, "GetItem", attribute.Int64("item.id", id))
	defer func() { s.finish(span, "get_item", err) }()

	it, err := s.Repo.GetItem(ctx, s.DB, id)
	if err != nil {
		return nil, classify("get_item", id, err)
	}
	return it, nil
}

// DeleteItem removes the item with the given id. Deleting an id that does
// not exist (including one already deleted) yields ErrItemNotFound.
func (s *ListService) DeleteItem(ctx context.Context, id int64) (err error) {
	ctx, span := s.start(ctx, "DeleteItem", attribute.Int64("item.id", id))
	defer func() { s.finish(span, "delete_item", err) }()

	if err := s.Repo.DeleteItem(ctx, s.DB, id); err != nil {
		return classify("delete_item", id, err)
	}

	zerolog.Ctx(ctx).Info().Int64("item_id", id).Msg("item deleted")
	return nil
}

// Stats returns the live item count and the latest update time (nil when
// empty). Handlers derive the list ETag from it.
func (s *ListService) Stats(ctx context.Context) (int64, *time.Time, error) {
	count, maxTS, err := s.Repo.ItemsStats(ctx, s.DB)
	if err != nil {
		return 0, nil, classify("items_stats", 0, err)
	}
	return count, maxTS, nil
}

// start opens a span for op under the service tracer.
func (s *ListService) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tr := otel.Tracer("services/ListService")
	return tr.Start(ctx, op, trace.WithAttributes(attrs...))
}

// finish records the classified outcome on the span and in metrics, then
// ends the span.
func (s *ListService) finish(span trace.Span, op string, err error) {
	res := outcome(err)
	itemOps.WithLabelValues(op, res).Inc()
	span.SetAttributes(attribute.String("outcome", res))
	if err != nil && errors.Is(err, ErrBackendFailure) {
		span.RecordError(errors.Unwrap(err))
		span.SetStatus(codes.Error, res)
	}
	span.End()
}

// normalizedText returns the item's normalized text or an InvalidRequestError
// when it is blank.
func normalizedText(item domain.Item) (string, error) {
	item.Text = domain.NormalizeText(item.Text)
	if err := validate.Struct(item); err != nil {
		return "", Invalid("text must not be empty")
	}
	return item.Text, nil
}
