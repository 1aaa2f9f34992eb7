// Item HTTP handlers.
//
// This file exposes the todo list endpoints:
//   - GET    /items        (list, weak ETag support)
//   - GET    /items/{id}   (read)
//   - POST   /items        (create, Idempotency-Key aware)
//   - PUT    /items/{id}   (update text)
//   - DELETE /items/{id}   (delete)
//
// Handlers are transport-thin: they reject malformed input before any service
// call, invoke the service once and map its classified error to a status.
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-todo-backend/internal/domain"
	"github.com/tbourn/go-todo-backend/internal/http/middleware"
	"github.com/tbourn/go-todo-backend/internal/utils"
)

// ItemService defines the todo list operations consumed by the handlers.
//
// Implementations must be safe for concurrent use and return errors
// classified as services.ErrItemNotFound, services.ErrInvalidRequest or
// services.ErrBackendFailure.
type ItemService interface {
	AddItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	AddItemOnce(ctx context.Context, key string, item domain.Item) (*domain.Item, bool, error)
	UpdateItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	ListItems(ctx context.Context) (domain.ItemList, error)
	GetItem(ctx context.Context, id int64) (*domain.Item, error)
	DeleteItem(ctx context.Context, id int64) error
	// Stats returns the live item count and latest update time, used for ETags.
	Stats(ctx context.Context) (int64, *time.Time, error)
}

// Handlers groups the item endpoints.
type Handlers struct {
	svc ItemService
}

// New constructs Handlers bound to svc.
func New(svc ItemService) *Handlers {
	return &Handlers{svc: svc}
}

// ItemRequest is the JSON body for create and update. ID is ignored on create
// and must equal the path id on update.
type ItemRequest struct {
	ID   *int64 `json:"id,omitempty" example:"1"`
	Text string `json:"text" binding:"required" example:"buy milk"`
}

// bindItem decodes the body and rejects blank text.
func bindItem(c *gin.Context) (ItemRequest, bool) {
	var req ItemRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, msgInvalidBody)
		return req, false
	}
	return req, true
}

// pathID parses the :id path parameter.
func pathID(c *gin.Context) (int64, bool) {
	id, err := utils.ParseID(c.Param("id"))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, msgInvalidPathID)
		return 0, false
	}
	return id, true
}

// listETag derives a weak validator from the live count and newest update.
func listETag(count int64, maxTS *time.Time) string {
	var ts int64
	if maxTS != nil {
		ts = maxTS.UnixNano()
	}
	return fmt.Sprintf(`W/"items:%d:%d"`, count, ts)
}

// listETagOf derives the list validator from the items themselves.
func listETagOf(l domain.ItemList) string {
	var maxTS *time.Time
	for i := range l.Items {
		u := l.Items[i].UpdatedAt
		if u.IsZero() {
			continue
		}
		if maxTS == nil || u.After(*maxTS) {
			maxTS = &u
		}
	}
	return listETag(int64(l.Len()), maxTS)
}

// ListItems godoc
// @ID          listItems
// @Summary     List items
// @Description Returns every todo item. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Items
// @Produce     json
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"items:3:1700000000000000000\")
//
// @Success     200  {object} domain.ItemList
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /items [get]
func (h *Handlers) ListItems(c *gin.Context) {
	ctx := c.Request.Context()

	// ETag pre-check (best effort).
	if count, maxTS, err := h.svc.Stats(ctx); err == nil {
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == listETag(count, maxTS) {
			c.Header("ETag", inm)
			c.Status(http.StatusNotModified)
			return
		}
	}

	list, err := h.svc.ListItems(ctx)
	if err != nil {
		failErr(c, err)
		return
	}
	// Derived from the body actually sent, so a concurrent write cannot pair
	// a stale validator with fresh content.
	c.Header("ETag", listETagOf(list))
	ok(c, http.StatusOK, list)
}

// GetItem godoc
// @ID          getItem
// @Summary     Get an item
// @Tags        Items
// @Produce     json
//
// @Param       id   path  int  true  "Item ID"  minimum(1)
//
// @Success     200  {object} domain.Item
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Item not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /items/{id} [get]
func (h *Handlers) GetItem(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	it, err := h.svc.GetItem(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, it)
}

// CreateItem godoc
// @ID          createItem
// @Summary     Create an item
// @Description Creates a todo item. With an Idempotency-Key header, retries within the key's lifetime return the original item.
// @Tags        Items
// @Accept      json
// @Produce     json
//
// @Param       Idempotency-Key  header  string  false "Client key for safe retries"  example(3f1c2a0e-create-1)
// @Param       body             body    handlers.ItemRequest  true  "Item (id ignored)"
//
// @Success     201  {object} domain.Item
// @Header      201  {string} Idempotent-Replay "true when the response is a replay"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     429  {object} handlers.ErrorResponse "Too many requests"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /items [post]
func (h *Handlers) CreateItem(c *gin.Context) {
	req, valid := bindItem(c)
	if !valid {
		return
	}
	item := domain.Item{Text: req.Text}

	var (
		it       *domain.Item
		replayed bool
		err      error
	)
	if key, has := middleware.GetIdempotencyKey(c); has {
		it, replayed, err = h.svc.AddItemOnce(c.Request.Context(), key, item)
	} else {
		it, err = h.svc.AddItem(c.Request.Context(), item)
	}
	if err != nil {
		failErr(c, err)
		return
	}
	if replayed {
		c.Header("Idempotent-Replay", "true")
	}
	ok(c, http.StatusCreated, it)
}

// UpdateItem godoc
// @ID          updateItem
// @Summary     Update an item
// @Description Replaces the text of an existing item. The body id must equal the path id; updating an unknown id is a 404, never a create.
// @Tags        Items
// @Accept      json
// @Produce     json
//
// @Param       id    path  int  true  "Item ID"  minimum(1)
// @Param       body  body  handlers.ItemRequest  true  "Item with matching id"
//
// @Success     202  {object} domain.Item
// @Failure     400  {object} handlers.ErrorResponse "Bad request or id mismatch"
// @Failure     404  {object} handlers.ErrorResponse "Item not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /items/{id} [put]
func (h *Handlers) UpdateItem(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	req, valid := bindItem(c)
	if !valid {
		return
	}
	if req.ID == nil || *req.ID != id {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, msgIDMismatch)
		return
	}

	it, err := h.svc.UpdateItem(c.Request.Context(), domain.Item{ID: id, Text: req.Text})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusAccepted, it)
}

// DeleteItem godoc
// @ID          deleteItem
// @Summary     Delete an item
// @Tags        Items
//
// @Param       id  path  int  true  "Item ID"  minimum(1)
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Item not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /items/{id} [delete]
func (h *Handlers) DeleteItem(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	if err := h.svc.DeleteItem(c.Request.Context(), id); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
