// Package domain defines the persistence models for the todo list. These
// types are mapped with GORM and form the core data layer of the service.
package domain

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"
)

// Item is a single todo entry.
//
// Fields:
//   - ID: autoincrement primary key, assigned by the database on first
//     insert. Zero means "not yet created" and is omitted from JSON.
//   - Text: the entry body; must be non-blank whenever it is persisted.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM (not serialized).
//   - DeletedAt: soft deletion marker (not serialized).
type Item struct {
	ID        int64          `json:"id,omitempty" gorm:"primaryKey;autoIncrement"`
	Text      string         `json:"text"         gorm:"type:text;not null"     validate:"required"`
	CreatedAt time.Time      `json:"-"`
	UpdatedAt time.Time      `json:"-"            gorm:"index"`
	DeletedAt gorm.DeletedAt `json:"-"            gorm:"index"`
}

// TableName returns the database table name for Item.
func (Item) TableName() string { return "items" }

// NormalizeText trims surrounding whitespace and applies Unicode NFC so that
// visually identical entries are stored with identical bytes.
func NormalizeText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// ItemList is the response container for the list operation.
type ItemList struct {
	Items []Item `json:"items"`
}

// NewItemList wraps items in an ItemList. A nil slice is replaced with an
// empty one so the list always serializes as an array.
func NewItemList(items []Item) ItemList {
	if items == nil {
		items = []Item{}
	}
	return ItemList{Items: items}
}

// Len reports the number of items in the list.
func (l ItemList) Len() int { return len(l.Items) }
