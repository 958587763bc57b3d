package models

import (
	"strings"
	"time"
)

// ListKind distinguishes shopping lists from task lists
type ListKind string

const (
	ListKindShopping ListKind = "SHOPPING"
	ListKindTasks    ListKind = "TASKS"
)

// ParseListKind normalizes a list kind, defaulting to shopping when empty
func ParseListKind(s string) (ListKind, bool) {
	switch ListKind(strings.ToUpper(strings.TrimSpace(s))) {
	case "", ListKindShopping:
		return ListKindShopping, true
	case ListKindTasks:
		return ListKindTasks, true
	default:
		return "", false
	}
}

// List is a family-owned shopping or task list
type List struct {
	ID        int64     `json:"id"`
	FamilyID  int64     `json:"familyId"`
	Name      string    `json:"name"`
	Kind      ListKind  `json:"kind"`
	CreatedBy int64     `json:"createdBy"`
	ItemCount int       `json:"itemCount"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Item is an entry on a list
type Item struct {
	ID        int64     `json:"id"`
	ListID    int64     `json:"listId"`
	Title     string    `json:"title"`
	Completed bool      `json:"completed"`
	CreatedBy int64     `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
