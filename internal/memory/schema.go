package memory

import (
	"fmt"
	"time"
)

// Type classifies a memory record.
type Type string

const (
	TypeFactual     Type = "factual"
	TypeEmotional   Type = "emotional"
	TypePreference  Type = "preference"
	TypeInteraction Type = "interaction"
	TypeCharacter   Type = "character"
)

// Types lists every known memory type.
var Types = []Type{TypeFactual, TypeEmotional, TypePreference, TypeInteraction, TypeCharacter}

// ParseType validates a memory type name.
func ParseType(s string) (Type, error) {
	for _, t := range Types {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown memory type %q", s)
}

const (
	DefaultImportance = 5
	DefaultSource     = "conversation"
	MinImportance     = 1
	MaxImportance     = 10
)

// Record is a single durable key-value observation about the user or the
// conversation. (Type, Key) identifies the record.
type Record struct {
	Type       Type      `json:"memory_type"`
	Key        string    `json:"key"`
	Value      string    `json:"value"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Importance int       `json:"importance"`
	Source     string    `json:"source"`
	IsExpired  bool      `json:"is_expired"`
}

// Order selects the sort order of a search.
type Order string

const (
	OrderNone       Order = ""
	OrderUpdatedAt  Order = "updated_at"
	OrderImportance Order = "importance"
)

// Filter narrows List and Search. The zero value matches every record,
// expired ones included.
type Filter struct {
	Type          Type
	Key           string
	KeyContains   string
	UpdatedAfter  time.Time
	UpdatedBefore time.Time
	MinImportance int
	ActiveOnly    bool
	OrderBy       Order
	Limit         int
}

// Match reports whether r satisfies every field of f except ordering and limit.
func (f Filter) Match(r Record) bool {
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	if f.Key != "" && r.Key != f.Key {
		return false
	}
	if f.KeyContains != "" && !containsFold(r.Key, f.KeyContains) {
		return false
	}
	if !f.UpdatedAfter.IsZero() && r.UpdatedAt.Before(f.UpdatedAfter) {
		return false
	}
	if !f.UpdatedBefore.IsZero() && !r.UpdatedAt.Before(f.UpdatedBefore) {
		return false
	}
	if f.MinImportance > 0 && r.Importance < f.MinImportance {
		return false
	}
	if f.ActiveOnly && r.IsExpired {
		return false
	}
	return true
}

func clampImportance(n int) int {
	if n < MinImportance {
		return MinImportance
	}
	if n > MaxImportance {
		return MaxImportance
	}
	return n
}
