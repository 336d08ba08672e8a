// Package history keeps the texts a user produced: drafted sermons, MC
// scripts and practice-session transcripts.
//
// [Store] is the persistence contract. [MemoryStore] keeps entries in process;
// the postgres subpackage persists them in PostgreSQL.
package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no entry has the requested ID.
var ErrNotFound = errors.New("history: entry not found")

// DefaultLimit caps [Store.List] when the caller passes a non-positive limit.
const DefaultLimit = 50

// maxTitle is the longest derived title, in runes.
const maxTitle = 80

// Kind classifies an entry.
type Kind string

const (
	KindSermon   Kind = "sermon"
	KindMC       Kind = "mc"
	KindPractice Kind = "practice"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindSermon, KindMC, KindPractice:
		return true
	}
	return false
}

// ParseKind parses s. The empty string parses to the empty Kind, which
// [Store.List] treats as "every kind".
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if k == "" || k.Valid() {
		return k, nil
	}
	return "", fmt.Errorf("history: unknown kind %q", s)
}

// Entry is one saved text.
type Entry struct {
	ID        uuid.UUID `json:"id"`
	Kind      Kind      `json:"kind"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists entries. Implementations must be safe for concurrent use.
type Store interface {
	// Save stores e and returns it as stored, with ID, Title and CreatedAt
	// filled in when they were empty. Saving an existing ID replaces it.
	Save(ctx context.Context, e Entry) (Entry, error)

	// Get returns the entry with the given ID or [ErrNotFound].
	Get(ctx context.Context, id uuid.UUID) (Entry, error)

	// List returns up to limit entries of kind, newest first. An empty kind
	// lists every kind; a non-positive limit means [DefaultLimit].
	List(ctx context.Context, kind Kind, limit int) ([]Entry, error)

	// Delete removes the entry with the given ID or returns [ErrNotFound].
	Delete(ctx context.Context, id uuid.UUID) error

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}

// Prepare validates e and fills its defaults: a fresh ID, a title derived from
// the text, and now as the creation time.
func Prepare(e Entry, now time.Time) (Entry, error) {
	if !e.Kind.Valid() {
		return Entry{}, fmt.Errorf("history: invalid kind %q", e.Kind)
	}
	if strings.TrimSpace(e.Text) == "" {
		return Entry{}, errors.New("history: entry text must not be empty")
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if strings.TrimSpace(e.Title) == "" {
		e.Title = TitleOf(e.Text)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

// TitleOf derives a title from the first non-blank line of a Markdown text.
func TitleOf(text string) string {
	for line := range strings.Lines(text) {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#"))
		line = strings.Trim(line, "*_ ")
		if line == "" {
			continue
		}
		if utf8.RuneCountInString(line) > maxTitle {
			r := []rune(line)
			line = strings.TrimSpace(string(r[:maxTitle])) + "…"
		}
		return line
	}
	return ""
}

// ClampLimit applies [DefaultLimit] to non-positive limits.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}
