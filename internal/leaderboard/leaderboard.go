// Package leaderboard receives final scores at the end of a game.
package leaderboard

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode"

	"gorm.io/gorm"
)

type Entry struct {
	Initials   string
	FinalScore int
	Timestamp  time.Time
}

type Sink interface {
	Record(ctx context.Context, entries []Entry) error
}

// Board is a Sink that can also read back the best scores.
type Board interface {
	Sink
	Top(ctx context.Context, limit int) ([]Entry, error)
}

// Initials turns a display name into up to three upper-case letters.
func Initials(name string) string {
	var letters []rune
	for _, word := range strings.Fields(name) {
		for _, r := range word {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				letters = append(letters, unicode.ToUpper(r))
				break
			}
		}
		if len(letters) == 3 {
			break
		}
	}
	if len(letters) == 1 {
		// Single word names take their first three letters.
		letters = letters[:0]
		for _, r := range name {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				letters = append(letters, unicode.ToUpper(r))
			}
			if len(letters) == 3 {
				break
			}
		}
	}
	if len(letters) == 0 {
		return "???"
	}
	return string(letters)
}

// Score is the persisted row.
type Score struct {
	ID         uint      `gorm:"primaryKey"`
	RoomCode   string    `gorm:"size:8;index"`
	Initials   string    `gorm:"size:8;not null"`
	FinalScore int       `gorm:"not null;index"`
	RecordedAt time.Time `gorm:"not null"`
}

// GormSink stores entries in a relational table.
type GormSink struct {
	db *gorm.DB
}

func NewGormSink(db *gorm.DB) (*GormSink, error) {
	if err := db.AutoMigrate(&Score{}); err != nil {
		return nil, fmt.Errorf("migrate leaderboard: %w", err)
	}
	return &GormSink{db: db}, nil
}

func (s *GormSink) Record(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]Score, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, Score{
			RoomCode:   RoomFromContext(ctx),
			Initials:   e.Initials,
			FinalScore: e.FinalScore,
			RecordedAt: e.Timestamp,
		})
	}
	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("insert leaderboard rows: %w", err)
	}
	return nil
}

// Top returns the best scores, highest first.
func (s *GormSink) Top(ctx context.Context, limit int) ([]Entry, error) {
	var rows []Score
	err := s.db.WithContext(ctx).
		Order("final_score DESC").Order("recorded_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, Entry{Initials: r.Initials, FinalScore: r.FinalScore, Timestamp: r.RecordedAt})
	}
	return out, nil
}

// Memory is an in-process sink, used when no database is configured.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

func (m *Memory) Record(_ context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entries...)
	return nil
}

func (m *Memory) Top(_ context.Context, limit int) ([]Entry, error) {
	m.mu.Lock()
	out := slices.Clone(m.entries)
	m.mu.Unlock()
	slices.SortStableFunc(out, func(a, b Entry) int { return b.FinalScore - a.FinalScore })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type roomKey struct{}

// WithRoom tags a context with the room code the entries came from.
func WithRoom(ctx context.Context, code string) context.Context {
	return context.WithValue(ctx, roomKey{}, code)
}

func RoomFromContext(ctx context.Context) string {
	code, _ := ctx.Value(roomKey{}).(string)
	return code
}
