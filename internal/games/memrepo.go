package games

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/park285/bards-gambit/internal/domain"
)

// memrepo is an in-memory repository used when no database is configured.
type memrepo struct {
	mu    sync.RWMutex
	games map[string]*domain.SavedGame
}

func NewMemoryRepository() Repository {
	return &memrepo{games: make(map[string]*domain.SavedGame)}
}

// seedGame is one entry of a games JSON file: an array of {"id", "pgn", ...}.
type seedGame struct {
	ID          string `json:"id"`
	PGN         string `json:"pgn"`
	PGNHistory  string `json:"pgn_history"`
	FEN         string `json:"fen"`
	Event       string `json:"event"`
	EventName   string `json:"eventName"`
	White       string `json:"white"`
	WhitePlayer string `json:"whitePlayer"`
	Black       string `json:"black"`
	BlackPlayer string `json:"blackPlayer"`
}

// LoadSeedFile fills a memory repository from a JSON array file.
func LoadSeedFile(ctx context.Context, repo Repository, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read games file: %w", err)
	}
	var entries []seedGame
	if err := json.Unmarshal(raw, &entries); err != nil {
		return 0, fmt.Errorf("decode games file %s: %w", path, err)
	}
	n := 0
	for i, e := range entries {
		if strings.TrimSpace(e.ID) == "" {
			return n, fmt.Errorf("games file %s: entry %d has no id", path, i)
		}
		g := &domain.SavedGame{
			ID:    e.ID,
			PGN:   firstNonEmpty(e.PGN, e.PGNHistory),
			FEN:   e.FEN,
			Event: firstNonEmpty(e.Event, e.EventName),
			White: firstNonEmpty(e.White, e.WhitePlayer),
			Black: firstNonEmpty(e.Black, e.BlackPlayer),
		}
		if _, err := repo.Save(ctx, g); err != nil {
			return n, fmt.Errorf("games file %s: entry %q: %w", path, e.ID, err)
		}
		n++
	}
	return n, nil
}

func (m *memrepo) Save(_ context.Context, game *domain.SavedGame) (string, error) {
	if err := prepare(game); err != nil {
		return "", err
	}
	cp := *game
	m.mu.Lock()
	if prev, ok := m.games[cp.ID]; ok {
		cp.CreatedAt = prev.CreatedAt
	}
	m.games[cp.ID] = &cp
	m.mu.Unlock()
	return cp.ID, nil
}

func (m *memrepo) Get(_ context.Context, id string) (*domain.SavedGame, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.games[strings.TrimSpace(id)]
	if !ok {
		return nil, nil
	}
	cp := *g
	return &cp, nil
}

func (m *memrepo) List(_ context.Context, limit int) ([]*domain.SavedGame, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	m.mu.RLock()
	items := make([]*domain.SavedGame, 0, len(m.games))
	for _, g := range m.games {
		cp := *g
		items = append(items, &cp)
	}
	m.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *memrepo) Close() error { return nil }

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
