package games

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/park285/bards-gambit/internal/domain"
)

var ErrInvalidGame = errors.New("game requires a PGN")

const defaultListLimit = 20

// Repository stores games submitted by the board UI. Get returns nil, nil for unknown ids.
type Repository interface {
	Save(ctx context.Context, game *domain.SavedGame) (string, error)
	Get(ctx context.Context, id string) (*domain.SavedGame, error)
	List(ctx context.Context, limit int) ([]*domain.SavedGame, error)
	Close() error
}

const schema = `
CREATE TABLE IF NOT EXISTS bard_games (
	id         TEXT PRIMARY KEY,
	event      TEXT NOT NULL DEFAULT '',
	white      TEXT NOT NULL DEFAULT '',
	black      TEXT NOT NULL DEFAULT '',
	pgn        TEXT NOT NULL,
	fen        TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS bard_games_created_at_idx ON bard_games (created_at DESC);`

type repository struct {
	db *sql.DB
}

// NewPostgresRepository connects, pings and ensures the bard_games table exists.
func NewPostgresRepository(ctx context.Context, databaseURL string) (Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(pingCtx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &repository{db: db}, nil
}

func (r *repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Save upserts by id; saving the same id again replaces the stored game.
func (r *repository) Save(ctx context.Context, game *domain.SavedGame) (string, error) {
	if err := prepare(game); err != nil {
		return "", err
	}
	const query = `
		INSERT INTO bard_games (id, event, white, black, pgn, fen, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			event = EXCLUDED.event,
			white = EXCLUDED.white,
			black = EXCLUDED.black,
			pgn = EXCLUDED.pgn,
			fen = EXCLUDED.fen`

	_, err := r.db.ExecContext(ctx, query,
		game.ID,
		game.Event,
		game.White,
		game.Black,
		game.PGN,
		game.FEN,
		game.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("insert game: %w", err)
	}
	return game.ID, nil
}

func (r *repository) Get(ctx context.Context, id string) (*domain.SavedGame, error) {
	const query = `
		SELECT id, event, white, black, pgn, fen, created_at
		FROM bard_games
		WHERE id = $1`

	var g domain.SavedGame
	err := r.db.QueryRowContext(ctx, query, strings.TrimSpace(id)).Scan(
		&g.ID,
		&g.Event,
		&g.White,
		&g.Black,
		&g.PGN,
		&g.FEN,
		&g.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select game: %w", err)
	}
	return &g, nil
}

func (r *repository) List(ctx context.Context, limit int) ([]*domain.SavedGame, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	const query = `
		SELECT id, event, white, black, pgn, fen, created_at
		FROM bard_games
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("select games: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.SavedGame, 0, limit)
	for rows.Next() {
		var g domain.SavedGame
		if err := rows.Scan(&g.ID, &g.Event, &g.White, &g.Black, &g.PGN, &g.FEN, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}
		out = append(out, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate games: %w", err)
	}
	return out, nil
}

// prepare validates game and fills in a UUID and creation time when absent.
func prepare(game *domain.SavedGame) error {
	if game == nil || strings.TrimSpace(game.PGN) == "" {
		return ErrInvalidGame
	}
	game.ID = strings.TrimSpace(game.ID)
	if game.ID == "" {
		game.ID = uuid.NewString()
	}
	if game.CreatedAt.IsZero() {
		game.CreatedAt = time.Now().UTC()
	}
	return nil
}
