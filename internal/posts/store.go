package posts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotConfigured indicates the post store pool was not initialised.
var ErrNotConfigured = errors.New("posts: pool not configured")

const (
	loadPostsSQL = `SELECT
        message_id,
        configuration_id,
        category,
        brand,
        model,
        ram_gb,
        rom_gb,
        price,
        avg_price,
        image_url,
        variants,
        hist_min_price,
        hist_min_seller,
        hist_min_at,
        posted_at,
        text_hash,
        active
    FROM channel_posts
    ORDER BY position;`

	deletePostsSQL = `DELETE FROM channel_posts;`

	insertPostSQL = `INSERT INTO channel_posts (
        message_id,
        position,
        configuration_id,
        category,
        brand,
        model,
        ram_gb,
        rom_gb,
        price,
        avg_price,
        image_url,
        variants,
        hist_min_price,
        hist_min_seller,
        hist_min_at,
        posted_at,
        text_hash,
        active
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18
    );`

	loadCountersSQL = `SELECT all_posts, active_posts FROM post_counters WHERE id = 1;`

	saveCountersSQL = `UPDATE post_counters SET all_posts = $1, active_posts = $2 WHERE id = 1;`
)

// Persistence round-trips the ordered post list and its counters across
// process restarts.
type Persistence interface {
	LoadPosts(ctx context.Context) ([]Post, error)
	SavePosts(ctx context.Context, posts []Post) error
	LoadCounters(ctx context.Context) (Counters, error)
	SaveCounters(ctx context.Context, c Counters) error
}

// PGStore persists posts in PostgreSQL, sharing the catalog pool.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore wires a pgx pool into a PGStore.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// LoadPosts returns the persisted post list in insertion order.
func (s *PGStore) LoadPosts(ctx context.Context) ([]Post, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, loadPostsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("load posts: %w", queryErr)
	}
	defer rows.Close()

	result := make([]Post, 0)
	for rows.Next() {
		var (
			p        Post
			variants []byte
		)
		if err := rows.Scan(
			&p.MessageID,
			&p.ConfigurationID,
			&p.Category,
			&p.Brand,
			&p.Model,
			&p.RAM,
			&p.ROM,
			&p.Price,
			&p.AvgPrice,
			&p.ImageURL,
			&variants,
			&p.HistMinPrice,
			&p.HistMinSeller,
			&p.HistMinAt,
			&p.PostedAt,
			&p.TextHash,
			&p.Active,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(variants, &p.Variants); err != nil {
			return nil, fmt.Errorf("decode post variants: %w", err)
		}
		result = append(result, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return result, nil
}

// SavePosts replaces the persisted post list with the given one, preserving
// slice order as insertion order.
func (s *PGStore) SavePosts(ctx context.Context, list []Post) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin save posts: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, deletePostsSQL); err != nil {
		return fmt.Errorf("clear posts: %w", err)
	}

	for position, p := range list {
		variants, marshalErr := json.Marshal(p.Variants)
		if marshalErr != nil {
			return fmt.Errorf("encode post variants: %w", marshalErr)
		}

		if _, err := tx.Exec(ctx, insertPostSQL,
			p.MessageID,
			position,
			p.ConfigurationID,
			p.Category,
			p.Brand,
			p.Model,
			p.RAM,
			p.ROM,
			p.Price,
			p.AvgPrice,
			p.ImageURL,
			variants,
			p.HistMinPrice,
			p.HistMinSeller,
			p.HistMinAt,
			p.PostedAt,
			p.TextHash,
			p.Active,
		); err != nil {
			return fmt.Errorf("insert post %d: %w", p.MessageID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save posts: %w", err)
	}
	return nil
}

// LoadCounters reads the post counters row.
func (s *PGStore) LoadCounters(ctx context.Context) (Counters, error) {
	pool, err := s.getPool()
	if err != nil {
		return Counters{}, err
	}

	var c Counters
	if scanErr := pool.QueryRow(ctx, loadCountersSQL).Scan(&c.AllPosts, &c.ActivePosts); scanErr != nil {
		return Counters{}, fmt.Errorf("load counters: %w", scanErr)
	}
	return c, nil
}

// SaveCounters writes the post counters row.
func (s *PGStore) SaveCounters(ctx context.Context, c Counters) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	if _, execErr := pool.Exec(ctx, saveCountersSQL, c.AllPosts, c.ActivePosts); execErr != nil {
		return fmt.Errorf("save counters: %w", execErr)
	}
	return nil
}

var _ Persistence = (*PGStore)(nil)
