package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/NodeRegistrar/internal/registry/model"
)

// ProxyRepository reads registered smart proxies and their features.
type ProxyRepository struct {
	db *pgxpool.Pool
}

// NewProxyRepository creates a new ProxyRepository.
func NewProxyRepository(db *pgxpool.Pool) *ProxyRepository {
	return &ProxyRepository{db: db}
}

// ListByFeature returns every proxy advertising feature, oldest first. The
// ordering is stable so callers picking the first entry are deterministic.
func (r *ProxyRepository) ListByFeature(ctx context.Context, feature string) ([]*model.SmartProxy, error) {
	rows, err := r.db.Query(ctx, `
		SELECT p.id, p.name, p.url, p.created_at,
		       ARRAY(SELECT f.name FROM proxy_features f WHERE f.proxy_id = p.id ORDER BY f.name)
		FROM smart_proxies p
		WHERE EXISTS (
			SELECT 1 FROM proxy_features f WHERE f.proxy_id = p.id AND f.name = $1
		)
		ORDER BY p.created_at ASC, p.id ASC`, feature)
	if err != nil {
		return nil, fmt.Errorf("list proxies by feature: %w", err)
	}
	defer rows.Close()

	var proxies []*model.SmartProxy
	for rows.Next() {
		var p model.SmartProxy
		if err := rows.Scan(&p.ID, &p.Name, &p.URL, &p.CreatedAt, &p.Features); err != nil {
			return nil, fmt.Errorf("scan proxy: %w", err)
		}
		proxies = append(proxies, &p)
	}
	return proxies, rows.Err()
}

// Create registers a proxy with the given features. Used by the seed tool.
func (r *ProxyRepository) Create(ctx context.Context, p *model.SmartProxy) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	p.CreatedAt = time.Now().UTC()
	if err := tx.QueryRow(ctx,
		`INSERT INTO smart_proxies (name, url, created_at) VALUES ($1, $2, $3) RETURNING id`,
		p.Name, p.URL, p.CreatedAt,
	).Scan(&p.ID); err != nil {
		return fmt.Errorf("insert proxy: %w", translate(err))
	}

	for _, f := range p.Features {
		if _, err := tx.Exec(ctx,
			`INSERT INTO proxy_features (proxy_id, name) VALUES ($1, $2)`, p.ID, f,
		); err != nil {
			return fmt.Errorf("insert proxy feature %q: %w", f, err)
		}
	}
	return tx.Commit(ctx)
}
