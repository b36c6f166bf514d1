package mariadb

import (
	"context"
	"database/sql"
	"fmt"
)

// Guard is one roster entry.
type Guard struct {
	Badge  string
	Name   string
	Post   string
	Active bool
}

// GetGuard looks up a roster entry by badge. Returns nil when the badge is
// unknown to the site.
func (p *Pool) GetGuard(ctx context.Context, badge string) (*Guard, error) {
	query := `
		SELECT badge, name, post, active
		FROM guards
		WHERE badge = ?
	`

	var g Guard
	err := p.db.QueryRowContext(ctx, query, badge).Scan(&g.Badge, &g.Name, &g.Post, &g.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query guard %s: %w", badge, err)
	}
	return &g, nil
}

// ListActiveGuards returns every guard currently rostered to the site.
func (p *Pool) ListActiveGuards(ctx context.Context) ([]Guard, error) {
	query := `
		SELECT badge, name, post, active
		FROM guards
		WHERE active = 1
		ORDER BY badge
	`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query active guards: %w", err)
	}
	defer rows.Close()

	var guards []Guard
	for rows.Next() {
		var g Guard
		if err := rows.Scan(&g.Badge, &g.Name, &g.Post, &g.Active); err != nil {
			return nil, fmt.Errorf("scan guard row: %w", err)
		}
		guards = append(guards, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate guard rows: %w", err)
	}
	return guards, nil
}
