package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search queries live instructions with plainto_tsquery and ts_rank,
// using ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	const where = `i.organization_id = $2 AND i.deleted_at IS NULL AND i.fts @@ plainto_tsquery('english', $1)`

	var total int
	ctx := context.Background()
	countSQL := "SELECT count(*) FROM instructions i WHERE " + where
	if err := p.db.QueryRowContext(ctx, countSQL, q.Text, q.OrganizationID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT i.id, i.title,
			ts_headline('english', i.text, plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			i.category, i.status
		FROM instructions i
		WHERE %s
		ORDER BY ts_rank(i.fts, plainto_tsquery('english', $1)) DESC
		LIMIT %d OFFSET %d`, where, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, q.Text, q.OrganizationID)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.Category, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every live instruction for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]InstructionRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, organization_id, title, text, category, status
		FROM instructions
		WHERE deleted_at IS NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("load instructions: %w", err)
	}
	defer rows.Close()

	records := make([]InstructionRecord, 0)
	for rows.Next() {
		var rec InstructionRecord
		if err := rows.Scan(&rec.ID, &rec.OrganizationID, &rec.Title, &rec.Text, &rec.Category, &rec.Status); err != nil {
			return nil, fmt.Errorf("scan instruction: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate instructions: %w", err)
	}
	return records, nil
}
