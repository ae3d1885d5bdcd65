package postgres

import (
	"c4chat/internal/repository/db"
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const modelSummaryColumns = `id, name, creator, supports_images, supports_files, supports_reasoning`

func scanModelSummary(row scanner) (*db.ModelSummary, error) {
	var m db.ModelSummary
	var creator string
	if err := row.Scan(&m.ID, &m.Name, &creator, &m.SupportsImages, &m.SupportsFiles, &m.SupportsReasoning); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrNotFound
		}
		return nil, err
	}
	m.Creator = db.Creator(creator)
	return &m, nil
}

// ListModelSummaries returns the model catalog ordered by name
func (p *PostgresDB) ListModelSummaries(ctx context.Context) ([]db.ModelSummary, error) {
	rows, err := p.conn.QueryContext(ctx, `SELECT `+modelSummaryColumns+` FROM model_summaries ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("error querying model summaries: %w", err)
	}
	defer rows.Close()

	var models []db.ModelSummary
	for rows.Next() {
		m, err := scanModelSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning model summary: %w", err)
		}
		models = append(models, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating model summaries: %w", err)
	}
	return models, nil
}

// GetModelSummary retrieves one catalog entry
func (p *PostgresDB) GetModelSummary(ctx context.Context, id string) (*db.ModelSummary, error) {
	m, err := scanModelSummary(p.conn.QueryRowContext(ctx, `SELECT `+modelSummaryColumns+` FROM model_summaries WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("error retrieving model summary: %w", err)
	}
	return m, nil
}
