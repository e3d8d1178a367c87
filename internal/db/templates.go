package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"mailpipe/internal/models"
)

// GetTemplate looks up an active template by type.
func (s *Store) GetTemplate(ctx context.Context, templateType string) (*models.EmailTemplate, error) {
	var tmpl models.EmailTemplate

	err := s.Pool.QueryRow(ctx,
		`SELECT type, subject, html
		 FROM email_templates
		 WHERE type = $1 AND active = TRUE`,
		templateType,
	).Scan(&tmpl.Type, &tmpl.Subject, &tmpl.HTML)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrTemplateNotFound, templateType)
	}
	if err != nil {
		return nil, err
	}

	return &tmpl, nil
}
