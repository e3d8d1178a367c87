package db

import (
	"context"
	"encoding/json"

	"mailpipe/internal/models"
)

// InsertLog appends one audit row. Logs are never updated after creation.
func (s *Store) InsertLog(ctx context.Context, entry *models.EmailLog) error {
	if entry.Metadata == nil {
		entry.Metadata = map[string]string{}
	}

	metaJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return err
	}

	return s.Pool.QueryRow(ctx,
		`INSERT INTO email_logs
		 (user_email, template_type, status, error_message, metadata, created_at)
		 VALUES ($1,$2,$3,NULLIF($4,''),$5,NOW())
		 RETURNING id`,
		entry.UserEmail,
		entry.TemplateType,
		entry.Status,
		entry.ErrorMessage,
		metaJSON,
	).Scan(&entry.ID)
}
