package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/meter-sync-worker/internal/db"
)

// PhotoExists reports whether the photo is already attached to the entity.
func (r *Repository) PhotoExists(ctx context.Context, entityType string, entityID uuid.UUID, filePath string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM photos
			WHERE entity_type = $1 AND entity_id = $2 AND file_path = $3
		)
	`

	var exists bool
	if err := r.q.QueryRow(ctx, query, entityType, entityID, filePath).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to probe existing photo: %w", err)
	}
	return exists, nil
}

// InsertPhoto inserts a photo attachment record
func (r *Repository) InsertPhoto(ctx context.Context, photo *db.Photo) error {
	query := `
		INSERT INTO photos (id, file_path, entity_type, entity_id, mime_type, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	now := time.Now().UTC()
	photo.CreatedAt = now

	_, err := r.q.Exec(ctx, query,
		photo.ID, photo.FilePath, photo.EntityType, photo.EntityID,
		photo.MimeType, photo.Description, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert photo: %w", err)
	}
	return nil
}
