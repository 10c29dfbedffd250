package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/medpoint/loyalty/internal/models"
)

type AuditRepo struct {
	DB DBTX
}

const recordAudit = `-- name: Record
INSERT INTO audit_log (id, created_at, user_id, action, entity_type, entity_id, old_values, new_values)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

func (r *AuditRepo) Record(ctx context.Context, rec models.AuditRecord) error {
	_, err := r.DB.Exec(ctx, recordAudit,
		rec.ID, rec.CreatedAt, rec.UserID, rec.Action, rec.EntityType, rec.EntityID,
		rec.OldValues, rec.NewValues,
	)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

const listAuditByEntity = `-- name: ListByEntity
SELECT id, created_at, user_id, action, entity_type, entity_id, old_values, new_values
FROM audit_log
WHERE entity_type = $1 AND entity_id = $2
ORDER BY created_at
`

func (r *AuditRepo) ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]models.AuditRecord, error) {
	rows, _ := r.DB.Query(ctx, listAuditByEntity, entityType, entityID)
	records, err := pgx.CollectRows(rows, rowToAuditRecord)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return records, nil
}

func rowToAuditRecord(row pgx.CollectableRow) (models.AuditRecord, error) {
	var rec models.AuditRecord
	err := row.Scan(
		&rec.ID, &rec.CreatedAt, &rec.UserID, &rec.Action, &rec.EntityType, &rec.EntityID,
		&rec.OldValues, &rec.NewValues,
	)
	return rec, err
}
