package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/forgecrm/hookd/internal/models"
	"github.com/forgecrm/hookd/internal/storage"
)

// Logger records operator actions (replays, registrations, secret
// rotations) as audit rows. Writes are fire-and-forget: audit must
// never slow down or fail the action it describes.
type Logger struct {
	store storage.Storage
	log   zerolog.Logger
}

func NewLogger(store storage.Storage, log zerolog.Logger) *Logger {
	return &Logger{store: store, log: log}
}

func (l *Logger) Record(workspaceID, actor, action, resourceType, resourceID string, metadata map[string]interface{}) {
	entry := &models.AuditLog{
		ID:           "audit_" + uuid.New().String(),
		WorkspaceID:  workspaceID,
		Actor:        actor,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     metadata,
		CreatedAt:    time.Now().UTC(),
	}

	go func() {
		if err := l.store.CreateAuditLog(context.Background(), entry); err != nil {
			l.log.Error().Err(err).
				Str("action", action).
				Str("resource_id", resourceID).
				Msg("failed to write audit log")
		}
	}()
}
