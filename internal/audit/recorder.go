// Package audit appends account events to the audit trail. Recording is
// best-effort: an audit failure is logged and never propagates into the
// operation being audited.
package audit

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/postika/auth/internal/domain"
	"github.com/postika/auth/internal/repository"
)

// Recorder writes audit entries.
type Recorder struct {
	repo   repository.AuditRepository
	node   *snowflake.Node
	logger *zap.Logger
}

// NewRecorder wires dependencies.
func NewRecorder(repo repository.AuditRepository, node *snowflake.Node, logger *zap.Logger) *Recorder {
	return &Recorder{repo: repo, node: node, logger: logger}
}

// Record persists one audit entry. actorID may be nil for system actions.
func (r *Recorder) Record(ctx context.Context, actorID *int64, actionType, resourceType, resourceID string, metadata map[string]any) {
	entry := domain.AuditEntry{
		ID:           r.node.Generate().Int64(),
		ActorID:      actorID,
		ActionType:   actionType,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     metadata,
	}
	if err := r.repo.Record(ctx, entry); err != nil {
		r.logger.Warn("audit record failed",
			zap.String("action_type", actionType),
			zap.String("resource_id", resourceID),
			zap.Error(err),
		)
	}
}
