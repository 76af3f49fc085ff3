package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ActorTypeOperator = "operator"
	ActorTypeOracle   = "oracle"
	ActorTypeSystem   = "system"
)

type AuditLog struct {
	ID         uuid.UUID `json:"id"`
	ActorType  string    `json:"actor_type"` // operator/oracle/system
	ActorID    *string   `json:"actor_id,omitempty"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   *string   `json:"entity_id,omitempty"`
	Meta       any       `json:"meta,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
