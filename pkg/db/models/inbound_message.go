package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// InboundMessage is the ingest deduplication record keyed by the
// provider-assigned message id.
type InboundMessage struct {
	ID                uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ProviderMessageID string          `gorm:"column:provider_message_id;not null;uniqueIndex:ux_inbound_messages_provider_id"`
	Sender            string          `gorm:"column:sender;not null"`
	Payload           json.RawMessage `gorm:"column:payload;type:jsonb;not null"`
	FirstSeenAt       time.Time       `gorm:"column:first_seen_at;autoCreateTime"`
}
