package database

import (
	"time"

	"github.com/uptrace/bun"
)

// Durable camera status values. "pending" only exists in memory.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Camera is the durable ownership record of a claimed camera.
type Camera struct {
	bun.BaseModel `bun:"table:cameras"`

	CameraID  string    `bun:"camera_id,pk"`
	UserID    string    `bun:"user_id,notnull"`
	Name      string    `bun:"name,notnull"`
	Status    string    `bun:"status,notnull,default:'offline'"`
	LastSeen  time.Time `bun:"last_seen,nullzero"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// ProvisioningRecord is one generated pairing artifact. The most recent one
// decides which user an unknown camera is auto-claimed by.
type ProvisioningRecord struct {
	bun.BaseModel `bun:"table:provisioning_records"`

	ID        string    `bun:"id,pk"`
	UserID    string    `bun:"user_id,notnull"`
	SSID      string    `bun:"ssid"`
	Payload   string    `bun:"payload,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}
