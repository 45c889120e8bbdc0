package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// CameraRepository provides database operations for camera records
type CameraRepository interface {
	Get(ctx context.Context, cameraID string) (*Camera, error)
	ListByOwner(ctx context.Context, userID string) ([]*Camera, error)
	Create(ctx context.Context, camera *Camera) error
	UpdateStatus(ctx context.Context, cameraID, status string, seen time.Time) error
	Rename(ctx context.Context, cameraID, name string) error
	Delete(ctx context.Context, cameraID string) error
}

type cameraRepository struct {
	db *bun.DB
}

// NewCameraRepository creates a new camera repository
func NewCameraRepository(db *bun.DB) CameraRepository {
	return &cameraRepository{db: db}
}

func (r *cameraRepository) Get(ctx context.Context, cameraID string) (*Camera, error) {
	camera := new(Camera)
	err := r.db.NewSelect().
		Model(camera).
		Where("camera_id = ?", cameraID).
		Scan(ctx)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("camera %s: %w", cameraID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return camera, nil
}

func (r *cameraRepository) ListByOwner(ctx context.Context, userID string) ([]*Camera, error) {
	var cameras []*Camera
	err := r.db.NewSelect().
		Model(&cameras).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return cameras, nil
}

// Create inserts a new camera record. It returns ErrAlreadyClaimed when a
// record for the same identity exists.
func (r *cameraRepository) Create(ctx context.Context, camera *Camera) error {
	if camera.Status == "" {
		camera.Status = StatusOffline
	}
	if camera.CreatedAt.IsZero() {
		camera.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.NewInsert().
		Model(camera).
		Exec(ctx)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("camera %s: %w", camera.CameraID, ErrAlreadyClaimed)
	}
	return err
}

func (r *cameraRepository) UpdateStatus(ctx context.Context, cameraID, status string, seen time.Time) error {
	res, err := r.db.NewUpdate().
		Model((*Camera)(nil)).
		Set("status = ?", status).
		Set("last_seen = ?", seen.UTC()).
		Where("camera_id = ?", cameraID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res, "camera", cameraID)
}

func (r *cameraRepository) Rename(ctx context.Context, cameraID, name string) error {
	res, err := r.db.NewUpdate().
		Model((*Camera)(nil)).
		Set("name = ?", name).
		Where("camera_id = ?", cameraID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res, "camera", cameraID)
}

func (r *cameraRepository) Delete(ctx context.Context, cameraID string) error {
	res, err := r.db.NewDelete().
		Model((*Camera)(nil)).
		Where("camera_id = ?", cameraID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res, "camera", cameraID)
}

// ProvisioningRepository provides database operations for provisioning
// records
type ProvisioningRepository interface {
	Create(ctx context.Context, record *ProvisioningRecord) error
	MostRecent(ctx context.Context) (*ProvisioningRecord, error)
	ListByOwner(ctx context.Context, userID string) ([]*ProvisioningRecord, error)
	Delete(ctx context.Context, id, userID string) error
}

type provisioningRepository struct {
	db *bun.DB
}

// NewProvisioningRepository creates a new provisioning record repository
func NewProvisioningRepository(db *bun.DB) ProvisioningRepository {
	return &provisioningRepository{db: db}
}

func (r *provisioningRepository) Create(ctx context.Context, record *ProvisioningRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.NewInsert().
		Model(record).
		Exec(ctx)
	return err
}

// MostRecent returns the newest record across all users.
func (r *provisioningRepository) MostRecent(ctx context.Context) (*ProvisioningRecord, error) {
	record := new(ProvisioningRecord)
	err := r.db.NewSelect().
		Model(record).
		OrderExpr("created_at DESC, rowid DESC").
		Limit(1).
		Scan(ctx)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("provisioning record: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (r *provisioningRepository) ListByOwner(ctx context.Context, userID string) ([]*ProvisioningRecord, error) {
	var records []*ProvisioningRecord
	err := r.db.NewSelect().
		Model(&records).
		Where("user_id = ?", userID).
		OrderExpr("created_at DESC, rowid DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Delete removes a record owned by userID. Records owned by someone else
// are reported as not found.
func (r *provisioningRepository) Delete(ctx context.Context, id, userID string) error {
	res, err := r.db.NewDelete().
		Model((*ProvisioningRecord)(nil)).
		Where("id = ?", id).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res, "provisioning record", id)
}

func requireAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY must be unique")
}
