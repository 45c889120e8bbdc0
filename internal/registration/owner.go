package registration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/neel-kotichintala/ZeroConfigCam/internal/database"
	"github.com/neel-kotichintala/ZeroConfigCam/internal/directory"
	"github.com/neel-kotichintala/ZeroConfigCam/internal/events"
)

// CameraView is a user's camera as the dashboard lists it.
type CameraView struct {
	CameraID    string    `json:"cameraId"`
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	LastSeen    time.Time `json:"lastSeen,omitzero"`
	LastFrameAt time.Time `json:"lastFrameAt,omitzero"`
}

// ownedRecord loads cameraID and checks it belongs to userID.
func (s *Service) ownedRecord(ctx context.Context, userID, cameraID string) (*database.Camera, error) {
	record, err := s.cameras.Get(ctx, cameraID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrCameraNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up camera %s: %w", cameraID, err)
	}
	if strings.TrimSpace(record.UserID) != strings.TrimSpace(userID) {
		return nil, ErrNotOwner
	}
	return record, nil
}

// liveStatus is what dashboards are told about a camera outside of
// connection events: online or offline.
func (s *Service) liveStatus(cameraID string) string {
	if e, ok := s.dir.Lookup(cameraID); ok && e.Status == directory.StatusOnline {
		return string(directory.StatusOnline)
	}
	return string(directory.StatusOffline)
}

// Rename changes the name of a camera owned by userID and tells the owner's
// dashboards.
func (s *Service) Rename(ctx context.Context, userID, cameraID, name string) (*CameraView, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}

	var view *CameraView
	err := s.dir.Exclusive(ctx, cameraID, func() error {
		record, err := s.ownedRecord(ctx, userID, cameraID)
		if err != nil {
			return err
		}
		if err := s.cameras.Rename(ctx, cameraID, name); err != nil {
			return fmt.Errorf("failed to rename camera %s: %w", cameraID, err)
		}
		s.dir.SetName(cameraID, name)

		view = &CameraView{
			CameraID: cameraID,
			Name:     name,
			Status:   s.liveStatus(cameraID),
			LastSeen: record.LastSeen,
		}
		s.publisher.PublishToUser(record.UserID, events.Event{
			Name: events.CameraStatusUpdate,
			Data: events.StatusUpdate{CameraID: cameraID, Status: view.Status, Name: name},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("camera_id", cameraID).Str("user_id", userID).Str("name", name).Msg("Camera renamed")
	return view, nil
}

// Remove deletes a camera owned by userID. A live connection is closed and
// the owner's dashboards are told the camera is gone.
func (s *Service) Remove(ctx context.Context, userID, cameraID string) error {
	err := s.dir.Exclusive(ctx, cameraID, func() error {
		record, err := s.ownedRecord(ctx, userID, cameraID)
		if err != nil {
			return err
		}
		if err := s.cameras.Delete(ctx, cameraID); err != nil && !errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("failed to delete camera %s: %w", cameraID, err)
		}

		if removed, ok := s.dir.Remove(cameraID); ok && removed.Transport != nil {
			if err := removed.Transport.Close(); err != nil {
				log.Debug().Err(err).Str("camera_id", cameraID).Msg("Closing deleted camera connection")
			}
		}

		s.publisher.PublishToUser(record.UserID, events.Event{
			Name: events.CameraStatusUpdate,
			Data: events.StatusUpdate{CameraID: cameraID, Status: events.StatusDeleted},
		})
		return nil
	})
	if err != nil {
		return err
	}

	log.Info().Str("camera_id", cameraID).Str("user_id", userID).Msg("Camera deleted")
	return nil
}

// ListCameras returns the durable cameras of userID with their live state.
func (s *Service) ListCameras(ctx context.Context, userID string) ([]CameraView, error) {
	records, err := s.cameras.ListByOwner(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cameras: %w", err)
	}

	views := make([]CameraView, 0, len(records))
	for _, r := range records {
		v := CameraView{
			CameraID: r.CameraID,
			Name:     r.Name,
			Status:   string(directory.StatusOffline),
			LastSeen: r.LastSeen,
		}
		if e, ok := s.dir.Lookup(r.CameraID); ok {
			if e.Status == directory.StatusOnline {
				v.Status = string(directory.StatusOnline)
			}
			v.LastFrameAt = e.LastFrameAt
		}
		views = append(views, v)
	}
	return views, nil
}
