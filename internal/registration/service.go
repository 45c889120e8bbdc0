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
	"github.com/neel-kotichintala/ZeroConfigCam/internal/metrics"
)

// Result is the outcome of a registration attempt.
type Result string

const (
	ResultReconnected Result = "reconnected"
	ResultPending     Result = "pending"
	ResultAutoClaimed Result = "auto-claimed"
)

const (
	msgReconnected    = "Camera reconnected successfully"
	msgPending        = "Camera registered successfully, waiting to be claimed"
	msgPendingFailed  = "Camera registered, manual claim required"
	msgAutoClaimed    = "Camera automatically added to dashboard"
	defaultNamePrefix = "Camera"
)

var (
	ErrCameraNotFound = errors.New("camera not found")
	ErrNotOwner       = errors.New("camera belongs to another user")
	ErrInvalidName    = errors.New("camera name is required")
	ErrInvalidID      = errors.New("camera id is required")
)

// Outcome describes what EnsureRegistered did.
type Outcome struct {
	Result   Result
	Message  string
	CameraID string
	Name     string
	OwnerID  string
	// Attached is true when a transport was made live.
	Attached bool
}

// OpenConnections finds a camera's open transport that the directory does
// not know about yet, such as a socket accepted while the camera was
// unclaimed.
type OpenConnections interface {
	Open(cameraID string) directory.Transport
}

// Service decides how a camera observation changes the directory and the
// durable store, and tells dashboards about it. Every operation for one
// camera identity runs inside that identity's directory lock.
type Service struct {
	dir          *directory.Directory
	cameras      database.CameraRepository
	provisioning database.ProvisioningRepository
	publisher    events.Publisher
	conns        OpenConnections
	namePrefix   string
	now          func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithNamePrefix sets the prefix of names given to auto-claimed cameras.
func WithNamePrefix(prefix string) Option {
	return func(s *Service) {
		if prefix != "" {
			s.namePrefix = prefix
		}
	}
}

// WithOpenConnections lets HTTP registrations adopt an already open camera
// socket.
func WithOpenConnections(c OpenConnections) Option {
	return func(s *Service) { s.conns = c }
}

func NewService(
	dir *directory.Directory,
	cameras database.CameraRepository,
	provisioning database.ProvisioningRepository,
	publisher events.Publisher,
	opts ...Option,
) *Service {
	s := &Service{
		dir:          dir,
		cameras:      cameras,
		provisioning: provisioning,
		publisher:    publisher,
		namePrefix:   defaultNamePrefix,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetOpenConnections wires the connection set after construction, for
// callers that build the relay with this service.
func (s *Service) SetOpenConnections(c OpenConnections) {
	s.conns = c
}

// DefaultName is the name given to a camera nobody has renamed yet.
func (s *Service) DefaultName(cameraID string) string {
	short := cameraID
	if len(short) > 8 {
		short = short[:8]
	}
	return s.namePrefix + " " + short
}

// EnsureRegistered records that cameraID was observed, over HTTP (t nil) or
// over a new transport. Known cameras reconnect; unknown cameras are
// auto-claimed by the user with the most recent provisioning record, or
// left pending. Store failures are returned only when there is no transport,
// a connecting camera is never refused.
func (s *Service) EnsureRegistered(ctx context.Context, cameraID string, t directory.Transport) (*Outcome, error) {
	cameraID = strings.TrimSpace(cameraID)
	if cameraID == "" {
		return nil, ErrInvalidID
	}

	source := "http"
	if t != nil {
		source = "transport"
	}

	var out *Outcome
	err := s.dir.Exclusive(ctx, cameraID, func() error {
		var err error
		out, err = s.resolve(ctx, cameraID, t)
		return err
	})
	if err != nil {
		metrics.RegistrationsTotal.WithLabelValues(source, "error").Inc()
		return nil, err
	}

	metrics.RegistrationsTotal.WithLabelValues(source, string(out.Result)).Inc()
	log.Info().
		Str("camera_id", cameraID).
		Str("source", source).
		Str("result", string(out.Result)).
		Str("user_id", out.OwnerID).
		Bool("attached", out.Attached).
		Msg("Camera registered")
	return out, nil
}

func (s *Service) resolve(ctx context.Context, cameraID string, t directory.Transport) (*Outcome, error) {
	if t == nil && s.conns != nil {
		t = s.conns.Open(cameraID)
	}

	record, err := s.cameras.Get(ctx, cameraID)
	switch {
	case err == nil:
		return s.reconnect(ctx, record, t), nil
	case errors.Is(err, database.ErrNotFound):
	case t == nil:
		return nil, fmt.Errorf("failed to look up camera %s: %w", cameraID, err)
	default:
		if e, ok := s.dir.Lookup(cameraID); ok && e.Claimed() {
			log.Warn().Err(err).Str("camera_id", cameraID).Msg("Camera lookup failed, reconnecting from memory")
			return s.reconnect(ctx, &database.Camera{CameraID: cameraID, UserID: e.OwnerID, Name: e.Name}, t), nil
		}
		log.Warn().Err(err).Str("camera_id", cameraID).Msg("Camera lookup failed, treating as pending")
		return s.pending(cameraID, msgPending), nil
	}

	latest, err := s.provisioning.MostRecent(ctx)
	switch {
	case err == nil:
		return s.autoClaim(ctx, cameraID, latest.UserID, t), nil
	case errors.Is(err, database.ErrNotFound):
		return s.pending(cameraID, msgPending), nil
	case t == nil:
		return nil, fmt.Errorf("failed to look up provisioning records: %w", err)
	default:
		log.Warn().Err(err).Str("camera_id", cameraID).Msg("Provisioning lookup failed, treating as pending")
		return s.pending(cameraID, msgPending), nil
	}
}

func (s *Service) reconnect(ctx context.Context, record *database.Camera, t directory.Transport) *Outcome {
	s.dir.Register(record.CameraID, record.Name, record.UserID)
	attached := s.attach(ctx, record.CameraID, t)

	s.publisher.PublishToUser(record.UserID, events.Event{
		Name: events.CameraStatusUpdate,
		Data: events.StatusUpdate{CameraID: record.CameraID, Status: string(directory.StatusOnline), Name: record.Name},
	})

	return &Outcome{
		Result:   ResultReconnected,
		Message:  msgReconnected,
		CameraID: record.CameraID,
		Name:     record.Name,
		OwnerID:  record.UserID,
		Attached: attached,
	}
}

func (s *Service) autoClaim(ctx context.Context, cameraID, userID string, t directory.Transport) *Outcome {
	name := s.DefaultName(cameraID)

	status := database.StatusOffline
	if t != nil {
		status = database.StatusOnline
	}
	err := s.cameras.Create(ctx, &database.Camera{
		CameraID: cameraID,
		UserID:   userID,
		Name:     name,
		Status:   status,
		LastSeen: s.now().UTC(),
	})
	if err != nil {
		log.Error().Err(err).Str("camera_id", cameraID).Str("user_id", userID).Msg("Auto-claim failed, falling back to pending")
		return s.pending(cameraID, msgPendingFailed)
	}

	s.dir.Register(cameraID, name, userID)
	attached := s.attach(ctx, cameraID, t)

	s.publisher.PublishToUser(userID, events.Event{
		Name: events.CameraStatusUpdate,
		Data: events.StatusUpdate{CameraID: cameraID, Status: string(directory.StatusOnline), Name: name},
	})
	s.publisher.PublishToUser(userID, events.Event{
		Name: events.CameraAutoAdded,
		Data: events.AutoAdded{
			CameraID: cameraID,
			Name:     name,
			Message:  fmt.Sprintf("%s has been automatically added to your dashboard!", name),
		},
	})

	return &Outcome{
		Result:   ResultAutoClaimed,
		Message:  msgAutoClaimed,
		CameraID: cameraID,
		Name:     name,
		OwnerID:  userID,
		Attached: attached,
	}
}

// pending keeps an unclaimed entry without a transport and announces it
// once. The camera's socket, if any, stays with the relay until the camera
// is claimed or disconnects.
func (s *Service) pending(cameraID, message string) *Outcome {
	existing, existed := s.dir.Lookup(cameraID)
	if existed && existing.Claimed() {
		// Owned in memory but unknown to the store: the record was removed
		// under us. Start over as unclaimed.
		if existing.Transport != nil {
			if err := existing.Transport.Close(); err != nil {
				log.Debug().Err(err).Str("camera_id", cameraID).Msg("Closing connection of removed camera")
			}
		}
		s.dir.Remove(cameraID)
		existed = false
	}

	name := existing.Name
	if !existed || name == "" {
		name = s.DefaultName(cameraID)
	}
	s.dir.Register(cameraID, name, "")

	if !existed {
		s.publisher.Broadcast(events.Event{
			Name: events.NewCameraAvailable,
			Data: events.CameraSummary{CameraID: cameraID, Name: name},
		})
	}

	return &Outcome{
		Result:   ResultPending,
		Message:  message,
		CameraID: cameraID,
		Name:     name,
	}
}

// attach makes t live, closing any connection it replaces, and records the
// camera as online. Store errors are logged; the live state wins.
func (s *Service) attach(ctx context.Context, cameraID string, t directory.Transport) bool {
	if t == nil {
		return false
	}

	evicted, err := s.dir.AttachTransport(cameraID, t)
	if err != nil {
		log.Error().Err(err).Str("camera_id", cameraID).Msg("Failed to attach transport")
		return false
	}
	if evicted != nil {
		log.Info().Str("camera_id", cameraID).Msg("Camera reconnected, closing previous connection")
		if err := evicted.Close(); err != nil {
			log.Debug().Err(err).Str("camera_id", cameraID).Msg("Closing evicted connection")
		}
	}

	if err := s.cameras.UpdateStatus(ctx, cameraID, database.StatusOnline, s.now()); err != nil {
		log.Warn().Err(err).Str("camera_id", cameraID).Msg("Failed to persist online status")
	}
	return true
}

// Disconnect handles the close of t. Owned cameras go offline and their
// owner is told; unclaimed cameras are forgotten once no socket for them is
// left open. Closes of transports that were already replaced change nothing.
func (s *Service) Disconnect(ctx context.Context, cameraID string, t directory.Transport) {
	_ = s.dir.Exclusive(ctx, cameraID, func() error {
		if e, ok := s.dir.Lookup(cameraID); ok && !e.Claimed() && s.conns != nil {
			if open := s.conns.Open(cameraID); open != nil && open != t {
				log.Debug().Str("camera_id", cameraID).Msg("Superseded pending connection closed")
				return nil
			}
		}
		before, changed := s.dir.DetachTransport(cameraID, t)
		if !changed {
			return nil
		}
		if !before.Claimed() {
			log.Info().Str("camera_id", cameraID).Msg("Unclaimed camera disconnected")
			return nil
		}

		if err := s.cameras.UpdateStatus(ctx, cameraID, database.StatusOffline, s.now()); err != nil && !errors.Is(err, database.ErrNotFound) {
			log.Warn().Err(err).Str("camera_id", cameraID).Msg("Failed to persist offline status")
		}

		s.publisher.PublishToUser(before.OwnerID, events.Event{
			Name: events.CameraStatusUpdate,
			Data: events.StatusUpdate{CameraID: cameraID, Status: string(directory.StatusOffline), Name: before.Name},
		})
		log.Info().Str("camera_id", cameraID).Str("user_id", before.OwnerID).Msg("Camera disconnected")
		return nil
	})
}
