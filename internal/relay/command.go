package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/neel-kotichintala/ZeroConfigCam/internal/directory"
	"github.com/neel-kotichintala/ZeroConfigCam/internal/events"
	"github.com/neel-kotichintala/ZeroConfigCam/internal/metrics"
)

// SettingsCommand is rewritten into the camera_settings message cameras
// understand.
const SettingsCommand = "settings"

// EncodeCommand renders a dashboard command as the JSON text message sent
// to the camera. "settings" becomes {"type":"camera_settings",
// "resolution":..,"quality":..}; any other command becomes its settings
// with "type" set to the command name.
func EncodeCommand(cmd events.ControlCommand) ([]byte, error) {
	msg := make(map[string]interface{}, len(cmd.Settings)+1)
	if cmd.Command == SettingsCommand {
		msg["type"] = "camera_settings"
		msg["resolution"] = cmd.Settings["resolution"]
		msg["quality"] = cmd.Settings["quality"]
	} else {
		for k, v := range cmd.Settings {
			msg[k] = v
		}
		msg["type"] = cmd.Command
	}
	return json.Marshal(msg)
}

// SubmitCommand authorizes cmd against the directory and forwards it to the
// camera's live transport.
func (r *Relay) SubmitCommand(ctx context.Context, userID string, cmd events.ControlCommand) error {
	err := r.submit(ctx, userID, cmd)

	result := "sent"
	if err != nil {
		var re *Error
		if errors.As(err, &re) {
			result = re.Code
		} else {
			result = "error"
		}
	}
	metrics.ControlCommandsTotal.WithLabelValues(cmd.Command, result).Inc()
	return err
}

func (r *Relay) submit(ctx context.Context, userID string, cmd events.ControlCommand) error {
	e, ok := r.dir.Lookup(cmd.CameraID)
	if !ok {
		return ErrCameraNotFound
	}
	if !e.Claimed() || e.OwnerID != strings.TrimSpace(userID) {
		return ErrUnauthorized
	}
	if e.Status != directory.StatusOnline || e.Transport == nil {
		return ErrCameraUnavailable
	}

	payload, err := EncodeCommand(cmd)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	if err := e.Transport.Send(ctx, payload); err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	log.Debug().
		Str("camera_id", cmd.CameraID).
		Str("user_id", userID).
		Str("command", cmd.Command).
		Msg("Control command forwarded")
	return nil
}
