package relay

import "fmt"

// Error is a relay failure with a stable kind for clients and a message
// fit for display. Code is sent to dashboards as the error kind.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorCode returns the stable machine-readable code.
func (e *Error) ErrorCode() string { return e.Code }

// UserMessage returns the human-readable message.
func (e *Error) UserMessage() string { return e.Message }

var (
	ErrMalformedUpgrade = &Error{
		Code:    "MalformedUpgrade",
		Message: "Camera identity missing from upgrade path",
	}
	ErrCameraNotFound = &Error{
		Code:    "CameraNotFound",
		Message: "Camera not found. Please refresh the page and try again.",
	}
	ErrUnauthorized = &Error{
		Code:    "Unauthorized",
		Message: "Unauthorized access to camera",
	}
	ErrCameraUnavailable = &Error{
		Code:    "CameraUnavailable",
		Message: "Camera not connected. Please wait for camera to reconnect.",
	}
	ErrDeliveryFailed = &Error{
		Code:    "DeliveryFailed",
		Message: "Failed to send command to camera",
	}
)
