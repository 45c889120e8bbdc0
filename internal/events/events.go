// Package events defines the messages exchanged with dashboard sessions and
// the publisher interface used to address them.
package events

import "time"

// Outbound event names.
const (
	CameraStatusUpdate     = "cameraStatusUpdate"
	CameraAutoAdded        = "cameraAutoAdded"
	NewCameraAvailable     = "newCameraAvailable"
	Stream                 = "stream"
	ControlSent            = "camera-control-sent"
	ControlError           = "camera-control-error"
	ControlResponse        = "camera-control-response"
	PendingCamerasResponse = "pendingCamerasResponse"
)

// Inbound event names.
const (
	CameraControl     = "camera-control"
	GetPendingCameras = "getPendingCameras"
)

// StatusDeleted is only ever sent in a CameraStatusUpdate.
const StatusDeleted = "deleted"

// Event is one named message for a dashboard.
type Event struct {
	Name string
	Data interface{}
}

// Publisher addresses dashboard sessions. PublishToUser reaches every
// session of one user, Broadcast reaches every session.
type Publisher interface {
	PublishToUser(userID string, ev Event)
	Broadcast(ev Event)
}

type StatusUpdate struct {
	CameraID string `json:"cameraId"`
	Status   string `json:"status"`
	Name     string `json:"name,omitempty"`
}

type AutoAdded struct {
	CameraID string `json:"cameraId"`
	Name     string `json:"name"`
	Message  string `json:"message"`
}

type CameraSummary struct {
	CameraID string `json:"cameraId"`
	Name     string `json:"name"`
}

type PendingCameras struct {
	Cameras []CameraSummary `json:"cameras"`
}

// Frame carries one opaque camera frame.
type Frame struct {
	CameraID  string `json:"cameraId"`
	Frame     []byte `json:"frame"`
	FrameType string `json:"frameType"`
	FrameSize int    `json:"frameSize"`
	Timestamp int64  `json:"timestamp"`
}

// ControlResponseMessage carries a text message sent by a camera.
type ControlResponseMessage struct {
	CameraID  string `json:"cameraId"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// ControlCommand is a dashboard request to control a camera.
type ControlCommand struct {
	CameraID string                 `json:"cameraId"`
	Command  string                 `json:"command"`
	Settings map[string]interface{} `json:"settings,omitempty"`
}

type ControlAck struct {
	CameraID  string                 `json:"cameraId"`
	Command   string                 `json:"command"`
	Settings  map[string]interface{} `json:"settings,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

// ControlFailure reports a rejected camera command. Error carries the failure
// kind and Message the text shown to the user.
type ControlFailure struct {
	CameraID string `json:"cameraId"`
	Error    string `json:"error"`
	Message  string `json:"message"`
}

// Millis returns t as Unix milliseconds, the timestamp unit of every event.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}
