package relay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neel-kotichintala/ZeroConfigCam/internal/database"
	"github.com/neel-kotichintala/ZeroConfigCam/internal/directory"
	"github.com/neel-kotichintala/ZeroConfigCam/internal/events"
	"github.com/neel-kotichintala/ZeroConfigCam/internal/registration"
)

const sessionPath = "/dashboard/ws"

type delivery struct {
	userID string
	event  events.Event
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []delivery
}

func (p *recordingPublisher) PublishToUser(userID string, ev events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, delivery{userID: userID, event: ev})
}

func (p *recordingPublisher) Broadcast(ev events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, delivery{event: ev})
}

func (p *recordingPublisher) named(name string) []delivery {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []delivery
	for _, d := range p.events {
		if d.event.Name == name {
			out = append(out, d)
		}
	}
	return out
}

type harness struct {
	db    *database.BunDB
	dir   *directory.Directory
	pub   *recordingPublisher
	relay *Relay
	srv   *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db, err := database.New(":memory:")
	require.NoError(t, err)

	h := &harness{db: db, dir: directory.New(), pub: &recordingPublisher{}}
	svc := registration.NewService(h.dir, db.Cameras, db.Provisioning, h.pub)
	h.relay = New(h.dir, svc, h.pub, Options{WriteTimeout: time.Second, HeartbeatInterval: time.Hour})
	svc.SetOpenConnections(h.relay)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h.srv = httptest.NewServer(h.relay.Gate(sessionPath, next))

	t.Cleanup(func() {
		h.relay.Shutdown()
		h.srv.Close()
		db.Close()
	})
	return h
}

func (h *harness) claim(t *testing.T, cameraID, userID string) {
	t.Helper()
	require.NoError(t, h.db.Cameras.Create(context.Background(), &database.Camera{
		CameraID: cameraID,
		UserID:   userID,
		Name:     "Camera " + cameraID,
	}))
}

func (h *harness) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(h.wsURL(path), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (h *harness) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(h.srv.URL, "http") + path
}

func (h *harness) waitOnline(t *testing.T, cameraID string) directory.Entry {
	t.Helper()
	var entry directory.Entry
	require.Eventually(t, func() bool {
		e, ok := h.dir.Lookup(cameraID)
		entry = e
		return ok && e.Status == directory.StatusOnline
	}, 2*time.Second, 10*time.Millisecond)
	return entry
}

func TestFramesReachOwner(t *testing.T) {
	h := newHarness(t)
	h.claim(t, "cam-1", "7")

	conn := h.dial(t, "/cam-1")
	h.waitOnline(t, "cam-1")

	frame := []byte{0xff, 0xd8, 0x01, 0x02}
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, frame))

	require.Eventually(t, func() bool { return len(h.pub.named(events.Stream)) == 1 }, 2*time.Second, 10*time.Millisecond)
	got := h.pub.named(events.Stream)[0]
	assert.Equal(t, "7", got.userID)

	data, ok := got.event.Data.(events.Frame)
	require.True(t, ok)
	assert.Equal(t, "cam-1", data.CameraID)
	assert.Equal(t, frame, data.Frame)
	assert.Equal(t, len(frame), data.FrameSize)
	assert.Equal(t, "binary", data.FrameType)
	assert.NotZero(t, data.Timestamp)

	e, _ := h.dir.Lookup("cam-1")
	assert.False(t, e.LastFrameAt.IsZero())
}

func TestFramesFromUnclaimedCameraAreDropped(t *testing.T) {
	h := newHarness(t)

	conn := h.dial(t, "/cam-new")
	require.Eventually(t, func() bool { return len(h.pub.named(events.NewCameraAvailable)) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("frame")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))

	assert.Never(t, func() bool {
		return len(h.pub.named(events.Stream)) > 0 || len(h.pub.named(events.ControlResponse)) > 0
	}, 200*time.Millisecond, 20*time.Millisecond)

	e, ok := h.dir.Lookup("cam-new")
	require.True(t, ok)
	assert.Equal(t, directory.StatusPending, e.Status)
	assert.Equal(t, 1, h.relay.ConnectionCount())
}

func TestTextMessagesReachOwner(t *testing.T) {
	h := newHarness(t)
	h.claim(t, "cam-1", "7")

	conn := h.dial(t, "/cam-1")
	h.waitOnline(t, "cam-1")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"status":"ok"}`)))
	require.Eventually(t, func() bool { return len(h.pub.named(events.ControlResponse)) == 1 }, 2*time.Second, 10*time.Millisecond)

	got := h.pub.named(events.ControlResponse)[0]
	assert.Equal(t, "7", got.userID)
	assert.Equal(t, `{"status":"ok"}`, got.event.Data.(events.ControlResponseMessage).Message)
}

func TestSubmitCommand_DeliversToCamera(t *testing.T) {
	h := newHarness(t)
	h.claim(t, "cam-1", "7")

	conn := h.dial(t, "/cam-1")
	h.waitOnline(t, "cam-1")

	err := h.relay.SubmitCommand(context.Background(), "7", events.ControlCommand{
		CameraID: "cam-1",
		Command:  SettingsCommand,
		Settings: map[string]interface{}{"resolution": "VGA", "quality": float64(12)},
	})
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, msgType)
	assert.JSONEq(t, `{"type":"camera_settings","resolution":"VGA","quality":12}`, string(payload))
}

type failingTransport struct{}

func (failingTransport) Send(context.Context, []byte) error { return errors.New("broken pipe") }
func (failingTransport) Close() error                       { return nil }

func TestSubmitCommand_Errors(t *testing.T) {
	h := newHarness(t)

	h.dir.Register("cam-off", "Offline", "7")
	h.dir.Register("cam-broken", "Broken", "7")
	_, err := h.dir.AttachTransport("cam-broken", failingTransport{})
	require.NoError(t, err)
	h.dir.Register("cam-pending", "Pending", "")

	tests := []struct {
		name     string
		userID   string
		cameraID string
		want     *Error
	}{
		{"unknown camera", "7", "cam-x", ErrCameraNotFound},
		{"other owner", "8", "cam-off", ErrUnauthorized},
		{"unclaimed camera", "7", "cam-pending", ErrUnauthorized},
		{"offline camera", "7", "cam-off", ErrCameraUnavailable},
		{"send fails", "7", "cam-broken", ErrDeliveryFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.relay.SubmitCommand(context.Background(), tt.userID, events.ControlCommand{
				CameraID: tt.cameraID,
				Command:  "restart",
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var re *Error
			require.True(t, errors.As(err, &re))
			assert.Equal(t, tt.want.Code, re.ErrorCode())
		})
	}
}

func TestEncodeCommand(t *testing.T) {
	tests := []struct {
		name string
		cmd  events.ControlCommand
		want string
	}{
		{
			name: "settings",
			cmd: events.ControlCommand{Command: "settings", Settings: map[string]interface{}{
				"resolution": "SVGA", "quality": 10, "extra": true,
			}},
			want: `{"type":"camera_settings","resolution":"SVGA","quality":10}`,
		},
		{
			name: "settings without values",
			cmd:  events.ControlCommand{Command: "settings"},
			want: `{"type":"camera_settings","resolution":null,"quality":null}`,
		},
		{
			name: "other command",
			cmd:  events.ControlCommand{Command: "flash", Settings: map[string]interface{}{"on": true}},
			want: `{"type":"flash","on":true}`,
		},
		{
			name: "command name wins over type",
			cmd:  events.ControlCommand{Command: "reboot", Settings: map[string]interface{}{"type": "other"}},
			want: `{"type":"reboot"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeCommand(tt.cmd)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestReconnectEvictsPreviousConnection(t *testing.T) {
	h := newHarness(t)
	h.claim(t, "cam-1", "7")

	first := h.dial(t, "/cam-1")
	firstEntry := h.waitOnline(t, "cam-1")

	second := h.dial(t, "/cam-1")
	require.Eventually(t, func() bool {
		e, _ := h.dir.Lookup("cam-1")
		return e.Transport != nil && e.Transport != firstEntry.Transport
	}, 2*time.Second, 10*time.Millisecond)

	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := first.ReadMessage()
	require.Error(t, err)

	// The evicted connection's close must not take the camera offline.
	require.Eventually(t, func() bool { return h.relay.ConnectionCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	e, _ := h.dir.Lookup("cam-1")
	assert.Equal(t, directory.StatusOnline, e.Status)

	require.NoError(t, second.WriteMessage(websocket.BinaryMessage, []byte("frame")))
	require.Eventually(t, func() bool { return len(h.pub.named(events.Stream)) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestDisconnectMarksOwnedCameraOffline(t *testing.T) {
	h := newHarness(t)
	h.claim(t, "cam-1", "7")

	conn := h.dial(t, "/cam-1")
	h.waitOnline(t, "cam-1")
	conn.Close()

	require.Eventually(t, func() bool {
		e, ok := h.dir.Lookup("cam-1")
		return ok && e.Status == directory.StatusOffline && e.Transport == nil
	}, 2*time.Second, 10*time.Millisecond)

	record, err := h.db.Cameras.Get(context.Background(), "cam-1")
	require.NoError(t, err)
	assert.Equal(t, database.StatusOffline, record.Status)

	var sawOffline bool
	for _, d := range h.pub.named(events.CameraStatusUpdate) {
		if d.event.Data.(events.StatusUpdate).Status == "offline" {
			sawOffline = true
			assert.Equal(t, "7", d.userID)
		}
	}
	assert.True(t, sawOffline)
}

func TestDisconnectForgetsUnclaimedCamera(t *testing.T) {
	h := newHarness(t)

	conn := h.dial(t, "/cam-new")
	require.Eventually(t, func() bool { _, ok := h.dir.Lookup("cam-new"); return ok }, 2*time.Second, 10*time.Millisecond)
	conn.Close()

	require.Eventually(t, func() bool {
		_, ok := h.dir.Lookup("cam-new")
		return !ok && h.relay.ConnectionCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPendingReconnectKeepsEntry(t *testing.T) {
	h := newHarness(t)

	first := h.dial(t, "/cam-p")
	require.Eventually(t, func() bool { _, ok := h.dir.Lookup("cam-p"); return ok }, 2*time.Second, 10*time.Millisecond)
	h.dial(t, "/cam-p")

	// The newer socket replaces the older one.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := first.ReadMessage()
	require.Error(t, err)
	require.Eventually(t, func() bool { return h.relay.ConnectionCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	_, ok := h.dir.Lookup("cam-p")
	assert.True(t, ok)
	assert.Len(t, h.dir.ListUnclaimed(), 1)
	assert.NotNil(t, h.relay.Open("cam-p"))
	assert.Len(t, h.pub.named(events.NewCameraAvailable), 1)
}

func TestPendingOlderSocketCloseKeepsEntry(t *testing.T) {
	h := newHarness(t)

	first := h.dial(t, "/cam-p")
	require.Eventually(t, func() bool { _, ok := h.dir.Lookup("cam-p"); return ok }, 2*time.Second, 10*time.Millisecond)
	h.dial(t, "/cam-p")
	require.Eventually(t, func() bool { return h.relay.ConnectionCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	first.Close()

	// A later HTTP registration finds the camera still pending.
	out, err := h.relay.registrar.EnsureRegistered(context.Background(), "cam-p", nil)
	require.NoError(t, err)
	assert.Equal(t, registration.ResultPending, out.Result)
	assert.Len(t, h.dir.ListUnclaimed(), 1)
	assert.Len(t, h.pub.named(events.NewCameraAvailable), 1)
}

func TestHTTPRegistrationAdoptsOpenSocket(t *testing.T) {
	h := newHarness(t)

	conn := h.dial(t, "/cam-1")
	require.Eventually(t, func() bool { _, ok := h.dir.Lookup("cam-1"); return ok }, 2*time.Second, 10*time.Millisecond)

	// The user provisions and the camera's HTTP registration claims it.
	require.NoError(t, h.db.Provisioning.Create(context.Background(), &database.ProvisioningRecord{UserID: "7", Payload: "S:a;P:b"}))
	out, err := h.relay.registrar.EnsureRegistered(context.Background(), "cam-1", nil)
	require.NoError(t, err)
	assert.Equal(t, registration.ResultAutoClaimed, out.Result)
	assert.True(t, out.Attached)

	h.waitOnline(t, "cam-1")
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("frame")))
	require.Eventually(t, func() bool { return len(h.pub.named(events.Stream)) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestGate(t *testing.T) {
	h := newHarness(t)

	t.Run("plain requests pass through", func(t *testing.T) {
		resp, err := http.Get(h.srv.URL + "/cam-1")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusTeapot, resp.StatusCode)
	})

	t.Run("session path upgrades pass through", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(h.wsURL(sessionPath), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusTeapot, resp.StatusCode)
	})

	t.Run("empty identity is rejected", func(t *testing.T) {
		_, _, err := websocket.DefaultDialer.Dial(h.wsURL("/"), nil)
		require.Error(t, err)
		assert.Zero(t, h.relay.ConnectionCount())
	})
}

func TestCameraIdentity(t *testing.T) {
	assert.Equal(t, "cam-1", CameraIdentity("/cam-1"))
	assert.Equal(t, "", CameraIdentity("/"))
	assert.Equal(t, "", CameraIdentity(""))
	assert.True(t, underPath("/dashboard/ws", "/dashboard/ws"))
	assert.True(t, underPath("/dashboard/ws/x", "/dashboard/ws"))
	assert.False(t, underPath("/dashboard/wsx", "/dashboard/ws"))
	assert.False(t, underPath("/anything", ""))
}

func TestSweep_TerminatesSilentCamera(t *testing.T) {
	h := newHarness(t)
	h.claim(t, "cam-1", "7")

	// This client never reads, so it never answers pings.
	h.dial(t, "/cam-1")
	h.waitOnline(t, "cam-1")

	assert.Equal(t, 0, h.relay.Sweep())
	assert.Equal(t, 1, h.relay.Sweep())

	require.Eventually(t, func() bool {
		e, _ := h.dir.Lookup("cam-1")
		return e.Status == directory.StatusOffline
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		for _, d := range h.pub.named(events.CameraStatusUpdate) {
			if d.userID == "7" && d.event.Data.(events.StatusUpdate).Status == "offline" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSweep_KeepsResponsiveCamera(t *testing.T) {
	h := newHarness(t)
	h.claim(t, "cam-1", "7")

	conn := h.dial(t, "/cam-1")
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	h.waitOnline(t, "cam-1")

	for i := 0; i < 3; i++ {
		require.Equal(t, 0, h.relay.Sweep())
		require.Eventually(t, func() bool {
			conns := h.relay.snapshot()
			return len(conns) == 1 && !conns[0].awaitingPong.Load()
		}, 2*time.Second, 10*time.Millisecond)
	}

	e, _ := h.dir.Lookup("cam-1")
	assert.Equal(t, directory.StatusOnline, e.Status)
}

func TestShutdownWaitsForDisconnect(t *testing.T) {
	h := newHarness(t)
	h.claim(t, "cam-1", "7")

	h.dial(t, "/cam-1")
	h.waitOnline(t, "cam-1")

	h.relay.Shutdown()

	assert.Zero(t, h.relay.ConnectionCount())
	e, _ := h.dir.Lookup("cam-1")
	assert.Equal(t, directory.StatusOffline, e.Status)
	record, err := h.db.Cameras.Get(context.Background(), "cam-1")
	require.NoError(t, err)
	assert.Equal(t, database.StatusOffline, record.Status)
}

func TestErrorStrings(t *testing.T) {
	assert.Equal(t, "Unauthorized: Unauthorized access to camera", ErrUnauthorized.Error())
	assert.Equal(t, "CameraUnavailable", ErrCameraUnavailable.ErrorCode())
	assert.Equal(t, "Failed to send command to camera", ErrDeliveryFailed.UserMessage())
}
