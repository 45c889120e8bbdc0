package dashboard

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"

	"github.com/neel-kotichintala/ZeroConfigCam/internal/events"
)

// Codec frames dashboard events on the wire as {"event", "data"} envelopes.
type Codec interface {
	Name() string
	// MessageType is the WebSocket message type the codec writes.
	MessageType() int
	Encode(ev events.Event) ([]byte, error)
	Decode(msg []byte) (*Inbound, error)
}

// Inbound is a decoded client message. Data is decoded lazily into the
// payload type of the named event.
type Inbound struct {
	Event string
	Token string

	decode func(v interface{}) error
}

// DecodeData decodes the payload into v.
func (in *Inbound) DecodeData(v interface{}) error {
	if in.decode == nil {
		return fmt.Errorf("event %q has no data", in.Event)
	}
	return in.decode(v)
}

type authBlock struct {
	Token string `json:"token"`
}

// CodecFor returns the codec selected by the encoding query parameter.
func CodecFor(name string) (Codec, error) {
	switch name {
	case "", "json":
		return jsonCodec{}, nil
	case "cbor":
		return cborCodec{}, nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", name)
	}
}

type jsonCodec struct{}

type jsonEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Auth  *authBlock      `json:"auth,omitempty"`
}

func (jsonCodec) Name() string     { return "json" }
func (jsonCodec) MessageType() int { return websocket.TextMessage }

func (jsonCodec) Encode(ev events.Event) ([]byte, error) {
	return json.Marshal(struct {
		Event string      `json:"event"`
		Data  interface{} `json:"data"`
	}{ev.Name, ev.Data})
}

func (jsonCodec) Decode(msg []byte) (*Inbound, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return nil, fmt.Errorf("invalid JSON message: %w", err)
	}

	in := &Inbound{Event: env.Event}
	if env.Auth != nil {
		in.Token = env.Auth.Token
	}
	if len(env.Data) > 0 {
		data := env.Data
		in.decode = func(v interface{}) error { return json.Unmarshal(data, v) }
	}
	return in, nil
}

// CBOR sessions receive frames as raw byte strings instead of base64 text.
var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error

	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("dashboard: CBOR encoder initialization failed: " + err.Error())
	}

	// Command settings are forwarded to cameras as JSON, which cannot
	// represent map[interface{}]interface{}.
	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]interface{}(nil)),
	}.DecMode()
	if err != nil {
		panic("dashboard: CBOR decoder initialization failed: " + err.Error())
	}
}

type cborCodec struct{}

type cborEnvelope struct {
	Event string          `cbor:"event"`
	Data  cbor.RawMessage `cbor:"data,omitempty"`
	Auth  *authBlock      `cbor:"auth,omitempty"`
}

func (cborCodec) Name() string     { return "cbor" }
func (cborCodec) MessageType() int { return websocket.BinaryMessage }

func (cborCodec) Encode(ev events.Event) ([]byte, error) {
	return cborEnc.Marshal(struct {
		Event string      `cbor:"event"`
		Data  interface{} `cbor:"data"`
	}{ev.Name, ev.Data})
}

func (cborCodec) Decode(msg []byte) (*Inbound, error) {
	var env cborEnvelope
	if err := cborDec.Unmarshal(msg, &env); err != nil {
		return nil, fmt.Errorf("invalid CBOR message: %w", err)
	}

	in := &Inbound{Event: env.Event}
	if env.Auth != nil {
		in.Token = env.Auth.Token
	}
	if len(env.Data) > 0 {
		data := env.Data
		in.decode = func(v interface{}) error { return cborDec.Unmarshal(data, v) }
	}
	return in, nil
}
