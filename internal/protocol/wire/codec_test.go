package wire

import (
	"errors"
	"strings"
	"testing"

	"github.com/danmuck/blockbridge/internal/testutil/testlog"
)

func TestJSONCallShape(t *testing.T) {
	testlog.Start(t)
	data, err := JSONCodec{}.Encode(Message{Method: "getContent", ID: 1})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if got := string(data); got != `{"method":"getContent","id":1,"payload":null}` {
		t.Fatalf("unexpected call frame: %s", got)
	}
}

func TestJSONDecodeMissingFieldsDefaultToZero(t *testing.T) {
	testlog.Start(t)
	m, err := JSONCodec{}.Decode([]byte(`{"payload":"hello"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Method != "" || m.Origin != "" || m.ID != NoCallbackID || m.Payload != "hello" {
		t.Fatalf("unexpected message: %+v", m)
	}
	if m.IsControl() {
		t.Fatalf("response classified as control")
	}
}

func TestJSONDecodeRejectsNonMessage(t *testing.T) {
	testlog.Start(t)
	for _, frame := range []string{"", "  ", `"handShake"`, `[1,2]`, `{"id":"x"}`} {
		_, err := JSONCodec{}.Decode([]byte(frame))
		if !errors.Is(err, ErrNotMessage) && !errors.Is(err, ErrEmptyFrame) {
			t.Fatalf("frame %q: expected decode error, got %v", frame, err)
		}
	}
}

func TestMsgpackHandshake(t *testing.T) {
	testlog.Start(t)
	codec := MsgpackCodec{}
	data, err := codec.Encode(Handshake("https://host.test", map[string]any{"key": "richTextField"}))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	m, err := codec.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Method != MethodHandshake || m.Origin != "https://host.test" || !m.IsControl() {
		t.Fatalf("unexpected handshake: %+v", m)
	}
	init, ok := m.Payload.(map[string]any)
	if !ok || init["key"] != "richTextField" {
		t.Fatalf("unexpected init payload: %#v", m.Payload)
	}
	if _, err := codec.Decode([]byte{0xc1}); !errors.Is(err, ErrNotMessage) {
		t.Fatalf("expected ErrNotMessage, got %v", err)
	}
}

func TestCodecByName(t *testing.T) {
	testlog.Start(t)
	for name, want := range map[string]string{"": "json", "JSON": "json", " msgpack ": "msgpack"} {
		c, err := CodecByName(name)
		if err != nil || c.Name() != want {
			t.Fatalf("CodecByName(%q) got=%v err=%v", name, c, err)
		}
	}
	if _, err := CodecByName("xml"); err == nil || !strings.Contains(err.Error(), "xml") {
		t.Fatalf("expected unknown codec error, got %v", err)
	}
}
