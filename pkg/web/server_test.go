package web

import (
	"encoding/json"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"github.com/voxbotics/verba/pkg/dialog"
)

func newTestServer(t *testing.T, opts ...ServerOption) *Server {
	t.Helper()
	return NewServer("127.0.0.1:0", dialog.NewHistory(0), nil, opts...)
}

func TestStateEndpoint(t *testing.T) {
	s := newTestServer(t)

	resp, err := s.app.Test(httptest.NewRequest("GET", "/api/state", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var state RobotState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if state.Activity != "idle" {
		t.Errorf("initial activity = %q", state.Activity)
	}
}

func TestNoStaticFileServing(t *testing.T) {
	s := newTestServer(t)

	// The dashboard is JSON and websocket only.
	resp, err := s.app.Test(httptest.NewRequest("GET", "/", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Errorf("GET / status = %d, want 404", resp.StatusCode)
	}
}

func TestAudioIngressFeedsPackets(t *testing.T) {
	got := make(chan []byte, 1)
	s := newTestServer(t, WithAudioIngress(func(p []byte) error {
		select {
		case got <- append([]byte(nil), p...):
		default:
		}
		return nil
	}))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go s.app.Listener(ln)
	defer s.app.Shutdown()

	url := "ws://" + ln.Addr().String() + "/ws/audio"
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	packet := []byte{0x01, 0x02, 0x03}
	if err := conn.WriteMessage(gorillaws.BinaryMessage, packet); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case p := <-got:
		if string(p) != string(packet) {
			t.Errorf("ingest got % x, want % x", p, packet)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("packet never reached ingest")
	}
}

func TestAudioIngressAbsentWithoutOption(t *testing.T) {
	s := newTestServer(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go s.app.Listener(ln)
	defer s.app.Shutdown()

	url := "ws://" + ln.Addr().String() + "/ws/audio"
	if conn, _, err := gorillaws.DefaultDialer.Dial(url, nil); err == nil {
		conn.Close()
		t.Fatal("audio socket should not exist without the ingress option")
	}
}
