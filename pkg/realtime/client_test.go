package realtime

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wsURL converts an httptest server HTTP URL to a websocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startServer launches a test websocket endpoint. The handler receives the
// upgraded conn and the original request.
func startServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg map[string]interface{}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	return msg
}

func TestConnectSendsAuthAndSessionConfig(t *testing.T) {
	type captured struct {
		auth    string
		beta    string
		model   string
		session map[string]interface{}
	}
	got := make(chan captured, 1)

	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		msg := readJSON(t, conn)
		session, _ := msg["session"].(map[string]interface{})
		got <- captured{
			auth:    r.Header.Get("Authorization"),
			beta:    r.Header.Get("OpenAI-Beta"),
			model:   r.URL.Query().Get("model"),
			session: session,
		}
	})

	c := NewClient("test-key", Callbacks{}, WithURL(wsURL(srv)), WithModel("gpt-4o-realtime-preview"))
	if err := c.Connect(DefaultSessionConfig()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	select {
	case res := <-got:
		if res.auth != "Bearer test-key" {
			t.Errorf("Authorization = %q; want Bearer test-key", res.auth)
		}
		if res.beta != "realtime=v1" {
			t.Errorf("OpenAI-Beta = %q; want realtime=v1", res.beta)
		}
		if res.model != "gpt-4o-realtime-preview" {
			t.Errorf("model = %q", res.model)
		}
		if res.session == nil {
			t.Fatal("no session in session.update")
		}
		if res.session["input_audio_format"] != "pcm16" {
			t.Errorf("input_audio_format = %v; want pcm16", res.session["input_audio_format"])
		}
		td, _ := res.session["turn_detection"].(map[string]interface{})
		if td == nil || td["type"] != "server_vad" {
			t.Errorf("turn_detection = %v; want server_vad", td)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for session.update")
	}
}

func TestSendAudioEncodesBase64(t *testing.T) {
	audioCh := make(chan string, 1)

	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		readJSON(t, conn) // session.update
		msg := readJSON(t, conn)
		if msg["type"] != "input_audio_buffer.append" {
			t.Errorf("type = %v; want input_audio_buffer.append", msg["type"])
		}
		audio, _ := msg["audio"].(string)
		audioCh <- audio
	})

	c := NewClient("key", Callbacks{}, WithURL(wsURL(srv)))
	if err := c.Connect(DefaultSessionConfig()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	if err := c.SendAudio(pcm); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case encoded := <-audioCh:
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			t.Fatalf("decoding audio field: %v", err)
		}
		if string(decoded) != string(pcm) {
			t.Errorf("audio = %v; want %v", decoded, pcm)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for audio append")
	}
}

func TestDispatchInvokesCallbacks(t *testing.T) {
	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		readJSON(t, conn) // session.update

		events := []map[string]interface{}{
			{"type": "input_audio_buffer.speech_started"},
			{"type": "conversation.item.input_audio_transcription.completed", "transcript": "hello there"},
			{"type": "response.audio.delta", "delta": base64.StdEncoding.EncodeToString([]byte{0xAA, 0xBB})},
			{"type": "response.audio.done"},
		}
		for _, ev := range events {
			data, _ := json.Marshal(ev)
			conn.WriteMessage(websocket.TextMessage, data)
		}
		time.Sleep(200 * time.Millisecond)
	})

	speechStarted := make(chan struct{}, 1)
	transcripts := make(chan string, 1)
	audio := make(chan []byte, 1)
	audioDone := make(chan struct{}, 1)

	c := NewClient("key", Callbacks{
		OnSpeechStarted: func() { speechStarted <- struct{}{} },
		OnTranscript: func(text string, isFinal bool) {
			if isFinal {
				transcripts <- text
			}
		},
		OnAudio:     func(pcm []byte) { audio <- pcm },
		OnAudioDone: func() { audioDone <- struct{}{} },
	}, WithURL(wsURL(srv)))
	if err := c.Connect(DefaultSessionConfig()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	deadline := time.After(3 * time.Second)
	select {
	case <-speechStarted:
	case <-deadline:
		t.Fatal("no speech started callback")
	}
	select {
	case text := <-transcripts:
		if text != "hello there" {
			t.Errorf("transcript = %q; want hello there", text)
		}
	case <-deadline:
		t.Fatal("no transcript callback")
	}
	select {
	case pcm := <-audio:
		if len(pcm) != 2 || pcm[0] != 0xAA {
			t.Errorf("audio = %v; want [AA BB]", pcm)
		}
	case <-deadline:
		t.Fatal("no audio callback")
	}
	select {
	case <-audioDone:
	case <-deadline:
		t.Fatal("no audio done callback")
	}
}

func TestCancelResponse(t *testing.T) {
	types := make(chan string, 2)

	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		readJSON(t, conn) // session.update
		msg := readJSON(t, conn)
		types <- msg["type"].(string)
	})

	c := NewClient("key", Callbacks{}, WithURL(wsURL(srv)))
	if err := c.Connect(DefaultSessionConfig()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	if err := c.CancelResponse(); err != nil {
		t.Fatalf("CancelResponse: %v", err)
	}

	select {
	case typ := <-types:
		if typ != "response.cancel" {
			t.Errorf("type = %q; want response.cancel", typ)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		readJSON(t, conn)
		time.Sleep(100 * time.Millisecond)
	})

	c := NewClient("key", Callbacks{}, WithURL(wsURL(srv)))
	if err := c.Connect(DefaultSessionConfig()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := c.SendAudio([]byte{0x00}); err == nil {
		t.Error("SendAudio after Close should fail")
	}
	if c.Connected() {
		t.Error("Connected() after Close should be false")
	}
}

func TestNotConnectedErrors(t *testing.T) {
	c := NewClient("key", Callbacks{})
	if err := c.SendAudio([]byte{0x00}); err == nil {
		t.Error("SendAudio before Connect should fail")
	}
	if c.Connected() {
		t.Error("Connected() before Connect should be false")
	}
}
