package debugchannel

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type stubController struct {
	frame      int
	keys       []string
	evalResult string
	evalErr    error
	shot       []byte
}

func (s *stubController) Screenshot() ([]byte, error)  { return s.shot, nil }
func (s *stubController) FrameCount() int              { return s.frame }
func (s *stubController) Eval(src string) (string, error) {
	return s.evalResult, s.evalErr
}
func (s *stubController) DispatchKey(key string) error {
	s.keys = append(s.keys, key)
	return nil
}

func dial(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	url := fmt.Sprintf("ws://%s/", s.Addr())
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClient(t *testing.T, s *Server) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s.Pending() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for client to register")
}

// readReply steps the server repeatedly (command delivery over the
// websocket is asynchronous relative to WriteJSON returning) until a reply
// arrives or the deadline passes.
func readReply(t *testing.T, s *Server, conn *websocket.Conn) reply {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.Step()
		conn.SetReadDeadline(time.Now().Add(20 * time.Millisecond))
		var r reply
		if err := conn.ReadJSON(&r); err == nil {
			return r
		}
	}
	t.Fatal("timed out waiting for reply")
	return reply{}
}

func TestGetFrameCount(t *testing.T) {
	ctrl := &stubController{frame: 7}
	s, err := Listen("127.0.0.1:0", ctrl, nil, nil, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer s.Close()

	conn := dial(t, s)
	waitForClient(t, s)

	if err := conn.WriteJSON(inboundCommand{ID: "1", Command: "getFrameCount"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	r := readReply(t, s, conn)
	if r.ID != "1" {
		t.Fatalf("reply id = %q, want 1", r.ID)
	}
	if r.Error != "" {
		t.Fatalf("unexpected error: %s", r.Error)
	}
	got, ok := r.Result.(float64)
	if !ok || int(got) != 7 {
		t.Fatalf("result = %v, want 7", r.Result)
	}
}

func TestKeyboardPress(t *testing.T) {
	ctrl := &stubController{}
	s, err := Listen("127.0.0.1:0", ctrl, nil, nil, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer s.Close()

	conn := dial(t, s)
	waitForClient(t, s)

	params, _ := json.Marshal(map[string]string{"key": "ArrowUp"})
	if err := conn.WriteJSON(inboundCommand{ID: "2", Command: "keyboard.press", Params: params}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.Step()
		if len(ctrl.keys) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if len(ctrl.keys) != 1 || ctrl.keys[0] != "ArrowUp" {
		t.Fatalf("keys = %v, want [ArrowUp]", ctrl.keys)
	}
	readReply(t, s, conn)
}

func TestWaitForFrameResolvesOnceReached(t *testing.T) {
	ctrl := &stubController{frame: 10}
	s, err := Listen("127.0.0.1:0", ctrl, nil, nil, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer s.Close()

	conn := dial(t, s)
	waitForClient(t, s)

	params, _ := json.Marshal(map[string]int{"count": 3})
	if err := conn.WriteJSON(inboundCommand{ID: "3", Command: "waitForFrame", Params: params}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	// Let the command register as a pending wait before the target frame
	// is reached; it should not reply yet.
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		s.Step()
		time.Sleep(5 * time.Millisecond)
	}

	ctrl.frame = 13
	replied := false
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.Step()
		conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		var r reply
		if err := conn.ReadJSON(&r); err == nil {
			if r.ID != "3" {
				t.Fatalf("reply id = %q, want 3", r.ID)
			}
			replied = true
			break
		}
	}
	if !replied {
		t.Fatal("waitForFrame never replied once target frame was reached")
	}
}

func TestUnknownCommandReturnsError(t *testing.T) {
	ctrl := &stubController{}
	s, err := Listen("127.0.0.1:0", ctrl, nil, nil, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer s.Close()

	conn := dial(t, s)
	waitForClient(t, s)

	if err := conn.WriteJSON(inboundCommand{ID: "4", Command: "bogus"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	r := readReply(t, s, conn)
	if r.Error == "" {
		t.Fatal("expected an error for an unknown command")
	}
}
