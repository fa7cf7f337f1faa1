// Package debugchannel implements the optional remote-control socket test
// harnesses attach to (spec.md §4.9): a JSON-over-WebSocket server accepting
// a fixed command set and pushing frameRendered/console/exit events.
//
// Grounded directly on the teacher's internal/viewer/routes/call.go: the
// same gorilla/websocket.Upgrader shape (explicit read/write buffer sizes,
// a permissive CheckOrigin for localhost test harnesses) and the same
// "upgrade, spawn a reader goroutine, write replies back on the connection"
// structure used there for its media WebSocket route.
package debugchannel

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mystral-run/mystral/internal/hostlog"
	"github.com/mystral-run/mystral/internal/provenance"
)

// HostController is the narrow slice of *host.Host the debug channel drives.
// Declared here rather than in internal/host so that internal/host never
// needs to import internal/debugchannel; *host.Host satisfies this
// interface structurally.
type HostController interface {
	// Screenshot returns the current frame's PNG bytes.
	Screenshot() ([]byte, error)
	// FrameCount reports frames presented so far.
	FrameCount() int
	// Eval runs src through the script engine's classic evaluator and
	// returns the result stringified.
	Eval(src string) (string, error)
	// DispatchKey synthesizes a keydown event for "keyboard.press".
	DispatchKey(key string) error
}

// AuditFunc records a dispatched command, e.g. provenance.Store's
// RecordDebugCommand. May be nil.
type AuditFunc func(command, params string)

// CompileHistoryFunc backs the "listCompiles" command, e.g. provenance.Store's
// RecentCompiles. May be nil, in which case the command errors.
type CompileHistoryFunc func(limit int) ([]provenance.CompileManifest, error)

type inboundCommand struct {
	ID      string          `json:"id,omitempty"`
	Command string          `json:"command"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type reply struct {
	ID     string `json:"id"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

type eventMsg struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 65536,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type clientConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *clientConn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

type queuedCommand struct {
	client *clientConn
	cmd    inboundCommand
}

type pendingWait struct {
	client *clientConn
	id     string
	target int
}

// Server is a debug channel listener, one per process (spec.md §6
// --debug-port). It implements eventloop.Source so the host steps it once
// per frame alongside HTTP/file/watch completions.
type Server struct {
	ctrl    HostController
	log     *hostlog.Buffer
	audit   AuditFunc
	history CompileHistoryFunc
	logCh   chan hostlog.Entry
	logEnd  func()

	listener net.Listener
	httpSrv  *http.Server

	mu        sync.Mutex
	clients   map[*clientConn]struct{}
	inbound   []queuedCommand
	waits     []pendingWait
	lastFrame int
	closed    bool
}

// Listen starts a debug channel server bound to addr (e.g. "127.0.0.1:9000")
// and returns immediately; the HTTP server accepts connections on a
// background goroutine while Step drives command dispatch on the main
// thread, matching spec.md §4.9 "commands execute on the main thread
// between frames".
func Listen(addr string, ctrl HostController, log *hostlog.Buffer, audit AuditFunc, history CompileHistoryFunc) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("debugchannel: listen %s: %w", addr, err)
	}

	s := &Server{
		ctrl:     ctrl,
		log:      log,
		audit:    audit,
		history:  history,
		listener: ln,
		clients:  make(map[*clientConn]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)
	s.httpSrv = &http.Server{Handler: mux}
	go s.httpSrv.Serve(ln)

	if log != nil {
		s.logCh, s.logEnd = log.Subscribe()
	}

	return s, nil
}

// Addr reports the bound listener address, used by tests and --debug-port 0
// (ephemeral port) callers that need the actual port chosen.
func (s *Server) Addr() string { return s.listener.Addr().String() }

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	cc := &clientConn{conn: conn}

	s.mu.Lock()
	s.clients[cc] = struct{}{}
	s.mu.Unlock()

	go s.readLoop(cc)
}

func (s *Server) readLoop(cc *clientConn) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, cc)
		s.mu.Unlock()
		cc.conn.Close()
	}()

	for {
		_, data, err := cc.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd inboundCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			_ = cc.writeJSON(reply{ID: "", Error: fmt.Sprintf("invalid command: %v", err)})
			continue
		}
		if cmd.ID == "" {
			cmd.ID = uuid.NewString()
		}

		s.mu.Lock()
		s.inbound = append(s.inbound, queuedCommand{client: cc, cmd: cmd})
		s.mu.Unlock()
	}
}

// Step drains queued commands, dispatches them against the controller, and
// broadcasts frameRendered/console events. It never blocks, matching
// eventloop.Source's contract.
func (s *Server) Step() {
	s.mu.Lock()
	queued := s.inbound
	s.inbound = nil
	s.mu.Unlock()

	for _, q := range queued {
		s.dispatch(q.client, q.cmd)
	}

	s.checkWaits()
	s.broadcastFrameIfChanged()
	s.drainConsole()
}

func (s *Server) dispatch(client *clientConn, cmd inboundCommand) {
	if s.audit != nil {
		s.audit(cmd.Command, string(cmd.Params))
	}

	switch cmd.Command {
	case "screenshot":
		png, err := s.ctrl.Screenshot()
		if err != nil {
			s.reply(client, cmd.ID, nil, err)
			return
		}
		s.reply(client, cmd.ID, base64.StdEncoding.EncodeToString(png), nil)

	case "keyboard.press":
		var p struct {
			Key string `json:"key"`
		}
		if err := json.Unmarshal(cmd.Params, &p); err != nil {
			s.reply(client, cmd.ID, nil, err)
			return
		}
		err := s.ctrl.DispatchKey(p.Key)
		s.reply(client, cmd.ID, nil, err)

	case "waitForFrame":
		var p struct {
			Count int `json:"count"`
		}
		if err := json.Unmarshal(cmd.Params, &p); err != nil {
			s.reply(client, cmd.ID, nil, err)
			return
		}
		if p.Count <= 0 {
			s.reply(client, cmd.ID, s.ctrl.FrameCount(), nil)
			return
		}
		s.mu.Lock()
		s.waits = append(s.waits, pendingWait{client: client, id: cmd.ID, target: s.ctrl.FrameCount() + p.Count})
		s.mu.Unlock()

	case "evaluate":
		var p struct {
			Expression string `json:"expression"`
		}
		if err := json.Unmarshal(cmd.Params, &p); err != nil {
			s.reply(client, cmd.ID, nil, err)
			return
		}
		result, err := s.ctrl.Eval(p.Expression)
		s.reply(client, cmd.ID, result, err)

	case "getFrameCount":
		s.reply(client, cmd.ID, s.ctrl.FrameCount(), nil)

	case "listCompiles":
		if s.history == nil {
			s.reply(client, cmd.ID, nil, fmt.Errorf("debugchannel: compile history unavailable"))
			return
		}
		var p struct {
			Limit int `json:"limit"`
		}
		if len(cmd.Params) > 0 {
			if err := json.Unmarshal(cmd.Params, &p); err != nil {
				s.reply(client, cmd.ID, nil, err)
				return
			}
		}
		if p.Limit <= 0 {
			p.Limit = 20
		}
		manifests, err := s.history(p.Limit)
		s.reply(client, cmd.ID, manifests, err)

	default:
		s.reply(client, cmd.ID, nil, fmt.Errorf("debugchannel: unknown command %q", cmd.Command))
	}
}

func (s *Server) reply(client *clientConn, id string, result any, err error) {
	r := reply{ID: id}
	if err != nil {
		r.Error = err.Error()
	} else {
		r.Result = result
	}
	_ = client.writeJSON(r)
}

func (s *Server) checkWaits() {
	frame := s.ctrl.FrameCount()

	s.mu.Lock()
	var remaining []pendingWait
	var ready []pendingWait
	for _, w := range s.waits {
		if frame >= w.target {
			ready = append(ready, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	s.waits = remaining
	s.mu.Unlock()

	for _, w := range ready {
		s.reply(w.client, w.id, frame, nil)
	}
}

func (s *Server) broadcastFrameIfChanged() {
	frame := s.ctrl.FrameCount()
	s.mu.Lock()
	changed := frame != s.lastFrame
	s.lastFrame = frame
	s.mu.Unlock()

	if changed {
		s.broadcast(eventMsg{Event: "frameRendered", Data: map[string]int{"frame": frame}})
	}
}

func (s *Server) drainConsole() {
	if s.logCh == nil {
		return
	}
	for {
		select {
		case e, ok := <-s.logCh:
			if !ok {
				s.logCh = nil
				return
			}
			s.broadcast(eventMsg{Event: "console", Data: e})
		default:
			return
		}
	}
}

// BroadcastExit sends the "exit" event to every connected client, called by
// the process's main entry point just before shutting the channel down.
func (s *Server) BroadcastExit(code int) {
	s.broadcast(eventMsg{Event: "exit", Data: map[string]int{"code": code}})
}

func (s *Server) broadcast(v any) {
	s.mu.Lock()
	clients := make([]*clientConn, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		_ = c.writeJSON(v)
	}
}

// Pending reports whether a debug client is attached, so the host's idle
// auto-quit never tears down a session a test harness is still driving.
func (s *Server) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients) > 0
}

// Close shuts down the HTTP listener and every open connection. Idempotent.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	clients := make([]*clientConn, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clients = nil
	s.mu.Unlock()

	if s.logEnd != nil {
		s.logEnd()
	}
	for _, c := range clients {
		c.conn.Close()
	}
	return s.httpSrv.Close()
}
