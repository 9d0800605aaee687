// Package bridge exposes the robot link to a browser editor over a
// websocket. Requests map onto the connection manager and dispatcher;
// manager events are fanned out to every connected client.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/chaz8081/santa-link/internal/ble"
	"github.com/chaz8081/santa-link/internal/ble/protocol"
	"github.com/chaz8081/santa-link/internal/tools"
)

// Link is the part of ble.Manager the bridge drives.
type Link interface {
	Connect(ctx context.Context, autoReconnect bool) error
	Disconnect() error
	State() ble.State
	Device() ble.Device
}

// Commands is the part of dispatch.Dispatcher the bridge drives.
type Commands interface {
	SendText(ctx context.Context, text string) error
	CallTool(ctx context.Context, name string, args map[string]any) error
	RequestTools(ctx context.Context) error
}

// RPCHandler handles a single RPC method call.
type RPCHandler func(ctx context.Context, payload json.RawMessage) (any, error)

// ErrUnknownMethod is returned for requests naming no registered method.
var ErrUnknownMethod = errors.New("bridge: unknown method")

const sendQueue = 64

// clientConn tracks a single websocket connection.
type clientConn struct {
	id        uint64
	ws        *websocket.Conn
	sendCh    chan Frame // buffered outbound queue
	done      chan struct{}
	closeOnce sync.Once
}

func (cc *clientConn) close() {
	cc.closeOnce.Do(func() { close(cc.done) })
}

// Server is the websocket bridge. It implements ble.Listener; register it
// with ble.WithListener so manager events reach clients.
type Server struct {
	link     Link
	commands Commands
	registry *tools.Registry
	origins  []string
	logger   *slog.Logger

	handlers map[string]RPCHandler
	clients  sync.Map // connID (uint64) -> *clientConn
	nextID   atomic.Uint64

	mu        sync.Mutex
	httpSrv   *http.Server
	boundAddr string
}

var _ ble.Listener = (*Server)(nil)

// NewServer creates a bridge. origins are websocket.AcceptOptions origin
// patterns; requests without an Origin header are always accepted.
func NewServer(link Link, commands Commands, registry *tools.Registry, origins []string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		link:     link,
		commands: commands,
		registry: registry,
		origins:  origins,
		logger:   logger,
	}
	s.handlers = map[string]RPCHandler{
		"connect":    s.handleConnect,
		"disconnect": s.handleDisconnect,
		"send_text":  s.handleSendText,
		"call_tool":  s.handleCallTool,
		"list_tools": s.handleListTools,
		"state":      s.handleState,
	}
	return s
}

// Handler returns the HTTP handler serving /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	return mux
}

// Start listens on addr and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bridge listen: %w", err)
	}

	s.mu.Lock()
	s.boundAddr = listener.Addr().String()
	s.httpSrv = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	srv := s.httpSrv
	s.mu.Unlock()

	s.logger.Info("bridge started", "addr", listener.Addr().String())

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("bridge serve: %w", err)
	}
	return nil
}

// Stop closes every client and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.clients.Range(func(key, value any) bool {
		cc := value.(*clientConn)
		cc.close()
		cc.ws.Close(websocket.StatusGoingAway, "server shutting down")
		s.clients.Delete(key)
		return true
	})

	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// BoundAddr returns the address the server bound to. Only valid after Start.
func (s *Server) BoundAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	n := 0
	s.clients.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	cc := &clientConn{
		id:     s.nextID.Add(1),
		ws:     ws,
		sendCh: make(chan Frame, sendQueue),
		done:   make(chan struct{}),
	}
	s.clients.Store(cc.id, cc)
	s.logger.Info("bridge client connected", "conn_id", cc.id, "remote", r.RemoteAddr)

	go s.writeLoop(cc)
	s.readLoop(r.Context(), cc)

	cc.close()
	s.clients.Delete(cc.id)
	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("bridge client disconnected", "conn_id", cc.id)
}

func (s *Server) readLoop(ctx context.Context, cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		default:
		}

		var frame Frame
		if err := wsjson.Read(ctx, cc.ws, &frame); err != nil {
			return
		}
		if frame.Type != FrameTypeRequest {
			continue
		}
		go s.dispatchRPC(ctx, cc, frame)
	}
}

func (s *Server) writeLoop(cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		case frame := <-cc.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := wsjson.Write(ctx, cc.ws, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) dispatchRPC(ctx context.Context, cc *clientConn, req Frame) {
	handler, ok := s.handlers[req.Method]
	if !ok {
		s.respond(cc, req.ID, nil, fmt.Errorf("%w %q", ErrUnknownMethod, req.Method))
		return
	}
	result, err := handler(ctx, req.Payload)
	s.respond(cc, req.ID, result, err)
}

func (s *Server) respond(cc *clientConn, id uint64, result any, err error) {
	resp := Frame{Type: FrameTypeResponse, ID: id}
	if err != nil {
		resp.Error = err.Error()
	} else if result != nil {
		payload, merr := json.Marshal(result)
		if merr != nil {
			resp.Error = fmt.Sprintf("bridge: encode result: %v", merr)
		} else {
			resp.Payload = payload
		}
	}
	select {
	case cc.sendCh <- resp:
	default:
		s.logger.Warn("bridge: dropped RPC response for slow client", "frame_id", id)
	}
}

// broadcast queues an event for every client. Slow clients miss events.
func (s *Server) broadcast(name string, body any) {
	payload, err := json.Marshal(body)
	if err != nil {
		s.logger.Warn("bridge: cannot encode event", "event", name, "error", err)
		return
	}
	frame := Frame{Type: FrameTypeEvent, Method: name, Payload: payload}
	s.clients.Range(func(_, value any) bool {
		cc := value.(*clientConn)
		select {
		case cc.sendCh <- frame:
		default:
			s.logger.Warn("bridge: dropped event for slow client", "event", name, "conn_id", cc.id)
		}
		return true
	})
}

func (s *Server) OnConnectionStateChanged(state ble.State) {
	s.broadcast(EventState, StatePayload{State: state.String()})
}

func (s *Server) OnToolsUpdated(catalog []tools.Descriptor, cached bool) {
	s.broadcast(EventTools, ToolsPayload{Tools: nonNil(catalog), Cached: cached})
}

func (s *Server) OnTextResponse(text string) {
	s.broadcast(EventText, TextPayload{Text: text})
}

func (s *Server) OnToolResult(r protocol.ToolResult) {
	s.broadcast(EventToolResult, ToolResultPayload{
		Content: r.Content,
		IsError: r.IsError,
		Error:   r.Error,
		Raw:     r.Raw,
	})
}

func (s *Server) OnNotice(n ble.Notice) {
	s.broadcast(EventNotice, n)
}

func nonNil(catalog []tools.Descriptor) []tools.Descriptor {
	if catalog == nil {
		return []tools.Descriptor{}
	}
	return catalog
}
