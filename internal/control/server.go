// Package control exposes a running agent over a unix socket so that other
// processes (the CLI, the approval console) can query it and approve or
// reject commit batches.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/steveyegge/vigil/internal/agent"
	"github.com/steveyegge/vigil/internal/types"
)

// Command types.
const (
	CommandStats     = "stats"
	CommandPending   = "pending"
	CommandApprove   = "approve"
	CommandReject    = "reject"
	CommandAnalyze   = "analyze"
	CommandFix       = "fix"
	CommandConfig    = "config"
	CommandAnalytics = "analytics"
)

// Command represents a control command sent to the agent
type Command struct {
	Type      string         `json:"type"`
	Path      string         `json:"path,omitempty"`    // Target file (analyze, fix)
	Finding   *types.Finding `json:"finding,omitempty"` // Finding to fix
	DryRun    bool           `json:"dry_run,omitempty"`
	Update    *agent.Update  `json:"update,omitempty"` // Config change; nil reads the config
	Timestamp time.Time      `json:"timestamp"`
}

// Response represents a response to a control command
type Response struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Decode unmarshals the response data into target.
func (r *Response) Decode(target interface{}) error {
	if !r.Success {
		return errors.New(r.Error)
	}
	if len(r.Data) == 0 {
		return fmt.Errorf("response has no data")
	}
	return json.Unmarshal(r.Data, target)
}

// Handler executes one command and returns JSON-serializable data.
type Handler func(ctx context.Context, cmd Command) (interface{}, error)

// Server manages the control socket
type Server struct {
	socketPath string
	handler    Handler
	log        *zap.Logger

	listener net.Listener
	mu       sync.RWMutex
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	conns    sync.WaitGroup
}

// NewServer creates a new control server. socketPath is normally
// .vigil/control.sock under the watch root.
func NewServer(socketPath string, handler Handler, log *zap.Logger) (*Server, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(socketPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}

	// Remove existing socket file if it exists (from crashed previous instance)
	if err := os.RemoveAll(socketPath); err != nil {
		return nil, fmt.Errorf("failed to remove existing socket: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Server{
		socketPath: socketPath,
		handler:    handler,
		log:        log.Named("control"),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}, nil
}

// Start begins listening for control commands
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("control server already running")
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to create control socket: %w", err)
	}

	s.listener = listener
	s.running = true
	s.mu.Unlock()

	s.log.Info("control server listening", zap.String("socket", s.socketPath))

	go s.acceptLoop(ctx)
	return nil
}

// acceptLoop accepts incoming connections
func (s *Server) acceptLoop(ctx context.Context) {
	defer close(s.doneCh)
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		// Set accept timeout to allow checking stop channel
		if err := s.listener.(*net.UnixListener).SetDeadline(time.Now().Add(250 * time.Millisecond)); err != nil {
			s.log.Warn("failed to set accept deadline", zap.Error(err))
			return
		}

		conn, err := s.listener.Accept()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case <-s.stopCh:
				return
			default:
			}
			s.log.Warn("accept error", zap.Error(err))
			continue
		}

		s.conns.Add(1)
		go s.handleConnection(ctx, conn)
	}
}

// handleConnection processes a single control connection
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer s.conns.Done()
	defer conn.Close()

	// Set read deadline to prevent hanging on bad clients
	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		s.log.Warn("failed to set read deadline", zap.Error(err))
		return
	}

	var cmd Command
	if err := json.NewDecoder(conn).Decode(&cmd); err != nil {
		s.sendError(conn, fmt.Sprintf("failed to decode command: %v", err))
		return
	}
	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = time.Now()
	}
	s.log.Debug("control command", zap.String("type", cmd.Type), zap.String("path", cmd.Path))

	resp := s.dispatch(ctx, cmd)
	if err := s.sendResponse(conn, resp); err != nil {
		s.log.Warn("failed to send response", zap.String("type", cmd.Type), zap.Error(err))
	}
}

func (s *Server) dispatch(ctx context.Context, cmd Command) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("control handler panicked", zap.String("type", cmd.Type), zap.Any("panic", r))
			resp = Response{Success: false, Message: "Command failed", Error: fmt.Sprint(r)}
		}
	}()

	if s.handler == nil {
		return Response{
			Success: false,
			Message: "No command handler registered",
			Error:   "server misconfiguration",
		}
	}
	data, err := s.handler(ctx, cmd)
	if err != nil {
		return Response{
			Success: false,
			Message: fmt.Sprintf("Command failed: %v", err),
			Error:   err.Error(),
		}
	}
	resp = Response{
		Success: true,
		Message: fmt.Sprintf("Command '%s' completed successfully", cmd.Type),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Response{Success: false, Message: "Command failed", Error: fmt.Sprintf("encoding result: %v", err)}
		}
		resp.Data = raw
	}
	return resp
}

// sendError sends an error response to the client
func (s *Server) sendError(conn net.Conn, message string) {
	resp := Response{
		Success: false,
		Message: message,
		Error:   message,
	}
	_ = s.sendResponse(conn, resp) // Ignore errors on error path
}

// sendResponse sends a response to the client
func (s *Server) sendResponse(conn net.Conn, resp Response) error {
	return json.NewEncoder(conn).Encode(resp)
}

// Stop stops the control server and waits for open connections to finish.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	close(s.stopCh)

	// Close listener to unblock Accept
	if err := s.listener.Close(); err != nil {
		s.log.Warn("error closing listener", zap.Error(err))
	}

	select {
	case <-s.doneCh:
	case <-time.After(5 * time.Second):
		s.log.Warn("timeout waiting for server shutdown")
	}
	s.conns.Wait()

	if err := os.RemoveAll(s.socketPath); err != nil {
		s.log.Warn("failed to remove socket file", zap.Error(err))
	}
	s.log.Info("control server stopped")
	return nil
}

// IsRunning returns whether the server is currently running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// SocketPath returns the path to the control socket
func (s *Server) SocketPath() string {
	return s.socketPath
}
