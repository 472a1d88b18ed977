// Package ipc is the daemon's unix socket control interface.
//
// Protocol: line-delimited JSON.
//   - Client sends: {"type": "samples", "samples": [...]}
//     or {"type": "command", "command": {...}}, {"type": "neutral"}, {"type": "status"}
//   - Server responds: {"status": "ok"} or {"status": "error", "error": "msg"};
//     "status" requests carry the snapshot in "data".
package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"padbridge/internal/sample"
)

// Request types.
const (
	TypeSamples = "samples"
	TypeCommand = "command"
	TypeNeutral = "neutral"
	TypeStatus  = "status"
)

// Response statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// maxLine bounds one request line; a full sample batch fits comfortably.
const maxLine = 1 << 20

// Request is one client line.
type Request struct {
	Type    string              `json:"type"`
	Samples []*sample.RawSample `json:"samples,omitempty"`
	Command *sample.Command     `json:"command,omitempty"`
}

// Response is the reply to one Request.
type Response struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Target receives producer traffic from IPC clients.
type Target interface {
	Ingest(batch []*sample.RawSample)
	Submit(cmd sample.Command)
}

// Server accepts IPC connections on a unix socket.
type Server struct {
	socketPath string
	target     Target
	status     func() any
	logger     *slog.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewServer builds a server. status may be nil, in which case "status"
// requests are rejected.
func NewServer(socketPath string, target Target, status func() any, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		target:     target,
		status:     status,
		logger:     logger,
	}
}

// Listen creates the socket, replacing a stale one left by a previous run.
func (s *Server) Listen() error {
	if err := os.RemoveAll(s.socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	l, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}

	// Make socket accessible to local tools running as other users.
	if err := os.Chmod(s.socketPath, 0666); err != nil {
		_ = l.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}

	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	s.logger.Info("IPC listening", "socket", s.socketPath)
	return nil
}

// Serve accepts connections until ctx is canceled. Listen must have succeeded.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return errors.New("ipc: Serve called before Listen")
	}
	defer os.Remove(s.socketPath)
	defer l.Close()

	// Close the listener on shutdown. This unblocks Accept().
	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.logger.Debug("IPC listener closed")
				return nil
			}
			s.logger.Error("IPC accept error", "error", err)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	s.logger.Debug("IPC connection", "remote_addr", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxLine)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		resp := s.Handle([]byte(line))
		if resp.Status != StatusOK {
			s.logger.Debug("IPC request rejected", "error", resp.Error)
		}
		if err := encoder.Encode(resp); err != nil {
			s.logger.Error("IPC failed to send response", "error", err)
			return
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		s.logger.Debug("IPC connection read error", "error", err)
	}

	s.logger.Debug("IPC connection closed")
}

// Handle executes one request line and returns the reply.
func (s *Server) Handle(line []byte) Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return errorResponse(fmt.Errorf("parse request: %w", err))
	}

	switch req.Type {
	case TypeSamples:
		// An empty batch is a valid no-op for the target.
		s.target.Ingest(req.Samples)
	case TypeCommand:
		if req.Command == nil {
			return errorResponse(errors.New("command: missing command"))
		}
		s.target.Submit(*req.Command)
	case TypeNeutral:
		s.target.Submit(sample.Neutral)
	case TypeStatus:
		if s.status == nil {
			return errorResponse(errors.New("status: not available"))
		}
		data, err := json.Marshal(s.status())
		if err != nil {
			return errorResponse(fmt.Errorf("status: %w", err))
		}
		return Response{Status: StatusOK, Data: data}
	default:
		return errorResponse(fmt.Errorf("unknown request type %q", req.Type))
	}
	return Response{Status: StatusOK}
}

func errorResponse(err error) Response {
	return Response{Status: StatusError, Error: err.Error()}
}

// Send delivers one request to the daemon and returns its response.
// A response with status "error" is returned as an error.
func Send(socketPath string, req Request, timeout time.Duration) (Response, error) {
	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return Response{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}

	data, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != StatusOK {
		return resp, fmt.Errorf("ipc error: %s", resp.Error)
	}
	return resp, nil
}
