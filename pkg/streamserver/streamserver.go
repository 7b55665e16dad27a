//go:build cgo

// Package streamserver serves the live annotated frame to any number
// of TCP clients as a multipart-image byte stream, per spec.md §4.5.
// It deliberately uses raw net.Listener/net.Conn rather than net/http:
// it writes a fixed, hand-built HTTP/1.1 response preamble and then the
// multipart frames straight to the socket, without reading the request,
// mirroring the original program's raw socket server.
package streamserver

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/objectsentry/objectsentry/internal/logging"
)

const (
	jpegQuality   = 80
	clientSendInterval = 100 * time.Millisecond
	noFrameRetryInterval = 100 * time.Millisecond
)

const preamble = "HTTP/1.1 200 OK\r\n" +
	"Content-Type: multipart/x-mixed-replace; boundary=frame\r\n" +
	"Cache-Control: no-cache\r\n" +
	"Connection: keep-alive\r\n" +
	"\r\n"

// Server is the Stream Server: a TCP listener plus a broadcast cell
// holding the most recently annotated frame.
type Server struct {
	port   int
	logger *logging.Logger

	mu       sync.Mutex
	listener net.Listener
	running  bool
	wg       sync.WaitGroup

	clientsMu sync.Mutex
	clients   map[net.Conn]struct{}

	frameMu sync.Mutex
	frame   gocv.Mat
	hasFrame bool
}

// New creates a Server bound to port once Initialize is called.
func New(port int, logger *logging.Logger) *Server {
	return &Server{
		port:    port,
		logger:  logger,
		clients: make(map[net.Conn]struct{}),
	}
}

// Initialize binds and listens on the configured port, with address
// reuse so rapid restarts do not fail.
func (s *Server) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bindLocked()
}

// bindLocked binds the listening socket if one isn't already open.
// Caller must hold mu. Re-invoked by Start on each restart cycle since
// Stop releases the listener.
func (s *Server) bindLocked() error {
	if s.listener != nil {
		return nil
	}

	lc := net.ListenConfig{Control: setReuseAddr}
	ln, err := lc.Listen(context.Background(), "tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("binding stream server to port %d: %w", s.port, err)
	}
	s.listener = ln
	return nil
}

// Start spawns the accept loop, (re)binding the listening socket if a
// prior Stop released it. Starting an already-running server is a
// no-op.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if err := s.bindLocked(); err != nil {
		return err
	}

	s.running = true
	s.wg.Add(1)
	go s.acceptLoop()

	if s.logger != nil {
		s.logger.Infof("stream server listening on port %d, path /stream", s.port)
	}
	return nil
}

// IsRunning reports whether the accept loop is active.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			stopped := !s.running
			s.mu.Unlock()
			if stopped {
				return
			}
			if s.logger != nil {
				s.logger.Warnf("stream server accept error: %v", err)
			}
			continue
		}

		s.clientsMu.Lock()
		s.clients[conn] = struct{}{}
		s.clientsMu.Unlock()

		s.wg.Add(1)
		go s.serveClient(conn)
	}
}

// serveClient writes the preamble then loops sending the broadcast
// frame until the client disconnects or the server stops.
func (s *Server) serveClient(conn net.Conn) {
	defer s.wg.Done()
	defer s.evict(conn)

	if _, err := conn.Write([]byte(preamble)); err != nil {
		return
	}

	for {
		s.mu.Lock()
		running := s.running
		s.mu.Unlock()
		if !running {
			return
		}

		frame, ok := s.currentFrame()
		if !ok {
			time.Sleep(noFrameRetryInterval)
			continue
		}

		buf, err := gocv.IMEncodeWithParams(".jpg", frame, []int{gocv.IMWriteJpegQuality, jpegQuality})
		frame.Close()
		if err != nil {
			continue
		}

		header := fmt.Sprintf("--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", buf.Len())
		if _, err := conn.Write([]byte(header)); err != nil {
			buf.Close()
			return
		}
		if _, err := conn.Write(buf.GetBytes()); err != nil {
			buf.Close()
			return
		}
		buf.Close()
		if _, err := conn.Write([]byte("\r\n")); err != nil {
			return
		}

		time.Sleep(clientSendInterval)
	}
}

func (s *Server) evict(conn net.Conn) {
	conn.Close()
	s.clientsMu.Lock()
	delete(s.clients, conn)
	s.clientsMu.Unlock()
}

// UpdateFrame replaces the broadcast cell's contents. The caller
// retains ownership of frame; UpdateFrame clones it.
func (s *Server) UpdateFrame(frame gocv.Mat) {
	s.frameMu.Lock()
	defer s.frameMu.Unlock()

	if s.hasFrame {
		s.frame.Close()
	}
	s.frame = frame.Clone()
	s.hasFrame = true
}

// currentFrame returns a clone of the broadcast cell, or ok=false if
// no frame has been published yet.
func (s *Server) currentFrame() (gocv.Mat, bool) {
	s.frameMu.Lock()
	defer s.frameMu.Unlock()

	if !s.hasFrame {
		return gocv.Mat{}, false
	}
	return s.frame.Clone(), true
}

// ClientCount reports the number of currently-connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	return len(s.clients)
}

// Stop closes the listener (unblocking Accept), closes every client
// socket, and joins every goroutine. Stopping a server that was never
// started is a no-op.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	listener := s.listener
	s.listener = nil
	s.mu.Unlock()

	if listener != nil {
		listener.Close()
	}

	s.clientsMu.Lock()
	for conn := range s.clients {
		conn.Close()
	}
	s.clientsMu.Unlock()

	s.wg.Wait()

	s.frameMu.Lock()
	if s.hasFrame {
		s.frame.Close()
		s.hasFrame = false
	}
	s.frameMu.Unlock()

	if s.logger != nil {
		s.logger.Infof("stream server stopped")
	}
}
