package ws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"thermoscope/internal/logging"
	"thermoscope/internal/statics"
	"thermoscope/internal/wire"
)

const (
	// handshakeWait bounds how long a fresh transport may take to deliver
	// its request head before being dropped.
	handshakeWait = 10 * time.Second

	// maxHeadBytes bounds the buffered request head.
	maxHeadBytes = 8 << 10

	readChunk = 1024
)

// ServerConfig tunes the raw-TCP WebSocket listener.
type ServerConfig struct {
	Addr          string
	MaxFrameBytes int
}

// Server owns the listener and the per-connection read loops. Each accepted
// transport gets its own goroutine, so a slow handshake or a blocking read on
// one connection never stalls the others.
type Server struct {
	cfg      ServerConfig
	registry *Registry
	hub      *Hub
	files    statics.Source
	codec    wire.Codec

	mu       sync.Mutex
	listener net.Listener
	closed   bool
	wg       sync.WaitGroup
}

func NewServer(cfg ServerConfig, registry *Registry, hub *Hub, files statics.Source) *Server {
	return &Server{
		cfg:      cfg,
		registry: registry,
		hub:      hub,
		files:    files,
		codec:    wire.Codec{MaxPayload: cfg.MaxFrameBytes},
	}
}

// ListenAndServe binds the listener and accepts until ctx is cancelled or
// Shutdown is called. Only a bind failure is fatal; every per-connection
// error is contained at the connection boundary.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.cfg.Addr, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = listener.Close()
		return nil
	}
	s.listener = listener
	s.mu.Unlock()

	logging.L().Infof("websocket server listening on %s", listener.Addr())

	go func() {
		<-ctx.Done()
		s.Shutdown()
	}()

	for {
		transport, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			logging.L().Warnf("accept: %v", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleTransport(transport)
		}()
	}
}

// Addr reports the bound listener address (useful with ":0" in tests).
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown closes the listener and every registered connection, then waits
// for connection goroutines to drain.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	listener := s.listener
	s.mu.Unlock()

	if listener != nil {
		_ = listener.Close()
	}
	s.registry.CloseAll()
	s.wg.Wait()
}

// handleTransport runs the whole lifecycle of one accepted transport:
// handshake classification, admission, then the frame read loop. The
// transport is closed on every exit path that did not hand ownership to the
// registry.
func (s *Server) handleTransport(transport net.Conn) {
	head, leftover, err := s.readRequestHead(transport)
	if err != nil {
		logging.L().Debugf("request head from %s: %v", transport.RemoteAddr(), err)
		_ = transport.Close()
		return
	}

	req, err := ParseRequest(head)
	if err != nil {
		s.writeHTTPError(transport, 400, "Bad Request")
		_ = transport.Close()
		return
	}

	if !req.IsUpgrade() {
		s.serveHTTP(transport, req)
		_ = transport.Close()
		return
	}

	key, err := req.Key()
	if err != nil {
		// Preserved minimal behavior: no response, just close.
		logging.L().Warnf("upgrade from %s without Sec-WebSocket-Key", transport.RemoteAddr())
		_ = transport.Close()
		return
	}

	conn, err := s.registry.Admit(transport)
	if errors.Is(err, ErrCapacity) {
		logging.L().Warnf("rejecting %s: %v", transport.RemoteAddr(), err)
		s.writeHTTPError(transport, 503, "Service Unavailable")
		_ = transport.Close()
		return
	}

	if err := conn.Write(UpgradeResponse(AcceptKey(key))); err != nil {
		logging.L().Warnf("client %d: handshake response failed: %v", conn.ID, err)
		s.registry.Remove(conn.ID)
		return
	}

	logging.L().Infof("client %d connected from %s (%d/%d)",
		conn.ID, conn.RemoteAddr, s.registry.Len(), s.registry.Max())

	if err := s.hub.SendWelcome(conn); err != nil {
		logging.L().Warnf("client %d: welcome failed: %v", conn.ID, err)
		s.registry.Remove(conn.ID)
		return
	}

	s.readLoop(conn, transport, leftover)
}

// readLoop buffers transport reads and decodes as many complete frames as
// are available; a single read may carry a partial frame or several frames.
func (s *Server) readLoop(conn *Conn, transport net.Conn, buf []byte) {
	chunk := make([]byte, readChunk)

	for {
		for len(buf) > 0 {
			frame, consumed, err := s.codec.Decode(buf)
			if errors.Is(err, wire.ErrIncomplete) {
				break
			}
			if err != nil {
				logging.L().Warnf("client %d: %v", conn.ID, err)
				s.registry.Remove(conn.ID)
				return
			}
			buf = buf[consumed:]
			conn.addReceived(consumed)

			if err := s.hub.HandleFrame(conn, frame); err != nil {
				if !errors.Is(err, ErrConnClosed) {
					logging.L().Warnf("client %d: %v", conn.ID, err)
					s.registry.Remove(conn.ID)
				}
				return
			}
		}

		_ = transport.SetReadDeadline(time.Time{})
		n, err := transport.Read(chunk)
		if err != nil {
			// EOF, reset or eviction by another goroutine; Remove is
			// idempotent either way.
			logging.L().Debugf("client %d read ended: %v", conn.ID, err)
			s.registry.Remove(conn.ID)
			return
		}
		buf = append(buf, chunk[:n]...)
	}
}

// readRequestHead reads until the CRLFCRLF terminator and returns the head
// plus any extra bytes already received past it.
func (s *Server) readRequestHead(transport net.Conn) ([]byte, []byte, error) {
	_ = transport.SetReadDeadline(time.Now().Add(handshakeWait))
	defer func() { _ = transport.SetReadDeadline(time.Time{}) }()

	var buf []byte
	chunk := make([]byte, readChunk)
	for {
		n, err := transport.Read(chunk)
		if err != nil {
			return nil, nil, err
		}
		buf = append(buf, chunk[:n]...)

		if i := bytes.Index(buf, []byte(headEnd)); i >= 0 {
			return buf[:i], buf[i+len(headEnd):], nil
		}
		if len(buf) > maxHeadBytes {
			return nil, nil, fmt.Errorf("request head exceeds %d bytes", maxHeadBytes)
		}
	}
}

// serveHTTP answers a non-upgrade request from the static file source.
func (s *Server) serveHTTP(transport net.Conn, req Request) {
	if req.Method != "GET" {
		s.writeHTTPError(transport, 405, "Method Not Allowed")
		return
	}

	content, contentType, err := s.files.Get(req.Path)
	if err != nil {
		logging.L().Debugf("static file %s: %v", req.Path, err)
		s.writeHTTPError(transport, 404, "Not Found")
		return
	}

	s.writeHTTPResponse(transport, 200, "OK", contentType, content)
}

func (s *Server) writeHTTPError(transport net.Conn, status int, message string) {
	body := fmt.Sprintf("<!DOCTYPE html>\n<html>\n<head><title>%d %s</title></head>\n<body><h1>%d %s</h1></body>\n</html>",
		status, message, status, message)
	s.writeHTTPResponse(transport, status, message, "text/html; charset=utf-8", []byte(body))
}

func (s *Server) writeHTTPResponse(transport net.Conn, status int, message, contentType string, body []byte) {
	header := fmt.Sprintf(
		"HTTP/1.1 %d %s\r\n"+
			"Content-Type: %s\r\n"+
			"Content-Length: %d\r\n"+
			"Connection: close\r\n\r\n",
		status, message, contentType, len(body))

	_ = transport.SetWriteDeadline(time.Now().Add(writeWait))
	if _, err := transport.Write(append([]byte(header), body...)); err != nil {
		logging.L().Debugf("http response to %s: %v", transport.RemoteAddr(), err)
	}
}
