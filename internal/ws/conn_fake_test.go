package ws

import (
	"bytes"
	"errors"
	"net"
	"sync"
	"time"
)

// fakeTransport is an in-memory net.Conn for registry and hub tests.
type fakeTransport struct {
	mu      sync.Mutex
	written bytes.Buffer
	failing bool
	closed  bool
}

type fakeAddr string

func (a fakeAddr) Network() string { return "tcp" }
func (a fakeAddr) String() string  { return string(a) }

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing || f.closed {
		return 0, errors.New("broken pipe")
	}
	return f.written.Write(p)
}

func (f *fakeTransport) Read(p []byte) (int, error) {
	return 0, errors.New("not implemented")
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) fail() {
	f.mu.Lock()
	f.failing = true
	f.mu.Unlock()
}

func (f *fakeTransport) bytesWritten() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.written.Bytes()...)
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) LocalAddr() net.Addr                { return fakeAddr("local") }
func (f *fakeTransport) RemoteAddr() net.Addr               { return fakeAddr("remote") }
func (f *fakeTransport) SetDeadline(t time.Time) error      { return nil }
func (f *fakeTransport) SetReadDeadline(t time.Time) error  { return nil }
func (f *fakeTransport) SetWriteDeadline(t time.Time) error { return nil }
