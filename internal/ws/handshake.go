package ws

import (
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// wsGUID is the fixed RFC 6455 handshake GUID. The accept key is
// base64(SHA-1(clientKey + wsGUID)).
const wsGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// headEnd terminates an HTTP request head.
const headEnd = "\r\n\r\n"

var (
	ErrMalformedRequest = errors.New("ws: malformed http request")
	// ErrMissingKey reports an upgrade request without Sec-WebSocket-Key.
	// The source behavior is preserved: close the transport, send nothing.
	ErrMissingKey = errors.New("ws: upgrade request without Sec-WebSocket-Key")
)

// Request is the parsed head of an inbound HTTP request. Header names are
// lower-cased at parse time.
type Request struct {
	Method  string
	Path    string
	Headers map[string]string
}

// ParseRequest parses a CRLF-delimited request head (excluding any body).
func ParseRequest(raw []byte) (Request, error) {
	lines := strings.Split(string(raw), "\r\n")
	if len(lines) == 0 {
		return Request{}, ErrMalformedRequest
	}

	parts := strings.Fields(lines[0])
	if len(parts) < 2 {
		return Request{}, ErrMalformedRequest
	}

	req := Request{
		Method:  parts[0],
		Path:    parts[1],
		Headers: make(map[string]string, len(lines)),
	}
	for _, line := range lines[1:] {
		name, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		req.Headers[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}
	return req, nil
}

// IsUpgrade reports whether the request asks for a WebSocket upgrade.
// Anything else falls through to plain HTTP file serving.
func (r Request) IsUpgrade() bool {
	return strings.EqualFold(r.Headers["upgrade"], "websocket")
}

// Key returns the client's Sec-WebSocket-Key, or ErrMissingKey.
func (r Request) Key() (string, error) {
	key := r.Headers["sec-websocket-key"]
	if key == "" {
		return "", ErrMissingKey
	}
	return key, nil
}

// AcceptKey computes the Sec-WebSocket-Accept value for a client key.
func AcceptKey(clientKey string) string {
	sum := sha1.Sum([]byte(strings.TrimSpace(clientKey) + wsGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// UpgradeResponse builds the 101 Switching Protocols response bytes.
func UpgradeResponse(acceptKey string) []byte {
	return []byte(fmt.Sprintf(
		"HTTP/1.1 101 Switching Protocols\r\n"+
			"Upgrade: websocket\r\n"+
			"Connection: Upgrade\r\n"+
			"Sec-WebSocket-Accept: %s\r\n\r\n", acceptKey))
}
