package fxwsock

import (
	"bytes"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// RFC 6455 HTTP upgrade exchange. The request and response cross the chain
// while the frame filter is still in passthrough mode.

// newUpgradeRequest builds a client upgrade request and returns it together
// with the nonce key the response must echo.
func newUpgradeRequest(host, path string) ([]byte, string, error) {
	keyBytes := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, keyBytes); err != nil {
		return nil, "", errors.Wrap(err, "generate websocket key")
	}
	wsKey := base64.StdEncoding.EncodeToString(keyBytes)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "GET %s HTTP/1.1\r\n", path)
	fmt.Fprintf(&buf, "Host: %s\r\n", host)
	buf.WriteString("Upgrade: websocket\r\n")
	buf.WriteString("Connection: Upgrade\r\n")
	fmt.Fprintf(&buf, "Sec-WebSocket-Key: %s\r\n", wsKey)
	buf.WriteString("Sec-WebSocket-Version: 13\r\n")
	buf.WriteString("\r\n")

	return buf.Bytes(), wsKey, nil
}

// buildUpgradeResponse builds the 101 response accepting an upgrade.
func buildUpgradeResponse(clientKey string) []byte {
	var buf bytes.Buffer
	buf.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	buf.WriteString("Upgrade: websocket\r\n")
	buf.WriteString("Connection: Upgrade\r\n")
	fmt.Fprintf(&buf, "Sec-WebSocket-Accept: %s\r\n", computeAcceptKey(clientKey))
	buf.WriteString("\r\n")
	return buf.Bytes()
}

// validateUpgradeResponse checks the server's answer against the sent key.
func validateUpgradeResponse(response []byte, originalKey string) error {
	if !bytes.HasPrefix(response, []byte("HTTP/1.1 101")) {
		return errors.New("expected HTTP 101 response")
	}
	if !bytes.Contains(bytes.ToLower(response), []byte("upgrade: websocket")) {
		return errors.New("missing Upgrade header")
	}
	if !bytes.Contains(response, []byte(computeAcceptKey(originalKey))) {
		return errors.New("invalid Sec-WebSocket-Accept key")
	}
	return nil
}

// parseUpgradeRequest extracts the client key from an upgrade request.
func parseUpgradeRequest(request []byte) (string, error) {
	lines := strings.Split(string(request), "\r\n")
	for _, line := range lines {
		if strings.HasPrefix(strings.ToLower(line), "sec-websocket-key:") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				return strings.TrimSpace(parts[1]), nil
			}
		}
	}
	return "", errors.New("Sec-WebSocket-Key not found")
}

// computeAcceptKey calculates the accept key per RFC 6455.
func computeAcceptKey(clientKey string) string {
	const magicGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
	h := sha1.New()
	h.Write([]byte(clientKey + magicGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
