package stream

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"nhooyr.io/websocket"
)

const dialTimeout = 10 * time.Second

// EndpointDialer returns a Dialer that connects to the shell endpoint
// for the given session id, e.g. ws://host:port/shell?sessionId=<id>.
func EndpointDialer(endpoint, sessionID string) (Dialer, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("stream: invalid endpoint %q: %w", endpoint, err)
	}
	q := u.Query()
	q.Set("sessionId", sessionID)
	u.RawQuery = q.Encode()
	target := u.String()

	return func(ctx context.Context) (Conn, error) {
		dctx, cancel := context.WithTimeout(ctx, dialTimeout)
		defer cancel()
		conn, _, err := websocket.Dial(dctx, target, nil)
		if err != nil {
			return nil, fmt.Errorf("stream: dial %s: %w", target, err)
		}
		conn.SetReadLimit(1 << 20)
		return conn, nil
	}, nil
}
