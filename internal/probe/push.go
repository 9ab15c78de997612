package probe

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Push opens the editor's push websocket and closes it once the handshake
// completes.
type Push struct {
	Path string
}

func (Push) Name() string { return "push" }

func (p Push) Run(ctx context.Context, target Target, timeout time.Duration) Result {
	return run(ctx, p.Name(), timeout, func(ctx context.Context) (string, error) {
		endpoint, err := p.endpoint(target.BaseURL)
		if err != nil {
			return "", err
		}
		header := http.Header{}
		if target.Username != "" {
			cred := base64.StdEncoding.EncodeToString([]byte(target.Username + ":" + target.Password))
			header.Set("Authorization", "Basic "+cred)
		}
		dialer := websocket.Dialer{HandshakeTimeout: timeout}
		conn, resp, err := dialer.DialContext(ctx, endpoint, header)
		if err != nil {
			if resp != nil {
				return "", fmt.Errorf("handshake: status %d: %w", resp.StatusCode, err)
			}
			return "", fmt.Errorf("handshake: %w", err)
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
		return "websocket handshake ok", nil
	})
}

func (p Push) endpoint(base string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid base url %q", base)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	path := p.Path
	if path == "" {
		path = "/rest/push"
	}
	u.Path += path
	q := u.Query()
	q.Set("pushRef", uuid.NewString())
	u.RawQuery = q.Encode()
	return u.String(), nil
}
