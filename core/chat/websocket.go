package chat

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const websocketCloseTimeout = time.Second

// WebsocketInitiator opens chat streams over GET /chat/ws. The request is
// sent as the first text message. The text messages the server sends back are
// concatenated into the same byte stream the HTTP transport reads, so message
// boundaries carry no meaning and a line may span several messages. A normal
// close ends the stream and terminates a last line left without a newline.
type WebsocketInitiator struct {
	url    string
	dialer *websocket.Dialer
}

func NewWebsocketInitiator(baseURL string) (*WebsocketInitiator, error) {
	endpoint, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	switch endpoint.Scheme {
	case "http", "ws":
		endpoint.Scheme = "ws"
	case "https", "wss":
		endpoint.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported base URL scheme %q", endpoint.Scheme)
	}
	endpoint = endpoint.JoinPath("chat", "ws")

	return &WebsocketInitiator{url: endpoint.String(), dialer: websocket.DefaultDialer}, nil
}

func (i *WebsocketInitiator) Open(ctx context.Context, request Request) (io.ReadCloser, error) {
	conn, resp, err := i.dialer.DialContext(ctx, i.url, nil)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			defer resp.Body.Close()
			return nil, newStatusError(resp)
		}
		return nil, fmt.Errorf("failed to open websocket: %w", err)
	}

	if err := conn.WriteJSON(request); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to send chat request: %w", err)
	}

	return newWebsocketStream(ctx, conn), nil
}

// websocketStream adapts a websocket connection to an io.ReadCloser so the
// frame decoder can consume it like any other stream.
type websocketStream struct {
	conn   *websocket.Conn
	reader *io.PipeReader

	stopAfterFunc func() bool
	closeOnce     sync.Once
}

func newWebsocketStream(ctx context.Context, conn *websocket.Conn) *websocketStream {
	reader, writer := io.Pipe()
	s := &websocketStream{conn: conn, reader: reader}
	// Unblocks the pump's ReadMessage on cancellation.
	s.stopAfterFunc = context.AfterFunc(ctx, func() { _ = conn.Close() })

	go s.pump(ctx, writer)

	return s
}

func (s *websocketStream) pump(ctx context.Context, writer *io.PipeWriter) {
	unterminated := false
	for {
		messageType, message, err := s.conn.ReadMessage()
		if err != nil {
			switch {
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				if unterminated {
					_, _ = writer.Write([]byte{'\n'})
				}
				_ = writer.Close()
			case ctx.Err() != nil:
				_ = writer.CloseWithError(ctx.Err())
			default:
				_ = writer.CloseWithError(fmt.Errorf("websocket read failed: %w", err))
			}
			return
		}

		if messageType != websocket.TextMessage {
			logger.Debug("ignoring non-text websocket message", "message_type", messageType)
			continue
		}
		if len(message) == 0 {
			continue
		}
		unterminated = message[len(message)-1] != '\n'
		if _, err := writer.Write(message); err != nil {
			// Reader side closed.
			return
		}
	}
}

func (s *websocketStream) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

func (s *websocketStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.stopAfterFunc()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(websocketCloseTimeout))
		err = s.conn.Close()
		_ = s.reader.Close()
	})
	return err
}
