package flash

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// WebSocketTransport is a Transport to a serial port exposed by a network
// bridge. Every frame in either direction is a binary message carrying raw
// bytes of the serial stream.
type WebSocketTransport struct {
	conn *websocket.Conn
	rx   *rxQueue
}

// WebSocketOptions configures DialWebSocket
type WebSocketOptions struct {
	Username      string
	Password      string
	SkipSSLVerify bool
}

// DialWebSocket connects to a bridge at the ws:// or wss:// URL provided
func DialWebSocket(wsURL string, opts WebSocketOptions) (*WebSocketTransport, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid bridge url")
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, errors.Errorf("unsupported url scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: opts.SkipSSLVerify,
		}
	}

	headers := http.Header{}
	if opts.Username != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(opts.Username + ":" + opts.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "bridge connection failed (HTTP %d)", resp.StatusCode)
		}
		return nil, errors.Wrap(err, "bridge connection failed")
	}

	wt := &WebSocketTransport{
		conn: conn,
		rx:   newRxQueue(),
	}
	go wt.loop()

	logrus.Debugf("bridge open: %s", wsURL)

	return wt, nil
}

// loop queues the payload of every binary message until the connection fails
func (wt *WebSocketTransport) loop() {
	for {
		mt, data, err := wt.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				err = ErrClosed
			} else {
				logrus.Error("bridge rx err: ", err.Error())
			}
			wt.rx.fail(&TransportError{Op: "read", Err: err})
			return
		}

		if mt != websocket.BinaryMessage || len(data) == 0 {
			continue
		}

		logrus.Debugf("avr rx: %x", data)
		wt.rx.push(data)
	}
}

func (wt *WebSocketTransport) Write(bs []byte) error {
	if err := wt.conn.WriteMessage(websocket.BinaryMessage, bs); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	logrus.Debugf("avr tx: %x", bs)
	return nil
}

func (wt *WebSocketTransport) Read(n int) ([]byte, error) {
	return wt.rx.readN(n)
}

func (wt *WebSocketTransport) SetTimeout(to time.Duration) {
	wt.rx.timeout = to
}

// Close sends a close frame and tears down the connection
func (wt *WebSocketTransport) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = wt.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return wt.conn.Close()
}
