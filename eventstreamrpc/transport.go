package eventstreamrpc

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// frameTransport moves whole frames over a dialed channel. ReadFrame is
// called from a single goroutine; WriteFrame may race with it.
type frameTransport interface {
	ReadFrame() (Frame, error)
	WriteFrame(frame Frame) error
	Close() error
	RemoteAddr() string
}

// streamTransport carries the event-stream encoding back to back on a
// byte stream: plain TCP, TLS, or a unix domain socket.
type streamTransport struct {
	conn   net.Conn
	reader *bufio.Reader
	codec  *FrameCodec
}

func newStreamTransport(conn net.Conn) *streamTransport {
	return &streamTransport{conn: conn, reader: bufio.NewReaderSize(conn, 32*1024), codec: NewFrameCodec()}
}

func (transport *streamTransport) ReadFrame() (Frame, error) {
	return transport.codec.ReadFrame(transport.reader)
}

func (transport *streamTransport) WriteFrame(frame Frame) error {
	return transport.codec.WriteFrame(transport.conn, frame)
}

func (transport *streamTransport) Close() error { return transport.conn.Close() }

func (transport *streamTransport) RemoteAddr() string { return transport.conn.RemoteAddr().String() }

// websocketTransport carries one encoded frame per binary websocket message.
type websocketTransport struct {
	conn      *websocket.Conn
	codec     *FrameCodec
	writeLock sync.Mutex
}

func newWebsocketTransport(conn *websocket.Conn) *websocketTransport {
	return &websocketTransport{conn: conn, codec: NewFrameCodec()}
}

func (transport *websocketTransport) ReadFrame() (Frame, error) {
	for {
		messageType, data, err := transport.conn.ReadMessage()
		if err != nil {
			return Frame{}, err
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		return transport.codec.ReadFrame(bytes.NewReader(data))
	}
}

func (transport *websocketTransport) WriteFrame(frame Frame) error {
	encoded, err := transport.codec.EncodeFrame(frame)
	if err != nil {
		return err
	}
	transport.writeLock.Lock()
	defer transport.writeLock.Unlock()
	return transport.conn.WriteMessage(websocket.BinaryMessage, encoded)
}

func (transport *websocketTransport) Close() error {
	transport.writeLock.Lock()
	_ = transport.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	transport.writeLock.Unlock()
	return transport.conn.Close()
}

func (transport *websocketTransport) RemoteAddr() string {
	return transport.conn.RemoteAddr().String()
}

func socketNetwork(domain SocketDomain) string {
	switch domain {
	case SocketDomainIPv6:
		return "tcp6"
	case SocketDomainLocal:
		return "unix"
	}
	return "tcp4"
}

func socketAddress(options ConnectOptions) string {
	if options.SocketOptions.Domain == SocketDomainLocal {
		return options.HostName
	}
	return net.JoinHostPort(options.HostName, strconv.Itoa(int(options.Port)))
}

func tlsClientConfig(options ConnectOptions) *tls.Config {
	if options.TLSConfig == nil {
		return nil
	}
	config := options.TLSConfig.Clone()
	if config.ServerName == "" && options.SocketOptions.Domain != SocketDomainLocal {
		config.ServerName = options.HostName
	}
	return config
}

// dialTransport opens the channel described by options.
func dialTransport(ctx context.Context, options ConnectOptions) (frameTransport, error) {
	if options.HostName == "" {
		return nil, NewEngineError(EngineErrorInvalidArgument, "dial", errors.New("host name is required"))
	}
	dialer := &net.Dialer{
		Timeout:   options.SocketOptions.ConnectTimeout,
		KeepAlive: options.SocketOptions.KeepAlive,
	}
	network := socketNetwork(options.SocketOptions.Domain)
	address := socketAddress(options)

	if options.SocketOptions.WebSocketPath != "" {
		return dialWebsocket(ctx, dialer, network, address, options)
	}

	if config := tlsClientConfig(options); config != nil {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: config}
		conn, err := tlsDialer.DialContext(ctx, network, address)
		if err != nil {
			return nil, NewEngineError(dialErrorCode(err, true), "dial tls", err)
		}
		return newStreamTransport(conn), nil
	}

	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, NewEngineError(dialErrorCode(err, false), "dial", err)
	}
	return newStreamTransport(conn), nil
}

func dialWebsocket(ctx context.Context, dialer *net.Dialer, network string, address string, options ConnectOptions) (frameTransport, error) {
	target := url.URL{Scheme: "ws", Host: address, Path: "/" + strings.TrimPrefix(options.SocketOptions.WebSocketPath, "/")}
	config := tlsClientConfig(options)
	if config != nil {
		target.Scheme = "wss"
	}
	if options.SocketOptions.Domain == SocketDomainLocal {
		target.Host = "localhost"
	}

	wsDialer := &websocket.Dialer{
		HandshakeTimeout: options.SocketOptions.ConnectTimeout,
		TLSClientConfig:  config,
		NetDialContext: func(ctx context.Context, _ string, _ string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, address)
		},
	}
	conn, _, err := wsDialer.DialContext(ctx, target.String(), nil)
	if err != nil {
		return nil, NewEngineError(dialErrorCode(err, config != nil), "dial websocket", err)
	}
	return newWebsocketTransport(conn), nil
}

func dialErrorCode(err error, secure bool) int {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return EngineErrorConnectTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return EngineErrorConnectTimeout
	}
	var opErr *net.OpError
	if secure && !errors.As(err, &opErr) {
		return EngineErrorTLSNegotiation
	}
	return EngineErrorSocketError
}

// readErrorCode maps the error that ended a read loop onto an engine code.
func readErrorCode(err error) int {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Code
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return EngineErrorConnectionClosed
	}
	return EngineErrorSocketError
}
