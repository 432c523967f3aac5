package eventstreamrpc

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serverSide is the far end of a test channel.
type serverSide interface {
	read() (Frame, error)
	write(frame Frame) error
}

type streamServerSide struct {
	conn   net.Conn
	reader *bufio.Reader
	codec  *FrameCodec
}

func (side *streamServerSide) read() (Frame, error) { return side.codec.ReadFrame(side.reader) }

func (side *streamServerSide) write(frame Frame) error { return side.codec.WriteFrame(side.conn, frame) }

type websocketServerSide struct {
	conn  *websocket.Conn
	codec *FrameCodec
}

func (side *websocketServerSide) read() (Frame, error) {
	_, data, err := side.conn.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	return side.codec.ReadFrame(bytes.NewReader(data))
}

func (side *websocketServerSide) write(frame Frame) error {
	encoded, err := side.codec.EncodeFrame(frame)
	if err != nil {
		return err
	}
	return side.conn.WriteMessage(websocket.BinaryMessage, encoded)
}

// echoScript accepts the handshake, answers PING with PING and answers
// every activation with a terminating test#Response echoing the request.
func echoScript(side serverSide) {
	first, err := side.read()
	if err != nil || first.Type != MessageTypeConnect {
		return
	}
	if err := side.write(Frame{MessageArgs: MessageArgs{Type: MessageTypeConnectAck, Flags: MessageFlagConnectionAccepted}}); err != nil {
		return
	}
	for {
		frame, err := side.read()
		if err != nil {
			return
		}
		switch {
		case frame.Type == MessageTypePing:
			err = side.write(Frame{MessageArgs: MessageArgs{Type: MessageTypePing, Payload: frame.Payload}})
		case frame.StreamID != 0 && frame.Operation != "":
			response := modeledMessage("test#Response", string(frame.Payload), MessageTypeApplicationMessage, MessageFlagTerminateStream)
			err = side.write(Frame{MessageArgs: response, StreamID: frame.StreamID})
		}
		if err != nil {
			return
		}
	}
}

// serveListener runs echoScript on the first connection accepted.
func serveListener(t *testing.T, listener net.Listener) *sync.WaitGroup {
	t.Helper()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		echoScript(&streamServerSide{conn: conn, reader: bufio.NewReader(conn), codec: NewFrameCodec()})
	}()
	return &wg
}

func newTestSocketEngine(t *testing.T) *SocketEngine {
	t.Helper()
	engine, err := NewSocketEngine(SocketEngineOptions{EventLoops: 2, DialWorkers: 2})
	require.NoError(t, err)
	return engine
}

func waitFor[T any](t *testing.T, future *Future[T]) T {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	value, err := future.Get(ctx)
	require.NoError(t, err)
	return value
}

func (handler *recordingHandler) pingCount() int {
	handler.lock.Lock()
	defer handler.lock.Unlock()
	return len(handler.pings)
}

// exerciseEcho runs a full session against an echoScript server.
func exerciseEcho(t *testing.T, config *ConnectionConfig) {
	t.Helper()
	handler := &recordingHandler{}
	connection := NewClientConnection()

	result := waitFor(t, connection.Connect(config, handler))
	require.True(t, result.OK(), "connect: %v", result)
	assert.True(t, connection.IsOpen())

	operation := NewClientOperation(connection, testOperationModel(), nil)
	flushed := waitFor(t, operation.Activate(&testRequest{Value: "echo"}, nil))
	assert.True(t, flushed.OK())
	response := waitFor(t, operation.GetResult())
	require.True(t, response.OK(), "response: %v", response.RpcError())
	assert.Equal(t, &testResponse{Value: "echo"}, response.OperationResponse())
	assert.Eventually(t, operation.IsClosed, 5*time.Second, 5*time.Millisecond)

	ping := waitFor(t, connection.SendPing(nil, []byte("hi"), nil))
	assert.True(t, ping.OK())
	assert.Eventually(t, func() bool { return handler.pingCount() == 1 }, 5*time.Second, 5*time.Millisecond)

	connection.Close()
	assert.Eventually(t, func() bool {
		_, disconnects, _ := handler.snapshot()
		return len(disconnects) == 1
	}, 5*time.Second, 5*time.Millisecond)
	_, disconnects, _ := handler.snapshot()
	assert.True(t, disconnects[0].OK(), "a requested close disconnects cleanly: %v", disconnects[0])

	operation.ShutDown()
	connection.Shutdown()
	select {
	case <-connection.Idle():
	case <-time.After(5 * time.Second):
		t.Fatalf("connection never became idle")
	}
	select {
	case <-operation.Idle():
	case <-time.After(5 * time.Second):
		t.Fatalf("operation never became idle")
	}
}

func TestSocketEngineTCP(t *testing.T) {
	engine := newTestSocketEngine(t)
	defer engine.Close()

	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	served := serveListener(t, listener)

	config := &ConnectionConfig{
		HostName:      "127.0.0.1",
		SocketOptions: SocketOptions{ConnectTimeout: 2 * time.Second},
		Engine:        engine,
	}
	config.SetPort(uint16(listener.Addr().(*net.TCPAddr).Port))

	exerciseEcho(t, config)
	served.Wait()
}

func TestSocketEngineUnixSocket(t *testing.T) {
	engine := newTestSocketEngine(t)
	defer engine.Close()

	dir, err := os.MkdirTemp("", "esrpc")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "ipc.socket")

	listener, err := net.Listen("unix", path)
	require.NoError(t, err)
	defer listener.Close()
	served := serveListener(t, listener)

	config := &ConnectionConfig{
		HostName:      path,
		SocketOptions: SocketOptions{Domain: SocketDomainLocal, ConnectTimeout: 2 * time.Second},
		Engine:        engine,
	}
	config.SetPort(0)

	exerciseEcho(t, config)
	served.Wait()
}

func TestSocketEngineWebsocket(t *testing.T) {
	engine := newTestSocketEngine(t)
	defer engine.Close()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	handled := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		defer close(handled)
		if request.URL.Path != "/rpc" {
			http.NotFound(writer, request)
			return
		}
		conn, err := upgrader.Upgrade(writer, request, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		echoScript(&websocketServerSide{conn: conn, codec: NewFrameCodec()})
	}))
	defer server.Close()

	address, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(address.Port())
	require.NoError(t, err)

	config := &ConnectionConfig{
		HostName:      address.Hostname(),
		SocketOptions: SocketOptions{ConnectTimeout: 2 * time.Second, WebSocketPath: "rpc"},
		Engine:        engine,
	}
	config.SetPort(uint16(port))

	exerciseEcho(t, config)
	<-handled
}

func TestSocketEngineDialFailure(t *testing.T) {
	engine := newTestSocketEngine(t)
	defer engine.Close()

	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())

	config := &ConnectionConfig{HostName: "127.0.0.1", Engine: engine}
	config.SetPort(uint16(port))
	connection := NewClientConnection()

	result := waitFor(t, connection.Connect(config, &recordingHandler{}))
	assert.Equal(t, StatusConnectionSetupFailed, result.StatusCode)
	assert.Equal(t, EngineErrorSocketError, result.CrtError)
	assert.False(t, connection.IsOpen())
}

func TestSocketEngineDialPoolExhausted(t *testing.T) {
	engine, err := NewSocketEngine(SocketEngineOptions{EventLoops: 1, DialWorkers: 1})
	require.NoError(t, err)
	defer engine.Close()

	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		if conn, err := listener.Accept(); err == nil {
			accepted <- conn
		}
	}()

	// The websocket handshake never gets an answer, so the only dial worker
	// stays busy until the server side closes.
	config := &ConnectionConfig{HostName: "127.0.0.1", Engine: engine, SocketOptions: SocketOptions{WebSocketPath: "/stalled"}}
	config.SetPort(uint16(listener.Addr().(*net.TCPAddr).Port))
	stalled := NewClientConnection()
	pending := stalled.Connect(config, &recordingHandler{})

	var serverConn net.Conn
	select {
	case serverConn = <-accepted:
	case <-time.After(5 * time.Second):
		t.Fatal("the first dial never reached the server")
	}

	rejected := NewClientConnection()
	result, ok := rejected.Connect(config, &recordingHandler{}).TryGet()
	require.True(t, ok, "Connect resolves at once when no dial worker is free")
	assert.Equal(t, StatusConnectionSetupFailed, result.StatusCode)
	assert.Equal(t, EngineErrorSocketError, result.CrtError)
	assert.False(t, rejected.IsOpen())

	require.NoError(t, serverConn.Close())
	result = waitFor(t, pending)
	assert.Equal(t, StatusConnectionSetupFailed, result.StatusCode)
}

func TestSocketEngineSetupAfterLoopsStopped(t *testing.T) {
	engine := newTestSocketEngine(t)
	defer engine.Close()
	engine.loops.Stop()

	closedPort, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	port := closedPort.Addr().(*net.TCPAddr).Port
	require.NoError(t, closedPort.Close())

	config := &ConnectionConfig{HostName: "127.0.0.1", Engine: engine}
	config.SetPort(uint16(port))
	result := waitFor(t, NewClientConnection().Connect(config, &recordingHandler{}))
	assert.Equal(t, StatusConnectionSetupFailed, result.StatusCode)
	assert.Equal(t, EngineErrorSocketError, result.CrtError)

	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	served := serveListener(t, listener)

	config.SetPort(uint16(listener.Addr().(*net.TCPAddr).Port))
	result = waitFor(t, NewClientConnection().Connect(config, &recordingHandler{}))
	assert.Equal(t, StatusConnectionSetupFailed, result.StatusCode)
	assert.Equal(t, EngineErrorConnectionClosed, result.CrtError)
	served.Wait()
}

func TestSocketEngineServerHangUp(t *testing.T) {
	engine := newTestSocketEngine(t)
	defer engine.Close()

	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		side := &streamServerSide{conn: conn, reader: bufio.NewReader(conn), codec: NewFrameCodec()}
		if _, err := side.read(); err == nil {
			_ = side.write(Frame{MessageArgs: MessageArgs{Type: MessageTypeConnectAck, Flags: MessageFlagConnectionAccepted}})
		}
		_ = conn.Close()
	}()

	config := &ConnectionConfig{HostName: "127.0.0.1", Engine: engine}
	config.SetPort(uint16(listener.Addr().(*net.TCPAddr).Port))
	handler := &recordingHandler{}
	connection := NewClientConnection()

	result := waitFor(t, connection.Connect(config, handler))
	require.True(t, result.OK())
	assert.Eventually(t, func() bool {
		_, disconnects, _ := handler.snapshot()
		return len(disconnects) == 1
	}, 5*time.Second, 5*time.Millisecond)
	_, disconnects, _ := handler.snapshot()
	assert.Equal(t, crtError(EngineErrorConnectionClosed), disconnects[0])
	wg.Wait()
}

func TestSocketEngineRejectsBadArguments(t *testing.T) {
	engine := newTestSocketEngine(t)
	callbacks := ConnectionCallbacks{OnSetup: func(NativeConnection, int) {}, OnShutdown: func(NativeConnection, int) {}}

	err := engine.Connect(ConnectOptions{}, callbacks)
	assert.Equal(t, EngineErrorInvalidArgument, engineErrorCode(err))
	err = engine.Connect(ConnectOptions{HostName: "127.0.0.1"}, ConnectionCallbacks{})
	assert.Equal(t, EngineErrorInvalidArgument, engineErrorCode(err))

	engine.Close()
	engine.Close()
	err = engine.Connect(ConnectOptions{HostName: "127.0.0.1"}, callbacks)
	assert.Equal(t, EngineErrorConnectionClosed, engineErrorCode(err))
}

func TestReadErrorCode(t *testing.T) {
	assert.Equal(t, EngineErrorConnectionClosed, readErrorCode(net.ErrClosed))
	assert.Equal(t, EngineErrorProtocol, readErrorCode(NewEngineError(EngineErrorProtocol, "decode frame")))
	assert.Equal(t, EngineErrorConnectionClosed, readErrorCode(&websocket.CloseError{Code: websocket.CloseNormalClosure}))
	assert.Equal(t, EngineErrorSocketError, readErrorCode(assert.AnError))
}

func TestSocketAddress(t *testing.T) {
	assert.Equal(t, "127.0.0.1:8033", socketAddress(ConnectOptions{HostName: "127.0.0.1", Port: 8033}))
	assert.Equal(t, "[::1]:8033", socketAddress(ConnectOptions{HostName: "::1", Port: 8033, SocketOptions: SocketOptions{Domain: SocketDomainIPv6}}))
	assert.Equal(t, "/tmp/ipc.socket", socketAddress(ConnectOptions{HostName: "/tmp/ipc.socket", SocketOptions: SocketOptions{Domain: SocketDomainLocal}}))
	assert.Equal(t, "tcp4", socketNetwork(SocketDomainIPv4))
	assert.Equal(t, "unix", socketNetwork(SocketDomainLocal))
}
