package echotest

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Thejuampi/eventstreamrpc-go/eventstreamrpc"
)

// ClientNameHeader is the CONNECT header the server authorizes on.
const ClientNameHeader = "client-name"

const acceptedClientPrefix = "accepted."

const unsupportedOperationModel = "aws#UnsupportedOperation"

// Messages of the errors the server raises on purpose.
const (
	CauseServiceErrorMessage       = "Intentionally thrown ServiceError"
	CauseStreamServiceErrorMessage = "Intentionally caused ServiceError on stream"
)

// Server is an in-process echo service. It accepts raw event-stream
// connections from Serve and websocket connections through ServeHTTP.
type Server struct {
	log      *logrus.Entry
	upgrader websocket.Upgrader

	lock      sync.Mutex
	closed    bool
	listeners map[net.Listener]struct{}
	sessions  map[*session]struct{}
	wg        sync.WaitGroup

	accepted atomic.Uint64
	current  atomic.Int64
}

// NewServer returns a server logging to log, or to the standard logger.
func NewServer(log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{
		log:       log.WithField("component", "echo_server"),
		upgrader:  websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		listeners: make(map[net.Listener]struct{}),
		sessions:  make(map[*session]struct{}),
	}
}

// Listen opens a listener and serves it in the background.
func (server *Server) Listen(network string, address string) (net.Listener, error) {
	listener, err := net.Listen(network, address)
	if err != nil {
		return nil, err
	}
	server.wg.Add(1)
	go func() {
		defer server.wg.Done()
		if err := server.Serve(listener); err != nil {
			server.log.WithError(err).Error("serve failed")
		}
	}()
	return listener, nil
}

// Serve accepts connections until listener is closed.
func (server *Server) Serve(listener net.Listener) error {
	if !server.track(listener) {
		_ = listener.Close()
		return errServerClosed
	}
	defer server.untrack(listener)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if tcp, ok := conn.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
		}
		transport := &streamServerTransport{conn: conn, reader: bufio.NewReader(conn), codec: eventstreamrpc.NewFrameCodec()}
		if !server.startSession(transport, conn.RemoteAddr().String(), true) {
			_ = conn.Close()
		}
	}
}

// ServeHTTP upgrades the request to a websocket and serves it until the
// client goes away.
func (server *Server) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	conn, err := server.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		server.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	transport := &websocketServerTransport{conn: conn, codec: eventstreamrpc.NewFrameCodec()}
	if !server.startSession(transport, conn.RemoteAddr().String(), false) {
		_ = transport.Close()
	}
}

// ConnectionsAccepted returns the number of connections served so far.
func (server *Server) ConnectionsAccepted() uint64 { return server.accepted.Load() }

// ActiveConnections returns the number of connections still open.
func (server *Server) ActiveConnections() int64 { return server.current.Load() }

// Close stops every listener and connection and waits for them to finish.
func (server *Server) Close() error {
	server.lock.Lock()
	server.closed = true
	listeners := make([]net.Listener, 0, len(server.listeners))
	for listener := range server.listeners {
		listeners = append(listeners, listener)
	}
	sessions := make([]*session, 0, len(server.sessions))
	for current := range server.sessions {
		sessions = append(sessions, current)
	}
	server.lock.Unlock()

	for _, listener := range listeners {
		_ = listener.Close()
	}
	for _, current := range sessions {
		_ = current.transport.Close()
	}
	server.wg.Wait()
	return nil
}

var errServerClosed = errors.New("echo server closed")

func (server *Server) track(listener net.Listener) bool {
	server.lock.Lock()
	defer server.lock.Unlock()
	if server.closed {
		return false
	}
	server.listeners[listener] = struct{}{}
	return true
}

func (server *Server) untrack(listener net.Listener) {
	server.lock.Lock()
	delete(server.listeners, listener)
	server.lock.Unlock()
}

// startSession runs a session, in the background when async is set.
func (server *Server) startSession(transport serverTransport, remote string, async bool) bool {
	current := &session{
		transport: transport,
		streams:   make(map[int32]string),
		log:       server.log.WithField("remote", remote),
	}

	server.lock.Lock()
	if server.closed {
		server.lock.Unlock()
		return false
	}
	server.sessions[current] = struct{}{}
	server.wg.Add(1)
	server.lock.Unlock()

	server.accepted.Add(1)
	server.current.Add(1)
	run := func() {
		defer server.wg.Done()
		defer func() {
			server.lock.Lock()
			delete(server.sessions, current)
			server.lock.Unlock()
			server.current.Add(-1)
		}()
		current.run()
	}
	if async {
		go run()
	} else {
		run()
	}
	return true
}

type serverTransport interface {
	read() (eventstreamrpc.Frame, error)
	write(frame eventstreamrpc.Frame) error
	Close() error
}

type streamServerTransport struct {
	conn   net.Conn
	reader *bufio.Reader
	codec  *eventstreamrpc.FrameCodec
}

func (transport *streamServerTransport) read() (eventstreamrpc.Frame, error) {
	return transport.codec.ReadFrame(transport.reader)
}

func (transport *streamServerTransport) write(frame eventstreamrpc.Frame) error {
	return transport.codec.WriteFrame(transport.conn, frame)
}

func (transport *streamServerTransport) Close() error { return transport.conn.Close() }

type websocketServerTransport struct {
	conn      *websocket.Conn
	codec     *eventstreamrpc.FrameCodec
	writeLock sync.Mutex
}

func (transport *websocketServerTransport) read() (eventstreamrpc.Frame, error) {
	for {
		messageType, data, err := transport.conn.ReadMessage()
		if err != nil {
			return eventstreamrpc.Frame{}, err
		}
		if messageType == websocket.BinaryMessage {
			return transport.codec.ReadFrame(bytes.NewReader(data))
		}
	}
}

func (transport *websocketServerTransport) write(frame eventstreamrpc.Frame) error {
	encoded, err := transport.codec.EncodeFrame(frame)
	if err != nil {
		return err
	}
	transport.writeLock.Lock()
	defer transport.writeLock.Unlock()
	return transport.conn.WriteMessage(websocket.BinaryMessage, encoded)
}

func (transport *websocketServerTransport) Close() error {
	transport.writeLock.Lock()
	_ = transport.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	transport.writeLock.Unlock()
	return transport.conn.Close()
}

// session serves one client. Frames are read and answered on one goroutine.
type session struct {
	transport serverTransport
	streams   map[int32]string
	log       *logrus.Entry
}

func (current *session) run() {
	defer current.transport.Close()

	if !current.handshake() {
		return
	}
	for {
		frame, err := current.transport.read()
		if err != nil {
			if !isClosedError(err) {
				current.log.WithError(err).Debug("read failed")
			}
			return
		}
		if err := current.dispatch(frame); err != nil {
			if !isClosedError(err) {
				current.log.WithError(err).Debug("write failed")
			}
			return
		}
	}
}

func (current *session) handshake() bool {
	frame, err := current.transport.read()
	if err != nil {
		return false
	}
	if frame.Type != eventstreamrpc.MessageTypeConnect || frame.StreamID != 0 {
		current.log.WithField("type", frame.Type.String()).Warn("expected CONNECT")
		_ = current.transport.write(eventstreamrpc.Frame{MessageArgs: eventstreamrpc.MessageArgs{Type: eventstreamrpc.MessageTypeProtocolError}})
		return false
	}

	accepted := false
	if header, ok := eventstreamrpc.FindHeader(frame.Headers, ClientNameHeader); ok {
		if name, ok := header.GetValueAsString(); ok {
			accepted = strings.HasPrefix(name, acceptedClientPrefix)
		}
	}

	ack := eventstreamrpc.Frame{MessageArgs: eventstreamrpc.MessageArgs{Type: eventstreamrpc.MessageTypeConnectAck}}
	if accepted {
		ack.Flags = eventstreamrpc.MessageFlagConnectionAccepted
	}
	if err := current.transport.write(ack); err != nil {
		return false
	}
	current.log.WithField("accepted", accepted).Debug("handshake answered")
	return accepted
}

func (current *session) dispatch(frame eventstreamrpc.Frame) error {
	if frame.StreamID == 0 {
		switch frame.Type {
		case eventstreamrpc.MessageTypePing:
			return current.transport.write(eventstreamrpc.Frame{MessageArgs: eventstreamrpc.MessageArgs{
				Type:    eventstreamrpc.MessageTypePingResponse,
				Headers: frame.Headers,
				Payload: frame.Payload,
			}})
		case eventstreamrpc.MessageTypePingResponse:
			return nil
		}
		return current.transport.write(eventstreamrpc.Frame{MessageArgs: eventstreamrpc.MessageArgs{Type: eventstreamrpc.MessageTypeProtocolError}})
	}

	operation, open := current.streams[frame.StreamID]
	if !open {
		if frame.Operation == "" {
			return nil
		}
		return current.activate(frame)
	}
	if frame.Flags.Has(eventstreamrpc.MessageFlagTerminateStream) {
		delete(current.streams, frame.StreamID)
		return nil
	}
	return current.streamMessage(operation, frame)
}

func (current *session) activate(frame eventstreamrpc.Frame) error {
	id := frame.StreamID
	log := current.log.WithFields(logrus.Fields{"stream": id, "operation": frame.Operation})
	if _, known := Operations[frame.Operation]; !known {
		log.Warn("unsupported operation")
		return current.writeModeled(id, eventstreamrpc.MessageTypeApplicationError, true, unsupportedOperationModel, map[string]string{"message": frame.Operation})
	}
	log.Debug("activated")

	switch frame.Operation {
	case EchoMessageOperation:
		request := &EchoMessageRequest{}
		if err := decodeRequest(frame.Payload, request); err != nil {
			return current.writeServiceError(id, err.Error())
		}
		return current.writeShape(id, eventstreamrpc.MessageTypeApplicationMessage, true, &EchoMessageResponse{Message: request.Message})
	case GetAllProductsOperation:
		return current.writeShape(id, eventstreamrpc.MessageTypeApplicationMessage, true, &GetAllProductsResponse{Products: SampleProducts()})
	case GetAllCustomersOperation:
		return current.writeShape(id, eventstreamrpc.MessageTypeApplicationMessage, true, &GetAllCustomersResponse{Customers: SampleCustomers()})
	case CauseServiceErrorOperation:
		return current.writeServiceError(id, CauseServiceErrorMessage)
	}

	terminate := frame.Flags.Has(eventstreamrpc.MessageFlagTerminateStream)
	if !terminate {
		current.streams[id] = frame.Operation
	}
	return current.writeShape(id, eventstreamrpc.MessageTypeApplicationMessage, terminate, &EchoStreamingResponse{})
}

func (current *session) streamMessage(operation string, frame eventstreamrpc.Frame) error {
	switch operation {
	case EchoStreamMessagesOperation:
		message := &EchoStreamingMessage{}
		if err := decodeRequest(frame.Payload, message); err != nil {
			return current.writeServiceError(frame.StreamID, err.Error())
		}
		return current.writeShape(frame.StreamID, eventstreamrpc.MessageTypeApplicationMessage, false, message)
	case CauseStreamServiceToErrorOperation:
		delete(current.streams, frame.StreamID)
		return current.writeServiceError(frame.StreamID, CauseStreamServiceErrorMessage)
	}
	return nil
}

func (current *session) writeServiceError(id int32, message string) error {
	delete(current.streams, id)
	return current.writeShape(id, eventstreamrpc.MessageTypeApplicationError, true, &ServiceError{Message: &message})
}

func (current *session) writeShape(id int32, messageType eventstreamrpc.MessageType, terminate bool, shape eventstreamrpc.Shape) error {
	return current.writeModeled(id, messageType, terminate, shape.ModelName(), shape)
}

func (current *session) writeModeled(id int32, messageType eventstreamrpc.MessageType, terminate bool, modelName string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	frame := eventstreamrpc.Frame{
		MessageArgs: eventstreamrpc.MessageArgs{
			Headers: []eventstreamrpc.Header{
				eventstreamrpc.NewStringHeader(eventstreamrpc.ContentTypeHeader, eventstreamrpc.ContentTypeApplicationJSON),
				eventstreamrpc.NewStringHeader(eventstreamrpc.ServiceModelTypeHeader, modelName),
			},
			Payload: payload,
			Type:    messageType,
		},
		StreamID: id,
	}
	if terminate {
		frame.Flags = eventstreamrpc.MessageFlagTerminateStream
	}
	return current.transport.write(frame)
}

func decodeRequest(payload []byte, shape eventstreamrpc.Shape) error {
	if len(payload) == 0 {
		return nil
	}
	return json.Unmarshal(payload, shape)
}

func isClosedError(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

func stringPointer(value string) *string { return &value }

// SampleProducts is the catalog GetAllProducts returns.
func SampleProducts() map[string]Product {
	price := func(value float32) *float32 { return &value }
	return map[string]Product{
		"apple":  {Name: stringPointer("Apple"), Price: price(1.25)},
		"banana": {Name: stringPointer("Banana"), Price: price(0.5)},
		"cherry": {Name: stringPointer("Cherry"), Price: price(4)},
	}
}

// SampleCustomers is the list GetAllCustomers returns.
func SampleCustomers() []Customer {
	id := func(value int64) *int64 { return &value }
	return []Customer{
		{ID: id(1), FirstName: stringPointer("Testy"), LastName: stringPointer("McTesterson")},
		{ID: id(2), FirstName: stringPointer("Ada"), LastName: stringPointer("Lovelace")},
	}
}
