package eventstreamrpc

// MessageType identifies the kind of an RPC message.
type MessageType int32

// Message types, numbered as they appear on the wire.
const (
	MessageTypeApplicationMessage MessageType = iota
	MessageTypeApplicationError
	MessageTypePing
	MessageTypePingResponse
	MessageTypeConnect
	MessageTypeConnectAck
	MessageTypeProtocolError
	MessageTypeInternalError
)

func (messageType MessageType) String() string {
	switch messageType {
	case MessageTypeApplicationMessage:
		return "APPLICATION_MESSAGE"
	case MessageTypeApplicationError:
		return "APPLICATION_ERROR"
	case MessageTypePing:
		return "PING"
	case MessageTypePingResponse:
		return "PING_RESPONSE"
	case MessageTypeConnect:
		return "CONNECT"
	case MessageTypeConnectAck:
		return "CONNECT_ACK"
	case MessageTypeProtocolError:
		return "PROTOCOL_ERROR"
	case MessageTypeInternalError:
		return "INTERNAL_ERROR"
	}
	return "UNKNOWN"
}

// MessageFlags is the flag bitset of an RPC message.
type MessageFlags int32

const (
	MessageFlagConnectionAccepted MessageFlags = 1 << iota
	MessageFlagTerminateStream
)

// Has reports whether every bit of flag is set.
func (flags MessageFlags) Has(flag MessageFlags) bool { return flags&flag == flag }

// MessageArgs is the envelope exchanged with the channel engine.
// A nil Payload means the message carries no payload.
type MessageArgs struct {
	Headers []Header
	Payload []byte
	Type    MessageType
	Flags   MessageFlags
}

func (args MessageArgs) terminatesStream() bool {
	return args.Flags.Has(MessageFlagTerminateStream)
}
