package eventstreamrpc

// MessageAmendment is a bundle of headers and an optional payload attached to
// an outgoing message, such as the CONNECT sent during the handshake.
type MessageAmendment struct {
	headers []Header
	payload []byte
}

// NewMessageAmendment returns an amendment holding copies of headers and payload.
func NewMessageAmendment(headers []Header, payload []byte) *MessageAmendment {
	amendment := &MessageAmendment{headers: cloneHeaders(headers)}
	amendment.SetPayload(payload)
	return amendment
}

// AddHeader appends a header.
func (amendment *MessageAmendment) AddHeader(header Header) *MessageAmendment {
	amendment.headers = append(amendment.headers, header)
	return amendment
}

// SetPayload stores a copy of payload. A nil payload clears it.
func (amendment *MessageAmendment) SetPayload(payload []byte) *MessageAmendment {
	if payload == nil {
		amendment.payload = nil
		return amendment
	}
	amendment.payload = append([]byte{}, payload...)
	return amendment
}

// Headers returns the headers in insertion order.
func (amendment *MessageAmendment) Headers() []Header {
	if amendment == nil {
		return nil
	}
	return amendment.headers
}

// Payload returns the payload, or nil when none was set.
func (amendment *MessageAmendment) Payload() []byte {
	if amendment == nil {
		return nil
	}
	return amendment.payload
}

// Clone returns a deep copy.
func (amendment *MessageAmendment) Clone() *MessageAmendment {
	if amendment == nil {
		return nil
	}
	return NewMessageAmendment(amendment.headers, amendment.payload)
}
