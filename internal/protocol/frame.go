package protocol

// frame types exchanged over the websocket
const (
	FrameSend    = "send"
	FrameMessage = "message"
	FrameAck     = "ack"
	FrameError   = "error"
)

// error codes carried by error frames and HTTP error bodies
const (
	CodeUnauthenticated  = "unauthenticated"
	CodeReceiverNotFound = "receiver_not_found"
	CodeInvalidPayload   = "invalid_payload"
	CodeStorage          = "storage_error"
	CodeBadFrame         = "bad_frame"
)

// InboundFrame is a frame received from a client.
type InboundFrame struct {
	Type string `json:"type"`
	SendRequest
	// Ref is echoed back on the ack or error frame so clients can correlate.
	Ref string `json:"ref,omitempty"`
}

// OutboundFrame is a frame written to a client.
type OutboundFrame struct {
	Type    string   `json:"type"`
	Message *Message `json:"message,omitempty"`
	Error   string   `json:"error,omitempty"`
	Ref     string   `json:"ref,omitempty"`
}

// MessageFrame wraps a delivered message.
func MessageFrame(m Message) OutboundFrame {
	return OutboundFrame{Type: FrameMessage, Message: &m}
}

// AckFrame confirms a send to its sender.
func AckFrame(m Message, ref string) OutboundFrame {
	return OutboundFrame{Type: FrameAck, Message: &m, Ref: ref}
}

// ErrorFrame reports a failed send.
func ErrorFrame(code, ref string) OutboundFrame {
	return OutboundFrame{Type: FrameError, Error: code, Ref: ref}
}
