// Package kernelmsg defines the kernel message record observed on the wire and
// the validation applied before a message is admitted to a session.
package kernelmsg

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformed is returned for messages missing a required field.
var ErrMalformed = errors.New("malformed kernel message")

// Channel is the transport lane a message travelled on.
type Channel string

const (
	ChannelShell   Channel = "shell"
	ChannelIOPub   Channel = "iopub"
	ChannelStdin   Channel = "stdin"
	ChannelControl Channel = "control"
)

// Valid reports whether c is one of the known channels.
func (c Channel) Valid() bool {
	switch c {
	case ChannelShell, ChannelIOPub, ChannelStdin, ChannelControl:
		return true
	}
	return false
}

// MsgType is the header.msg_type tag.
type MsgType string

const (
	TypeExecuteRequest    MsgType = "execute_request"
	TypeExecuteReply      MsgType = "execute_reply"
	TypeExecuteInput      MsgType = "execute_input"
	TypeExecuteResult     MsgType = "execute_result"
	TypeStatus            MsgType = "status"
	TypeStream            MsgType = "stream"
	TypeDisplayData       MsgType = "display_data"
	TypeUpdateDisplayData MsgType = "update_display_data"
	TypeError             MsgType = "error"
	TypeClearOutput       MsgType = "clear_output"
	TypeCommOpen          MsgType = "comm_open"
	TypeCommMsg           MsgType = "comm_msg"
	TypeCommClose         MsgType = "comm_close"
	TypeKernelInfoRequest MsgType = "kernel_info_request"
	TypeKernelInfoReply   MsgType = "kernel_info_reply"
	TypeInputRequest      MsgType = "input_request"
	TypeInputReply        MsgType = "input_reply"
	TypeShutdownRequest   MsgType = "shutdown_request"
	TypeShutdownReply     MsgType = "shutdown_reply"
)

const (
	requestSuffix = "_request"
	replySuffix   = "_reply"
)

// IsRequest reports whether t names a request (xxx_request).
func (t MsgType) IsRequest() bool { return strings.HasSuffix(string(t), requestSuffix) }

// IsReply reports whether t names a reply (xxx_reply).
func (t MsgType) IsReply() bool { return strings.HasSuffix(string(t), replySuffix) }

// ReplyType returns the reply tag answering request type t, or "" when t is
// not a request.
func (t MsgType) ReplyType() MsgType {
	if !t.IsRequest() {
		return ""
	}
	return MsgType(strings.TrimSuffix(string(t), requestSuffix) + replySuffix)
}

// Execution states carried by iopub status messages.
const (
	StateBusy       = "busy"
	StateIdle       = "idle"
	StateStarting   = "starting"
	StateRestarting = "restarting"
)

// Message is an immutable kernel message. Timestamp and Started are zero when
// the runtime has not stamped them or the stamp could not be parsed; the raw
// stamp is kept in RawDate.
type Message struct {
	ID             string
	ParentID       string
	Channel        Channel
	Type           MsgType
	Timestamp      time.Time
	RawDate        string
	CellID         string
	Started        time.Time
	Session        string
	ExecutionState string

	// Payload is the message as received, never interpreted.
	Payload json.RawMessage
}

// IsTopLevel reports whether the message declares no parent.
func (m Message) IsTopLevel() bool { return m.ParentID == "" }

// Label is the short "channel.type" form used in thread listings.
func (m Message) Label() string {
	return string(m.Channel) + "." + string(m.Type)
}

// Validate checks the fields every admitted message must carry.
func (m Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: missing msg_id", ErrMalformed)
	}
	if m.Channel == "" {
		return fmt.Errorf("%w: %s: missing channel", ErrMalformed, m.ID)
	}
	if !m.Channel.Valid() {
		return fmt.Errorf("%w: %s: unknown channel %q", ErrMalformed, m.ID, m.Channel)
	}
	return nil
}
