package kernelmsg

import (
	"encoding/json"
	"fmt"

	"github.com/daviddao/kernelspy_viewer/internal/exectime"
)

type wireHeader struct {
	MsgID   string `json:"msg_id"`
	MsgType string `json:"msg_type"`
	Date    string `json:"date"`
	Session string `json:"session"`
}

type wireMetadata struct {
	CellID  string `json:"cellId"`
	CellID2 string `json:"cell_id"`
	Started string `json:"started"`
}

type wireContent struct {
	ExecutionState string `json:"execution_state"`
}

type wireMessage struct {
	Header       wireHeader      `json:"header"`
	ParentHeader *wireHeader     `json:"parent_header"`
	Channel      string          `json:"channel"`
	Metadata     json.RawMessage `json:"metadata"`
	Content      json.RawMessage `json:"content"`
}

// Decode parses one message in the Jupyter wire JSON shape and validates it.
// Unparsable date stamps are tolerated: the message is kept with a zero
// Timestamp and the raw value in RawDate.
func Decode(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	msg := Message{
		ID:      w.Header.MsgID,
		Channel: Channel(w.Channel),
		Type:    MsgType(w.Header.MsgType),
		RawDate: w.Header.Date,
		Session: w.Header.Session,
		Payload: append(json.RawMessage(nil), data...),
	}
	if w.ParentHeader != nil {
		msg.ParentID = w.ParentHeader.MsgID
	}
	if ts, err := exectime.ParseTimestamp(w.Header.Date); err == nil {
		msg.Timestamp = ts
	}

	// metadata and content are free-form; only pick out what we need and
	// ignore shapes we do not understand.
	var md wireMetadata
	if len(w.Metadata) > 0 && json.Unmarshal(w.Metadata, &md) == nil {
		msg.CellID = md.CellID
		if msg.CellID == "" {
			msg.CellID = md.CellID2
		}
		if ts, err := exectime.ParseTimestamp(md.Started); err == nil {
			msg.Started = ts
		}
	}
	var c wireContent
	if len(w.Content) > 0 && json.Unmarshal(w.Content, &c) == nil {
		msg.ExecutionState = c.ExecutionState
	}

	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}
