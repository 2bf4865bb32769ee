package kernelmsg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplyType(t *testing.T) {
	assert.Equal(t, TypeExecuteReply, TypeExecuteRequest.ReplyType())
	assert.Equal(t, TypeKernelInfoReply, TypeKernelInfoRequest.ReplyType())
	assert.Equal(t, MsgType(""), TypeStatus.ReplyType())
	assert.True(t, TypeShutdownReply.IsReply())
	assert.False(t, TypeStream.IsRequest())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		ok   bool
	}{
		{"complete", Message{ID: "a", Channel: ChannelShell, Type: TypeExecuteRequest}, true},
		{"unknown type is fine", Message{ID: "a", Channel: ChannelIOPub, Type: "custom_thing"}, true},
		{"missing id", Message{Channel: ChannelShell}, false},
		{"missing channel", Message{ID: "a"}, false},
		{"bad channel", Message{ID: "a", Channel: "heartbeat"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrMalformed)
			}
		})
	}
}

func TestLabel(t *testing.T) {
	m := Message{ID: "a", Channel: ChannelIOPub, Type: TypeStatus}
	assert.Equal(t, "iopub.status", m.Label())
	assert.True(t, m.IsTopLevel())
}

func TestDecode(t *testing.T) {
	raw := []byte(`{
		"header": {"msg_id": "r1", "msg_type": "execute_reply", "date": "2024-03-01T10:00:01.234Z", "session": "s1"},
		"parent_header": {"msg_id": "q1", "msg_type": "execute_request"},
		"channel": "shell",
		"metadata": {"cellId": "c1", "started": "2024-03-01T10:00:00.000Z"},
		"content": {"status": "ok", "execution_count": 3}
	}`)

	msg, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "r1", msg.ID)
	assert.Equal(t, "q1", msg.ParentID)
	assert.Equal(t, ChannelShell, msg.Channel)
	assert.Equal(t, TypeExecuteReply, msg.Type)
	assert.Equal(t, "c1", msg.CellID)
	assert.Equal(t, "s1", msg.Session)
	assert.True(t, msg.Timestamp.Equal(time.Date(2024, 3, 1, 10, 0, 1, 234e6, time.UTC)))
	assert.True(t, msg.Started.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)))
	assert.JSONEq(t, string(raw), string(msg.Payload))
}

func TestDecodeStatus(t *testing.T) {
	raw := []byte(`{"header":{"msg_id":"s1","msg_type":"status"},"parent_header":{},"channel":"iopub","content":{"execution_state":"restarting"},"metadata":{"cell_id":"c9"}}`)

	msg, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, StateRestarting, msg.ExecutionState)
	assert.Equal(t, "", msg.ParentID, "empty parent header means top level")
	assert.Equal(t, "c9", msg.CellID)
	assert.True(t, msg.Timestamp.IsZero())
}

func TestDecodeBadDate(t *testing.T) {
	raw := []byte(`{"header":{"msg_id":"x","msg_type":"stream","date":"yesterday"},"channel":"iopub"}`)

	msg, err := Decode(raw)
	require.NoError(t, err)
	assert.True(t, msg.Timestamp.IsZero())
	assert.Equal(t, "yesterday", msg.RawDate)
}

func TestDecodeRejects(t *testing.T) {
	for name, raw := range map[string]string{
		"not json":    `{"header":`,
		"no msg_id":   `{"header":{"msg_type":"status"},"channel":"iopub"}`,
		"no channel":  `{"header":{"msg_id":"a","msg_type":"status"}}`,
		"bad channel": `{"header":{"msg_id":"a"},"channel":"hb"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(raw))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}
