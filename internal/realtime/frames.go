package realtime

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/tbourn/unibabel/internal/domain"
)

// Frame operations.
const (
	OpSend  = "send"
	OpJoin  = "join"
	OpLeave = "leave"
	OpPing  = "ping"

	OpAck   = "ack"
	OpMsg   = "msg"
	OpError = "error"
	OpPong  = "pong"
)

// timeLayout renders timestamps as ISO-8601 UTC with millisecond precision.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// Inbound is any frame a client may send. Fields unused by an op are zero.
type Inbound struct {
	Op     string `json:"op"`
	ChatID int64  `json:"chat_id,omitempty"`
	Text   string `json:"text,omitempty"`
	Nonce  string `json:"nonce,omitempty"`
}

// AckFrame confirms a stored send.
type AckFrame struct {
	Op        string `json:"op"`
	Nonce     string `json:"nonce,omitempty"`
	MessageID int64  `json:"message_id"`
	CreatedAt string `json:"created_at"`
}

// MsgFrame delivers one message to one recipient, rendered in the
// recipient's language. Error is set when the rendering fell back to the
// original text.
type MsgFrame struct {
	Op             string  `json:"op"`
	ChatID         int64   `json:"chat_id"`
	MessageID      int64   `json:"message_id"`
	SenderID       int64   `json:"sender_id"`
	Text           string  `json:"text"`
	SourceLanguage string  `json:"source_language"`
	Language       string  `json:"language,omitempty"`
	FromCache      bool    `json:"from_cache"`
	Confidence     float64 `json:"confidence"`
	CreatedAt      string  `json:"created_at"`
	Error          string  `json:"error,omitempty"`
}

// ErrorFrame reports a failed request.
type ErrorFrame struct {
	Op         string `json:"op"`
	Code       string `json:"code"`
	Reason     string `json:"reason"`
	Nonce      string `json:"nonce,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"` // seconds
}

type pongFrame struct {
	Op string `json:"op"`
}

// FormatTime renders t in the wire layout.
func FormatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

// EncodeAck builds an ack frame.
func EncodeAck(nonce string, messageID int64, createdAt time.Time) []byte {
	return mustJSON(AckFrame{Op: OpAck, Nonce: nonce, MessageID: messageID, CreatedAt: FormatTime(createdAt)})
}

// EncodeMsg builds a msg frame; the op is filled in.
func EncodeMsg(f MsgFrame) []byte {
	f.Op = OpMsg
	return mustJSON(f)
}

// EncodeError builds an error frame from err. Internal failures carry no
// detail.
func EncodeError(nonce string, err error) []byte {
	code := domain.CodeOf(err)
	reason := "internal error"
	if domain.ClientVisible(code) {
		var de *domain.Error
		if errors.As(err, &de) && de.Reason != "" {
			reason = de.Reason
		} else {
			reason = string(code)
		}
	}
	f := ErrorFrame{Op: OpError, Code: string(code), Reason: reason, Nonce: nonce}
	if ra := domain.RetryAfterOf(err); ra > 0 {
		f.RetryAfter = int((ra + time.Second - 1) / time.Second)
	}
	return mustJSON(f)
}

// EncodePong builds a pong frame.
func EncodePong() []byte { return mustJSON(pongFrame{Op: OpPong}) }

// DecodeInbound parses a client frame.
func DecodeInbound(b []byte) (Inbound, error) {
	var in Inbound
	err := json.Unmarshal(b, &in)
	return in, err
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// Only plain structs of strings and numbers are encoded here.
		panic(err)
	}
	return b
}
