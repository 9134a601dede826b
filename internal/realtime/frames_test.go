package realtime

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/unibabel/internal/domain"
)

func TestEncodeAck_Layout(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 600_000_000, time.FixedZone("X", 3600))
	var got map[string]any
	_ = json.Unmarshal(EncodeAck("n1", 42, at), &got)
	if got["op"] != "ack" || got["nonce"] != "n1" || got["message_id"] != float64(42) {
		t.Fatalf("ack: %v", got)
	}
	if got["created_at"] != "2026-01-02T02:04:05.600Z" {
		t.Fatalf("created_at %v", got["created_at"])
	}

	_ = json.Unmarshal(EncodeAck("", 1, at), &got)
	if _, ok := got["nonce"]; ok {
		t.Fatalf("empty nonce should be omitted")
	}
}

func TestEncodeError_HidesInternalDetail(t *testing.T) {
	var f ErrorFrame
	_ = json.Unmarshal(EncodeError("x", errors.New("sql: connection refused at 10.0.0.3")), &f)
	if f.Code != "Internal" || f.Reason != "internal error" || f.Nonce != "x" {
		t.Fatalf("internal: %+v", f)
	}

	err := &domain.Error{Code: domain.CodeDailyQuotaExceeded, Reason: "daily limit of 100 messages reached", RetryAfter: 1500 * time.Millisecond}
	_ = json.Unmarshal(EncodeError("", err), &f)
	if f.Code != "DailyQuotaExceeded" || f.Reason != err.Reason || f.RetryAfter != 2 {
		t.Fatalf("visible: %+v", f)
	}

	_ = json.Unmarshal(EncodeError("", domain.ErrNotJoined), &f)
	if f.Code != "NotJoined" || f.Reason != "NotJoined" {
		t.Fatalf("sentinel: %+v", f)
	}
}

func TestEncodeMsgAndDecodeInbound(t *testing.T) {
	var m MsgFrame
	_ = json.Unmarshal(EncodeMsg(MsgFrame{ChatID: 1, MessageID: 2, SenderID: 3, Text: "hola", SourceLanguage: "EN", FromCache: true}), &m)
	if m.Op != OpMsg || m.Text != "hola" || !m.FromCache {
		t.Fatalf("msg: %+v", m)
	}

	in, err := DecodeInbound([]byte(`{"op":"send","chat_id":9,"text":"hi","nonce":"abc"}`))
	if err != nil || in.Op != OpSend || in.ChatID != 9 || in.Text != "hi" || in.Nonce != "abc" {
		t.Fatalf("inbound: %+v err=%v", in, err)
	}
	if _, err := DecodeInbound([]byte(`{nope`)); err == nil {
		t.Fatalf("malformed frame must fail")
	}
	if string(EncodePong()) != `{"op":"pong"}` {
		t.Fatalf("pong: %s", EncodePong())
	}
}
