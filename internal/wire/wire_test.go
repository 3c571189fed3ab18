package wire

import (
	"bytes"
	"testing"
)

func TestHandshakeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	c := NewConn(&buf, &buf)

	want := Handshake{Ack: false, Nonce: []byte{1, 2, 3, 4}}
	if err := c.WriteHandshake(want); err != nil {
		t.Fatalf("WriteHandshake: %v", err)
	}
	got, err := c.ReadHandshake()
	if err != nil {
		t.Fatalf("ReadHandshake: %v", err)
	}
	if got.Ack != want.Ack || !bytes.Equal(got.Nonce, want.Nonce) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestReqRespRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	c := NewConn(&buf, &buf)

	reqs := []Req{
		{Kind: ReqQuery, SQL: "SELECT 1"},
		{Kind: ReqStartTransaction},
		{Kind: ReqCommit},
		{Kind: ReqRollback},
		{Kind: ReqPing},
		{Kind: ReqDisconnect},
	}
	for _, r := range reqs {
		if err := c.WriteReq(r); err != nil {
			t.Fatalf("WriteReq(%+v): %v", r, err)
		}
	}
	for i, want := range reqs {
		got, err := c.ReadReq()
		if err != nil {
			t.Fatalf("ReadReq %d: %v", i, err)
		}
		if got != want {
			t.Fatalf("req %d: got %+v, want %+v", i, got, want)
		}
	}
}

func TestRespVariants(t *testing.T) {
	var buf bytes.Buffer
	c := NewConn(&buf, &buf)

	resps := []Resp{
		{Kind: RespSchema, Schema: []byte(`{"columns":["a"]}`)},
		{Kind: RespRow, Row: []byte(`[1]`)},
		{Kind: RespRow, Row: nil},
		{Kind: RespOk},
		{Kind: RespPong},
		{Kind: RespErr, Err: "boom"},
	}
	for _, r := range resps {
		if err := c.WriteResp(r); err != nil {
			t.Fatalf("WriteResp(%+v): %v", r, err)
		}
	}
	for i, want := range resps {
		got, err := c.ReadResp()
		if err != nil {
			t.Fatalf("ReadResp %d: %v", i, err)
		}
		if got.Kind != want.Kind || got.Err != want.Err || !bytes.Equal(got.Row, want.Row) {
			t.Fatalf("resp %d: got %+v, want %+v", i, got, want)
		}
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	// Write a length prefix far beyond maxFrameBytes with no body.
	buf.Write([]byte{0x7F, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF})
	c := NewConn(&buf, &buf)

	if _, err := c.ReadReq(); err != errFrameTooLarge {
		t.Fatalf("expected errFrameTooLarge, got %v", err)
	}
}
