package protocol

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := Input{PaneID: "p1", Data: []byte("hello\r\n")}
	if err := Encode(&buf, TagInput, 7, in); err != nil {
		t.Fatalf("encode: %v", err)
	}
	env, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if env.Tag != TagInput || env.Seq != 7 {
		t.Fatalf("got tag=%v seq=%v", env.Tag, env.Seq)
	}
	var out Input
	if err := DecodePayload(env, &out); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if out.PaneID != in.PaneID || !bytes.Equal(out.Data, in.Data) {
		t.Fatalf("round trip mismatch: got %+v", out)
	}
}

func TestReadFrameMalformed(t *testing.T) {
	var buf bytes.Buffer
	// valid length prefix, garbage body
	body := []byte{0xff, 0xff, 0xff}
	var lenBuf [4]byte
	lenBuf[3] = byte(len(body))
	buf.Write(lenBuf[:])
	buf.Write(body)

	if _, err := ReadFrame(&buf); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestEncodeMessageTooLarge(t *testing.T) {
	var buf bytes.Buffer
	huge := Input{PaneID: "p1", Data: bytes.Repeat([]byte("x"), MaxFrameSize+1)}
	err := Encode(&buf, TagInput, 1, huge)
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("expected ErrMessageTooLarge, got %v", err)
	}
}

func TestReadFrameRejectsOversizedLengthPrefix(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	lenBuf[0] = 0xff // huge length, far beyond MaxFrameSize
	buf.Write(lenBuf[:])
	if _, err := ReadFrame(&buf); !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("expected ErrMessageTooLarge before body read, got %v", err)
	}
}

func TestMultipleFramesSequential(t *testing.T) {
	var buf bytes.Buffer
	Encode(&buf, TagCreateSession, 1, CreateSession{Name: "a"})
	Encode(&buf, TagCreateSession, 2, CreateSession{Name: "b"})

	env1, err := ReadFrame(&buf)
	if err != nil {
		t.Fatal(err)
	}
	var cs1 CreateSession
	DecodePayload(env1, &cs1)
	if cs1.Name != "a" {
		t.Fatalf("expected a, got %s", cs1.Name)
	}

	env2, err := ReadFrame(&buf)
	if err != nil {
		t.Fatal(err)
	}
	var cs2 CreateSession
	DecodePayload(env2, &cs2)
	if cs2.Name != "b" {
		t.Fatalf("expected b, got %s", cs2.Name)
	}
}

func TestCodeForMapsSentinels(t *testing.T) {
	cases := map[error]ErrCode{
		ErrSessionNotFound: CodeSessionNotFound,
		ErrPaneClosed:      CodePaneClosed,
		ErrDuplicateName:   CodeDuplicateName,
	}
	for err, want := range cases {
		if got := CodeFor(err); got != want {
			t.Fatalf("CodeFor(%v) = %v, want %v", err, got, want)
		}
	}
	wrapped := errors.New("wrap: " + ErrPaneNotFound.Error())
	if CodeFor(wrapped) != CodeInternal {
		t.Fatalf("expected CodeInternal for an unrelated error")
	}
	if !strings.Contains((&ErrorDetail{Code: CodePaneClosed, Message: "m"}).Error(), "PaneClosed") {
		t.Fatalf("ErrorDetail.Error should include code")
	}
}
