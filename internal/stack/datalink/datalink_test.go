package datalink

import (
	"bytes"
	"testing"

	"github.com/osistack/osistack/internal/stack"
	"github.com/osistack/osistack/internal/testutil/testlog"
)

type captureLayer struct {
	stack.Neighbors
	downs  [][]byte
	ups    [][]byte
	upMD   []stack.Metadata
	downMD []stack.Metadata
}

func (c *captureLayer) Name() string { return "capture" }

func (c *captureLayer) SendDown(data []byte, md stack.Metadata) {
	c.downs = append(c.downs, data)
	c.downMD = append(c.downMD, md)
}

func (c *captureLayer) SendUp(data []byte, md stack.Metadata) {
	c.ups = append(c.ups, data)
	c.upMD = append(c.upMD, md)
}

func TestFrameRoundTrip(t *testing.T) {
	cases := []Frame{
		NewFrame("aa:bb:cc:dd:ee:ff", "11:22:33:44:55:66", []byte("payload")),
		NewFrame("aa:bb:cc:dd:ee:ff", BroadcastAddr, nil),
	}
	for _, in := range cases {
		b, err := in.Bytes()
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		out, err := ParseFrame(b)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if out.SrcMAC != in.SrcMAC || out.DstMAC != in.DstMAC {
			t.Fatalf("address mismatch: got=%+v want=%+v", out, in)
		}
		if !bytes.Equal(out.Data, in.Data) || !bytes.Equal(out.Checksum, in.Checksum) {
			t.Fatalf("payload mismatch: got=%+v want=%+v", out, in)
		}
		if !out.Valid() {
			t.Fatal("round-tripped frame should have a valid checksum")
		}
	}
}

func TestSendDownFramesPayload(t *testing.T) {
	testlog.Start(t)
	l := NewLayer("aa:bb:cc:dd:ee:ff")
	lower := &captureLayer{}
	stack.Link(lower, l)

	l.SendDown([]byte("data"), stack.Metadata{LinkAddr: "11:22:33:44:55:66"})

	if len(lower.downs) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(lower.downs))
	}
	f, err := ParseFrame(lower.downs[0])
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.SrcMAC != "aa:bb:cc:dd:ee:ff" || f.DstMAC != "11:22:33:44:55:66" {
		t.Fatalf("unexpected addresses: %+v", f)
	}
	if string(f.Data) != "data" {
		t.Fatalf("unexpected payload: %q", f.Data)
	}
}

func TestSendDownSynthesizesUnknownDestination(t *testing.T) {
	testlog.Start(t)
	l := NewLayer("")
	lower := &captureLayer{}
	stack.Link(lower, l)

	l.SendDown([]byte("data"), stack.Metadata{})
	l.SendDown([]byte("more"), stack.Metadata{})

	if len(lower.downs) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(lower.downs))
	}
	f1, _ := ParseFrame(lower.downs[0])
	f2, _ := ParseFrame(lower.downs[1])
	if f1.DstMAC == "" {
		t.Fatal("destination should be synthesized")
	}
	if f1.DstMAC != f2.DstMAC {
		t.Fatal("synthesized destination should be remembered")
	}
}

func TestSendUpValidFrame(t *testing.T) {
	testlog.Start(t)
	l := NewLayer("aa:bb:cc:dd:ee:ff")
	upper := &captureLayer{}
	stack.Link(l, upper)

	f := NewFrame("11:22:33:44:55:66", "aa:bb:cc:dd:ee:ff", []byte("hello"))
	b, _ := f.Bytes()
	l.SendUp(b, stack.Metadata{})

	if len(upper.ups) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(upper.ups))
	}
	if string(upper.ups[0]) != "hello" {
		t.Fatalf("unexpected payload: %q", upper.ups[0])
	}
	if upper.upMD[0].LinkAddr != "11:22:33:44:55:66" {
		t.Fatalf("peer address not forwarded: %+v", upper.upMD[0])
	}
}

func TestSendUpChecksumMismatchDropped(t *testing.T) {
	testlog.Start(t)
	l := NewLayer("aa:bb:cc:dd:ee:ff")
	upper := &captureLayer{}
	stack.Link(l, upper)

	f := NewFrame("11:22:33:44:55:66", "aa:bb:cc:dd:ee:ff", []byte("hello"))
	f.Checksum = []byte{1, 2, 3}
	b, _ := f.Bytes()
	l.SendUp(b, stack.Metadata{})

	if len(upper.ups) != 0 {
		t.Fatal("corrupted frame must not be delivered")
	}
}

func TestSendUpMalformedBytesDropped(t *testing.T) {
	testlog.Start(t)
	l := NewLayer("aa:bb:cc:dd:ee:ff")
	upper := &captureLayer{}
	stack.Link(l, upper)

	l.SendUp([]byte("not a frame"), stack.Metadata{})

	if len(upper.ups) != 0 {
		t.Fatal("malformed frame must not be delivered")
	}
}

func TestSendUpAcceptsForeignDestination(t *testing.T) {
	testlog.Start(t)
	l := NewLayer("aa:bb:cc:dd:ee:ff")
	upper := &captureLayer{}
	stack.Link(l, upper)

	f := NewFrame("11:22:33:44:55:66", "99:99:99:99:99:99", []byte("hello"))
	b, _ := f.Bytes()
	l.SendUp(b, stack.Metadata{})

	if len(upper.ups) != 1 {
		t.Fatal("foreign frames are accepted in this simulation")
	}
}
