package wire

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestHexRoundTrip(t *testing.T) {
	cases := [][]byte{
		nil,
		{},
		{0x00},
		{0xde, 0xad, 0xbe, 0xef},
		[]byte("plain text payload"),
	}
	for _, in := range cases {
		b, err := json.Marshal(Hex(in))
		if err != nil {
			t.Fatalf("marshal %v: %v", in, err)
		}
		var out Hex
		if err := json.Unmarshal(b, &out); err != nil {
			t.Fatalf("unmarshal %v: %v", in, err)
		}
		if !bytes.Equal(in, out) {
			t.Fatalf("round-trip mismatch: in=%v out=%v", in, out)
		}
	}
}

func TestHexRejectsInvalidInput(t *testing.T) {
	var h Hex
	if err := json.Unmarshal([]byte(`"zz"`), &h); err == nil {
		t.Fatal("expected error for invalid hex")
	}
	if err := json.Unmarshal([]byte(`42`), &h); err == nil {
		t.Fatal("expected error for non-string")
	}
}

func TestChecksumVerify(t *testing.T) {
	p := []byte("some payload")
	q := []byte("other payload")

	if !VerifyChecksum(p, Checksum(p)) {
		t.Fatal("checksum of p should verify against p")
	}
	if VerifyChecksum(p, Checksum(q)) {
		t.Fatal("checksum of q should not verify against p")
	}
	if VerifyChecksum(p, nil) {
		t.Fatal("empty checksum should not verify")
	}
	if !VerifyChecksum(nil, Checksum(nil)) {
		t.Fatal("checksum of empty payload should verify")
	}
}

func TestRandomAddresses(t *testing.T) {
	mac := RandomMAC()
	if len(mac) != 17 {
		t.Fatalf("unexpected MAC format: %q", mac)
	}
	ip := RandomIP()
	if ip == "" {
		t.Fatal("empty IP")
	}
}
