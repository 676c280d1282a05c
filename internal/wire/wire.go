// Package wire owns the shared envelope encoding primitives.
//
// Every layer serializes its envelope as field-name keyed JSON with binary
// payloads hex-encoded as text. All layers must agree on this bit-for-bit.
package wire

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
)

var ErrMalformedEnvelope = errors.New("wire: malformed envelope")

// Hex is a byte slice carried on the wire as a hex string.
type Hex []byte

func (h Hex) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(h))
}

func (h *Hex) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	*h = decoded
	return nil
}

// Marshal encodes an envelope struct to its canonical wire bytes.
func Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal: %w", err)
	}
	return b, nil
}

// Unmarshal parses canonical wire bytes into an envelope struct.
func Unmarshal(b []byte, v any) error {
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return nil
}

// Checksum computes the integrity digest carried in data link frames.
func Checksum(data []byte) []byte {
	sum := md5.Sum(data)
	return sum[:]
}

// VerifyChecksum reports whether checksum matches Checksum(data).
func VerifyChecksum(data, checksum []byte) bool {
	sum := md5.Sum(data)
	if len(checksum) != len(sum) {
		return false
	}
	for i := range sum {
		if sum[i] != checksum[i] {
			return false
		}
	}
	return true
}

// RandomMAC returns a random colon-separated hardware address.
func RandomMAC() string {
	b := make([]byte, 6)
	for i := range b {
		b[i] = byte(rand.Intn(256))
	}
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", b[0], b[1], b[2], b[3], b[4], b[5])
}

// RandomIP returns a random dotted-quad IPv4 address.
func RandomIP() string {
	return fmt.Sprintf("%d.%d.%d.%d", rand.Intn(256), rand.Intn(256), rand.Intn(256), rand.Intn(256))
}
