// Package presentation runs the three-stage translation pipeline: format,
// encrypt, compress on the way down; decompress, decrypt, parse on the way
// up. Unsupported tags pass data through unchanged with a warning, never a
// hard error.
package presentation

import (
	"bytes"

	"github.com/osistack/osistack/internal/logging"
	"github.com/osistack/osistack/internal/observability"
	"github.com/osistack/osistack/internal/stack"
	"github.com/osistack/osistack/internal/wire"
)

// Data format tags.
const (
	FormatText   = 1
	FormatBinary = 2
	FormatJSON   = 3
)

// Encryption tags.
const (
	EncryptionNone = 0
	EncryptionXOR  = 1
)

// Compression tags.
const (
	CompressionNone   = 0
	CompressionSimple = 1
)

// DefaultKey is the XOR key used when none is configured.
const DefaultKey = 42

var compressedTag = []byte("COMPRESSED:")

// Message is the presentation envelope.
type Message struct {
	DataFormat  int      `json:"data_format"`
	Encryption  int      `json:"encryption"`
	Compression int      `json:"compression"`
	Data        wire.Hex `json:"data"`
	// Key travels only when encryption is in use.
	Key *int `json:"encryption_key,omitempty"`
}

func (m Message) Bytes() ([]byte, error) {
	return wire.Marshal(m)
}

func ParseMessage(b []byte) (Message, error) {
	var m Message
	if err := wire.Unmarshal(b, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Layer is the presentation layer, holding the default translation settings.
type Layer struct {
	stack.Neighbors

	encryption  int
	compression int
	key         int
}

func NewLayer() *Layer {
	return &Layer{
		encryption:  EncryptionNone,
		compression: CompressionNone,
		key:         DefaultKey,
	}
}

func (l *Layer) Name() string { return "presentation" }

// SetEncryption sets the default encryption tag and, when key is
// non-negative, the key.
func (l *Layer) SetEncryption(encryption, key int) {
	l.encryption = encryption
	if key >= 0 {
		l.key = key
	}
}

// SetCompression sets the default compression tag.
func (l *Layer) SetCompression(compression int) {
	l.compression = compression
}

// Encrypt applies the keyed byte-wise transform named by the tag.
func (l *Layer) Encrypt(data []byte, encryption, key int) []byte {
	switch encryption {
	case EncryptionNone:
		return data
	case EncryptionXOR:
		return xorBytes(data, byte(key))
	default:
		log := logging.Layer("presentation")
		log.Warn().Int("encryption", encryption).
			Msg("unsupported encryption type, passing through")
		return data
	}
}

// Decrypt reverses Encrypt.
func (l *Layer) Decrypt(data []byte, encryption, key int) []byte {
	// XOR is its own inverse; the tags share a code path.
	return l.Encrypt(data, encryption, key)
}

// Compress applies the reversible tagging transform named by the tag. The
// simple transform marks bytes as compressed without reducing their size.
func (l *Layer) Compress(data []byte, compression int) []byte {
	switch compression {
	case CompressionNone:
		return data
	case CompressionSimple:
		out := make([]byte, 0, len(compressedTag)+len(data))
		out = append(out, compressedTag...)
		return append(out, data...)
	default:
		log := logging.Layer("presentation")
		log.Warn().Int("compression", compression).
			Msg("unsupported compression type, passing through")
		return data
	}
}

// Decompress reverses Compress.
func (l *Layer) Decompress(data []byte, compression int) []byte {
	switch compression {
	case CompressionNone:
		return data
	case CompressionSimple:
		if bytes.HasPrefix(data, compressedTag) {
			return data[len(compressedTag):]
		}
		return data
	default:
		log := logging.Layer("presentation")
		log.Warn().Int("compression", compression).
			Msg("unsupported compression type, passing through")
		return data
	}
}

// FormatData serializes payload bytes per the declared format tag. Text,
// binary and structured payloads all arrive as bytes here, so the transform
// is the identity for known tags; unknown tags warn and pass through.
func (l *Layer) FormatData(data []byte, format int) []byte {
	switch format {
	case FormatText, FormatBinary, FormatJSON:
		return data
	default:
		log := logging.Layer("presentation")
		log.Warn().Int("format", format).
			Msg("unsupported data format, passing through")
		return data
	}
}

// ParseData mirrors FormatData for inbound payloads.
func (l *Layer) ParseData(data []byte, format int) []byte {
	switch format {
	case FormatText, FormatBinary, FormatJSON:
		return data
	default:
		log := logging.Layer("presentation")
		log.Warn().Int("format", format).
			Msg("unsupported data format, passing through")
		return data
	}
}

func (l *Layer) SendDown(data []byte, md stack.Metadata) {
	log := logging.Layer("presentation")

	format := md.DataFormat
	if format == 0 {
		format = FormatText
	}

	formatted := l.FormatData(data, format)
	encrypted := l.Encrypt(formatted, l.encryption, l.key)
	compressed := l.Compress(encrypted, l.compression)

	m := Message{
		DataFormat:  format,
		Encryption:  l.encryption,
		Compression: l.compression,
		Data:        compressed,
	}
	if l.encryption != EncryptionNone {
		key := l.key
		m.Key = &key
	}

	b, err := m.Bytes()
	if err != nil {
		log.Error().Err(err).Msg("message encode failed")
		observability.RecordDrop("presentation", "encode")
		return
	}
	log.Debug().Int("format", format).Int("encryption", l.encryption).
		Int("compression", l.compression).Msg("prepared for transmission")

	observability.RecordSent("presentation")
	if lower := l.Lower(); lower != nil {
		lower.SendDown(b, md)
	}
}

func (l *Layer) SendUp(data []byte, md stack.Metadata) {
	log := logging.Layer("presentation")

	m, err := ParseMessage(data)
	if err != nil {
		log.Warn().Err(err).Msg("malformed message, discarding")
		observability.RecordDrop("presentation", "malformed")
		return
	}

	key := l.key
	if m.Key != nil {
		key = *m.Key
	}

	decompressed := l.Decompress(m.Data, m.Compression)
	decrypted := l.Decrypt(decompressed, m.Encryption, key)
	parsed := l.ParseData(decrypted, m.DataFormat)

	observability.RecordReceived("presentation")
	md.DataFormat = m.DataFormat
	if upper := l.Upper(); upper != nil {
		upper.SendUp(parsed, md)
	}
}

func xorBytes(data []byte, key byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ key
	}
	return out
}
