package presentation

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osistack/osistack/internal/stack"
	"github.com/osistack/osistack/internal/testutil/testlog"
)

type captureLayer struct {
	stack.Neighbors
	downs [][]byte
	ups   [][]byte
	upMD  []stack.Metadata
}

func (c *captureLayer) Name() string { return "capture" }

func (c *captureLayer) SendDown(data []byte, md stack.Metadata) {
	c.downs = append(c.downs, data)
}

func (c *captureLayer) SendUp(data []byte, md stack.Metadata) {
	c.ups = append(c.ups, data)
	c.upMD = append(c.upMD, md)
}

func newTestLayer() (*Layer, *captureLayer, *captureLayer) {
	l := NewLayer()
	lower := &captureLayer{}
	upper := &captureLayer{}
	stack.Link(lower, l, upper)
	return l, lower, upper
}

func TestXORIsSelfInverse(t *testing.T) {
	l := NewLayer()
	plaintext := []byte("the quick brown fox")

	ciphertext := l.Encrypt(plaintext, EncryptionXOR, 42)
	assert.False(t, bytes.Equal(plaintext, ciphertext))
	assert.Len(t, ciphertext, len(plaintext))

	recovered := l.Decrypt(ciphertext, EncryptionXOR, 42)
	assert.Equal(t, plaintext, recovered)
}

func TestEncryptionNoneIsIdentity(t *testing.T) {
	l := NewLayer()
	data := []byte("unchanged")
	assert.Equal(t, data, l.Encrypt(data, EncryptionNone, 42))
}

func TestUnknownEncryptionPassesThrough(t *testing.T) {
	testlog.Start(t)
	l := NewLayer()
	data := []byte("unchanged")
	assert.Equal(t, data, l.Encrypt(data, 99, 42))
}

func TestSimpleCompressionRoundTrip(t *testing.T) {
	l := NewLayer()
	data := []byte("some payload")

	compressed := l.Compress(data, CompressionSimple)
	assert.True(t, bytes.HasPrefix(compressed, []byte("COMPRESSED:")))
	assert.Equal(t, data, l.Decompress(compressed, CompressionSimple))
}

func TestDecompressUntaggedBytes(t *testing.T) {
	l := NewLayer()
	data := []byte("never compressed")
	assert.Equal(t, data, l.Decompress(data, CompressionSimple))
}

func TestFormatTagsAreIdentity(t *testing.T) {
	testlog.Start(t)
	l := NewLayer()
	data := []byte(`{"k":"v"}`)

	for _, format := range []int{FormatText, FormatBinary, FormatJSON, 99} {
		assert.Equal(t, data, l.FormatData(data, format))
		assert.Equal(t, data, l.ParseData(data, format))
	}
}

func TestSendDownDefaultsToPlainText(t *testing.T) {
	testlog.Start(t)
	l, lower, _ := newTestLayer()

	l.SendDown([]byte("hello"), stack.Metadata{})

	require.Len(t, lower.downs, 1)
	m, err := ParseMessage(lower.downs[0])
	require.NoError(t, err)
	assert.Equal(t, FormatText, m.DataFormat)
	assert.Equal(t, EncryptionNone, m.Encryption)
	assert.Equal(t, CompressionNone, m.Compression)
	assert.Nil(t, m.Key, "key travels only when encryption is on")
	assert.Equal(t, []byte("hello"), []byte(m.Data))
}

func TestSendDownAppliesConfiguredTranslation(t *testing.T) {
	testlog.Start(t)
	l, lower, _ := newTestLayer()
	l.SetEncryption(EncryptionXOR, 7)
	l.SetCompression(CompressionSimple)

	l.SendDown([]byte("secret"), stack.Metadata{DataFormat: FormatJSON})

	require.Len(t, lower.downs, 1)
	m, err := ParseMessage(lower.downs[0])
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, m.DataFormat)
	assert.Equal(t, EncryptionXOR, m.Encryption)
	assert.Equal(t, CompressionSimple, m.Compression)
	require.NotNil(t, m.Key)
	assert.Equal(t, 7, *m.Key)
	assert.True(t, bytes.HasPrefix(m.Data, []byte("COMPRESSED:")))
	assert.False(t, bytes.Contains(m.Data, []byte("secret")))
}

func TestRoundTripThroughBothDirections(t *testing.T) {
	testlog.Start(t)
	sender, senderLower, _ := newTestLayer()
	sender.SetEncryption(EncryptionXOR, 42)
	sender.SetCompression(CompressionSimple)

	receiver, _, receiverUpper := newTestLayer()

	sender.SendDown([]byte("end to end"), stack.Metadata{DataFormat: FormatText})
	require.Len(t, senderLower.downs, 1)

	// The receiver reads every translation tag from the envelope; its own
	// defaults need no alignment with the sender's.
	receiver.SendUp(senderLower.downs[0], stack.Metadata{})

	require.Len(t, receiverUpper.ups, 1)
	assert.Equal(t, []byte("end to end"), receiverUpper.ups[0])
	assert.Equal(t, FormatText, receiverUpper.upMD[0].DataFormat)
}

func TestSendUpMalformedDropped(t *testing.T) {
	testlog.Start(t)
	l, _, upper := newTestLayer()

	l.SendUp([]byte("{broken"), stack.Metadata{})

	assert.Empty(t, upper.ups)
}

func TestSetEncryptionNegativeKeyKeepsCurrent(t *testing.T) {
	l := NewLayer()
	l.SetEncryption(EncryptionXOR, -1)

	data := []byte("abc")
	// With no key given the compiled-in default applies.
	assert.Equal(t, l.Encrypt(data, EncryptionXOR, DefaultKey), l.Encrypt(data, l.encryption, l.key))
}
