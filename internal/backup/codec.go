package backup

import (
	"fmt"
)

// CodecInfo records how database and identity artifacts were encoded. It is
// stored in the backup metadata so readers can decode without configuration.
type CodecInfo struct {
	Compression CompressionType `json:"compression"`
	Level       int             `json:"level,omitempty"`
	Encrypted   bool            `json:"encrypted"`
}

// Codec compresses then encrypts artifacts, and reverses it on read
type Codec struct {
	info        CodecInfo
	compression *CompressionManager
	encryptor   *Encryptor
}

// NewCodec builds a codec. A passphrase is required when info.Encrypted is set.
func NewCodec(info CodecInfo, passphrase []byte) (*Codec, error) {
	if info.Compression == "" {
		info.Compression = CompressionTypeNone
	}
	switch info.Compression {
	case CompressionTypeNone, CompressionTypeGzip, CompressionTypeLZ4, CompressionTypeZstd:
	default:
		return nil, NewCompressionError(fmt.Sprintf("unsupported compression algorithm: %s", info.Compression), nil)
	}

	c := &Codec{info: info, compression: NewCompressionManager()}
	if info.Encrypted {
		enc, err := NewEncryptor(passphrase)
		if err != nil {
			return nil, err
		}
		c.encryptor = enc
	}
	return c, nil
}

// Info returns the codec description persisted with a backup
func (c *Codec) Info() CodecInfo {
	return c.info
}

// Encode compresses and, when enabled, encrypts data
func (c *Codec) Encode(data []byte) ([]byte, error) {
	out, _, err := c.compression.Compress(data, c.info.Compression, c.info.Level)
	if err != nil {
		return nil, err
	}
	if c.encryptor != nil {
		return c.encryptor.Encrypt(out)
	}
	return out, nil
}

// Decode reverses Encode
func (c *Codec) Decode(data []byte) ([]byte, error) {
	if c.encryptor != nil {
		plain, err := c.encryptor.Decrypt(data)
		if err != nil {
			return nil, err
		}
		data = plain
	}
	return c.compression.Decompress(data, c.info.Compression)
}
