package backup

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize         = 16
	keySize          = 32
	pbkdf2Iterations = 100000
)

// Encryptor seals artifacts with AES-256-GCM. Each call derives a fresh key
// from the passphrase and a random salt; the output is salt|nonce|ciphertext.
type Encryptor struct {
	passphrase []byte
}

// NewEncryptor creates an encryptor for a non-empty passphrase
func NewEncryptor(passphrase []byte) (*Encryptor, error) {
	if len(passphrase) == 0 {
		return nil, NewEncryptionError("encryption passphrase is empty", nil)
	}
	return &Encryptor{passphrase: append([]byte(nil), passphrase...)}, nil
}

// DeriveKey derives a 256-bit key using PBKDF2 with SHA-256
func DeriveKey(passphrase, salt []byte) []byte {
	return pbkdf2.Key(passphrase, salt, pbkdf2Iterations, keySize, sha256.New)
}

// Encrypt encrypts data using AES-256-GCM
func (e *Encryptor) Encrypt(data []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, NewEncryptionError("failed to generate salt", err)
	}

	gcm, err := e.gcm(salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, NewEncryptionError("failed to generate nonce", err)
	}

	out := make([]byte, 0, saltSize+len(nonce)+len(data)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, data, nil), nil
}

// Decrypt decrypts data produced by Encrypt
func (e *Encryptor) Decrypt(encrypted []byte) ([]byte, error) {
	if len(encrypted) < saltSize {
		return nil, NewEncryptionError("encrypted data too short", nil)
	}
	salt, rest := encrypted[:saltSize], encrypted[saltSize:]

	gcm, err := e.gcm(salt)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(rest) < nonceSize {
		return nil, NewEncryptionError("encrypted data too short", nil)
	}
	nonce, ciphertext := rest[:nonceSize], rest[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, NewEncryptionError("failed to decrypt data", err)
	}
	return plaintext, nil
}

func (e *Encryptor) gcm(salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(DeriveKey(e.passphrase, salt))
	if err != nil {
		return nil, NewEncryptionError("failed to create AES cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, NewEncryptionError("failed to create GCM cipher", err)
	}
	return gcm, nil
}
