package manifest

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// DefaultIterations is the PBKDF2 work factor for new manifests.
const DefaultIterations = 50000

const (
	keySize  = 32 // AES-256
	saltSize = 16
)

// cipherSuite derives per-entry keys from the passkey and seals payloads
// with AES-256-GCM.
type cipherSuite struct {
	iterations int
}

func (c cipherSuite) deriveKey(passkey string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passkey), salt, c.iterations, keySize, sha256.New)
}

// checkValue is the digest stored in the manifest to verify a passkey
// without decrypting any entry.
func (c cipherSuite) checkValue(passkey string, salt []byte) []byte {
	sum := sha256.Sum256(c.deriveKey(passkey, salt))
	return sum[:]
}

func (c cipherSuite) verify(passkey string, check *passkeyCheck) bool {
	if check == nil {
		return false
	}
	return subtle.ConstantTimeCompare(c.checkValue(passkey, check.Salt), check.Value) == 1
}

func (c cipherSuite) newCheck(passkey string) (*passkeyCheck, error) {
	salt, err := newSalt()
	if err != nil {
		return nil, err
	}
	return &passkeyCheck{Salt: salt, Value: c.checkValue(passkey, salt)}, nil
}

func newSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("rand salt: %w", err)
	}
	return salt, nil
}

// seal encrypts plaintext under key and returns the random nonce and the
// ciphertext with its authentication tag.
func seal(key, plaintext []byte) (nonce, ciphertext []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}

	nonce = make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("rand nonce: %w", err)
	}

	return nonce, gcm.Seal(nil, nonce, plaintext, nil), nil
}

func open(key, nonce, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, errors.New("invalid nonce length")
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("gcm.Open: %w", err)
	}
	return plaintext, nil
}
