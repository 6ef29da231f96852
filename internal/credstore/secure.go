package credstore

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

var secureMagic = []byte("CSV1")

const (
	saltSize  = 16
	nonceSize = 24
	keySize   = 32

	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// ErrSealBroken is returned when the secure document cannot be opened with the configured passphrase.
var ErrSealBroken = errors.New("credential document is corrupt or the passphrase is wrong")

// SecureFileBackend seals the document with NaCl secretbox. The key is derived with
// scrypt from a passphrase and a per-file salt kept in the header.
//
// Layout: magic(4) | salt(16) | nonce(24) | box.
type SecureFileBackend struct {
	*fileBackend
}

func NewSecureFileBackend(path string, passphrase string) (*SecureFileBackend, error) {
	if passphrase == "" {
		return nil, errors.New("secure credential backend requires a passphrase")
	}

	fb, err := newFileBackend("secure", path, &sealedCodec{passphrase: []byte(passphrase)})
	if err != nil {
		return nil, err
	}
	return &SecureFileBackend{fileBackend: fb}, nil
}

type sealedCodec struct {
	passphrase []byte

	mu   sync.Mutex
	salt []byte
	key  *[keySize]byte
}

func (c *sealedCodec) encode(values map[string]string) ([]byte, error) {
	plain, err := jsonCodec{}.encode(values)
	if err != nil {
		return nil, err
	}

	salt, key, err := c.currentKey()
	if err != nil {
		return nil, err
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, len(secureMagic)+saltSize+nonceSize+len(plain)+secretbox.Overhead)
	out = append(out, secureMagic...)
	out = append(out, salt...)
	out = append(out, nonce[:]...)
	return secretbox.Seal(out, plain, &nonce, key), nil
}

func (c *sealedCodec) decode(data []byte) (map[string]string, error) {
	header := len(secureMagic) + saltSize + nonceSize
	if len(data) < header+secretbox.Overhead || !bytes.Equal(data[:len(secureMagic)], secureMagic) {
		return nil, ErrSealBroken
	}

	salt := data[len(secureMagic) : len(secureMagic)+saltSize]
	var nonce [nonceSize]byte
	copy(nonce[:], data[len(secureMagic)+saltSize:header])

	key, err := c.keyFor(salt)
	if err != nil {
		return nil, err
	}

	plain, ok := secretbox.Open(nil, data[header:], &nonce, key)
	if !ok {
		return nil, ErrSealBroken
	}

	return jsonCodec{}.decode(plain)
}

// currentKey returns the key for the salt in use, creating a salt on first write.
func (c *sealedCodec) currentKey() ([]byte, *[keySize]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.key != nil {
		return c.salt, c.key, nil
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, nil, fmt.Errorf("generate salt: %w", err)
	}

	key, err := c.deriveLocked(salt)
	if err != nil {
		return nil, nil, err
	}
	return c.salt, key, nil
}

func (c *sealedCodec) keyFor(salt []byte) (*[keySize]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.key != nil && bytes.Equal(c.salt, salt) {
		return c.key, nil
	}
	return c.deriveLocked(salt)
}

func (c *sealedCodec) deriveLocked(salt []byte) (*[keySize]byte, error) {
	derived, err := scrypt.Key(c.passphrase, salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	var key [keySize]byte
	copy(key[:], derived)
	c.salt = append([]byte(nil), salt...)
	c.key = &key
	return c.key, nil
}
