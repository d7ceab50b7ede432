// Package cipher provides the symmetric cipher shared by every encrypting
// type handler.
//
// Key material (password, salt, IV) comes from configuration. The AES and MAC
// keys are derived once with PBKDF2 and never change for the lifetime of a
// Service, so one Service may be used from any number of goroutines.
//
// Encryption is deterministic: the IV is fixed by configuration, so equal
// plaintexts produce equal ciphertexts. Values written with one key set can
// only be read back with the same key set.
package cipher

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultPassword, DefaultSalt and DefaultIV are for non-production use.
	DefaultPassword = "changeme"
	DefaultSalt     = "changeme"
	DefaultIV       = "0123456789ABCDEF"

	iterations = 1024
	keyLen     = 32
	tagLen     = sha256.Size
)

// ErrInvalidCiphertext is returned when input fails integrity or framing checks.
var ErrInvalidCiphertext = errors.New("cipher: invalid ciphertext")

// Settings holds key material.
type Settings struct {
	Password string
	Salt     string
	IV       string
}

// Service encrypts and decrypts byte payloads.
type Service struct {
	block  cipher.Block
	iv     []byte
	macKey []byte
}

// New derives keys from s. The IV must be exactly one AES block.
func New(s Settings) (*Service, error) {
	if s.Password == "" {
		return nil, errors.New("cipher: password is required")
	}
	if len(s.IV) != aes.BlockSize {
		return nil, fmt.Errorf("cipher: iv must be %d bytes, got %d", aes.BlockSize, len(s.IV))
	}

	material := pbkdf2.Key([]byte(s.Password), []byte(s.Salt), iterations, 2*keyLen, sha256.New)
	block, err := aes.NewCipher(material[:keyLen])
	if err != nil {
		return nil, fmt.Errorf("cipher: init aes: %w", err)
	}

	return &Service{
		block:  block,
		iv:     []byte(s.IV),
		macKey: material[keyLen:],
	}, nil
}

// Default returns a Service using the documented default key material.
func Default() *Service {
	s, err := New(Settings{Password: DefaultPassword, Salt: DefaultSalt, IV: DefaultIV})
	if err != nil {
		panic(err)
	}
	return s
}

// Encrypt returns AES-CBC(plain) followed by an HMAC-SHA256 tag.
func (s *Service) Encrypt(plain []byte) ([]byte, error) {
	padded := pad(plain)
	out := make([]byte, len(padded), len(padded)+tagLen)
	cipher.NewCBCEncrypter(s.block, s.iv).CryptBlocks(out, padded)
	return append(out, s.tag(out)...), nil
}

// Decrypt verifies the tag and returns the plaintext.
func (s *Service) Decrypt(data []byte) ([]byte, error) {
	if len(data) < aes.BlockSize+tagLen {
		return nil, fmt.Errorf("%w: too short (%d bytes)", ErrInvalidCiphertext, len(data))
	}
	body, tag := data[:len(data)-tagLen], data[len(data)-tagLen:]
	if len(body)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: not a multiple of the block size", ErrInvalidCiphertext)
	}
	if !hmac.Equal(tag, s.tag(body)) {
		return nil, fmt.Errorf("%w: tag mismatch", ErrInvalidCiphertext)
	}

	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(s.block, s.iv).CryptBlocks(plain, body)
	return unpad(plain)
}

// EncryptString encrypts s and returns standard base64.
func (s *Service) EncryptString(plain string) (string, error) {
	data, err := s.Encrypt([]byte(plain))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecryptString reverses EncryptString.
func (s *Service) DecryptString(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	plain, err := s.Decrypt(data)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func (s *Service) tag(body []byte) []byte {
	mac := hmac.New(sha256.New, s.macKey)
	mac.Write(s.iv)
	mac.Write(body)
	return mac.Sum(nil)
}

func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	return append(bytes.Clone(b), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty block", ErrInvalidCiphertext)
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, fmt.Errorf("%w: bad padding", ErrInvalidCiphertext)
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, fmt.Errorf("%w: bad padding", ErrInvalidCiphertext)
		}
	}
	return b[:len(b)-n], nil
}
