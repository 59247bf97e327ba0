package state

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
)

const (
	// ManifestKeyEnvVar holds the passphrase mirrored manifests are sealed with.
	ManifestKeyEnvVar = "STACKSHIFT_MANIFEST_KEY"

	sealedHeader = "# STACKSHIFT_SEALED_MANIFEST\n"
)

// EncryptManifest seals content with AES-256-GCM under the key derived from
// ManifestKeyEnvVar. Content is returned unchanged when no key is set.
func EncryptManifest(content []byte) ([]byte, error) {
	gcm, err := manifestCipher()
	if err != nil {
		return nil, err
	}
	if gcm == nil {
		return content, nil
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, content, nil)
	return []byte(sealedHeader + base64.StdEncoding.EncodeToString(sealed) + "\n"), nil
}

// DecryptManifest opens content sealed by EncryptManifest. Plain content is
// returned unchanged.
func DecryptManifest(content []byte) ([]byte, error) {
	if !IsEncrypted(content) {
		return content, nil
	}

	gcm, err := manifestCipher()
	if err != nil {
		return nil, err
	}
	if gcm == nil {
		return nil, fmt.Errorf("manifest is sealed but %s is not set", ManifestKeyEnvVar)
	}

	encoded := bytes.TrimSpace(bytes.TrimPrefix(content, []byte(sealedHeader)))
	sealed, err := base64.StdEncoding.DecodeString(string(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to decode sealed manifest: %w", err)
	}

	n := gcm.NonceSize()
	if len(sealed) < n {
		return nil, fmt.Errorf("sealed manifest too short")
	}
	plain, err := gcm.Open(nil, sealed[:n], sealed[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open sealed manifest (wrong key?): %w", err)
	}
	return plain, nil
}

// IsEncrypted reports whether content was sealed by EncryptManifest.
func IsEncrypted(content []byte) bool {
	return bytes.HasPrefix(content, []byte(sealedHeader))
}

// manifestCipher returns nil without error when no passphrase is set.
func manifestCipher() (cipher.AEAD, error) {
	passphrase := os.Getenv(ManifestKeyEnvVar)
	if passphrase == "" {
		return nil, nil
	}

	key := sha256.Sum256([]byte(passphrase))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
