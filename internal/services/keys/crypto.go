package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

const secretLength = 32

// envelope is the on-disk shape of the encrypted keys file.
type envelope struct {
	Nonce string `json:"nonce"`
	Data  string `json:"data"`
}

// loadOrCreateSecret reads the hex-encoded AES key from path, generating a
// fresh one on first use. A present-but-unusable secret is ErrCorrupted:
// the stored keys cannot be recovered without it and silently regenerating
// would destroy them.
func loadOrCreateSecret(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		secret, decodeErr := hex.DecodeString(strings.TrimSpace(string(data)))
		if decodeErr != nil || len(secret) != secretLength {
			return nil, fmt.Errorf("secret file %s: %w", path, ErrCorrupted)
		}
		return secret, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read secret file: %w", err)
	}

	secret := make([]byte, secretLength)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate secret: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(secret)), 0600); err != nil {
		return nil, fmt.Errorf("failed to write secret file: %w", err)
	}
	return secret, nil
}

// encrypt seals plaintext with AES-256-GCM and returns the JSON envelope.
func encrypt(secret, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	return json.Marshal(envelope{
		Nonce: hex.EncodeToString(nonce),
		Data:  hex.EncodeToString(sealed),
	})
}

// decrypt opens a JSON envelope produced by encrypt. Any structural or
// authentication failure maps to ErrCorrupted; there is no plaintext
// fallback path.
func decrypt(secret, raw []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, ErrCorrupted
	}

	nonce, err := hex.DecodeString(env.Nonce)
	if err != nil {
		return nil, ErrCorrupted
	}
	sealed, err := hex.DecodeString(env.Data)
	if err != nil {
		return nil, ErrCorrupted
	}

	block, err := aes.NewCipher(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, ErrCorrupted
	}

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrCorrupted
	}
	return plaintext, nil
}
