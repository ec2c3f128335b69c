package identity

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	nostr "github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/nbd-wtf/go-nostr/nip42"
	"go.uber.org/zap"

	"github.com/Shugur-Network/lens/internal/errors"
	"github.com/Shugur-Network/lens/internal/logger"
)

const (
	// KeyFileName is the file the generated secret key is persisted to.
	KeyFileName = "client.key"
	// KeyDirName is the directory under the user home holding identity files.
	KeyDirName = ".lens"
)

// ClientIdentity is the engine's signing keypair. The secret key never
// leaves the struct.
type ClientIdentity struct {
	PublicKey string
	secretKey string
}

// Load resolves the client identity. A configured hex secret key wins; next
// an existing key file; otherwise a fresh key is generated and persisted to
// keyFile for the next start. An empty keyFile selects the default path
// under the user home.
func Load(secretKey, keyFile string) (*ClientIdentity, error) {
	if strings.TrimSpace(secretKey) != "" {
		return fromSecretKey(strings.TrimSpace(secretKey))
	}

	path := keyFile
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.IdentityFailure("resolve_key_path", err)
		}
		path = filepath.Join(home, KeyDirName, KeyFileName)
	}

	if _, err := os.Stat(path); err == nil {
		return loadKeyFile(path)
	} else if !os.IsNotExist(err) {
		return nil, errors.IdentityFailure("stat_key_file", err)
	}

	return generate(path)
}

func fromSecretKey(sk string) (*ClientIdentity, error) {
	if !nostr.IsValid32ByteHex(sk) {
		return nil, errors.IdentityFailure("parse_secret_key",
			fmt.Errorf("secret key must be 64 hex characters"))
	}
	pub, err := nostr.GetPublicKey(sk)
	if err != nil {
		return nil, errors.IdentityFailure("derive_public_key", err)
	}
	return &ClientIdentity{PublicKey: pub, secretKey: sk}, nil
}

func loadKeyFile(path string) (*ClientIdentity, error) {
	// Clean the path to prevent directory traversal through configured values.
	cleaned := filepath.Clean(path)
	if strings.Contains(cleaned, "..") {
		return nil, errors.IdentityFailure("read_key_file",
			fmt.Errorf("invalid key file path %q", path))
	}

	content, err := os.ReadFile(cleaned)
	if err != nil {
		return nil, errors.IdentityFailure("read_key_file", err)
	}
	return fromSecretKey(strings.TrimSpace(string(content)))
}

func generate(path string) (*ClientIdentity, error) {
	sk := nostr.GeneratePrivateKey()
	id, err := fromSecretKey(sk)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, errors.IdentityFailure("persist_key", err)
	}
	if err := os.WriteFile(path, []byte(sk+"\n"), 0600); err != nil {
		return nil, errors.IdentityFailure("persist_key", err)
	}

	logger.New("identity").Info("Generated new client identity",
		zap.String("pubkey", id.PublicKey),
		zap.String("key_file", path))
	return id, nil
}

// Sign signs evt with the client key, filling its id, pubkey and signature.
func (id *ClientIdentity) Sign(evt *nostr.Event) error {
	if err := evt.Sign(id.secretKey); err != nil {
		return errors.IdentityFailure("sign_event", err)
	}
	return nil
}

// SignAuth answers a NIP-42 challenge from the relay at address with a
// signed kind 22242 event carrying the relay and challenge tags.
func (id *ClientIdentity) SignAuth(challenge, address string) (*nostr.Event, error) {
	evt := nip42.CreateUnsignedAuthEvent(challenge, id.PublicKey, address)
	if err := evt.Sign(id.secretKey); err != nil {
		return nil, errors.IdentityFailure("sign_auth", err)
	}
	return &evt, nil
}

// Npub returns the bech32 form of the public key for display.
func (id *ClientIdentity) Npub() string {
	npub, err := nip19.EncodePublicKey(id.PublicKey)
	if err != nil {
		return ""
	}
	return npub
}
