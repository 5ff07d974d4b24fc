package security

import (
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"strings"
)

var (
	// ErrInvalidKey is returned when PEM or key type is invalid.
	ErrInvalidKey = errors.New("invalid key")
	// ErrKeyMismatch is returned when the public key does not belong to the private key.
	ErrKeyMismatch = errors.New("public key does not match private key")
)

// LoadPEM reads content from path if s does not look like inline PEM; otherwise returns s as bytes.
// Inline PEM may carry literal "\n" sequences (as env vars often do); they are turned into newlines.
func LoadPEM(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidKey
	}
	if strings.HasPrefix(s, "-----BEGIN") {
		return []byte(strings.ReplaceAll(s, `\n`, "\n")), nil
	}
	return os.ReadFile(s)
}

// ParsePrivateKey parses a PEM-encoded private key (PKCS#1 or PKCS#8). s may be inline PEM or a file path.
func ParsePrivateKey(s string) (crypto.Signer, error) {
	pemBytes, err := LoadPEM(s)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, ErrInvalidKey
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		return key, nil
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, ErrInvalidKey
		}
		return signer, nil
	default:
		return nil, ErrInvalidKey
	}
}

// ParsePublicKey parses a PEM-encoded public key (PKCS#1 or PKIX). s may be inline PEM or a file path.
func ParsePublicKey(s string) (crypto.PublicKey, error) {
	pemBytes, err := LoadPEM(s)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, ErrInvalidKey
	}
	switch block.Type {
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	case "PUBLIC KEY":
		return x509.ParsePKIXPublicKey(block.Bytes)
	default:
		return nil, ErrInvalidKey
	}
}

// KeyProvider holds the RSA key pair used for access tokens. It is built once at startup
// and shared read-only by every component that signs or verifies access tokens.
type KeyProvider struct {
	private   *rsa.PrivateKey
	public    *rsa.PublicKey
	publicPEM []byte
}

// LoadKeyProvider parses the private and public key (inline PEM or file paths) and checks that
// they form a pair. Any failure is a *ConfigurationError; callers must abort startup on it.
func LoadKeyProvider(privateKey, publicKey string) (*KeyProvider, error) {
	signer, err := ParsePrivateKey(privateKey)
	if err != nil {
		return nil, &ConfigurationError{Field: "JWT_PRIVATE_KEY", Err: err}
	}
	priv, ok := signer.(*rsa.PrivateKey)
	if !ok {
		return nil, &ConfigurationError{Field: "JWT_PRIVATE_KEY", Err: ErrInvalidKey}
	}
	parsed, err := ParsePublicKey(publicKey)
	if err != nil {
		return nil, &ConfigurationError{Field: "JWT_PUBLIC_KEY", Err: err}
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, &ConfigurationError{Field: "JWT_PUBLIC_KEY", Err: ErrInvalidKey}
	}
	if !priv.PublicKey.Equal(pub) {
		return nil, &ConfigurationError{Field: "JWT_PUBLIC_KEY", Err: ErrKeyMismatch}
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, &ConfigurationError{Field: "JWT_PUBLIC_KEY", Err: err}
	}
	return &KeyProvider{
		private:   priv,
		public:    pub,
		publicPEM: pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}),
	}, nil
}

// PrivateKey returns the signing key. Only the token signer should call it.
func (k *KeyProvider) PrivateKey() *rsa.PrivateKey { return k.private }

// PublicKey returns the verification key.
func (k *KeyProvider) PublicKey() *rsa.PublicKey { return k.public }

// PublicKeyPEM returns the PKIX PEM encoding of the public key for relying parties.
func (k *KeyProvider) PublicKeyPEM() []byte {
	out := make([]byte, len(k.publicPEM))
	copy(out, k.publicPEM)
	return out
}
