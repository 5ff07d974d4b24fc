package security

import "errors"

var (
	// ErrTokenInvalid is returned when a token's signature, algorithm, issuer or required claims do not check out.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrTokenExpired is returned when a correctly signed token is past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenMalformed is returned when the input is not a structurally valid JWT.
	ErrTokenMalformed = errors.New("token malformed")
	// ErrCredentialFormat is returned when a stored password hash cannot be parsed.
	ErrCredentialFormat = errors.New("stored credential hash is malformed")
	// ErrConfiguration classifies missing or malformed key material. It is fatal at startup.
	ErrConfiguration = errors.New("configuration error")
)

// ConfigurationError reports which piece of key material could not be loaded.
// errors.Is(err, ErrConfiguration) holds for every ConfigurationError.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return "configuration: " + e.Field + ": " + e.Err.Error()
}

func (e *ConfigurationError) Unwrap() []error {
	return []error{ErrConfiguration, e.Err}
}
