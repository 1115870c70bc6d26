package sasl

import (
	"bytes"
)

// DecodePlain decodes a PLAIN response: base64 of
// authzid NUL authcid NUL passwd. Anything but exactly three parts is
// ErrInvalidFormat. Whether an empty authcid is acceptable is left to the
// policy deciding on the credentials.
func DecodePlain(response string) (*Credentials, error) {
	if response == "*" {
		return nil, ErrAuthenticationCancelled
	}

	decoded, err := decode(response)
	if err != nil {
		return nil, err
	}

	parts := bytes.Split(decoded, []byte{0})
	if len(parts) != 3 {
		return nil, ErrInvalidFormat
	}

	return &Credentials{
		Mechanism:        MechanismPlain,
		AuthorizationID:  string(parts[0]),
		AuthenticationID: string(parts[1]),
		Password:         string(parts[2]),
	}, nil
}
