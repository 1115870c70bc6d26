package sasl

// Base64-encoded challenge strings for LOGIN mechanism
const (
	// LoginChallengeUsername is "Username:" encoded in base64
	LoginChallengeUsername = "VXNlcm5hbWU6"
	// LoginChallengePassword is "Password:" encoded in base64
	LoginChallengePassword = "UGFzc3dvcmQ6"
)

// DecodeLoginResponse decodes one answer of the LOGIN exchange. The line is
// taken verbatim from the wire; it is never parsed as a command.
func DecodeLoginResponse(line string) (string, error) {
	switch line {
	case "":
		return "", ErrEmptyResponse
	case "*":
		return "", ErrAuthenticationCancelled
	}
	decoded, err := decode(line)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

// LoginCredentials builds the credentials of a completed LOGIN exchange.
// LOGIN has no authzid.
func LoginCredentials(username, password string) *Credentials {
	return &Credentials{
		Mechanism:        MechanismLogin,
		AuthenticationID: username,
		Password:         password,
	}
}
