package unmta

import "errors"

var (
	ErrServerClosed     = errors.New("smtp: server closed")
	ErrHostnameRequired = errors.New("smtp: hostname is required")
	ErrTLSConfigMissing = errors.New("smtp: STARTTLS enabled without TLS config")
	ErrIdleTimeout      = errors.New("smtp: connection timed out due to inactivity")
	ErrLineTooLong      = errors.New("smtp: line too long")
)
