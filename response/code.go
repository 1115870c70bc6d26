package response

// Code is an SMTP reply code (RFC 5321).
// 2yz: Success, 3yz: Continue, 4yz: Transient failure, 5yz: Permanent failure.
type Code int

const (
	// 2xx - Success
	CodeSystemStatus            Code = 211
	CodeHelpMessage             Code = 214
	CodeServiceReady            Code = 220
	CodeServiceClosing          Code = 221
	CodeAuthSuccess             Code = 235
	CodeOK                      Code = 250
	CodeUserNotLocalWillForward Code = 251
	CodeCannotVRFY              Code = 252

	// 3xx - Intermediate
	CodeAuthContinue   Code = 334
	CodeStartMailInput Code = 354

	// 4xx - Transient Failure
	CodeServiceUnavailable  Code = 421
	CodePasswordTransition  Code = 432
	CodeMailboxUnavailable  Code = 450
	CodeLocalError          Code = 451
	CodeInsufficientStorage Code = 452
	CodeTempAuthFailure     Code = 454
	CodeUnableToAccommodate Code = 455

	// 5xx - Permanent Failure
	CodeCommandUnrecognized    Code = 500
	CodeSyntaxError            Code = 501
	CodeCommandNotImplemented  Code = 502
	CodeBadSequence            Code = 503
	CodeParameterNotImpl       Code = 504
	CodeNoMailHere             Code = 521
	CodeAuthRequired           Code = 530
	CodeAuthMechanismTooWeak   Code = 534
	CodeAuthCredentialsInvalid Code = 535
	CodeMailboxNotFound        Code = 550
	CodeUserNotLocalTryForward Code = 551
	CodeExceededStorage        Code = 552
	CodeMailboxNameInvalid     Code = 553
	CodeTransactionFailed      Code = 554
	CodeParamsNotRecognized    Code = 555
)

// Class returns the first digit of the code.
func (c Code) Class() int {
	return int(c) / 100
}

// IsPositive returns true for 2xx and 3xx codes.
func (c Code) IsPositive() bool {
	return c >= 200 && c < 400
}

// IsTransient returns true for 4xx codes.
func (c Code) IsTransient() bool {
	return c >= 400 && c < 500
}

// IsPermanent returns true for 5xx codes.
func (c Code) IsPermanent() bool {
	return c >= 500 && c < 600
}
