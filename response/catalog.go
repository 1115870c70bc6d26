package response

const (
	textServiceUnavailable = "4.3.0 {domain} Service not available, closing transmission channel"
	textLocalError         = "4.3.0 Requested action aborted: local error in processing"
	textInsufficientStore  = "4.3.1 Requested action not taken: insufficient system storage"
	textExceededStorage    = "5.2.2 Requested mail action aborted: exceeded storage allocation"
	textMailboxUnavailable = "5.1.1 Requested action not taken: mailbox unavailable"
	textUnrecognized       = "5.5.2 Syntax error, command unrecognized"
	textNotImplemented     = "5.5.2 Command not implemented"
	textSyntaxParams       = "5.5.2 Syntax error in parameters or arguments"
	textTempMailbox        = "4.7.0 Requested mail action not taken: mailbox unavailable"
	textDataRefused        = "5.7.1 Access denied: message refused"
	textDataPolicy         = "5.5.1 Command rejected due to invalid parameters or security settings"
)

var unavailable = entry{CodeServiceUnavailable, textServiceUnavailable}

// Connect answers a new connection.
var Connect = &Catalog{
	event:  EventConnect,
	accept: []entry{{CodeServiceReady, "{domain} ESMTP ready"}},
	deferr: []entry{
		unavailable,
		{CodeMailboxUnavailable, "4.3.2 {domain} Service temporarily unavailable, please try again later"},
	},
	reject: []entry{
		{CodeNoMailHere, "5.3.2 {domain} does not accept mail"},
		{CodeMailboxNotFound, "5.7.1 Access denied"},
		{CodeTransactionFailed, "5.7.1 Access denied"},
	},
	dAccept: CodeServiceReady,
	dDefer:  CodeServiceUnavailable,
	dReject: CodeTransactionFailed,
}

// Helo answers HELO and EHLO.
var Helo = &Catalog{
	event:  EventHelo,
	accept: []entry{{CodeOK, "{domain} Hello, pleased to meet you"}},
	deferr: []entry{
		unavailable,
		{CodeMailboxUnavailable, "4.2.0 {domain} Temporary failure, please try again later"},
		{CodeLocalError, "4.3.0 {domain} Temporary server error, please try again later"},
		{CodeInsufficientStorage, "4.3.1 {domain} Insufficient system storage, please try again later"},
	},
	reject: []entry{
		{CodeCommandUnrecognized, "5.5.1 Syntax error, command unrecognized"},
		{CodeSyntaxError, textSyntaxParams},
		{CodeCommandNotImplemented, textNotImplemented},
		{CodeParameterNotImpl, "5.5.4 Command parameter not implemented"},
		{CodeMailboxNotFound, textMailboxUnavailable},
	},
	dAccept: CodeOK,
	dDefer:  CodeServiceUnavailable,
	dReject: CodeMailboxNotFound,
}

// Auth answers a completed AUTH exchange.
var Auth = &Catalog{
	event:  EventAuth,
	accept: []entry{{CodeAuthSuccess, "2.7.0 Authentication successful"}},
	deferr: []entry{
		unavailable,
		{CodePasswordTransition, "4.7.12 A password transition is needed"},
		{CodeMailboxUnavailable, textTempMailbox},
		{CodeLocalError, textLocalError},
		{CodeTempAuthFailure, "4.7.0 Temporary authentication failure"},
	},
	reject: []entry{
		{CodeAuthMechanismTooWeak, "5.7.9 Authentication mechanism is too weak"},
		{CodeAuthCredentialsInvalid, "5.7.8 Authentication credentials invalid"},
	},
	dAccept: CodeAuthSuccess,
	dDefer:  CodeServiceUnavailable,
	dReject: CodeAuthCredentialsInvalid,
}

// MailFrom answers MAIL FROM.
var MailFrom = &Catalog{
	event:  EventMailFrom,
	accept: []entry{{CodeOK, "2.1.0 OK"}},
	deferr: []entry{
		unavailable,
		{CodeMailboxUnavailable, "4.7.0 Sender address temporarily rejected"},
		{CodeLocalError, "4.3.0 Temporary server error, please try again later"},
		{CodeInsufficientStorage, textInsufficientStore},
	},
	reject: []entry{
		{CodeSyntaxError, "5.1.8 Sender address rejected: Domain not allowed"},
		{CodeMailboxNotFound, "5.1.0 Sender address rejected"},
		{CodeUserNotLocalTryForward, "5.1.6 User not local"},
		{CodeExceededStorage, textExceededStorage},
		{CodeTransactionFailed, "5.7.8 Sender address rejected: Access denied"},
	},
	dAccept: CodeOK,
	dDefer:  CodeServiceUnavailable,
	dReject: CodeMailboxNotFound,
}

// RcptTo answers RCPT TO.
var RcptTo = &Catalog{
	event: EventRcptTo,
	accept: []entry{
		{CodeOK, "2.1.5 Recipient OK"},
		{CodeUserNotLocalWillForward, "2.1.5 Recipient not local; relayed as per policy"},
	},
	deferr: []entry{
		{CodeServiceUnavailable, "4.3.0 Temporary failure, please try again later"},
		{CodeMailboxUnavailable, "4.7.0 Mailbox temporarily unavailable, please try again later"},
		{CodeLocalError, "4.4.1 Recipient temporarily unavailable, please try again later"},
		{CodeInsufficientStorage, textInsufficientStore},
	},
	reject: []entry{
		{CodeMailboxNotFound, textMailboxUnavailable},
		{CodeUserNotLocalTryForward, "5.1.6 User not local"},
		{CodeExceededStorage, textExceededStorage},
		{CodeMailboxNameInvalid, "5.1.3 Requested action not taken: invalid recipient address syntax"},
		{CodeTransactionFailed, "5.1.0 Address rejected"},
	},
	dAccept: CodeOK,
	dDefer:  CodeServiceUnavailable,
	dReject: CodeMailboxNotFound,
}

// DataStart answers DATA before the body is sent.
var DataStart = &Catalog{
	event:  EventDataStart,
	accept: []entry{{CodeStartMailInput, "Start mail input; end with <CRLF>.<CRLF>"}},
	deferr: []entry{
		unavailable,
		{CodeLocalError, textLocalError},
		{CodeInsufficientStorage, textInsufficientStore},
	},
	reject: []entry{
		{CodeMailboxNotFound, textDataRefused},
		{CodeExceededStorage, textExceededStorage},
		{CodeTransactionFailed, textDataPolicy},
	},
	dAccept: CodeStartMailInput,
	dDefer:  CodeServiceUnavailable,
	dReject: CodeMailboxNotFound,
}

// DataEnd answers the end-of-data marker.
var DataEnd = &Catalog{
	event:  EventDataEnd,
	accept: []entry{{CodeOK, "2.0.0 OK: Message accepted for delivery"}},
	deferr: []entry{
		unavailable,
		{CodeLocalError, textLocalError},
		{CodeInsufficientStorage, textInsufficientStore},
	},
	reject: []entry{
		{CodeMailboxNotFound, textDataRefused},
		{CodeExceededStorage, textExceededStorage},
		{CodeTransactionFailed, textDataPolicy},
	},
	dAccept: CodeOK,
	dDefer:  CodeLocalError,
	dReject: CodeMailboxNotFound,
}

// Quit answers QUIT.
var Quit = &Catalog{
	event:   EventQuit,
	accept:  []entry{{CodeServiceClosing, "2.0.0 Stay classy"}},
	deferr:  []entry{unavailable},
	reject:  []entry{{CodeTransactionFailed, "5.3.0 Server error, closing connection"}},
	dAccept: CodeServiceClosing,
	dDefer:  CodeServiceUnavailable,
	dReject: CodeTransactionFailed,
}

// Rset answers RSET.
var Rset = &Catalog{
	event:  EventRset,
	accept: []entry{{CodeOK, "2.1.5 OK"}},
	deferr: []entry{unavailable, {CodeLocalError, textLocalError}},
	reject: []entry{
		{CodeCommandUnrecognized, textUnrecognized},
		{CodeCommandNotImplemented, textNotImplemented},
	},
	dAccept: CodeOK,
	dDefer:  CodeLocalError,
	dReject: CodeCommandNotImplemented,
}

// Help answers HELP.
var Help = &Catalog{
	event: EventHelp,
	accept: []entry{
		{CodeSystemStatus, "System status: All services running normally"},
		{CodeHelpMessage, "See: https://unmta.com/"},
	},
	deferr: []entry{unavailable, {CodeLocalError, textLocalError}},
	reject: []entry{
		{CodeCommandUnrecognized, textUnrecognized},
		{CodeCommandNotImplemented, textNotImplemented},
	},
	dAccept: CodeHelpMessage,
	dDefer:  CodeLocalError,
	dReject: CodeCommandNotImplemented,
}

// Noop answers NOOP.
var Noop = &Catalog{
	event:  EventNoop,
	accept: []entry{{CodeOK, "2.0.0 OK"}},
	deferr: []entry{unavailable, {CodeLocalError, textLocalError}},
	reject: []entry{
		{CodeCommandUnrecognized, textUnrecognized},
		{CodeCommandNotImplemented, textNotImplemented},
	},
	dAccept: CodeOK,
	dDefer:  CodeLocalError,
	dReject: CodeCommandNotImplemented,
}

// Vrfy answers VRFY.
var Vrfy = &Catalog{
	event: EventVrfy,
	accept: []entry{
		{CodeOK, "2.1.5 Recipient OK"},
		{CodeUserNotLocalWillForward, "2.1.6 User not local; will forward"},
		{CodeCannotVRFY, "2.5.0 Cannot VRFY user, but will accept message and attempt delivery"},
	},
	deferr: []entry{
		unavailable,
		{CodeMailboxUnavailable, textTempMailbox},
		{CodeLocalError, textLocalError},
	},
	reject: []entry{
		{CodeCommandUnrecognized, textUnrecognized},
		{CodeSyntaxError, textSyntaxParams},
		{CodeCommandNotImplemented, textNotImplemented},
		{CodeMailboxNotFound, textMailboxUnavailable},
		{CodeUserNotLocalTryForward, "5.1.6 User not local"},
		{CodeTransactionFailed, "5.5.1 Verification not permitted due to policy restrictions"},
	},
	dAccept: CodeCannotVRFY,
	dDefer:  CodeLocalError,
	dReject: CodeCommandNotImplemented,
}

// Unknown answers commands that match no verb.
var Unknown = &Catalog{
	event:  EventUnknown,
	accept: []entry{{CodeOK, "2.1.0 OK"}},
	deferr: []entry{
		unavailable,
		{CodeMailboxUnavailable, textTempMailbox},
		{CodeLocalError, textLocalError},
	},
	reject: []entry{
		{CodeCommandUnrecognized, textUnrecognized},
		{CodeSyntaxError, textSyntaxParams},
		{CodeCommandNotImplemented, textNotImplemented},
		{CodeParameterNotImpl, "5.5.2 Command parameter not implemented"},
		{CodeTransactionFailed, "5.5.1 Command failed"},
	},
	dAccept: CodeOK,
	dDefer:  CodeLocalError,
	dReject: CodeCommandUnrecognized,
}

// Catalogs lists every event catalog.
var Catalogs = []*Catalog{Connect, Helo, Auth, MailFrom, RcptTo, DataStart, DataEnd, Quit, Rset, Help, Noop, Vrfy, Unknown}

// For returns the catalog of an event, or nil.
func For(event Event) *Catalog {
	for _, c := range Catalogs {
		if c.event == event {
			return c
		}
	}
	return nil
}
