// Package response holds the closed catalog of replies a policy hook may
// return. Every Response is bound to the event it answers and to a code that
// the catalog allows for that event; anything else cannot be constructed.
package response

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCodeNotAllowed is returned when a code is not part of the catalog for
// the requested event and flavor.
var ErrCodeNotAllowed = errors.New("response: code not allowed for event")

// Event names the SMTP command or session moment a response answers.
type Event int

const (
	EventNone Event = iota
	EventConnect
	EventHelo
	EventAuth
	EventMailFrom
	EventRcptTo
	EventDataStart
	EventDataEnd
	EventQuit
	EventRset
	EventHelp
	EventNoop
	EventVrfy
	EventUnknown
)

var eventNames = map[Event]string{
	EventNone:      "none",
	EventConnect:   "connect",
	EventHelo:      "helo",
	EventAuth:      "auth",
	EventMailFrom:  "mail_from",
	EventRcptTo:    "rcpt_to",
	EventDataStart: "data_start",
	EventDataEnd:   "data_end",
	EventQuit:      "quit",
	EventRset:      "rset",
	EventHelp:      "help",
	EventNoop:      "noop",
	EventVrfy:      "vrfy",
	EventUnknown:   "unknown",
}

func (e Event) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// Flavor classifies a response as accepting, deferring or rejecting.
type Flavor int

const (
	FlavorAny Flavor = iota
	FlavorAccept
	FlavorDefer
	FlavorReject
)

func (f Flavor) String() string {
	switch f {
	case FlavorAccept:
		return "accept"
	case FlavorDefer:
		return "defer"
	case FlavorReject:
		return "reject"
	default:
		return "any"
	}
}

// Response is a single SMTP reply. The zero value means "no verdict".
type Response struct {
	code    Code
	message string
	event   Event
	flavor  Flavor
}

// Code returns the reply code.
func (r Response) Code() Code { return r.code }

// Message returns the reply text as stored, with any {domain} placeholder
// left in place. Use Text to render it.
func (r Response) Message() string { return r.message }

// Event returns the event the response was built for. Engine replies made
// with Raw carry EventNone.
func (r Response) Event() Event { return r.event }

// Flavor returns the response flavor.
func (r Response) Flavor() Flavor { return r.flavor }

// IsZero reports whether r is the "no verdict" value.
func (r Response) IsZero() bool { return r.code == 0 }

// IsAccept reports whether r is an accepting response.
func (r Response) IsAccept() bool { return r.flavor == FlavorAccept }

// Text renders the message with {domain} replaced by domain.
func (r Response) Text(domain string) string {
	return strings.ReplaceAll(r.message, "{domain}", domain)
}

// Line formats the response as a single reply line without CRLF.
func (r Response) Line(domain string) string {
	return fmt.Sprintf("%d %s", r.code, r.Text(domain))
}

func (r Response) String() string {
	return r.Line("{domain}")
}

// Raw builds a response outside the per-event catalog. The session engine
// uses it for protocol-level replies such as 503 or 334 challenges; hooks
// should use the event catalogs instead.
func Raw(code Code, message string) Response {
	flavor := FlavorAny
	switch {
	case code.IsPositive():
		flavor = FlavorAccept
	case code.IsTransient():
		flavor = FlavorDefer
	case code.IsPermanent():
		flavor = FlavorReject
	}
	return Response{code: code, message: message, flavor: flavor}
}

// entry is one allowed code of an event's catalog.
type entry struct {
	code    Code
	message string
}

// Catalog lists the codes allowed for one event.
type Catalog struct {
	event   Event
	accept  []entry
	deferr  []entry
	reject  []entry
	dAccept Code
	dDefer  Code
	dReject Code
}

// Event returns the event the catalog belongs to.
func (c *Catalog) Event() Event { return c.event }

// Accept returns the default accepting response.
func (c *Catalog) Accept() Response { return c.must(FlavorAccept, c.dAccept) }

// Defer returns the default deferring response.
func (c *Catalog) Defer() Response { return c.must(FlavorDefer, c.dDefer) }

// Reject returns the default rejecting response.
func (c *Catalog) Reject() Response { return c.must(FlavorReject, c.dReject) }

// Codes returns the codes allowed for the given flavor. FlavorAny returns
// every code of the event.
func (c *Catalog) Codes(flavor Flavor) []Code {
	var codes []Code
	for _, e := range c.entries(flavor) {
		codes = append(codes, e.code)
	}
	return codes
}

// Allows reports whether code belongs to the catalog for flavor.
func (c *Catalog) Allows(flavor Flavor, code Code) bool {
	_, ok := c.lookup(flavor, code)
	return ok
}

// New builds a response for code. An empty message selects the catalog
// default text. FlavorAny searches all flavors.
func (c *Catalog) New(flavor Flavor, code Code, message string) (Response, error) {
	e, ok := c.lookup(flavor, code)
	if !ok {
		return Response{}, fmt.Errorf("%w: %s %s %d", ErrCodeNotAllowed, c.event, flavor, code)
	}
	if message == "" {
		message = e.message
	}
	return Response{code: e.code, message: message, event: c.event, flavor: c.flavorOf(e.code)}, nil
}

// Must is like New but panics when the code is not allowed. It is meant
// for codes fixed at compile time.
func (c *Catalog) Must(flavor Flavor, code Code, message string) Response {
	r, err := c.New(flavor, code, message)
	if err != nil {
		panic(err)
	}
	return r
}

func (c *Catalog) must(flavor Flavor, code Code) Response {
	return c.Must(flavor, code, "")
}

func (c *Catalog) entries(flavor Flavor) []entry {
	switch flavor {
	case FlavorAccept:
		return c.accept
	case FlavorDefer:
		return c.deferr
	case FlavorReject:
		return c.reject
	}
	all := make([]entry, 0, len(c.accept)+len(c.deferr)+len(c.reject))
	all = append(all, c.accept...)
	all = append(all, c.deferr...)
	return append(all, c.reject...)
}

func (c *Catalog) lookup(flavor Flavor, code Code) (entry, bool) {
	for _, e := range c.entries(flavor) {
		if e.code == code {
			return e, true
		}
	}
	return entry{}, false
}

func (c *Catalog) flavorOf(code Code) Flavor {
	for _, f := range []Flavor{FlavorAccept, FlavorDefer, FlavorReject} {
		if _, ok := c.lookup(f, code); ok {
			return f
		}
	}
	return FlavorAny
}
