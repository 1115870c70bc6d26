package spool

import (
	"time"

	"github.com/tinylib/msgp/msgp"
)

// Envelope is the transaction metadata stored next to a spooled message.
type Envelope struct {
	ID           string
	TraceID      string
	Received     time.Time
	RemoteAddr   string
	Helo         string
	Secure       bool
	AuthIdentity string
	Sender       string
	Recipients   []string
	Size         int64
}

var (
	_ msgp.Marshaler   = (*Envelope)(nil)
	_ msgp.Unmarshaler = (*Envelope)(nil)
	_ msgp.Sizer       = (*Envelope)(nil)
)

// MarshalMsg implements msgp.Marshaler
func (e *Envelope) MarshalMsg(b []byte) ([]byte, error) {
	o := msgp.Require(b, e.Msgsize())
	o = msgp.AppendMapHeader(o, 10)
	o = msgp.AppendString(o, "id")
	o = msgp.AppendString(o, e.ID)
	o = msgp.AppendString(o, "trace")
	o = msgp.AppendString(o, e.TraceID)
	o = msgp.AppendString(o, "received")
	o = msgp.AppendTime(o, e.Received)
	o = msgp.AppendString(o, "remote")
	o = msgp.AppendString(o, e.RemoteAddr)
	o = msgp.AppendString(o, "helo")
	o = msgp.AppendString(o, e.Helo)
	o = msgp.AppendString(o, "tls")
	o = msgp.AppendBool(o, e.Secure)
	o = msgp.AppendString(o, "auth")
	o = msgp.AppendString(o, e.AuthIdentity)
	o = msgp.AppendString(o, "from")
	o = msgp.AppendString(o, e.Sender)
	o = msgp.AppendString(o, "to")
	o = msgp.AppendArrayHeader(o, uint32(len(e.Recipients)))
	for _, rcpt := range e.Recipients {
		o = msgp.AppendString(o, rcpt)
	}
	o = msgp.AppendString(o, "size")
	o = msgp.AppendInt64(o, e.Size)
	return o, nil
}

// UnmarshalMsg implements msgp.Unmarshaler. Unknown keys are skipped.
func (e *Envelope) UnmarshalMsg(bts []byte) ([]byte, error) {
	fields, bts, err := msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return bts, msgp.WrapError(err)
	}
	for ; fields > 0; fields-- {
		var key []byte
		key, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			return bts, msgp.WrapError(err)
		}
		switch string(key) {
		case "id":
			e.ID, bts, err = msgp.ReadStringBytes(bts)
		case "trace":
			e.TraceID, bts, err = msgp.ReadStringBytes(bts)
		case "received":
			e.Received, bts, err = msgp.ReadTimeBytes(bts)
		case "remote":
			e.RemoteAddr, bts, err = msgp.ReadStringBytes(bts)
		case "helo":
			e.Helo, bts, err = msgp.ReadStringBytes(bts)
		case "tls":
			e.Secure, bts, err = msgp.ReadBoolBytes(bts)
		case "auth":
			e.AuthIdentity, bts, err = msgp.ReadStringBytes(bts)
		case "from":
			e.Sender, bts, err = msgp.ReadStringBytes(bts)
		case "to":
			var n uint32
			n, bts, err = msgp.ReadArrayHeaderBytes(bts)
			if err != nil {
				return bts, msgp.WrapError(err, "Recipients")
			}
			e.Recipients = make([]string, n)
			for i := range e.Recipients {
				e.Recipients[i], bts, err = msgp.ReadStringBytes(bts)
				if err != nil {
					return bts, msgp.WrapError(err, "Recipients", i)
				}
			}
		case "size":
			e.Size, bts, err = msgp.ReadInt64Bytes(bts)
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return bts, msgp.WrapError(err, string(key))
		}
	}
	return bts, nil
}

// Msgsize returns an upper bound of the encoded size.
func (e *Envelope) Msgsize() int {
	s := msgp.MapHeaderSize +
		msgp.StringPrefixSize + 2 + msgp.StringPrefixSize + len(e.ID) +
		msgp.StringPrefixSize + 5 + msgp.StringPrefixSize + len(e.TraceID) +
		msgp.StringPrefixSize + 8 + msgp.TimeSize +
		msgp.StringPrefixSize + 6 + msgp.StringPrefixSize + len(e.RemoteAddr) +
		msgp.StringPrefixSize + 4 + msgp.StringPrefixSize + len(e.Helo) +
		msgp.StringPrefixSize + 3 + msgp.BoolSize +
		msgp.StringPrefixSize + 4 + msgp.StringPrefixSize + len(e.AuthIdentity) +
		msgp.StringPrefixSize + 4 + msgp.StringPrefixSize + len(e.Sender) +
		msgp.StringPrefixSize + 2 + msgp.ArrayHeaderSize +
		msgp.StringPrefixSize + 4 + msgp.Int64Size
	for _, rcpt := range e.Recipients {
		s += msgp.StringPrefixSize + len(rcpt)
	}
	return s
}
