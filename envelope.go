package mongrel2

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/Zereker/mongrel2/tnetstring"
)

// Envelope is one request message as the server frames it:
//
//	SENDER CONNID PATH HEADERS BODY
//
// HEADERS is a TNetstring dictionary, or (legacy servers) a TNetstring string
// holding a JSON object. BODY is a TNetstring string.
type Envelope struct {
	Sender  string
	ConnID  uint64
	Path    string
	Headers *Table
	Body    []byte
}

// DecodeEnvelope parses a raw request message.
func DecodeEnvelope(raw []byte) (*Envelope, error) {
	parts := bytes.SplitN(raw, []byte{' '}, 4)
	if len(parts) != 4 {
		return nil, framingError(nil, "want 4 space separated fields, got %d", len(parts))
	}
	if len(parts[0]) == 0 {
		return nil, framingError(nil, "empty sender id")
	}

	connID, err := strconv.ParseUint(string(parts[1]), 10, 64)
	if err != nil {
		return nil, framingError(err, "bad connection id %q", parts[1])
	}

	hv, rest, err := tnetstring.Parse(parts[3])
	if err != nil {
		return nil, framingError(err, "headers")
	}
	headers, err := decodeHeaders(hv)
	if err != nil {
		return nil, err
	}

	body, tag, rest, err := tnetstring.Split(rest)
	if err != nil {
		return nil, framingError(err, "body")
	}
	if tag != tnetstring.TagString {
		return nil, framingError(nil, "body has type tag %q, want string", tag)
	}
	if len(rest) != 0 {
		return nil, framingError(nil, "%d bytes of trailing data", len(rest))
	}

	return &Envelope{
		Sender:  string(parts[0]),
		ConnID:  connID,
		Path:    string(parts[2]),
		Headers: headers,
		Body:    body,
	}, nil
}

func decodeHeaders(v any) (*Table, error) {
	switch h := v.(type) {
	case tnetstring.Dict:
		t := &Table{}
		for _, p := range h {
			if err := addHeaderValue(t, p.Key, p.Value); err != nil {
				return nil, err
			}
		}
		return t, nil
	case string:
		return decodeJSONHeaders(h)
	}
	return nil, framingError(nil, "headers are a %T, want a dictionary or a JSON string", v)
}

func addHeaderValue(t *Table, key string, v any) error {
	switch val := v.(type) {
	case string:
		t.Add(key, val)
	case []any:
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return framingError(nil, "header %q holds a %T", key, item)
			}
			t.Add(key, s)
		}
	case int64, float64, bool:
		t.Add(key, fmt.Sprint(val))
	case nil:
		t.Add(key, "")
	default:
		return framingError(nil, "header %q holds a %T", key, v)
	}
	return nil
}

// decodeJSONHeaders decodes a JSON object token by token to keep key order.
func decodeJSONHeaders(s string) (*Table, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	tok, err := dec.Token()
	if err != nil {
		return nil, framingError(err, "legacy headers")
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, framingError(nil, "legacy headers are not a JSON object")
	}

	t := &Table{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, framingError(err, "legacy headers")
		}
		key, ok := tok.(string)
		if !ok {
			return nil, framingError(nil, "legacy header key %v is not a string", tok)
		}

		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, framingError(err, "legacy header %q", key)
		}
		if f, ok := v.(float64); ok {
			v = strconv.FormatFloat(f, 'f', -1, 64)
		}
		if err := addHeaderValue(t, key, v); err != nil {
			return nil, err
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, framingError(err, "legacy headers")
	}
	return t, nil
}

func headersDict(h *Table) tnetstring.Dict {
	d := tnetstring.Dict{}
	h.Each(func(key string, values []string) {
		if len(values) == 1 {
			d = append(d, tnetstring.Pair{Key: key, Value: values[0]})
			return
		}
		d = append(d, tnetstring.Pair{Key: key, Value: append([]string(nil), values...)})
	})
	return d
}

func (e *Envelope) prefix() []byte {
	var b []byte
	b = append(b, e.Sender...)
	b = append(b, ' ')
	b = strconv.AppendUint(b, e.ConnID, 10)
	b = append(b, ' ')
	b = append(b, e.Path...)
	return append(b, ' ')
}

// EncodeEnvelope renders e with TNetstring headers.
func EncodeEnvelope(e *Envelope) []byte {
	b := append(e.prefix(), tnetstring.MustDump(headersDict(e.Headers))...)
	return tnetstring.AppendString(b, e.Body)
}

// EncodeLegacyEnvelope renders e with JSON headers, the way older servers
// framed requests.
func EncodeLegacyEnvelope(e *Envelope) ([]byte, error) {
	var js bytes.Buffer
	js.WriteByte('{')
	var err error
	i := 0
	e.Headers.Each(func(key string, values []string) {
		if err != nil {
			return
		}
		if i > 0 {
			js.WriteByte(',')
		}
		i++

		var k, v []byte
		if k, err = json.Marshal(key); err != nil {
			return
		}
		if len(values) == 1 {
			v, err = json.Marshal(values[0])
		} else {
			v, err = json.Marshal(values)
		}
		js.Write(k)
		js.WriteByte(':')
		js.Write(v)
	})
	if err != nil {
		return nil, errors.Wrap(err, "encode legacy headers")
	}
	js.WriteByte('}')

	b := tnetstring.AppendString(e.prefix(), js.Bytes())
	return tnetstring.AppendString(b, e.Body), nil
}

func idList(ids []uint64) []byte {
	var b []byte
	for i, id := range ids {
		if i > 0 {
			b = append(b, ' ')
		}
		b = strconv.AppendUint(b, id, 10)
	}
	return b
}

// EncodeReply frames data for delivery to the given connections of sender.
// Empty data tells the server to close those connections.
func EncodeReply(sender string, ids []uint64, data []byte) []byte {
	b := make([]byte, 0, len(sender)+len(data)+16+8*len(ids))
	b = append(b, sender...)
	b = append(b, ' ')
	b = tnetstring.AppendString(b, idList(ids))
	b = append(b, ' ')
	return append(b, data...)
}

// EncodeExtendedReply frames a reply the server hands to the named filter
// along with its arguments.
func EncodeExtendedReply(sender string, ids []uint64, filter string, values ...any) ([]byte, error) {
	list := make([]any, 0, len(values)+1)
	list = append(list, filter)
	list = append(list, values...)
	payload, err := tnetstring.Dump(list)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s arguments", filter)
	}

	b := append([]byte(sender), ' ')
	b = tnetstring.AppendString(b, append([]byte("X "), idList(ids)...))
	b = append(b, ' ')
	return append(b, payload...), nil
}
