// Package tnetstring implements the typed netstring encoding spoken by the
// Mongrel2 web server.
//
// A TNetstring is written as LENGTH ":" PAYLOAD TAG, where LENGTH is the
// decimal byte count of PAYLOAD and TAG names the payload type. A plain
// netstring ("5:hello,") is a TNetstring string.
package tnetstring

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/pkg/errors"
)

// Type tags.
const (
	TagString  byte = ','
	TagInteger byte = '#'
	TagFloat   byte = '^'
	TagBool    byte = '!'
	TagNull    byte = '~'
	TagDict    byte = '}'
	TagList    byte = ']'
)

// maxLengthDigits bounds the length prefix, the same limit the server applies.
const maxLengthDigits = 9

// SyntaxError describes malformed TNetstring input.
type SyntaxError struct {
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("tnetstring: %s (offset %d)", e.Msg, e.Offset)
}

func syntaxErrorf(offset int, format string, args ...any) error {
	return &SyntaxError{Offset: offset, Msg: fmt.Sprintf(format, args...)}
}

// Split cuts the first TNetstring off data without decoding its payload.
// It returns the raw payload, the type tag and the remaining input.
func Split(data []byte) (payload []byte, tag byte, rest []byte, err error) {
	colon := bytes.IndexByte(data, ':')
	switch {
	case colon < 0:
		return nil, 0, data, syntaxErrorf(0, "missing length separator")
	case colon == 0:
		return nil, 0, data, syntaxErrorf(0, "empty length prefix")
	case colon > maxLengthDigits:
		return nil, 0, data, syntaxErrorf(0, "length prefix too long")
	}

	n := 0
	for i, c := range data[:colon] {
		if c < '0' || c > '9' {
			return nil, 0, data, syntaxErrorf(i, "invalid length prefix %q", data[:colon])
		}
		n = n*10 + int(c-'0')
	}

	end := colon + 1 + n
	if end >= len(data) {
		return nil, 0, data, syntaxErrorf(len(data), "truncated payload: want %d bytes", n)
	}

	return data[colon+1 : end], data[end], data[end+1:], nil
}

// Parse decodes the first TNetstring in data and returns the value together
// with the unconsumed input.
//
// Strings decode to string, integers to int64, floats to float64, booleans to
// bool, null to nil, dictionaries to Dict and lists to []any.
func Parse(data []byte) (any, []byte, error) {
	payload, tag, rest, err := Split(data)
	if err != nil {
		return nil, data, err
	}

	v, err := decode(payload, tag)
	if err != nil {
		return nil, data, err
	}
	return v, rest, nil
}

// ParseExact decodes data, which must hold exactly one TNetstring.
func ParseExact(data []byte) (any, error) {
	v, rest, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, syntaxErrorf(len(data)-len(rest), "%d bytes of trailing data", len(rest))
	}
	return v, nil
}

func decode(payload []byte, tag byte) (any, error) {
	switch tag {
	case TagString:
		return string(payload), nil
	case TagInteger:
		i, err := strconv.ParseInt(string(payload), 10, 64)
		if err != nil {
			return nil, errors.Wrap(err, "tnetstring: bad integer")
		}
		return i, nil
	case TagFloat:
		f, err := strconv.ParseFloat(string(payload), 64)
		if err != nil {
			return nil, errors.Wrap(err, "tnetstring: bad float")
		}
		return f, nil
	case TagBool:
		switch string(payload) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, syntaxErrorf(0, "bad boolean %q", payload)
	case TagNull:
		if len(payload) != 0 {
			return nil, syntaxErrorf(0, "null with a payload")
		}
		return nil, nil
	case TagDict:
		return parseDict(payload)
	case TagList:
		return parseList(payload)
	}
	return nil, syntaxErrorf(0, "unknown type tag %q", tag)
}

func parseDict(data []byte) (Dict, error) {
	d := Dict{}
	for len(data) > 0 {
		payload, tag, rest, err := Split(data)
		if err != nil {
			return nil, err
		}
		if tag != TagString {
			return nil, syntaxErrorf(0, "dictionary key must be a string, got tag %q", tag)
		}
		if len(rest) == 0 {
			return nil, syntaxErrorf(0, "dictionary key %q has no value", payload)
		}

		v, rest, err := Parse(rest)
		if err != nil {
			return nil, err
		}
		d = append(d, Pair{Key: string(payload), Value: v})
		data = rest
	}
	return d, nil
}

func parseList(data []byte) ([]any, error) {
	list := []any{}
	for len(data) > 0 {
		v, rest, err := Parse(data)
		if err != nil {
			return nil, err
		}
		list = append(list, v)
		data = rest
	}
	return list, nil
}

// Dump encodes v as a TNetstring.
//
// Supported types are nil, string, []byte, bool, the integer and float kinds,
// Dict, map[string]any (written in key order), []any and []string.
func Dump(v any) ([]byte, error) {
	return Append(nil, v)
}

// MustDump is like Dump but panics on unsupported values. It is meant for
// values built from literals.
func MustDump(v any) []byte {
	b, err := Dump(v)
	if err != nil {
		panic(err)
	}
	return b
}

// Append appends the encoding of v to dst.
func Append(dst []byte, v any) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return appendRaw(dst, nil, TagNull), nil
	case string:
		return appendRaw(dst, []byte(t), TagString), nil
	case []byte:
		return appendRaw(dst, t, TagString), nil
	case bool:
		return appendRaw(dst, strconv.AppendBool(nil, t), TagBool), nil
	case int:
		return appendRaw(dst, strconv.AppendInt(nil, int64(t), 10), TagInteger), nil
	case int32:
		return appendRaw(dst, strconv.AppendInt(nil, int64(t), 10), TagInteger), nil
	case int64:
		return appendRaw(dst, strconv.AppendInt(nil, t, 10), TagInteger), nil
	case uint:
		return appendRaw(dst, strconv.AppendUint(nil, uint64(t), 10), TagInteger), nil
	case uint32:
		return appendRaw(dst, strconv.AppendUint(nil, uint64(t), 10), TagInteger), nil
	case uint64:
		return appendRaw(dst, strconv.AppendUint(nil, t, 10), TagInteger), nil
	case float32:
		return appendFloat(dst, float64(t))
	case float64:
		return appendFloat(dst, t)
	case Dict:
		var payload []byte
		var err error
		for _, p := range t {
			payload = appendRaw(payload, []byte(p.Key), TagString)
			if payload, err = Append(payload, p.Value); err != nil {
				return dst, err
			}
		}
		return appendRaw(dst, payload, TagDict), nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		d := make(Dict, 0, len(keys))
		for _, k := range keys {
			d = append(d, Pair{Key: k, Value: t[k]})
		}
		return Append(dst, d)
	case []any:
		var payload []byte
		var err error
		for _, item := range t {
			if payload, err = Append(payload, item); err != nil {
				return dst, err
			}
		}
		return appendRaw(dst, payload, TagList), nil
	case []string:
		var payload []byte
		for _, item := range t {
			payload = appendRaw(payload, []byte(item), TagString)
		}
		return appendRaw(dst, payload, TagList), nil
	}
	return dst, errors.Errorf("tnetstring: unsupported type %T", v)
}

func appendFloat(dst []byte, f float64) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return dst, errors.Errorf("tnetstring: cannot encode %v", f)
	}
	return appendRaw(dst, strconv.AppendFloat(nil, f, 'g', -1, 64), TagFloat), nil
}

func appendRaw(dst, payload []byte, tag byte) []byte {
	dst = strconv.AppendInt(dst, int64(len(payload)), 10)
	dst = append(dst, ':')
	dst = append(dst, payload...)
	return append(dst, tag)
}

// AppendString appends a TNetstring string (equivalently a netstring) to dst.
func AppendString(dst, s []byte) []byte {
	return appendRaw(dst, s, TagString)
}
