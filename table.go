package mongrel2

import (
	"io"
	"net/textproto"
	"strings"
)

// Table is an ordered, case-insensitive multi-value header table.
//
// Keys are normalized by lower-casing them and turning underscores into
// dashes, so "X_Forwarded_For" and "x-forwarded-for" name the same entry.
// Adding a key that is already present appends to its values.
// The zero value is an empty table ready to use.
type Table struct {
	keys   []string
	values map[string][]string
}

// NewTable returns a table holding the given key/value pairs in order.
func NewTable(pairs ...string) *Table {
	t := &Table{}
	for i := 0; i+1 < len(pairs); i += 2 {
		t.Add(pairs[i], pairs[i+1])
	}
	return t
}

// NormalizeKey returns the form a key is stored under.
func NormalizeKey(key string) string {
	return strings.ReplaceAll(strings.ToLower(key), "_", "-")
}

// CanonicalKey returns the capitalized form a key is rendered with.
func CanonicalKey(key string) string {
	return textproto.CanonicalMIMEHeaderKey(NormalizeKey(key))
}

// Add appends value to key.
func (t *Table) Add(key, value string) {
	k := NormalizeKey(key)
	if t.values == nil {
		t.values = make(map[string][]string)
	}
	if _, ok := t.values[k]; !ok {
		t.keys = append(t.keys, k)
	}
	t.values[k] = append(t.values[k], value)
}

// Set replaces the values of key. Setting no values deletes the key.
func (t *Table) Set(key string, values ...string) {
	if len(values) == 0 {
		t.Del(key)
		return
	}
	k := NormalizeKey(key)
	if t.values == nil {
		t.values = make(map[string][]string)
	}
	if _, ok := t.values[k]; !ok {
		t.keys = append(t.keys, k)
	}
	t.values[k] = append([]string(nil), values...)
}

// Get returns the first value of key, or "".
func (t *Table) Get(key string) string {
	if v := t.Values(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

// Values returns every value of key.
func (t *Table) Values(key string) []string {
	if t == nil {
		return nil
	}
	return t.values[NormalizeKey(key)]
}

// Has reports whether key is present.
func (t *Table) Has(key string) bool {
	if t == nil {
		return false
	}
	_, ok := t.values[NormalizeKey(key)]
	return ok
}

// Del removes key.
func (t *Table) Del(key string) {
	k := NormalizeKey(key)
	if _, ok := t.values[k]; !ok {
		return
	}
	delete(t.values, k)
	for i, existing := range t.keys {
		if existing == k {
			t.keys = append(t.keys[:i], t.keys[i+1:]...)
			break
		}
	}
}

// Len returns the number of distinct keys.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.keys)
}

// Keys returns the normalized keys in insertion order.
func (t *Table) Keys() []string {
	if t == nil {
		return nil
	}
	return append([]string(nil), t.keys...)
}

// Each calls fn for every key in insertion order.
func (t *Table) Each(fn func(key string, values []string)) {
	if t == nil {
		return
	}
	for _, k := range t.keys {
		fn(k, t.values[k])
	}
}

// Merge sets every key of other on t, replacing existing values.
func (t *Table) Merge(other *Table) {
	other.Each(func(key string, values []string) {
		t.Set(key, values...)
	})
}

// Clone returns a deep copy of t.
func (t *Table) Clone() *Table {
	c := &Table{}
	c.Merge(t)
	return c
}

// String renders the table as header lines, one line per value.
func (t *Table) String() string {
	var sb strings.Builder
	_, _ = t.WriteTo(&sb)
	return sb.String()
}

// WriteTo writes "Key: value\r\n" for every value, with canonical keys.
func (t *Table) WriteTo(w io.Writer) (int64, error) {
	var total int64
	if t == nil {
		return 0, nil
	}
	for _, k := range t.keys {
		name := textproto.CanonicalMIMEHeaderKey(k)
		for _, v := range t.values[k] {
			n, err := io.WriteString(w, name+": "+v+"\r\n")
			total += int64(n)
			if err != nil {
				return total, err
			}
		}
	}
	return total, nil
}
