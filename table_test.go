package mongrel2

import (
	"reflect"
	"testing"
)

func TestTable_CaseAndUnderscoreInsensitive(t *testing.T) {
	tbl := NewTable("X_Forwarded_For", "10.0.0.1")

	for _, key := range []string{"x-forwarded-for", "X-FORWARDED-FOR", "x_forwarded_for"} {
		if got := tbl.Get(key); got != "10.0.0.1" {
			t.Errorf("Get(%q) = %q, want 10.0.0.1", key, got)
		}
	}
}

func TestTable_RepeatedKeysCoalesce(t *testing.T) {
	tbl := &Table{}
	tbl.Add("Set-Cookie", "a=1")
	tbl.Add("set-cookie", "b=2")

	if tbl.Len() != 1 {
		t.Fatalf("Len = %d, want 1", tbl.Len())
	}
	want := []string{"a=1", "b=2"}
	if got := tbl.Values("SET-COOKIE"); !reflect.DeepEqual(got, want) {
		t.Errorf("Values = %v, want %v", got, want)
	}
}

func TestTable_KeepsOrder(t *testing.T) {
	tbl := NewTable("c", "3", "a", "1", "b", "2")
	if got := tbl.Keys(); !reflect.DeepEqual(got, []string{"c", "a", "b"}) {
		t.Errorf("Keys = %v", got)
	}

	tbl.Del("a")
	if got := tbl.Keys(); !reflect.DeepEqual(got, []string{"c", "b"}) {
		t.Errorf("Keys after Del = %v", got)
	}
	if tbl.Has("a") {
		t.Error("Has(a) = true after Del")
	}
}

func TestTable_SetReplaces(t *testing.T) {
	tbl := NewTable("Content-Type", "text/plain")
	tbl.Set("content_type", "text/html")

	if got := tbl.Values("Content-Type"); !reflect.DeepEqual(got, []string{"text/html"}) {
		t.Errorf("Values = %v", got)
	}

	tbl.Set("content-type")
	if tbl.Has("content-type") {
		t.Error("Set with no values did not delete the key")
	}
}

func TestTable_String(t *testing.T) {
	tbl := NewTable("x_ice_cream_flavor", "mango", "Set-Cookie", "a=1", "set-cookie", "b=2")
	want := "X-Ice-Cream-Flavor: mango\r\nSet-Cookie: a=1\r\nSet-Cookie: b=2\r\n"
	if got := tbl.String(); got != want {
		t.Errorf("String = %q, want %q", got, want)
	}
}

func TestTable_NilSafe(t *testing.T) {
	var tbl *Table
	if tbl.Get("x") != "" || tbl.Has("x") || tbl.Len() != 0 {
		t.Error("nil table is not empty")
	}
	if tbl.String() != "" {
		t.Error("nil table renders text")
	}
}

func TestTable_CloneIsIndependent(t *testing.T) {
	tbl := NewTable("a", "1")
	c := tbl.Clone()
	c.Add("a", "2")

	if len(tbl.Values("a")) != 1 {
		t.Error("Clone shares storage with the original")
	}
}
