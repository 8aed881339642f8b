package util

import (
	"testing"
	"time"
)

func TestToText(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"bob", "bob"},
		{[]byte("raw"), "raw"},
		{int8(-3), "-3"},
		{int32(42), "42"},
		{int64(1 << 40), "1099511627776"},
		{float64(1.5), "1.5"},
		{float32(0.25), "0.25"},
		{uint64(7), "7"},
		{time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC), "2024-05-01 08:30:00"},
	}
	for _, c := range cases {
		if got := ToText(c.in); got != c.want {
			t.Fatalf("ToText(%#v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSortedKeys(t *testing.T) {
	got := SortedKeys(map[string]string{"b": "2", "a": "1", "c": "3"})
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("got %v", got)
	}
}
