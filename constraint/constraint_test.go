package constraint

import "testing"

func TestStringConstraints(t *testing.T) {
	cases := []struct {
		name string
		c    Constraint[string]
		ok   []string
		bad  []string
	}{
		{"length", Length[string](3), []string{"abc", "äöü"}, []string{"ab", "abcd"}},
		{"min length", MinimalLength[string](2), []string{"ab", "abc"}, []string{"", "a"}},
		{"max length", MaximalLength[string](2), []string{"", "ab"}, []string{"abc"}},
		{"pattern", Pattern(`[A-Z]{2}\d+`), []string{"AB1", "XY2024"}, []string{"ab1", "AB", "xAB1", "AB1x"}},
		{"set", Set("low", "high"), []string{"low", "high"}, []string{"mid", ""}},
	}
	for _, tc := range cases {
		for _, v := range tc.ok {
			if !tc.c.Check(v) {
				t.Errorf("%s: %q should pass %q", tc.name, v, tc.c.Description())
			}
		}
		for _, v := range tc.bad {
			if tc.c.Check(v) {
				t.Errorf("%s: %q should fail %q", tc.name, v, tc.c.Description())
			}
		}
	}
}

type label string

type payload []byte

func TestLengthOfNamedTypes(t *testing.T) {
	if !Length[label](3).Check("äöü") {
		t.Error("named string types count characters")
	}
	if MaximalLength[label](2).Check("äö ") {
		t.Error("three characters exceed a maximal length of 2")
	}
	if !Length[payload](6).Check(payload("äöü")) {
		t.Error("named byte types count bytes")
	}
}

func TestOrderedConstraints(t *testing.T) {
	cases := []struct {
		c   Constraint[int64]
		v   int64
		out bool
	}{
		{MinimalInclusive[int64](0), 0, true},
		{MinimalExclusive[int64](0), 0, false},
		{MaximalInclusive[int64](10), 10, true},
		{MaximalExclusive[int64](10), 10, false},
		{MaximalExclusive[int64](10), -5, true},
	}
	for _, tc := range cases {
		if got := tc.c.Check(tc.v); got != tc.out {
			t.Errorf("%s on %d: got %v want %v", tc.c.Description(), tc.v, got, tc.out)
		}
	}
}

func TestBinaryAndListConstraints(t *testing.T) {
	if !MaximalLength[[]byte](4).Check([]byte{1, 2, 3, 4}) {
		t.Error("4 bytes should pass max length 4")
	}
	if MaximalLength[[]byte](4).Check(make([]byte, 5)) {
		t.Error("5 bytes should fail max length 4")
	}
	if !MaximalElementCount[int](2).Check([]int{1, 2}) || MaximalElementCount[int](2).Check([]int{1, 2, 3}) {
		t.Error("element count bound broken")
	}
	if MinimalElementCount[string](1).Check(nil) {
		t.Error("nil list should fail min element count 1")
	}
}

func TestDescriptions(t *testing.T) {
	if got := Set(1, 2).Description(); got != "must be one of [1, 2]" {
		t.Errorf("unexpected description %q", got)
	}
	if got := MinimalInclusive(1.5).Description(); got != "must be >= 1.5" {
		t.Errorf("unexpected description %q", got)
	}
}
