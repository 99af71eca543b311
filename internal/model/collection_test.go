package model

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func sampleCollection(t *testing.T) *Collection {
	t.Helper()
	c := NewCollection(Release{Project: "pkg", Version: "1.0"})
	entries := []Entry{
		NewExternal(),
		&ModuleEntry{
			Base:    NewBase("pkg"),
			Members: map[string]string{"Base": "pkg.Base", "Child": "pkg.Child", "os": ExternalID},
		},
		&ClassEntry{
			Base:    NewBase("pkg.Base"),
			Members: map[string]string{"run": "pkg.Base.run"},
			Bases:   []string{"builtins.object"},
			MRO:     []string{"pkg.Base", "builtins.object"},
		},
		&ClassEntry{
			Base:    NewBase("pkg.Child"),
			Members: map[string]string{},
			Bases:   []string{"pkg.Base"},
			MRO:     []string{"pkg.Child", "pkg.Base", "builtins.object"},
		},
		&FunctionEntry{
			Base: NewBase("pkg.Base.run"),
			Parameters: []Parameter{
				{Name: "self", Kind: PositionalOrKeyword},
				{Name: "count", Kind: PositionalOrKeyword, Optional: true, Default: Tagged("int('0')")},
			},
			Scope: ScopeInstance,
		},
	}
	for _, e := range entries {
		if err := c.AddEntry(e); err != nil {
			t.Fatalf("AddEntry(%s): %v", e.Info().ID, err)
		}
	}
	c.AddTopLevel("pkg")
	c.Seal()
	return c
}

func TestAddEntryDuplicate(t *testing.T) {
	t.Parallel()

	c := NewCollection(Release{})
	if err := c.AddEntry(&AttributeEntry{Base: NewBase("pkg.x")}); err != nil {
		t.Fatalf("first AddEntry: %v", err)
	}
	err := c.AddEntry(&FunctionEntry{Base: NewBase("pkg.x")})
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("second AddEntry: got %v, want ErrDuplicateID", err)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

func TestAddEntrySealed(t *testing.T) {
	t.Parallel()

	c := NewCollection(Release{})
	c.Seal()
	if err := c.AddEntry(&AttributeEntry{Base: NewBase("x")}); !errors.Is(err, ErrSealed) {
		t.Fatalf("got %v, want ErrSealed", err)
	}
}

func TestResolveName(t *testing.T) {
	t.Parallel()

	c := sampleCollection(t)

	tests := []struct {
		name   string
		wantID string
	}{
		{"pkg", "pkg"},
		{"pkg.Base.run", "pkg.Base.run"},
		{"pkg.Child.run", "pkg.Base.run"},
		{"pkg.Child", "pkg.Child"},
		{"pkg.missing", ""},
		{"other.thing", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e, ok := c.ResolveName(tt.name)
			if tt.wantID == "" {
				if ok {
					t.Fatalf("ResolveName(%q) = %s, want none", tt.name, e.Info().ID)
				}
				return
			}
			if !ok {
				t.Fatalf("ResolveName(%q) not found", tt.name)
			}
			if e.Info().ID != tt.wantID {
				t.Errorf("ResolveName(%q) = %s, want %s", tt.name, e.Info().ID, tt.wantID)
			}
		})
	}
}

func TestCollectionJSONRoundTrip(t *testing.T) {
	t.Parallel()

	c := sampleCollection(t)
	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded Collection
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !decoded.Sealed() {
		t.Error("decoded collection should be sealed")
	}
	if !reflect.DeepEqual(decoded.IDs(), c.IDs()) {
		t.Fatalf("ids = %v, want %v", decoded.IDs(), c.IDs())
	}
	for _, id := range c.IDs() {
		want, _ := c.Lookup(id)
		got, _ := decoded.Lookup(id)
		if !reflect.DeepEqual(got, want) {
			t.Errorf("entry %s: got %#v, want %#v", id, got, want)
		}
	}
	if !reflect.DeepEqual(decoded.TopLevel(), []string{"pkg"}) {
		t.Errorf("TopLevel = %v", decoded.TopLevel())
	}

	again, err := json.Marshal(&decoded)
	if err != nil {
		t.Fatalf("Marshal again: %v", err)
	}
	if string(again) != string(data) {
		t.Error("encoding is not deterministic across a round trip")
	}
}

func TestUnmarshalEntryUnknownForm(t *testing.T) {
	t.Parallel()

	if _, err := UnmarshalEntry([]byte(`{"id":"x","form":"widget"}`)); err == nil {
		t.Fatal("expected error for unknown form")
	}
}

func TestStats(t *testing.T) {
	t.Parallel()

	stats := sampleCollection(t).Stats()
	want := map[Kind]int{KindSpecial: 1, KindModule: 1, KindClass: 2, KindFunction: 1}
	if !reflect.DeepEqual(stats, want) {
		t.Errorf("Stats = %v, want %v", stats, want)
	}
}

func TestIsPrivateName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want bool
	}{
		{"public", false},
		{"_private", true},
		{"__mangled", true},
		{"__init__", false},
		{"__", true},
		{"____", true},
	}
	for _, tt := range tests {
		if got := IsPrivateName(tt.name); got != tt.want {
			t.Errorf("IsPrivateName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestParseRelease(t *testing.T) {
	t.Parallel()

	r, err := ParseRelease("requests@2.31.0")
	if err != nil {
		t.Fatalf("ParseRelease: %v", err)
	}
	if r.Project != "requests" || r.Version != "2.31.0" || r.String() != "requests@2.31.0" {
		t.Errorf("got %+v", r)
	}
	for _, bad := range []string{"", "requests", "@1", "requests@"} {
		if _, err := ParseRelease(bad); err == nil {
			t.Errorf("ParseRelease(%q): expected error", bad)
		}
	}
}

func TestRankOrderAndText(t *testing.T) {
	t.Parallel()

	if !(Compatible < Low && Low < Medium && Medium < High) {
		t.Fatal("ranks are not ordered")
	}
	for _, r := range []Rank{Compatible, Low, Medium, High} {
		text, _ := r.MarshalText()
		var back Rank
		if err := back.UnmarshalText(text); err != nil || back != r {
			t.Errorf("rank %v: round trip gave %v, %v", r, back, err)
		}
	}
	if r, err := ParseRank("high"); err != nil || r != High {
		t.Errorf("ParseRank(high) = %v, %v", r, err)
	}
	if _, err := ParseRank("severe"); err == nil {
		t.Error("ParseRank(severe): expected error")
	}
}

func TestTagDefault(t *testing.T) {
	t.Parallel()

	if got := TagDefault("str", "it's"); got != `str('it\'s')` {
		t.Errorf("TagDefault = %q", got)
	}
	if got := TagDefault("int", "0"); got != "int('0')" {
		t.Errorf("TagDefault = %q", got)
	}
}
