package ranking

import (
	"reflect"
	"testing"

	"github.com/phobologic/apidrift/internal/model"
)

func makeDifference() *model.Difference {
	old := model.NewCollection(model.Release{Project: "pkg", Version: "1"})
	new := model.NewCollection(model.Release{Project: "pkg", Version: "2"})
	return model.NewDifference(old, new).WithEntries([]model.DiffEntry{
		{Kind: "AddFunction", Rank: model.Compatible, New: "pkg.fresh"},
		{Kind: "ChangeParameterDefault", Rank: model.Medium, Old: "pkg.f", New: "pkg.f", Data: map[string]any{"name": "timeout"}},
		{Kind: "RemoveFunction", Rank: model.High, Old: "pkg.gone"},
		{Kind: "ChangeReturnAnnotation", Rank: model.Low, Old: "pkg.Client.send", New: "pkg.Client.send"},
		{Kind: "AddFunction", Rank: model.Compatible, New: "pkg.Client.close"},
	})
}

func entryKinds(d *model.Difference) []string {
	var out []string
	for _, e := range d.Entries {
		out = append(out, e.Kind)
	}
	return out
}

func TestLevel(t *testing.T) {
	t.Parallel()

	d := makeDifference()
	level, ok := Level(d)
	if !ok || level != model.High {
		t.Errorf("Level = %v, %v; want High, true", level, ok)
	}
	if !Breaking(d) {
		t.Error("expected breaking")
	}

	empty := d.WithEntries(nil)
	if _, ok := Level(empty); ok {
		t.Error("Level of empty difference should not be ok")
	}
	if Breaking(empty) {
		t.Error("empty difference is not breaking")
	}

	compatible := d.WithEntries(d.Entries[:1])
	if Breaking(compatible) {
		t.Error("compatible-only difference is not breaking")
	}
}

func TestCounts(t *testing.T) {
	t.Parallel()

	got := Counts(makeDifference())
	want := map[model.Rank]int{model.Compatible: 2, model.Low: 1, model.Medium: 1, model.High: 1}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Counts = %v, want %v", got, want)
	}
}

func TestKindCounts(t *testing.T) {
	t.Parallel()

	got := KindCounts(makeDifference())
	want := []KindCount{
		{Kind: "AddFunction", Rank: model.Compatible, Count: 2},
		{Kind: "ChangeParameterDefault", Rank: model.Medium, Count: 1},
		{Kind: "ChangeReturnAnnotation", Rank: model.Low, Count: 1},
		{Kind: "RemoveFunction", Rank: model.High, Count: 1},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("KindCounts = %+v, want %+v", got, want)
	}
}

func TestSelectEntriesAll(t *testing.T) {
	t.Parallel()

	d := makeDifference()
	if got := SelectEntries(d, model.Compatible, 0); got != d {
		t.Error("no filtering should return original")
	}
	if got := SelectEntries(d, model.Compatible, 10); got != d {
		t.Error("maxEntries > len should return original")
	}
}

func TestSelectEntriesMinRank(t *testing.T) {
	t.Parallel()

	d := makeDifference()
	got := SelectEntries(d, model.Medium, 0)
	want := []string{"ChangeParameterDefault", "RemoveFunction"}
	if !reflect.DeepEqual(entryKinds(got), want) {
		t.Errorf("entries = %v, want %v", entryKinds(got), want)
	}
	if len(d.Entries) != 5 {
		t.Error("original difference was modified")
	}
	if got.Old.Version != "1" || got.New.Version != "2" {
		t.Errorf("manifests not carried over: %+v %+v", got.Old, got.New)
	}
}

func TestSelectEntriesMax(t *testing.T) {
	t.Parallel()

	got := SelectEntries(makeDifference(), model.Compatible, 3)
	// Highest three ranks, in original order.
	want := []string{"ChangeParameterDefault", "RemoveFunction", "ChangeReturnAnnotation"}
	if !reflect.DeepEqual(entryKinds(got), want) {
		t.Errorf("entries = %v, want %v", entryKinds(got), want)
	}
}

func TestFilterBySymbol(t *testing.T) {
	t.Parallel()

	d := makeDifference()

	got := FilterBySymbol(d, "CLIENT")
	if want := []string{"ChangeReturnAnnotation", "AddFunction"}; !reflect.DeepEqual(entryKinds(got), want) {
		t.Errorf("entries = %v, want %v", entryKinds(got), want)
	}

	got = FilterBySymbol(d, "timeout")
	if want := []string{"ChangeParameterDefault"}; !reflect.DeepEqual(entryKinds(got), want) {
		t.Errorf("member fallback entries = %v, want %v", entryKinds(got), want)
	}

	got = FilterBySymbol(d, "nothing")
	if got.Entries == nil || len(got.Entries) != 0 {
		t.Errorf("expected empty non-nil entries, got %#v", got.Entries)
	}
}
