package domain

import (
	"encoding/json"
	"testing"
)

func TestValidItemType(t *testing.T) {
	for _, typ := range []ItemType{TypeTrace, TypeMetric, TypeLog, TypeError, TypeEvent} {
		if !ValidItemType(typ) {
			t.Errorf("ValidItemType(%q) = false", typ)
		}
	}
	for _, typ := range []ItemType{"", "span", "LOG", "unknown"} {
		if ValidItemType(typ) {
			t.Errorf("ValidItemType(%q) = true", typ)
		}
	}
}

func TestDestinationFor_TotalMapping(t *testing.T) {
	cases := map[Category]Destination{
		CategoryCritical: DestAlerting,
		CategoryWarning:  DestStorage,
		CategoryInfo:     DestArchive,
	}
	for c, want := range cases {
		if got := DestinationFor(c); got != want {
			t.Errorf("DestinationFor(%q) = %q, want %q", c, got, want)
		}
	}
}

func TestNormalize_OverridesInconsistentPairing(t *testing.T) {
	// Upstream прислал critical->archive; маппинг принудительный
	got := Normalize(Classification{Category: CategoryCritical, ForwardTo: DestArchive})
	if got.ForwardTo != DestAlerting {
		t.Errorf("ForwardTo = %q, want alerting", got.ForwardTo)
	}
}

func TestNormalize_UnknownCategoryFallsBack(t *testing.T) {
	got := Normalize(Classification{Category: "severe"})
	if got != Fallback() {
		t.Errorf("Normalize(unknown) = %+v, want fallback", got)
	}

	got = Normalize(Classification{})
	if got != Fallback() {
		t.Errorf("Normalize(empty) = %+v, want fallback", got)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	for _, c := range []Category{CategoryCritical, CategoryWarning, CategoryInfo} {
		once := Normalize(Classification{Category: c})
		twice := Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: %+v != %+v", c, once, twice)
		}
	}
}

func TestFallback(t *testing.T) {
	fb := Fallback()
	if fb.Category != CategoryInfo || fb.ForwardTo != DestArchive {
		t.Errorf("Fallback() = %+v, want info/archive", fb)
	}
}

func TestBatch_JSONRoundTrip(t *testing.T) {
	raw := `{"items":[{"type":"error","content":{"message":"db down","severity":"high","count":3,"nested":{"ok":true}}}]}`

	var batch Batch
	if err := json.Unmarshal([]byte(raw), &batch); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if len(batch.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(batch.Items))
	}
	if batch.Items[0].Type != TypeError {
		t.Errorf("type = %q", batch.Items[0].Type)
	}
	if batch.Items[0].Content["message"] != "db down" {
		t.Errorf("content.message = %v", batch.Items[0].Content["message"])
	}

	// Schemaless content переживает сериализацию
	encoded, err := EncodeItems(batch.Items)
	if err != nil {
		t.Fatalf("EncodeItems: %v", err)
	}
	var decoded []Item
	if err := json.Unmarshal([]byte(encoded), &decoded); err != nil {
		t.Fatalf("re-unmarshal: %v", err)
	}
	if decoded[0].Content["count"] != float64(3) {
		t.Errorf("count = %v", decoded[0].Content["count"])
	}
}

func TestSortedItem_WireFormat(t *testing.T) {
	item := SortedItem{
		Item:      Item{Type: TypeError, Content: map[string]any{"message": "db down"}},
		Category:  CategoryCritical,
		ForwardTo: DestAlerting,
	}

	b, err := json.Marshal(item)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	want := `{"item":{"type":"error","content":{"message":"db down"}},"category":"critical","forward_to":"alerting"}`
	if string(b) != want {
		t.Errorf("wire format = %s, want %s", b, want)
	}
}
