package statefile

import (
	"reflect"
	"testing"
)

func TestMergeLocalScalarWins(t *testing.T) {
	local := Payload{"phase": "implementing"}
	disk := Payload{"phase": "planning", "focus": "parser"}

	merged := mergePayloads(local, disk, Options{})

	if merged["phase"] != "implementing" {
		t.Errorf("Expected local scalar to win, got %v", merged["phase"])
	}
	if merged["focus"] != "parser" {
		t.Errorf("Expected disk-only field to survive, got %v", merged["focus"])
	}
}

func TestMergeAbsentLocalFieldKeepsDiskValue(t *testing.T) {
	local := Payload{"phase": "stuck"}
	disk := Payload{"phase": "planning", "streak": float64(4)}

	merged := mergePayloads(local, disk, Options{})

	if merged["streak"] != float64(4) {
		t.Errorf("Partial payload erased unrelated field: %v", merged["streak"])
	}
}

func TestMergeArrayUnionKeepsBothSides(t *testing.T) {
	local := Payload{"items": []interface{}{
		map[string]interface{}{"id": "a", "note": "local"},
	}}
	disk := Payload{"items": []interface{}{
		map[string]interface{}{"id": "b", "note": "disk"},
	}}

	merged := mergePayloads(local, disk, Options{ArrayKeys: []string{"items"}})

	items, ok := merged["items"].([]interface{})
	if !ok {
		t.Fatalf("Expected merged items array, got %T", merged["items"])
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 items after union, got %d: %v", len(items), items)
	}

	ids := make(map[string]bool)
	for _, item := range items {
		m := item.(map[string]interface{})
		ids[m["id"].(string)] = true
	}
	if !ids["a"] || !ids["b"] {
		t.Errorf("Union lost an item: %v", ids)
	}
}

func TestMergeArrayUnionPrefersLocalOnSameKey(t *testing.T) {
	local := Payload{"items": []interface{}{
		map[string]interface{}{"id": "a", "count": float64(7)},
	}}
	disk := Payload{"items": []interface{}{
		map[string]interface{}{"id": "a", "count": float64(2)},
		map[string]interface{}{"id": "b"},
	}}

	merged := mergePayloads(local, disk, Options{ArrayKeys: []string{"items"}})

	items := merged["items"].([]interface{})
	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}
	first := items[0].(map[string]interface{})
	if first["id"] != "a" || first["count"] != float64(7) {
		t.Errorf("Expected local version of item a in place, got %v", first)
	}
}

func TestMergeArrayUnionCustomKeyField(t *testing.T) {
	local := Payload{"errors": []interface{}{
		map[string]interface{}{"signature": "x", "count": float64(1)},
	}}
	disk := Payload{"errors": []interface{}{
		map[string]interface{}{"signature": "y", "count": float64(3)},
	}}

	merged := mergePayloads(local, disk, Options{ArrayKeys: []string{"errors"}, KeyField: "signature"})

	items := merged["errors"].([]interface{})
	if len(items) != 2 {
		t.Errorf("Expected union by signature to keep both, got %v", items)
	}
}

func TestMergeKeylessItemsDedupBySerialization(t *testing.T) {
	local := Payload{"tags": []interface{}{"go", "merge"}}
	disk := Payload{"tags": []interface{}{"go", "atomic"}}

	merged := mergePayloads(local, disk, Options{ArrayKeys: []string{"tags"}})

	tags := merged["tags"].([]interface{})
	if len(tags) != 3 {
		t.Errorf("Expected [go atomic merge] dedup, got %v", tags)
	}
}

func TestMergeIgnoresEnvelopeKeysInLocal(t *testing.T) {
	local := Payload{VersionKey: float64(99), "phase": "verifying"}
	disk := Payload{"phase": "planning"}

	merged := mergePayloads(local, disk, Options{})

	if _, ok := merged[VersionKey]; ok {
		t.Errorf("Envelope key leaked through merge: %v", merged[VersionKey])
	}
}

func TestMergeCustomFunc(t *testing.T) {
	maxCounter := func(local, disk Payload) Payload {
		out := Payload{"count": disk["count"]}
		if l, ok := local["count"].(float64); ok {
			if d, ok := disk["count"].(float64); !ok || l > d {
				out["count"] = l
			}
		}
		return out
	}

	merged := mergePayloads(Payload{"count": float64(3)}, Payload{"count": float64(8)}, Options{Merge: maxCounter})
	if merged["count"] != float64(8) {
		t.Errorf("Expected max-of-counters merge to pick 8, got %v", merged["count"])
	}
}

func TestMergeIsDeterministic(t *testing.T) {
	local := Payload{"items": []interface{}{
		map[string]interface{}{"id": "a"},
		"loose",
	}}
	disk := Payload{"items": []interface{}{
		map[string]interface{}{"id": "b"},
		"loose",
	}}
	opts := Options{ArrayKeys: []string{"items"}}

	first := mergePayloads(local, disk, opts)
	second := mergePayloads(local, disk, opts)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Merge produced different outputs for identical inputs:\n%v\n%v", first, second)
	}
}
