package statefile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func testEngine() *Engine {
	return NewEngine("test-writer-1", 0)
}

func statePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "state.json")
}

func pushItem(id string) Modifier {
	return func(p Payload) Payload {
		items, _ := p["items"].([]interface{})
		p["items"] = append(items, map[string]interface{}{"id": id})
		return p
	}
}

func emptyItems() Payload {
	return Payload{"items": []interface{}{}}
}

func TestUpdateCreatesFileAtVersionOne(t *testing.T) {
	path := statePath(t)
	engine := testEngine()

	res := engine.Update(path, emptyItems, pushItem("a"), Options{ArrayKeys: []string{"items"}})

	if !res.OK {
		t.Fatalf("Update failed: %v", res.Err)
	}
	if res.Conflict {
		t.Error("Fresh file should not report a conflict")
	}
	if res.Version != 1 {
		t.Errorf("Expected version 1 on first write, got %d", res.Version)
	}

	rec := engine.Read(path, emptyItems)
	if rec.Version != 1 {
		t.Errorf("Expected version 1 on disk, got %d", rec.Version)
	}
	if rec.WriterID != "test-writer-1" {
		t.Errorf("Expected injected writer id on disk, got %q", rec.WriterID)
	}
	items := rec.Payload["items"].([]interface{})
	if len(items) != 1 {
		t.Fatalf("Expected 1 item, got %v", items)
	}
}

func TestVersionsIncreaseByExactlyOne(t *testing.T) {
	path := statePath(t)
	engine := testEngine()

	for i := 1; i <= 5; i++ {
		res := engine.Update(path, emptyItems, pushItem(fmt.Sprintf("item-%d", i)), Options{ArrayKeys: []string{"items"}})
		if !res.OK {
			t.Fatalf("Update %d failed: %v", i, res.Err)
		}
		if res.Version != int64(i) {
			t.Errorf("Write %d produced version %d", i, res.Version)
		}
	}
}

func TestReadMissingFileUsesDefault(t *testing.T) {
	path := statePath(t)

	rec := Read(path, func() Payload { return Payload{"phase": "exploring"} }, nil)

	if rec.Version != 0 {
		t.Errorf("Expected version 0 for missing file, got %d", rec.Version)
	}
	if rec.Payload["phase"] != "exploring" {
		t.Errorf("Expected default payload, got %v", rec.Payload)
	}
}

func TestReadFailsOpenOnCorruption(t *testing.T) {
	cases := map[string]string{
		"garbage":   "{not json at all",
		"truncated": `{"_version": 3, "items": [`,
		"empty":     "",
		"null":      "null",
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := statePath(t)
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				t.Fatal(err)
			}

			rec := Read(path, emptyItems, nil)
			if rec.Version != 0 {
				t.Errorf("Expected version 0 default, got %d", rec.Version)
			}
			if _, ok := rec.Payload["items"]; !ok {
				t.Errorf("Expected default payload, got %v", rec.Payload)
			}
		})
	}
}

func TestReadAdoptsPlainJSONAtVersionZero(t *testing.T) {
	path := statePath(t)
	if err := os.WriteFile(path, []byte(`{"phase": "planning"}`), 0644); err != nil {
		t.Fatal(err)
	}

	rec := Read(path, emptyItems, nil)
	if rec.Version != 0 {
		t.Errorf("Missing _version should read as 0, got %d", rec.Version)
	}
	if rec.Payload["phase"] != "planning" {
		t.Errorf("Expected existing payload to be adopted, got %v", rec.Payload)
	}
}

// interposeWrite returns a modifier that performs the caller's change but,
// on its first invocation, also lands a competing write on disk. The
// engine reads before modifying and re-reads before persisting, so the
// competing write is exactly the race the version gate must catch.
func interposeWrite(t *testing.T, path string, inner Modifier, competing Record) Modifier {
	t.Helper()
	fired := false
	return func(p Payload) Payload {
		if !fired {
			fired = true
			if err := writeAtomic(path, competing); err != nil {
				t.Fatalf("Competing write failed: %v", err)
			}
		}
		return inner(p)
	}
}

func TestConcurrentAppendsBothSurvive(t *testing.T) {
	path := statePath(t)
	engine := testEngine()

	if res := engine.Update(path, emptyItems, pushItem("a"), Options{ArrayKeys: []string{"items"}}); !res.OK {
		t.Fatalf("Setup write failed: %v", res.Err)
	}

	competing := Record{
		Version:      2,
		LastModified: time.Now().UTC(),
		WriterID:     "test-writer-2",
		Payload: Payload{"items": []interface{}{
			map[string]interface{}{"id": "a"},
			map[string]interface{}{"id": "b"},
		}},
	}
	res := engine.Update(path, emptyItems,
		interposeWrite(t, path, pushItem("c"), competing),
		Options{ArrayKeys: []string{"items"}})

	if !res.OK {
		t.Fatalf("Update failed: %v", res.Err)
	}
	if !res.Conflict || !res.Resolved {
		t.Errorf("Expected resolved conflict, got conflict=%t resolved=%t", res.Conflict, res.Resolved)
	}
	if res.Version != 3 {
		t.Errorf("Expected version 3 after merge over v2, got %d", res.Version)
	}

	items := res.Payload["items"].([]interface{})
	ids := make(map[string]bool)
	for _, item := range items {
		ids[item.(map[string]interface{})["id"].(string)] = true
	}
	for _, id := range []string{"a", "b", "c"} {
		if !ids[id] {
			t.Errorf("Merge lost item %q; final items: %v", id, items)
		}
	}
}

func TestRaceFromAbsentFileMergesAtVersionTwo(t *testing.T) {
	path := statePath(t)
	engine := testEngine()

	// Both writers start from the absent file at version 0. Writer A
	// lands first at version 1, so writer B's gated write must detect
	// the conflict and merge on top of it.
	competing := Record{
		Version:      1,
		LastModified: time.Now().UTC(),
		WriterID:     "test-writer-2",
		Payload:      Payload{"items": []interface{}{map[string]interface{}{"id": "a"}}},
	}
	res := engine.Update(path, emptyItems,
		interposeWrite(t, path, pushItem("b"), competing),
		Options{ArrayKeys: []string{"items"}})

	if !res.OK {
		t.Fatalf("Update failed: %v", res.Err)
	}
	if !res.Conflict || !res.Resolved {
		t.Errorf("Expected resolved conflict, got conflict=%t resolved=%t", res.Conflict, res.Resolved)
	}
	if res.Version != 2 {
		t.Errorf("Expected version 2 after merge over v1, got %d", res.Version)
	}

	items := res.Payload["items"].([]interface{})
	if len(items) != 2 {
		t.Fatalf("Expected both items to survive, got %v", items)
	}
	if items[0].(map[string]interface{})["id"] != "a" {
		t.Errorf("Expected disk item first, got %v", items)
	}
	if items[1].(map[string]interface{})["id"] != "b" {
		t.Errorf("Expected local item appended, got %v", items)
	}
}

func TestScalarConflictIsLastWriterWins(t *testing.T) {
	path := statePath(t)
	engine := testEngine()

	if res := engine.Update(path, nil, func(p Payload) Payload {
		p["phase"] = "exploring"
		return p
	}, Options{}); !res.OK {
		t.Fatalf("Setup write failed: %v", res.Err)
	}

	competing := Record{
		Version:      2,
		LastModified: time.Now().UTC(),
		WriterID:     "test-writer-2",
		Payload:      Payload{"phase": "planning", "focus": "tests"},
	}
	res := engine.Update(path, nil,
		interposeWrite(t, path, func(p Payload) Payload {
			p["phase"] = "implementing"
			return p
		}, competing),
		Options{})

	if !res.OK {
		t.Fatalf("Update failed: %v", res.Err)
	}
	if !res.Conflict {
		t.Error("Expected conflict to be detected")
	}
	if res.Resolved {
		t.Error("Scalar-only conflict with no merge strategy should not report resolution")
	}
	if res.Payload["phase"] != "implementing" {
		t.Errorf("Expected last writer to win on contested scalar, got %v", res.Payload["phase"])
	}
	if res.Payload["focus"] != "tests" {
		t.Errorf("Expected uncontested disk field to survive, got %v", res.Payload["focus"])
	}
}

func TestCustomMergeOnConflict(t *testing.T) {
	path := statePath(t)
	engine := testEngine()

	if res := engine.Update(path, nil, func(p Payload) Payload {
		p["count"] = float64(5)
		return p
	}, Options{}); !res.OK {
		t.Fatalf("Setup write failed: %v", res.Err)
	}

	maxCount := func(local, disk Payload) Payload {
		l, _ := local["count"].(float64)
		d, _ := disk["count"].(float64)
		if d > l {
			l = d
		}
		return Payload{"count": l}
	}
	competing := Record{Version: 2, WriterID: "test-writer-2", Payload: Payload{"count": float64(9)}}
	res := engine.Update(path, nil,
		interposeWrite(t, path, func(p Payload) Payload {
			p["count"] = float64(6)
			return p
		}, competing),
		Options{Merge: maxCount})

	if !res.OK {
		t.Fatalf("Update failed: %v", res.Err)
	}
	if !res.Resolved {
		t.Error("Custom merge should report resolution")
	}
	if res.Payload["count"] != float64(9) {
		t.Errorf("Expected max-of-counters result 9, got %v", res.Payload["count"])
	}
}

func TestConcurrentWritersNeverCorruptFile(t *testing.T) {
	path := statePath(t)
	const writers = 8
	const cycles = 5

	stop := make(chan struct{})
	readerDone := make(chan struct{})

	// Reader hammers the file while writers race; every observed state
	// must parse as one complete JSON object.
	go func() {
		defer close(readerDone)
		for {
			select {
			case <-stop:
				return
			default:
			}
			data, err := os.ReadFile(path)
			if err != nil || len(data) == 0 {
				continue
			}
			var obj map[string]interface{}
			if err := json.Unmarshal(data, &obj); err != nil {
				t.Errorf("Observed unparseable state file: %v", err)
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			engine := NewEngine(fmt.Sprintf("test-writer-%d", w), 0)
			for c := 0; c < cycles; c++ {
				res := engine.Update(path, emptyItems,
					pushItem(fmt.Sprintf("w%d-c%d", w, c)),
					Options{ArrayKeys: []string{"items"}})
				if !res.OK {
					t.Errorf("Writer %d cycle %d failed: %v", w, c, res.Err)
				}
			}
		}(w)
	}
	wg.Wait()
	close(stop)
	<-readerDone

	rec := Read(path, emptyItems, nil)
	if rec.Version < 1 {
		t.Errorf("Expected at least one committed version, got %d", rec.Version)
	}
	if _, err := json.Marshal(rec.Payload); err != nil {
		t.Errorf("Final payload not serializable: %v", err)
	}
}

func TestUpdateAsyncDeliversResult(t *testing.T) {
	path := statePath(t)
	engine := testEngine()

	ch := engine.UpdateAsync(path, emptyItems, pushItem("a"), Options{ArrayKeys: []string{"items"}})

	select {
	case res := <-ch:
		if !res.OK {
			t.Fatalf("Async update failed: %v", res.Err)
		}
		if res.Version != 1 {
			t.Errorf("Expected version 1, got %d", res.Version)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Async update never delivered a result")
	}
}

func TestUpdateSurfacesErrorWhenPathUnwritable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	// Parent "directory" is a regular file, so every attempt including
	// the forced final one must fail.
	path := filepath.Join(blocker, "state.json")
	engine := testEngine()

	res := engine.Update(path, emptyItems, pushItem("a"), Options{})
	if res.OK {
		t.Fatal("Expected update against unwritable path to fail")
	}
	if res.Err == nil {
		t.Error("Expected failure result to carry an error")
	}
}

func TestModifierMutationDoesNotAliasDiskRecord(t *testing.T) {
	path := statePath(t)
	engine := testEngine()

	if res := engine.Update(path, emptyItems, pushItem("a"), Options{ArrayKeys: []string{"items"}}); !res.OK {
		t.Fatalf("Setup write failed: %v", res.Err)
	}

	var seen Payload
	engine.Update(path, emptyItems, func(p Payload) Payload {
		seen = p
		return p
	}, Options{})

	seen["items"] = "clobbered"
	rec := engine.Read(path, emptyItems)
	if _, ok := rec.Payload["items"].([]interface{}); !ok {
		t.Errorf("Modifier payload aliased engine state: %v", rec.Payload["items"])
	}
}
