package statefile

import (
	"encoding/json"
	"fmt"
)

// DefaultKeyField is the sub-field used to identify items inside array
// fields when the caller does not override it.
const DefaultKeyField = "id"

// MergeFunc reconciles a writer's intended payload against a conflicting
// payload found on disk. Implementations must be pure: the retry loop
// depends on the same inputs always producing the same output.
type MergeFunc func(local, disk Payload) Payload

// Options tune how an update handles array fields and conflicts.
type Options struct {
	// ArrayKeys names the payload fields that hold arrays of keyed
	// sub-records and should be merged by union rather than replaced.
	ArrayKeys []string

	// KeyField is the sub-field that identifies items within array
	// fields. Empty means DefaultKeyField.
	KeyField string

	// Merge, when set, replaces the default field-wise merge entirely.
	Merge MergeFunc
}

func (o Options) keyField() string {
	if o.KeyField == "" {
		return DefaultKeyField
	}
	return o.KeyField
}

func (o Options) isArrayKey(field string) bool {
	for _, k := range o.ArrayKeys {
		if k == field {
			return true
		}
	}
	return false
}

// mergePayloads resolves a conflict between the writer's local payload and
// the payload currently on disk. Disk values survive unless the writer set
// the same field; array fields union by key so neither side's items are
// lost; everything else is local-wins. Fields the writer never set stay at
// their disk values, so partial-payload modifiers do not erase unrelated
// state.
func mergePayloads(local, disk Payload, opts Options) Payload {
	if opts.Merge != nil {
		return opts.Merge(local, disk)
	}

	merged := make(Payload, len(disk)+len(local))
	for k, v := range disk {
		merged[k] = v
	}

	for k, localVal := range local {
		if k == VersionKey || k == LastModifiedKey || k == WriterKey {
			continue
		}
		if opts.isArrayKey(k) {
			localArr, localOK := localVal.([]interface{})
			diskArr, diskOK := disk[k].([]interface{})
			if localOK && diskOK {
				merged[k] = unionArrays(localArr, diskArr, opts.keyField())
				continue
			}
		}
		merged[k] = localVal
	}
	return merged
}

// unionArrays combines two arrays of sub-records, deduplicating by key.
// Disk-side items keep their positions; an item present on both sides
// takes the local version (the writer's copy carries the newer intent);
// items only the local side has are appended in order.
func unionArrays(local, disk []interface{}, keyField string) []interface{} {
	out := make([]interface{}, 0, len(disk)+len(local))
	index := make(map[string]int, len(disk))

	for _, item := range disk {
		key := itemKey(item, keyField)
		if pos, seen := index[key]; seen {
			out[pos] = item
			continue
		}
		index[key] = len(out)
		out = append(out, item)
	}
	for _, item := range local {
		key := itemKey(item, keyField)
		if pos, seen := index[key]; seen {
			out[pos] = item
			continue
		}
		index[key] = len(out)
		out = append(out, item)
	}
	return out
}

// itemKey derives the dedup key for one array item. Items lacking the key
// field (or not objects at all) fall back to their full serialization, so
// two byte-identical keyless items still collapse to one.
func itemKey(item interface{}, keyField string) string {
	if m, ok := item.(map[string]interface{}); ok {
		if v, ok := m[keyField]; ok && v != nil {
			return fmt.Sprintf("k:%v", v)
		}
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Sprintf("v:%v", item)
	}
	return "v:" + string(data)
}
