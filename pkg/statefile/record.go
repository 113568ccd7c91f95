// Package statefile implements the shared state engine: versioned JSON
// records persisted with atomic renames, optimistic concurrency via version
// comparison, and merge-based conflict resolution. Multiple OS processes
// (CLI sessions, the pilot watcher, the dashboard backend) read and write
// the same file with no locks; coordination happens entirely through the
// version number embedded in the record.
package statefile

import (
	"encoding/json"
	"os"
	"time"

	"coach/pkg/logx"
)

// Reserved top-level keys forming the record envelope. They live alongside
// the caller's payload keys in the same JSON object and are always
// recomputed on write, never merged as payload.
const (
	VersionKey      = "_version"
	LastModifiedKey = "_lastModified"
	WriterKey       = "_processId"
)

// Payload is the caller-defined portion of a record: field name to value,
// where values are scalars or arrays of sub-records as produced by
// encoding/json (map[string]interface{}, []interface{}, float64, string,
// bool, nil).
type Payload map[string]interface{}

// DefaultFunc produces the payload used when no record exists on disk.
type DefaultFunc func() Payload

// Record is the versioned envelope persisted per state file.
type Record struct {
	Version      int64
	LastModified time.Time
	WriterID     string
	Payload      Payload
}

// Read loads the record at path. A missing, empty, null, or unparseable
// file yields defaultFn() at version 0 with a logged warning rather than
// an error. Corrupted coaching state must never crash a caller.
func Read(path string, defaultFn DefaultFunc, logger *logx.Logger) Record {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) && logger != nil {
			logger.Warn("Failed to read state file %s, using defaults: %v", path, err)
		}
		return defaultRecord(defaultFn)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		if logger != nil {
			logger.Warn("⚠️ State file %s is not valid JSON, using defaults: %v", path, err)
		}
		return defaultRecord(defaultFn)
	}
	if raw == nil {
		// The literal JSON value "null" unmarshals to a nil map.
		if logger != nil {
			logger.Warn("⚠️ State file %s contains null, using defaults", path)
		}
		return defaultRecord(defaultFn)
	}

	return decodeRecord(raw)
}

func defaultRecord(defaultFn DefaultFunc) Record {
	payload := Payload{}
	if defaultFn != nil {
		if p := defaultFn(); p != nil {
			payload = p
		}
	}
	return Record{Version: 0, Payload: payload}
}

// decodeRecord splits a raw on-disk object into envelope and payload.
// A missing _version reads as 0 so pre-existing plain JSON files are
// adopted at the start of the version sequence.
func decodeRecord(raw map[string]interface{}) Record {
	rec := Record{Payload: Payload{}}

	if v, ok := raw[VersionKey].(float64); ok {
		rec.Version = int64(v)
	}
	if s, ok := raw[LastModifiedKey].(string); ok {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			rec.LastModified = t
		}
	}
	if s, ok := raw[WriterKey].(string); ok {
		rec.WriterID = s
	}

	for k, v := range raw {
		if k == VersionKey || k == LastModifiedKey || k == WriterKey {
			continue
		}
		rec.Payload[k] = v
	}
	return rec
}

// encodeRecord flattens a record back into the on-disk object layout.
// Payload keys colliding with envelope keys are dropped in favor of the
// envelope values.
func encodeRecord(rec Record) map[string]interface{} {
	out := make(map[string]interface{}, len(rec.Payload)+3)
	for k, v := range rec.Payload {
		if k == VersionKey || k == LastModifiedKey || k == WriterKey {
			continue
		}
		out[k] = v
	}
	out[VersionKey] = rec.Version
	out[LastModifiedKey] = rec.LastModified.UTC().Format(time.RFC3339)
	out[WriterKey] = rec.WriterID
	return out
}

// ClonePayload deep-copies a payload through a JSON round trip so modifier
// functions never alias the record handed to them.
func ClonePayload(p Payload) Payload {
	if p == nil {
		return Payload{}
	}
	data, err := json.Marshal(p)
	if err != nil {
		return Payload{}
	}
	var out Payload
	if err := json.Unmarshal(data, &out); err != nil || out == nil {
		return Payload{}
	}
	return out
}
