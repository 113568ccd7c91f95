// Package errmem remembers the errors a developer has hit during a
// project: how often each one recurred, when it was first and last seen,
// and whether it was resolved. Entries are keyed by a signature hash of
// the normalized message, so the same error reported by the CLI and the
// pilot collapses into one counter.
package errmem

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"coach/pkg/logx"
	"coach/pkg/statefile"
)

// Entry is one remembered error.
type Entry struct {
	ID        string `json:"id"`
	Message   string `json:"message"`
	Count     int    `json:"count"`
	FirstSeen string `json:"firstSeen"`
	LastSeen  string `json:"lastSeen"`
	Resolved  bool   `json:"resolved"`
}

// Memory reads and writes the errors field of the project state file.
type Memory struct {
	engine *statefile.Engine
	path   string
	logger *logx.Logger
}

// New builds an error memory over the state file at path.
func New(engine *statefile.Engine, path string) *Memory {
	return &Memory{
		engine: engine,
		path:   path,
		logger: logx.NewLogger("errmem"),
	}
}

func defaultState() statefile.Payload {
	return statefile.Payload{"errors": []interface{}{}}
}

// Signature derives the stable id for an error message: whitespace is
// collapsed so wrapped and re-logged copies of the same error hash alike.
func Signature(message string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(message), " "))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:12]
}

// Record registers an occurrence of message, creating the entry or
// bumping its counter. Two processes recording concurrently reconcile
// through mergeErrors, so neither occurrence is undercounted to less than
// the larger side.
func (m *Memory) Record(message string) error {
	if strings.TrimSpace(message) == "" {
		return fmt.Errorf("error message cannot be empty")
	}

	id := Signature(message)
	now := time.Now().UTC().Format(time.RFC3339)

	res := m.engine.Update(m.path, defaultState, func(p statefile.Payload) statefile.Payload {
		entries := decodeEntries(p["errors"])
		found := false
		for i := range entries {
			if entries[i].ID == id {
				entries[i].Count++
				entries[i].LastSeen = now
				entries[i].Resolved = false
				found = true
				break
			}
		}
		if !found {
			entries = append(entries, Entry{
				ID:        id,
				Message:   strings.TrimSpace(message),
				Count:     1,
				FirstSeen: now,
				LastSeen:  now,
			})
		}
		p["errors"] = encodeEntries(entries)
		return p
	}, statefile.Options{Merge: mergeErrors})

	if !res.OK {
		return logx.Wrap(res.Err, "record error")
	}
	m.logger.Debug("Recorded error %s (v%d, conflict=%t)", id, res.Version, res.Conflict)
	return nil
}

// Resolve marks the entry with the given id as resolved.
func (m *Memory) Resolve(id string) error {
	found := false
	res := m.engine.Update(m.path, defaultState, func(p statefile.Payload) statefile.Payload {
		entries := decodeEntries(p["errors"])
		for i := range entries {
			if entries[i].ID == id {
				entries[i].Resolved = true
				entries[i].LastSeen = time.Now().UTC().Format(time.RFC3339)
				found = true
			}
		}
		p["errors"] = encodeEntries(entries)
		return p
	}, statefile.Options{Merge: mergeErrors})

	if !res.OK {
		return logx.Wrap(res.Err, "resolve error")
	}
	if !found {
		return fmt.Errorf("no remembered error with id %s", id)
	}
	m.logger.Info("✅ Resolved error %s", id)
	return nil
}

// Recent returns remembered errors ordered most-recently-seen first.
// limit <= 0 returns everything.
func (m *Memory) Recent(limit int) []Entry {
	rec := m.engine.Read(m.path, defaultState)
	entries := decodeEntries(rec.Payload["errors"])

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].LastSeen > entries[j].LastSeen
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

// Unresolved returns the entries still marked open, most-seen first.
func (m *Memory) Unresolved() []Entry {
	var open []Entry
	for _, e := range m.Recent(0) {
		if !e.Resolved {
			open = append(open, e)
		}
	}
	sort.SliceStable(open, func(i, j int) bool {
		return open[i].Count > open[j].Count
	})
	return open
}

// PruneResolved drops resolved entries whose last occurrence is older
// than maxAge. Returns how many were removed. Called by the pilot.
func (m *Memory) PruneResolved(maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	pruned := 0

	res := m.engine.Update(m.path, defaultState, func(p statefile.Payload) statefile.Payload {
		pruned = 0
		entries := decodeEntries(p["errors"])
		kept := entries[:0]
		for _, e := range entries {
			if e.Resolved {
				if at, err := time.Parse(time.RFC3339, e.LastSeen); err == nil && at.Before(cutoff) {
					pruned++
					continue
				}
			}
			kept = append(kept, e)
		}
		p["errors"] = encodeEntries(kept)
		return p
	}, statefile.Options{Merge: mergeErrors})

	if !res.OK {
		return 0, logx.Wrap(res.Err, "prune resolved errors")
	}
	if pruned > 0 {
		m.logger.Info("Pruned %d stale resolved errors", pruned)
	}
	return pruned, nil
}

// mergeErrors reconciles two conflicting error lists. Default array-union
// would let a stale counter overwrite a fresh one, so entries sharing an
// id combine field by field instead: count takes the maximum of the two
// sides, firstSeen the earlier timestamp, lastSeen the later, and an
// entry is resolved only if both sides agree it is. Non-error payload
// fields fall back to local-wins.
func mergeErrors(local, disk statefile.Payload) statefile.Payload {
	merged := make(statefile.Payload, len(disk)+len(local))
	for k, v := range disk {
		merged[k] = v
	}
	for k, v := range local {
		if k != "errors" {
			merged[k] = v
		}
	}

	diskEntries := decodeEntries(disk["errors"])
	localEntries := decodeEntries(local["errors"])

	out := make([]Entry, 0, len(diskEntries)+len(localEntries))
	index := make(map[string]int, len(diskEntries))
	for _, e := range diskEntries {
		index[e.ID] = len(out)
		out = append(out, e)
	}
	for _, e := range localEntries {
		pos, seen := index[e.ID]
		if !seen {
			index[e.ID] = len(out)
			out = append(out, e)
			continue
		}
		out[pos] = combineEntry(out[pos], e)
	}

	merged["errors"] = encodeEntries(out)
	return merged
}

func combineEntry(a, b Entry) Entry {
	combined := b
	if a.Count > combined.Count {
		combined.Count = a.Count
	}
	if a.FirstSeen != "" && (combined.FirstSeen == "" || a.FirstSeen < combined.FirstSeen) {
		combined.FirstSeen = a.FirstSeen
	}
	if a.LastSeen > combined.LastSeen {
		combined.LastSeen = a.LastSeen
	}
	combined.Resolved = a.Resolved && b.Resolved
	return combined
}

func decodeEntries(raw interface{}) []Entry {
	if raw == nil {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil
	}
	return entries
}

func encodeEntries(entries []Entry) []interface{} {
	out := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			continue
		}
		var m map[string]interface{}
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out
}
