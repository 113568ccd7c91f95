package statefile

import (
	"time"

	"coach/pkg/logx"
)

// DefaultMaxRetries bounds how many times an update cycle restarts after
// an I/O failure before the final ungated attempt.
const DefaultMaxRetries = 3

// Modifier transforms the current payload into the writer's intended new
// payload. It must be pure: no I/O and no hidden state, because the retry
// loop may invoke it several times against fresh reads.
type Modifier func(Payload) Payload

// Result reports the outcome of one update. Conflict without Resolved is
// not an error; it means the write landed last-writer-wins on fields no
// merge strategy covered.
type Result struct {
	OK       bool
	Conflict bool
	Resolved bool
	Version  int64
	Payload  Payload
	Err      error
}

// Observer receives the outcome of every completed update cycle, for
// telemetry. Called synchronously; implementations should be quick and
// must never write back through the engine.
type Observer func(path string, res Result, duration time.Duration)

// Engine runs read-modify-write cycles against state files. It holds no
// per-file state; any number of files may be updated through one engine,
// and any number of engines (in this process or others) may target the
// same file concurrently.
type Engine struct {
	writerID   string
	maxRetries int
	logger     *logx.Logger
	observer   Observer
}

// NewEngine builds an engine stamping writes with the given writer
// identity. maxRetries <= 0 selects DefaultMaxRetries.
func NewEngine(writerID string, maxRetries int) *Engine {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Engine{
		writerID:   writerID,
		maxRetries: maxRetries,
		logger:     logx.NewLogger("statefile"),
	}
}

// WriterID returns the identity stamped onto this engine's writes.
func (e *Engine) WriterID() string {
	return e.writerID
}

// SetObserver installs a telemetry callback for completed updates. Set
// once during startup, before the engine is shared across goroutines.
func (e *Engine) SetObserver(obs Observer) {
	e.observer = obs
}

// Read loads the current record at path, falling back to defaultFn on a
// missing or corrupt file. Exposed for callers that only need to inspect
// state without writing.
func (e *Engine) Read(path string, defaultFn DefaultFunc) Record {
	return Read(path, defaultFn, e.logger)
}

// Update runs one full read-modify-write cycle against path.
//
// The cycle reads the record, applies modify to a deep copy of its
// payload, then re-reads the disk version immediately before writing. A
// disk version newer than the one first observed means another process
// committed in between; the local and disk payloads are merged per opts
// and the result is flagged as a resolved conflict. The final payload is
// stamped at diskVersion+1 and written atomically.
//
// I/O failures restart the whole cycle up to the retry bound. After the
// bound, one last cycle runs without the version gate so the writer's
// intent is not dropped silently; that forced write can itself race
// another writer undetected, which callers tolerating only merged
// outcomes should keep in mind.
func (e *Engine) Update(path string, defaultFn DefaultFunc, modify Modifier, opts Options) (result Result) {
	start := time.Now()
	defer func() {
		elapsed := time.Since(start)
		updateDuration.Observe(elapsed.Seconds())
		if e.observer != nil {
			e.observer(path, result, elapsed)
		}
	}()

	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			retriesTotal.Inc()
			e.logger.Debug("Retrying update of %s (attempt %d/%d): %v", path, attempt+1, e.maxRetries+1, lastErr)
		}

		res, err := e.tryUpdate(path, defaultFn, modify, opts, true)
		if err == nil {
			writesTotal.WithLabelValues("success").Inc()
			return res
		}
		lastErr = err
		writesTotal.WithLabelValues("error").Inc()
	}

	e.logger.Warn("⚠️ Update of %s failed after %d attempts, forcing final write: %v", path, e.maxRetries+1, lastErr)
	res, err := e.tryUpdate(path, defaultFn, modify, opts, false)
	if err != nil {
		writesTotal.WithLabelValues("error").Inc()
		e.logger.Error("Forced write of %s failed: %v", path, err)
		return Result{OK: false, Conflict: res.Conflict, Resolved: res.Resolved, Err: err}
	}
	writesTotal.WithLabelValues("forced").Inc()
	return res
}

// UpdateAsync runs Update on its own goroutine and delivers the result on
// the returned channel. Semantics are identical to Update; only the
// caller's blocking behavior differs.
func (e *Engine) UpdateAsync(path string, defaultFn DefaultFunc, modify Modifier, opts Options) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		ch <- e.Update(path, defaultFn, modify, opts)
		close(ch)
	}()
	return ch
}

// tryUpdate performs a single read-modify-write pass. With gated set, a
// version advance observed on the pre-write re-read triggers the merge
// path; without it, the pass merges unconditionally and writes whatever
// comes out.
func (e *Engine) tryUpdate(path string, defaultFn DefaultFunc, modify Modifier, opts Options, gated bool) (Result, error) {
	current := Read(path, defaultFn, e.logger)
	expected := current.Version

	local := modify(ClonePayload(current.Payload))
	if local == nil {
		local = Payload{}
	}

	disk := Read(path, defaultFn, e.logger)
	final := local
	conflict := false
	resolved := false

	if gated {
		if disk.Version > expected {
			conflict = true
			conflictsTotal.Inc()
			final = mergePayloads(local, disk.Payload, opts)
			// Pure last-writer-wins is still a valid terminal outcome;
			// only report resolution when a merge strategy actually
			// reconciled the two sides.
			if opts.Merge != nil || len(opts.ArrayKeys) > 0 {
				resolved = true
				conflictsResolvedTotal.Inc()
			}
			e.logger.Debug("Conflict on %s: expected v%d, disk at v%d (resolved=%t)", path, expected, disk.Version, resolved)
		}
	} else {
		final = mergePayloads(local, disk.Payload, opts)
	}

	out := Record{
		Version:      disk.Version + 1,
		LastModified: time.Now().UTC(),
		WriterID:     e.writerID,
		Payload:      final,
	}
	if err := writeAtomic(path, out); err != nil {
		return Result{Conflict: conflict, Resolved: resolved}, err
	}

	return Result{
		OK:       true,
		Conflict: conflict,
		Resolved: resolved,
		Version:  out.Version,
		Payload:  final,
	}, nil
}
