package observe

import (
	"time"

	"github.com/hazyhaar/pagesense/page"
)

// throttleConfig controls the batching behaviour.
type throttleConfig struct {
	// Interval is the coalescing window. Unlike a debounce, the timer is
	// not reset by new records: a batch flushes at a fixed cadence while
	// changes keep arriving. Default: 100ms.
	Interval time.Duration
	// MaxBatch flushes immediately when this many records accumulate.
	// Default: 500.
	MaxBatch int
}

func (tc *throttleConfig) defaults() {
	if tc.Interval <= 0 {
		tc.Interval = 100 * time.Millisecond
	}
	if tc.MaxBatch <= 0 {
		tc.MaxBatch = 500
	}
}

// throttler collects raw change records and emits compressed batches
// when the interval expires or the batch fills. Not safe for concurrent
// use: it belongs to the observer's single processing goroutine.
type throttler struct {
	cfg     throttleConfig
	records []page.ChangeRecord
	timer   *time.Timer
	timerCh <-chan time.Time
	flushFn func([]page.ChangeRecord)
}

func newThrottler(cfg throttleConfig, flushFn func([]page.ChangeRecord)) *throttler {
	cfg.defaults()
	return &throttler{
		cfg:     cfg,
		records: make([]page.ChangeRecord, 0, cfg.MaxBatch),
		flushFn: flushFn,
	}
}

// add pushes a record into the pending batch, arming the interval timer
// on the first record.
func (t *throttler) add(rec page.ChangeRecord) {
	t.records = append(t.records, rec)

	if len(t.records) >= t.cfg.MaxBatch {
		t.flush()
		return
	}
	if t.timer == nil {
		t.timer = time.NewTimer(t.cfg.Interval)
		t.timerCh = t.timer.C
	}
}

// timerC returns the channel that fires when the interval expires.
func (t *throttler) timerC() <-chan time.Time {
	return t.timerCh
}

// flush compresses and emits the pending batch, then resets.
func (t *throttler) flush() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
		t.timerCh = nil
	}
	if len(t.records) == 0 {
		return
	}
	out := compress(t.records)
	t.records = make([]page.ChangeRecord, 0, t.cfg.MaxBatch)
	t.flushFn(out)
}

// compress collapses runs of equivalent low-information changes:
//   - consecutive attr changes on the same (xpath, name) keep the last
//     value with the first old value
//   - consecutive text changes on the same xpath keep the last value
//     with the first old value
//   - insert/remove/doc_reset are structurally significant and never
//     compressed
func compress(records []page.ChangeRecord) []page.ChangeRecord {
	if len(records) <= 1 {
		return records
	}

	result := make([]page.ChangeRecord, 0, len(records))
	for i := 0; i < len(records); i++ {
		rec := records[i]

		switch rec.Op {
		case page.OpAttr:
			firstOld := rec.OldValue
			j := i + 1
			for j < len(records) &&
				records[j].Op == page.OpAttr &&
				records[j].XPath == rec.XPath &&
				records[j].Name == rec.Name {
				rec = records[j]
				j++
			}
			rec.OldValue = firstOld
			result = append(result, rec)
			i = j - 1

		case page.OpText:
			firstOld := rec.OldValue
			j := i + 1
			for j < len(records) &&
				records[j].Op == page.OpText &&
				records[j].XPath == rec.XPath {
				rec = records[j]
				j++
			}
			rec.OldValue = firstOld
			result = append(result, rec)
			i = j - 1

		default:
			result = append(result, rec)
		}
	}
	return result
}
