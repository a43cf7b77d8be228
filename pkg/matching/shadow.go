package matching

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/loopworks/rotor/pkg/contracts"
)

// Variant is one matcher implementation the harness can run.
type Variant interface {
	Name() string
	Run(Input) (*Result, error)
}

// ShadowError preserves a secondary-variant failure without failing the
// primary result.
type ShadowError struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

// ShadowDiff compares the cycle-key sets of the two variants.
type ShadowDiff struct {
	Overlap       []string `json:"overlap"`
	OnlyPrimary   []string `json:"only_primary"`
	OnlySecondary []string `json:"only_secondary"`
}

// ShadowRecord is one parity observation.
type ShadowRecord struct {
	RanAt         time.Time    `json:"ran_at"`
	Primary       string       `json:"primary"`
	Secondary     string       `json:"secondary"`
	PrimaryKeys   []string     `json:"primary_keys"`
	SecondaryKeys []string     `json:"secondary_keys,omitempty"`
	Diff          ShadowDiff   `json:"diff"`
	Error         *ShadowError `json:"error,omitempty"`
}

// Harness runs a primary variant and, when configured, a shadow variant
// whose output is diffed and ring-buffered but never surfaced as the
// run's result.
type Harness struct {
	primary   Variant
	secondary Variant
	size      int
	now       func() time.Time
	log       *slog.Logger

	mu   sync.Mutex
	ring []ShadowRecord
	next int
}

// NewHarness wires a primary variant with an optional secondary. ringSize
// bounds retained shadow records.
func NewHarness(primary, secondary Variant, ringSize int) *Harness {
	if ringSize <= 0 {
		ringSize = 1
	}
	return &Harness{
		primary:   primary,
		secondary: secondary,
		size:      ringSize,
		now:       time.Now,
		log:       slog.Default().With("component", "matching_shadow"),
	}
}

// WithClock overrides the record timestamp source. Useful in tests.
func (h *Harness) WithClock(now func() time.Time) *Harness {
	h.now = now
	return h
}

// Run executes the primary and returns its result. A failing or panicking
// secondary only marks the shadow record.
func (h *Harness) Run(input Input) (*Result, error) {
	result, err := h.primary.Run(input)
	if err != nil {
		return nil, err
	}
	if h.secondary == nil {
		return result, nil
	}

	record := ShadowRecord{
		RanAt:       h.now().UTC(),
		Primary:     h.primary.Name(),
		Secondary:   h.secondary.Name(),
		PrimaryKeys: cycleKeys(result),
	}
	secondaryResult, serr := h.runShadow(input)
	if serr != nil {
		record.Error = shadowErrorFrom(serr)
		record.Diff = diffKeys(record.PrimaryKeys, nil)
		h.log.Warn("shadow variant failed",
			"secondary", record.Secondary,
			"code", record.Error.Code,
			"name", record.Error.Name)
	} else {
		record.SecondaryKeys = cycleKeys(secondaryResult)
		record.Diff = diffKeys(record.PrimaryKeys, record.SecondaryKeys)
	}
	h.push(record)
	return result, nil
}

// Records returns retained shadow records, oldest first.
func (h *Harness) Records() []ShadowRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.ring) < h.size {
		return append([]ShadowRecord(nil), h.ring...)
	}
	out := make([]ShadowRecord, 0, h.size)
	out = append(out, h.ring[h.next:]...)
	out = append(out, h.ring[:h.next]...)
	return out
}

func (h *Harness) runShadow(input Input) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = panicError{value: r}
		}
	}()
	return h.secondary.Run(input)
}

func (h *Harness) push(record ShadowRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.ring) < h.size {
		h.ring = append(h.ring, record)
		return
	}
	h.ring[h.next] = record
	h.next = (h.next + 1) % h.size
}

type panicError struct{ value any }

func (p panicError) Error() string { return fmt.Sprintf("panic: %v", p.value) }

func shadowErrorFrom(err error) *ShadowError {
	if p, ok := err.(panicError); ok {
		return &ShadowError{
			Code:    string(contracts.CodeInternal),
			Name:    "panic",
			Message: fmt.Sprint(p.value),
		}
	}
	return &ShadowError{
		Code:    string(contracts.AsError(err).Code),
		Name:    fmt.Sprintf("%T", err),
		Message: err.Error(),
	}
}

// cycleKeys returns the unique cycle keys of a result, sorted.
func cycleKeys(result *Result) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(result.Proposals))
	for _, p := range result.Proposals {
		key := p.CycleKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

func diffKeys(primary, secondary []string) ShadowDiff {
	inSecondary := make(map[string]bool, len(secondary))
	for _, k := range secondary {
		inSecondary[k] = true
	}
	diff := ShadowDiff{
		Overlap:       make([]string, 0),
		OnlyPrimary:   make([]string, 0),
		OnlySecondary: make([]string, 0),
	}
	inPrimary := make(map[string]bool, len(primary))
	for _, k := range primary {
		inPrimary[k] = true
		if inSecondary[k] {
			diff.Overlap = append(diff.Overlap, k)
		} else {
			diff.OnlyPrimary = append(diff.OnlyPrimary, k)
		}
	}
	for _, k := range secondary {
		if !inPrimary[k] {
			diff.OnlySecondary = append(diff.OnlySecondary, k)
		}
	}
	return diff
}
