package matching

import (
	"testing"
	"time"

	"github.com/loopworks/rotor/pkg/config"
	"github.com/loopworks/rotor/pkg/contracts"
)

type stubVariant struct {
	name string
	run  func(Input) (*Result, error)
}

func (s stubVariant) Name() string { return s.name }

func (s stubVariant) Run(in Input) (*Result, error) { return s.run(in) }

// mixedInput yields one 2-cycle (u1,u2) and one 3-cycle (u1 with int_3,
// u3, u4) visible only to variants searching beyond pairs.
func mixedInput() Input {
	return inputOf(
		map[string]int64{"a": 100, "b": 100, "p": 100, "q": 100, "r": 100},
		intent("int_1", u1, []string{"a"}, "b"),
		intent("int_2", u2, []string{"b"}, "a"),
		intent("int_3", u1, []string{"p"}, "q"),
		intent("int_4", u3, []string{"r"}, "p"),
		intent("int_5", u4, []string{"q"}, "r"),
	)
}

func TestHarnessParity(t *testing.T) {
	profile := config.DefaultMatchingProfile()
	harness := NewHarness(NewEngine(profile), PairsOnly(profile), profile.ShadowRingSize).
		WithClock(func() time.Time { return runAt })

	result, err := harness.Run(mixedInput())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.Proposals) != 2 {
		t.Fatalf("primary proposals = %d, want 2-cycle and 3-cycle", len(result.Proposals))
	}

	records := harness.Records()
	if len(records) != 1 {
		t.Fatalf("records = %d", len(records))
	}
	rec := records[0]
	if rec.Primary != "rotor/dfs" || rec.Secondary != "rotor/pairs" {
		t.Fatalf("variants = %s / %s", rec.Primary, rec.Secondary)
	}
	if !rec.RanAt.Equal(runAt) {
		t.Fatalf("ran_at = %s", rec.RanAt)
	}
	if rec.Error != nil {
		t.Fatalf("unexpected shadow error: %+v", rec.Error)
	}
	if len(rec.Diff.Overlap) != 1 {
		t.Fatalf("overlap = %v", rec.Diff.Overlap)
	}
	if len(rec.Diff.OnlyPrimary) != 1 {
		t.Fatalf("only_primary = %v", rec.Diff.OnlyPrimary)
	}
	if len(rec.Diff.OnlySecondary) != 0 {
		t.Fatalf("only_secondary = %v", rec.Diff.OnlySecondary)
	}
}

func TestHarnessSecondaryError(t *testing.T) {
	profile := config.DefaultMatchingProfile()
	failing := stubVariant{
		name: "rotor/broken",
		run: func(Input) (*Result, error) {
			return nil, contracts.NewError(contracts.CodeValidation, "bad variant config")
		},
	}
	harness := NewHarness(NewEngine(profile), failing, 8).
		WithClock(func() time.Time { return runAt })

	result, err := harness.Run(mixedInput())
	if err != nil {
		t.Fatalf("secondary failure must not fail the primary: %v", err)
	}
	if len(result.Proposals) != 2 {
		t.Fatalf("primary proposals = %d", len(result.Proposals))
	}

	records := harness.Records()
	if len(records) != 1 || records[0].Error == nil {
		t.Fatalf("records = %+v", records)
	}
	shadowErr := records[0].Error
	if shadowErr.Code != "validation_error" {
		t.Fatalf("code = %s", shadowErr.Code)
	}
	if shadowErr.Name != "*contracts.Error" {
		t.Fatalf("name = %s", shadowErr.Name)
	}
	if shadowErr.Message == "" {
		t.Fatal("message must be preserved")
	}
	// All primary keys surface as only_primary when the shadow fails.
	if len(records[0].Diff.OnlyPrimary) != 2 || len(records[0].Diff.Overlap) != 0 {
		t.Fatalf("diff = %+v", records[0].Diff)
	}
}

func TestHarnessSecondaryPanic(t *testing.T) {
	profile := config.DefaultMatchingProfile()
	panicking := stubVariant{
		name: "rotor/panicky",
		run:  func(Input) (*Result, error) { panic("index out of range") },
	}
	harness := NewHarness(NewEngine(profile), panicking, 8)

	result, err := harness.Run(mixedInput())
	if err != nil {
		t.Fatalf("secondary panic must not fail the primary: %v", err)
	}
	if len(result.Proposals) != 2 {
		t.Fatalf("primary proposals = %d", len(result.Proposals))
	}

	records := harness.Records()
	if len(records) != 1 || records[0].Error == nil {
		t.Fatalf("records = %+v", records)
	}
	if records[0].Error.Name != "panic" {
		t.Fatalf("name = %s", records[0].Error.Name)
	}
	if records[0].Error.Code != "internal_error" {
		t.Fatalf("code = %s", records[0].Error.Code)
	}
	if records[0].Error.Message != "index out of range" {
		t.Fatalf("message = %s", records[0].Error.Message)
	}
}

func TestHarnessRingBounded(t *testing.T) {
	profile := config.DefaultMatchingProfile()
	tick := runAt
	harness := NewHarness(NewEngine(profile), PairsOnly(profile), 2).
		WithClock(func() time.Time {
			tick = tick.Add(time.Second)
			return tick
		})

	for i := 0; i < 3; i++ {
		if _, err := harness.Run(mixedInput()); err != nil {
			t.Fatalf("Run %d failed: %v", i, err)
		}
	}

	records := harness.Records()
	if len(records) != 2 {
		t.Fatalf("records = %d, want ring bound 2", len(records))
	}
	// Oldest record dropped; survivors in chronological order.
	if !records[0].RanAt.Equal(runAt.Add(2 * time.Second)) {
		t.Fatalf("records[0].ran_at = %s", records[0].RanAt)
	}
	if !records[1].RanAt.Equal(runAt.Add(3 * time.Second)) {
		t.Fatalf("records[1].ran_at = %s", records[1].RanAt)
	}
}

func TestHarnessWithoutSecondary(t *testing.T) {
	profile := config.DefaultMatchingProfile()
	harness := NewHarness(NewEngine(profile), nil, 4)

	result, err := harness.Run(mixedInput())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.Proposals) != 2 {
		t.Fatalf("proposals = %d", len(result.Proposals))
	}
	if records := harness.Records(); len(records) != 0 {
		t.Fatalf("records = %d, want none without a secondary", len(records))
	}
}
