// Package matching discovers settlement cycles over published intents.
//
// The engine walks the want→offer graph depth-first, emitting every
// directed cycle of length 2..max_cycle_length whose legs clear each
// giver's value band, scores candidates from the profile weights, and
// greedily selects a non-conflicting subset ordered by descending score
// then lexicographic cycle key. Runs are deterministic for the same
// input; max_cycles and max_runtime_ms bound the search.
package matching

import (
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/loopworks/rotor/pkg/canonicalize"
	"github.com/loopworks/rotor/pkg/config"
	"github.com/loopworks/rotor/pkg/contracts"
)

// Input is the full world one run sees: candidate intents, the asset
// value table, and the run's clock reading.
type Input struct {
	Intents     []*contracts.SwapIntent
	AssetValues map[string]int64
	Now         time.Time
}

// Result carries the selected proposals plus the search's safety-cap
// outcome. Considered counts candidates enumerated before selection.
type Result struct {
	Proposals       []*contracts.CycleProposal
	Considered      int
	TimeoutReached  bool
	CycleCapReached bool
}

// Engine is one matcher variant.
type Engine struct {
	profile config.MatchingProfile
	name    string
	clock   func() time.Time
	log     *slog.Logger
}

func NewEngine(profile config.MatchingProfile) *Engine {
	return &Engine{
		profile: profile,
		name:    "rotor/dfs",
		clock:   time.Now,
		log:     slog.Default().With("component", "matching"),
	}
}

// PairsOnly returns a variant restricted to 2-cycles, used as the shadow
// baseline during parity burn-in.
func PairsOnly(profile config.MatchingProfile) *Engine {
	profile.MaxCycleLength = 2
	e := NewEngine(profile)
	e.name = "rotor/pairs"
	return e
}

// WithClock overrides the runtime-cap clock. Useful in tests.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// Name identifies the variant in shadow records.
func (e *Engine) Name() string { return e.name }

// Run enumerates, scores, and selects cycles.
func (e *Engine) Run(input Input) (*Result, error) {
	if err := e.profile.Validate(); err != nil {
		return nil, contracts.NewError(contracts.CodeValidation, err.Error())
	}
	if input.Now.IsZero() {
		input.Now = e.clock().UTC()
	}

	pool := make([]*contracts.SwapIntent, 0, len(input.Intents))
	for _, in := range input.Intents {
		if in != nil && in.Matchable() && in.Want.AssetID != "" {
			pool = append(pool, in)
		}
	}
	sort.Slice(pool, func(i, j int) bool { return pool[i].ID < pool[j].ID })

	s := &search{
		profile:    e.profile,
		input:      input,
		successors: buildSuccessors(pool),
		deadline:   e.clock().Add(e.profile.MaxRuntime()),
		clock:      e.clock,
	}
	s.run(pool)
	if s.err != nil {
		return nil, contracts.AsError(s.err)
	}

	sort.Slice(s.candidates, func(i, j int) bool {
		a, b := s.candidates[i], s.candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if ak, bk := a.CycleKey(), b.CycleKey(); ak != bk {
			return ak < bk
		}
		return a.ID < b.ID
	})

	result := &Result{
		Proposals:       selectNonConflicting(s.candidates),
		Considered:      len(s.candidates),
		TimeoutReached:  s.timeout,
		CycleCapReached: s.capped,
	}
	e.log.Debug("matching run",
		"variant", e.name,
		"pool", len(pool),
		"considered", result.Considered,
		"selected", len(result.Proposals),
		"timeout", result.TimeoutReached,
		"capped", result.CycleCapReached)
	return result, nil
}

type search struct {
	profile    config.MatchingProfile
	input      Input
	successors map[string][]*contracts.SwapIntent
	deadline   time.Time
	clock      func() time.Time
	candidates []*contracts.CycleProposal
	timeout    bool
	capped     bool
	err        error
}

func (s *search) run(pool []*contracts.SwapIntent) {
	for _, start := range pool {
		if s.done() {
			return
		}
		onPath := map[string]bool{start.Actor.Fingerprint(): true}
		s.extend(start, []*contracts.SwapIntent{start}, onPath)
	}
}

// done reports whether the search must stop, latching the cap flags.
func (s *search) done() bool {
	if s.err != nil || s.capped || s.timeout {
		return true
	}
	if len(s.candidates) >= s.profile.MaxCycles {
		s.capped = true
		return true
	}
	if s.clock().After(s.deadline) {
		s.timeout = true
		return true
	}
	return false
}

// extend grows the path one intent at a time. Cycles are enumerated from
// their smallest intent ID only, so each directed cycle appears once.
func (s *search) extend(start *contracts.SwapIntent, path []*contracts.SwapIntent, onPath map[string]bool) {
	if s.done() {
		return
	}
	last := path[len(path)-1]
	if len(path) >= 2 && last.OffersAsset(start.Want.AssetID) && s.bandOK(last, start.Want.AssetID) {
		s.emit(path)
		if s.done() {
			return
		}
	}
	if len(path) == s.profile.MaxCycleLength {
		return
	}
	for _, next := range s.successors[last.ID] {
		if next.ID <= start.ID {
			continue
		}
		if onPath[next.Actor.Fingerprint()] {
			continue
		}
		if !s.bandOK(last, next.Want.AssetID) {
			continue
		}
		onPath[next.Actor.Fingerprint()] = true
		s.extend(start, append(path, next), onPath)
		delete(onPath, next.Actor.Fingerprint())
		if s.done() {
			return
		}
	}
}

// bandOK checks the giver's value band against the asset it would give.
func (s *search) bandOK(giver *contracts.SwapIntent, assetID string) bool {
	return giver.ValueBand.Contains(s.input.AssetValues[assetID])
}

func (s *search) emit(path []*contracts.SwapIntent) {
	n := len(path)
	legs := make([]contracts.CycleLeg, n)
	participants := make([]contracts.ActorRef, n)
	intentIDs := make([]string, n)
	for i, giver := range path {
		taker := path[(i+1)%n]
		participants[i] = giver.Actor
		intentIDs[i] = giver.ID
		legs[i] = contracts.CycleLeg{
			FromActor: giver.Actor,
			ToActor:   taker.Actor,
			IntentID:  giver.ID,
			AssetID:   taker.Want.AssetID,
		}
	}
	key := contracts.CycleKeyOf(participants)
	id, err := proposalID(key, intentIDs)
	if err != nil {
		s.err = err
		return
	}
	s.candidates = append(s.candidates, &contracts.CycleProposal{
		ID:           id,
		Participants: participants,
		Legs:         legs,
		Score:        s.score(path, legs),
		ExpiresAt:    s.input.Now.Add(s.profile.ProposalTTL()),
		CreatedAt:    s.input.Now,
	})
}

// score combines value balance, freshness, and participant diversity
// under the profile weights, rounded to three decimals.
func (s *search) score(path []*contracts.SwapIntent, legs []contracts.CycleLeg) float64 {
	var vmin, vmax float64
	for i, leg := range legs {
		v := float64(s.input.AssetValues[leg.AssetID])
		if i == 0 || v < vmin {
			vmin = v
		}
		if i == 0 || v > vmax {
			vmax = v
		}
	}
	balance := 0.0
	if vmax > 0 {
		balance = vmin / vmax
	}

	window := s.profile.FreshnessWindow().Seconds()
	fresh := 0.0
	for _, in := range path {
		age := s.input.Now.Sub(in.CreatedAt).Seconds()
		if age < 0 {
			age = 0
		}
		f := 1 - age/window
		if f < 0 {
			f = 0
		}
		fresh += f
	}
	fresh /= float64(len(path))

	diversity := float64(len(path)) / float64(s.profile.MaxCycleLength)
	if diversity > 1 {
		diversity = 1
	}

	w := s.profile.Weights
	return math.Round((w.ValueBalance*balance+w.Freshness*fresh+w.Diversity*diversity)*1000) / 1000
}

// buildSuccessors indexes, per intent, the intents whose want the giver
// offers, excluding same-actor pairs, sorted by ID.
func buildSuccessors(pool []*contracts.SwapIntent) map[string][]*contracts.SwapIntent {
	wantIndex := make(map[string][]*contracts.SwapIntent)
	for _, in := range pool {
		wantIndex[in.Want.AssetID] = append(wantIndex[in.Want.AssetID], in)
	}
	successors := make(map[string][]*contracts.SwapIntent, len(pool))
	for _, giver := range pool {
		seen := make(map[string]bool)
		next := make([]*contracts.SwapIntent, 0)
		for _, offered := range giver.Offer {
			for _, taker := range wantIndex[offered.AssetID] {
				if taker.Actor.Equal(giver.Actor) || seen[taker.ID] {
					continue
				}
				seen[taker.ID] = true
				next = append(next, taker)
			}
		}
		sort.Slice(next, func(i, j int) bool { return next[i].ID < next[j].ID })
		successors[giver.ID] = next
	}
	return successors
}

// selectNonConflicting keeps, in order, every candidate sharing no intent
// with an earlier selection.
func selectNonConflicting(candidates []*contracts.CycleProposal) []*contracts.CycleProposal {
	used := make(map[string]bool)
	out := make([]*contracts.CycleProposal, 0, len(candidates))
	for _, p := range candidates {
		conflict := false
		for _, id := range p.IntentIDs() {
			if used[id] {
				conflict = true
				break
			}
		}
		if conflict {
			continue
		}
		for _, id := range p.IntentIDs() {
			used[id] = true
		}
		out = append(out, p)
	}
	return out
}

func proposalID(cycleKey string, intentIDs []string) (string, error) {
	sum, err := canonicalize.Hash(map[string]any{
		"cycle_key":  cycleKey,
		"intent_ids": intentIDs,
	})
	if err != nil {
		return "", err
	}
	return "prop_" + sum[:12], nil
}
