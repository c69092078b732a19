package datalog

import (
	"fmt"
	"sync/atomic"
	"time"
)

// RunLimits bounds a single evaluation run. Limits are enforced
// during evaluation, not after: MaxFacts the moment an insertion
// would exceed it, MaxIterations at the start of the offending
// iteration, Deadline between iterations.
type RunLimits struct {
	MaxFacts      int
	MaxIterations int
	Deadline      time.Duration
}

// DefaultRunLimits returns the standard bounds.
func DefaultRunLimits() RunLimits {
	return RunLimits{
		MaxFacts:      1000,
		MaxIterations: 100,
		Deadline:      time.Millisecond,
	}
}

// FactSet stores ground facts partitioned by origin, with global
// deduplication across partitions keyed by (origin, fact) identity.
type FactSet struct {
	partitions map[string]*factPartition
	count      int
}

type factPartition struct {
	origin Origin
	facts  map[string]Fact
}

// NewFactSet returns an empty store.
func NewFactSet() *FactSet {
	return &FactSet{partitions: make(map[string]*factPartition)}
}

// Insert adds a fact under the given origin. Returns true when the
// fact was not already present in that partition.
func (s *FactSet) Insert(origin Origin, fact Fact) bool {
	key := origin.key()
	p, ok := s.partitions[key]
	if !ok {
		p = &factPartition{origin: origin, facts: make(map[string]Fact)}
		s.partitions[key] = p
	}
	fk := fact.Key()
	if _, dup := p.facts[fk]; dup {
		return false
	}
	p.facts[fk] = fact
	s.count++
	return true
}

// Contains reports whether the exact (origin, fact) pair is present.
func (s *FactSet) Contains(origin Origin, fact Fact) bool {
	p, ok := s.partitions[origin.key()]
	if !ok {
		return false
	}
	_, found := p.facts[fact.Key()]
	return found
}

// Len returns the total number of stored facts.
func (s *FactSet) Len() int {
	return s.count
}

// Each calls f for every (origin, fact) pair.
func (s *FactSet) Each(f func(Origin, Fact)) {
	for _, p := range s.partitions {
		for _, fact := range p.facts {
			f(p.origin, fact)
		}
	}
}

// trustedFact pairs a fact with its origin for join processing.
type trustedFact struct {
	origin Origin
	fact   Fact
	delta  bool
}

// selectFacts returns facts whose origin is a subset of the trust
// set and whose predicate name matches.
func (s *FactSet) selectFacts(trusted TrustedOrigins, name uint64, delta *FactSet) []trustedFact {
	var out []trustedFact
	for _, p := range s.partitions {
		if !trusted.Trusts(p.origin) {
			continue
		}
		for fk, fact := range p.facts {
			if fact.Name != name {
				continue
			}
			isDelta := false
			if delta != nil {
				if dp, ok := delta.partitions[p.origin.key()]; ok {
					_, isDelta = dp.facts[fk]
				}
			}
			out = append(out, trustedFact{origin: p.origin, fact: fact, delta: isDelta})
		}
	}
	return out
}

// scopedRule pairs a rule with its defining block and resolved trust
// set.
type scopedRule struct {
	rule    Rule
	origin  uint64
	trusted TrustedOrigins
}

// World holds the combined fact store and rule set for one
// evaluation, and runs semi-naive saturation over it. A World is
// single-use and not safe for concurrent access.
type World struct {
	facts      *FactSet
	rules      []scopedRule
	symbols    *SymbolTable
	iterations int
	cancelled  atomic.Bool
}

// NewWorld returns an empty world resolving strings through symbols.
func NewWorld(symbols *SymbolTable) *World {
	return &World{
		facts:   NewFactSet(),
		symbols: symbols,
	}
}

// AddFact records a fact under the given origin block.
func (w *World) AddFact(origin Origin, fact Fact) {
	w.facts.Insert(origin, fact)
}

// AddRule registers a rule defined by the given block with an
// already-resolved trust set.
func (w *World) AddRule(origin uint64, trusted TrustedOrigins, rule Rule) {
	w.rules = append(w.rules, scopedRule{rule: rule, origin: origin, trusted: trusted})
}

// Facts exposes the underlying fact store.
func (w *World) Facts() *FactSet {
	return w.facts
}

// Cancel requests cooperative termination. The flag is consulted at
// the same points as the deadline and surfaces as ErrTimeout.
func (w *World) Cancel() {
	w.cancelled.Store(true)
}

// Run saturates the rule set under the given limits.
func (w *World) Run(limits RunLimits) error {
	start := time.Now()

	// First iteration treats every existing fact as new.
	delta := w.facts

	for {
		if w.iterations >= limits.MaxIterations {
			return fmt.Errorf("%w: limit %d", ErrTooManyIterations, limits.MaxIterations)
		}
		if w.cancelled.Load() || time.Since(start) >= limits.Deadline {
			return ErrTimeout
		}
		w.iterations++

		next := NewFactSet()
		for _, sr := range w.rules {
			if err := w.deriveInto(sr, delta, next, limits); err != nil {
				return err
			}
		}

		// Fold newly derived facts into the global set; anything
		// actually new becomes the next delta.
		fresh := NewFactSet()
		next.Each(func(o Origin, f Fact) {
			if w.facts.Insert(o, f) {
				fresh.Insert(o, f)
			}
		})
		if fresh.Len() == 0 {
			return nil
		}
		delta = fresh
	}
}

// deriveInto joins one rule against the store and writes derived
// facts into out. On the first pass delta is the whole store; later
// passes require at least one body atom matched against a delta fact.
func (w *World) deriveInto(sr scopedRule, delta *FactSet, out *FactSet, limits RunLimits) error {
	requireDelta := delta != w.facts
	bindings := make(map[Variable]Term)

	var join func(i int, usedDelta bool, origin Origin) error
	join = func(i int, usedDelta bool, origin Origin) error {
		if i == len(sr.rule.Body) {
			if requireDelta && !usedDelta {
				return nil
			}
			ok, err := w.guardsPass(sr.rule.Expressions, bindings)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			head, err := substitute(sr.rule.Head, bindings)
			if err != nil {
				return err
			}
			factOrigin := origin.Insert(sr.origin)
			fact := Fact{Predicate: head}
			if w.facts.Contains(factOrigin, fact) || !out.Insert(factOrigin, fact) {
				return nil
			}
			if w.facts.Len()+out.Len() > limits.MaxFacts {
				return fmt.Errorf("%w: limit %d", ErrTooManyFacts, limits.MaxFacts)
			}
			return nil
		}

		pattern := sr.rule.Body[i]
		for _, tf := range w.facts.selectFacts(sr.trusted, pattern.Name, deltaOrNil(delta, w.facts)) {
			undo, ok := match(pattern, tf.fact, bindings)
			if !ok {
				undo(bindings)
				continue
			}
			if err := join(i+1, usedDelta || tf.delta, origin.Union(tf.origin)); err != nil {
				undo(bindings)
				return err
			}
			undo(bindings)
		}
		return nil
	}

	return join(0, false, nil)
}

func deltaOrNil(delta, all *FactSet) *FactSet {
	if delta == all {
		return nil
	}
	return delta
}

// guardsPass evaluates every expression guard under the bindings.
func (w *World) guardsPass(exprs []Expression, bindings map[Variable]Term) (bool, error) {
	for _, e := range exprs {
		res, err := e.Evaluate(bindings, w.symbols)
		if err != nil {
			return false, err
		}
		b, ok := res.(Boolean)
		if !ok {
			return false, executionErrorf("guard", "expression result is %T, not boolean", res)
		}
		if !b {
			return false, nil
		}
	}
	return true, nil
}

// match unifies a body pattern against a ground fact, extending
// bindings. It returns an undo closure removing the bindings it
// added; ok is false on mismatch.
func match(pattern Predicate, fact Fact, bindings map[Variable]Term) (func(map[Variable]Term), bool) {
	var added []Variable
	undo := func(b map[Variable]Term) {
		for _, v := range added {
			delete(b, v)
		}
	}

	if pattern.Name != fact.Name || len(pattern.Terms) != len(fact.Terms) {
		return undo, false
	}
	for i, pt := range pattern.Terms {
		ft := fact.Terms[i]
		if v, ok := pt.(Variable); ok {
			if bound, exists := bindings[v]; exists {
				if !bound.Equal(ft) {
					return undo, false
				}
				continue
			}
			bindings[v] = ft
			added = append(added, v)
			continue
		}
		if !pt.Equal(ft) {
			return undo, false
		}
	}
	return undo, true
}

// substitute instantiates a head pattern under the bindings.
func substitute(head Predicate, bindings map[Variable]Term) (Predicate, error) {
	out := head.Clone()
	for i, t := range out.Terms {
		if v, ok := t.(Variable); ok {
			bound, exists := bindings[v]
			if !exists {
				return Predicate{}, fmt.Errorf("head variable $%d is unbound", uint32(v))
			}
			out.Terms[i] = bound
		}
	}
	return out, nil
}

// QueryMatch is one satisfying answer for a query rule: the derived
// head fact and the origin of the facts that produced it.
type QueryMatch struct {
	Fact   Fact
	Origin Origin
}

// QueryRule runs a single rule as a read-only query against the
// current store, obeying the rule's trust set. Nothing is written to
// the world.
func (w *World) QueryRule(trusted TrustedOrigins, rule Rule) ([]QueryMatch, error) {
	var matches []QueryMatch
	bindings := make(map[Variable]Term)

	var join func(i int, origin Origin) error
	join = func(i int, origin Origin) error {
		if i == len(rule.Body) {
			ok, err := w.guardsPass(rule.Expressions, bindings)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			head, err := substitute(rule.Head, bindings)
			if err != nil {
				return err
			}
			matches = append(matches, QueryMatch{Fact: Fact{Predicate: head}, Origin: origin})
			return nil
		}
		pattern := rule.Body[i]
		for _, tf := range w.facts.selectFacts(trusted, pattern.Name, nil) {
			undo, ok := match(pattern, tf.fact, bindings)
			if !ok {
				undo(bindings)
				continue
			}
			if err := join(i+1, origin.Union(tf.origin)); err != nil {
				undo(bindings)
				return err
			}
			undo(bindings)
		}
		return nil
	}

	if err := join(0, nil); err != nil {
		return nil, err
	}
	return matches, nil
}

// QueryRuleAll reports whether every binding of the rule's body also
// satisfies its expression guards, and whether any binding exists.
// This is the `check all` semantics.
func (w *World) QueryRuleAll(trusted TrustedOrigins, rule Rule) (all bool, any bool, err error) {
	all = true
	bindings := make(map[Variable]Term)

	var join func(i int) error
	join = func(i int) error {
		if i == len(rule.Body) {
			any = true
			ok, gerr := w.guardsPass(rule.Expressions, bindings)
			if gerr != nil {
				return gerr
			}
			if !ok {
				all = false
			}
			return nil
		}
		pattern := rule.Body[i]
		for _, tf := range w.facts.selectFacts(trusted, pattern.Name, nil) {
			undo, ok := match(pattern, tf.fact, bindings)
			if !ok {
				undo(bindings)
				continue
			}
			if err := join(i + 1); err != nil {
				undo(bindings)
				return err
			}
			undo(bindings)
		}
		return nil
	}

	if err = join(0); err != nil {
		return false, false, err
	}
	return all, any, nil
}

// Iterations returns the number of semi-naive passes performed.
func (w *World) Iterations() int {
	return w.iterations
}
