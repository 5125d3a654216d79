// Package scoring awards points for answer submissions. Everything here is
// pure and deterministic: identical inputs always produce identical outputs,
// which is what makes fairness auditable after the fact.
package scoring

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/victornm/qlive/internal/domain"
)

// DefaultMinFactor floors a correct answer's points at half the base value
// when the question snapshot does not set its own factor.
var DefaultMinFactor = decimal.NewFromFloat(0.5)

// Score awards points for a submission. Elapsed is the server-measured time
// between question start and submission receipt.
//
// A correct answer earns points that decay linearly with elapsed time:
// base points at t=0 down to base*minFactor at t=limit, rounded half-up.
// Any correct answer earns at least base*minFactor, so a correct-but-slow
// player is never zeroed. An incorrect answer earns exactly 0.
func Score(q domain.QuestionSnapshot, choice domain.Choice, elapsed time.Duration) (points int, correct bool) {
	if !Correct(q, choice) {
		return 0, false
	}

	base := decimal.NewFromInt(int64(q.BasePoints))

	minFactor := q.MinFactor
	if minFactor.IsZero() {
		minFactor = DefaultMinFactor
	}

	if q.TimeLimit <= 0 {
		return q.BasePoints, true
	}

	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > q.TimeLimit {
		elapsed = q.TimeLimit
	}

	// factor = 1 - (1-minFactor) * elapsed/limit
	ratio := decimal.NewFromInt(elapsed.Milliseconds()).
		Div(decimal.NewFromInt(q.TimeLimit.Milliseconds()))
	factor := decimal.NewFromInt(1).Sub(decimal.NewFromInt(1).Sub(minFactor).Mul(ratio))

	awarded := base.Mul(factor).Round(0)

	floor := base.Mul(minFactor).Round(0)
	if awarded.LessThan(floor) {
		awarded = floor
	}

	return int(awarded.IntPart()), true
}

// Correct reports whether the choice answers the question.
func Correct(q domain.QuestionSnapshot, choice domain.Choice) bool {
	switch q.Type {
	case domain.QuestionSingleChoice, domain.QuestionTrueFalse:
		return len(choice.OptionIDs) == 1 &&
			len(q.CorrectOptionIDs) == 1 &&
			choice.OptionIDs[0] == q.CorrectOptionIDs[0]

	case domain.QuestionMultiSelect:
		// All-or-nothing: the submitted set must equal the correct set.
		return equalSets(choice.OptionIDs, q.CorrectOptionIDs)

	case domain.QuestionOrdering:
		// Position by position against the canonical sequence.
		if len(choice.OptionIDs) != len(q.CorrectOptionIDs) {
			return false
		}
		for i, id := range choice.OptionIDs {
			if id != q.CorrectOptionIDs[i] {
				return false
			}
		}
		return true
	}

	return false
}

// ValidateChoice rejects malformed payloads before they reach scoring: empty
// choices, unknown option IDs, duplicates, and arity that cannot match the
// question type.
func ValidateChoice(q domain.QuestionSnapshot, choice domain.Choice) bool {
	if len(choice.OptionIDs) == 0 {
		return false
	}

	known := make(map[string]bool, len(q.Options))
	for _, o := range q.Options {
		known[o.OptionID] = true
	}

	seen := make(map[string]bool, len(choice.OptionIDs))
	for _, id := range choice.OptionIDs {
		if !known[id] || seen[id] {
			return false
		}
		seen[id] = true
	}

	switch q.Type {
	case domain.QuestionSingleChoice, domain.QuestionTrueFalse:
		return len(choice.OptionIDs) == 1
	case domain.QuestionOrdering:
		return len(choice.OptionIDs) == len(q.Options)
	}

	return true
}

func equalSets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	set := make(map[string]bool, len(a))
	for _, id := range a {
		set[id] = true
	}
	for _, id := range b {
		if !set[id] {
			return false
		}
	}
	return true
}
