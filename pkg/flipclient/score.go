package flipclient

import "strconv"

// ScoreResult is the computed value of a selected hand.
type ScoreResult struct {
	Total      int
	Flip7Bonus bool
}

// flip7BonusPoints rewards flipping all seven number cards without busting.
const flip7BonusPoints = 15

// ScoreSelection computes a hand score from the selected card labels.
// Number cards sum; an "x2" card doubles that sum; flat "+N" modifiers are
// added after the doubling; seven number cards earn the completion bonus.
func ScoreSelection(cards []string) ScoreResult {
	numberSum := 0
	numberCount := 0
	modifierSum := 0
	hasX2 := false

	for _, label := range cards {
		if label == "x2" {
			hasX2 = true
			continue
		}
		if len(label) > 1 && label[0] == '+' {
			if value, err := strconv.Atoi(label[1:]); err == nil {
				modifierSum += value
			}
			continue
		}
		if value, err := strconv.Atoi(label); err == nil {
			numberSum += value
			numberCount++
		}
	}

	total := numberSum
	if hasX2 {
		total *= 2
	}
	total += modifierSum

	bonus := numberCount == 7
	if bonus {
		total += flip7BonusPoints
	}

	return ScoreResult{Total: total, Flip7Bonus: bonus}
}
