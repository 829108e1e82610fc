package progression

import "fmt"

// Levels is the monotonic XP threshold table. Level N is reached when the
// cumulative XP total is >= Levels[N-1] (thresholds are inclusive): a total
// sitting exactly on a threshold already has that level. Level is always a
// pure function of cumulative XP, never an independently mutated counter.
type Levels []int64

// NewLevels validates a threshold table: the first threshold must be 0
// (everyone is at least level 1) and thresholds must strictly increase.
func NewLevels(thresholds []int64) (Levels, error) {
	if len(thresholds) == 0 {
		return nil, fmt.Errorf("level table is empty")
	}
	if thresholds[0] != 0 {
		return nil, fmt.Errorf("first level threshold must be 0, got %d", thresholds[0])
	}
	for i := 1; i < len(thresholds); i++ {
		if thresholds[i] <= thresholds[i-1] {
			return nil, fmt.Errorf("level thresholds must strictly increase: [%d]=%d <= [%d]=%d",
				i, thresholds[i], i-1, thresholds[i-1])
		}
	}
	return Levels(thresholds), nil
}

// LevelFor returns the 1-based level for a cumulative XP total: the highest
// index whose threshold is <= total.
func (l Levels) LevelFor(total int64) int {
	level := 1
	for i, threshold := range l {
		if total >= threshold {
			level = i + 1
		} else {
			break
		}
	}
	return level
}

// NextThreshold returns the XP required for the next level, or -1 at the cap.
func (l Levels) NextThreshold(total int64) int64 {
	for _, threshold := range l {
		if total < threshold {
			return threshold
		}
	}
	return -1
}
