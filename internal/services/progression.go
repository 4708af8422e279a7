package services

import "math"

// ThresholdFor 当前等级升级所需经验：floor(1000 * 1.5^(level-1))，超出 int64 时取 MaxInt64
func ThresholdFor(level int) int64 {
	if level < 1 {
		level = 1
	}
	t := math.Floor(1000 * math.Pow(1.5, float64(level-1)))
	if t >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(t)
}

// ApplyExperience 累加经验并逐级结算升级，支持一次跨多级
func ApplyExperience(level int, experience, gained int64) (int, int64) {
	if level < 1 {
		level = 1
	}
	total := experience + gained
	if gained > 0 && total < experience {
		total = math.MaxInt64
	}
	for total >= ThresholdFor(level) {
		total -= ThresholdFor(level)
		level++
	}
	return level, total
}
