package scoring

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/riskshield/txscore/internal/models"
)

// evaluatePattern implements §4.A's pattern rule family. The basic
// |recent| >= N check always runs first and wins if satisfied; per the
// spec's resolved open question, pattern_type dispatch only runs when the
// basic check does not already fire on its own.
func (e *Evaluator) evaluatePattern(s PatternSpec, tx *models.Transaction, history []*models.Transaction) (bool, string, error) {
	since := tx.Timestamp.Add(-minutesDuration(s.Minutes))
	recent := recentFrom(history, tx, since)

	if len(recent) >= s.N {
		return true, fmt.Sprintf("%d tx in last %s min", len(recent), formatParam(s.Minutes)), nil
	}

	switch s.PatternType {
	case "":
		return false, "", nil
	case "series":
		return evaluateSeries(s, recentFrom(history, tx, tx.Timestamp.Add(-minutesDuration(s.SeriesWindowMinutes))))
	case "aggregates":
		return evaluateAggregates(s, tx, history)
	case "micro_transactions":
		return evaluateMicroTransactions(s, recent)
	case "burst":
		return evaluateBurst(s, tx, history)
	case "round_amounts":
		return evaluateRoundAmounts(s, recent)
	default:
		return false, "", fmt.Errorf("scoring: unknown pattern_type %q", s.PatternType)
	}
}

func minutesDuration(minutes float64) time.Duration {
	return time.Duration(minutes * float64(time.Minute))
}

// recentFrom filters history to prior entries from tx's sender strictly
// after since, ordered as given (ascending by persistence order, which is
// also chronological). tx itself is always excluded, even if the history
// snapshot happens to already carry a row for it — the pattern counts
// prior history, never the transaction currently being evaluated.
func recentFrom(history []*models.Transaction, tx *models.Transaction, since time.Time) []*models.Transaction {
	out := make([]*models.Transaction, 0, len(history))
	for _, h := range history {
		if h.CorrelationID == tx.CorrelationID {
			continue
		}
		if h.SenderAccount == tx.SenderAccount && h.Timestamp.After(since) {
			out = append(out, h)
		}
	}
	return out
}

func sortedByTime(txs []*models.Transaction) []*models.Transaction {
	sorted := make([]*models.Transaction, len(txs))
	copy(sorted, txs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })
	return sorted
}

// evaluateSeries finds the longest run of the sender's transactions (within
// recent, already windowed to series_window_minutes) where consecutive
// timestamps are no more than max_interval_minutes apart, and fires if that
// run reaches min_series_count.
func evaluateSeries(s PatternSpec, recent []*models.Transaction) (bool, string, error) {
	sorted := sortedByTime(recent)
	maxRun, current := 0, 0
	if len(sorted) > 0 {
		current = 1
	}
	for i := 1; i < len(sorted); i++ {
		gap := sorted[i].Timestamp.Sub(sorted[i-1].Timestamp).Minutes()
		if gap <= s.MaxIntervalMinutes {
			current++
		} else {
			if current > maxRun {
				maxRun = current
			}
			current = 1
		}
	}
	if current > maxRun {
		maxRun = current
	}
	if maxRun >= s.MinSeriesCount && maxRun > 0 {
		return true, fmt.Sprintf("series run of %d within %s min (max gap %s min)", maxRun, formatParam(s.SeriesWindowMinutes), formatParam(s.MaxIntervalMinutes)), nil
	}
	return false, "", nil
}

func evaluateAggregates(s PatternSpec, tx *models.Transaction, history []*models.Transaction) (bool, string, error) {
	since := tx.Timestamp.Add(-minutesDuration(s.WindowMinutes))
	recent := recentFrom(history, tx, since)
	if len(recent) < s.MinCount {
		return false, "", nil
	}

	amounts := make([]float64, len(recent))
	sum := 0.0
	for i, r := range recent {
		amounts[i] = r.Amount
		sum += r.Amount
	}

	var stat float64
	switch s.AggregateFunc {
	case "avg":
		stat = sum / float64(len(amounts))
	case "median":
		stat = median(amounts)
	default:
		stat = sum
	}

	if stat > s.AmountThreshold {
		return true, fmt.Sprintf("%s %s over %d tx exceeds %s", s.AggregateFunc, formatAmount(stat), len(recent), formatParam(s.AmountThreshold)), nil
	}
	return false, "", nil
}

func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func evaluateMicroTransactions(s PatternSpec, recent []*models.Transaction) (bool, string, error) {
	count := 0
	sum := 0.0
	for _, r := range recent {
		if r.Amount <= s.MaxAmount {
			count++
			sum += r.Amount
		}
	}
	if count >= s.MinCount && sum >= s.MinTotal {
		return true, fmt.Sprintf("%d micro-transactions totaling %s", count, formatAmount(sum)), nil
	}
	return false, "", nil
}

func evaluateBurst(s PatternSpec, tx *models.Transaction, history []*models.Transaction) (bool, string, error) {
	burstSince := tx.Timestamp.Add(-minutesDuration(s.BurstWindowMinutes))
	burstCount := len(recentFrom(history, tx, burstSince))

	normalSince := tx.Timestamp.Add(-minutesDuration(s.NormalWindowMinutes))
	precedingDuration := s.NormalWindowMinutes - s.BurstWindowMinutes
	precedingCount := 0
	if precedingDuration > 0 {
		for _, h := range recentFrom(history, tx, normalSince) {
			if !h.Timestamp.After(burstSince) {
				precedingCount++
			}
		}
	}

	burstRate := float64(burstCount) / s.BurstWindowMinutes
	normalRate := 0.0
	if precedingDuration > 0 {
		normalRate = float64(precedingCount) / precedingDuration
	}

	fired := burstCount >= s.BurstThreshold && burstRate > normalRate*s.NormalMultiplier
	reason := fmt.Sprintf("burst of %d tx in %s min (rate %.2f vs normal %.2f)", burstCount, formatParam(s.BurstWindowMinutes), burstRate, normalRate)
	if fired {
		return true, reason, nil
	}
	return false, "", nil
}

func evaluateRoundAmounts(s PatternSpec, recent []*models.Transaction) (bool, string, error) {
	count := 0
	for _, r := range recent {
		if isRoundAmount(r.Amount, s.RoundThreshold) {
			count++
		}
	}
	if count >= s.MinCount {
		return true, fmt.Sprintf("%d round amounts among %d recent transactions", count, len(recent)), nil
	}
	return false, "", nil
}

// isRoundAmount reports whether floor(amount)'s decimal digit string has a
// trailing-zero fraction at or above threshold.
func isRoundAmount(amount, threshold float64) bool {
	n := int64(math.Floor(amount))
	if n < 0 {
		n = -n
	}
	digits := fmt.Sprintf("%d", n)
	if digits == "0" {
		return true
	}
	trailing := 0
	for i := len(digits) - 1; i >= 0 && digits[i] == '0'; i-- {
		trailing++
	}
	return float64(trailing)/float64(len(digits)) >= threshold
}
