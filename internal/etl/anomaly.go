package etl

import (
	"math"

	"github.com/ishaanv18/kasparro-backend-Ishaan-Verma/internal/domain"
)

// defaultSigma is how many standard deviations from the historical mean a
// run metric may stray before it is flagged.
const defaultSigma = 2.0

// minAnomalyHistory is the number of prior runs needed before statistical
// flagging kicks in; with less history only hard rules apply.
const minAnomalyHistory = 3

// Anomaly flags one suspicious metric of one run.
type Anomaly struct {
	RunID  string        `json:"run_id"`
	Source domain.Source `json:"source"`
	Metric string        `json:"metric"`
	Value  float64       `json:"value"`
	Mean   float64       `json:"mean"`
	StdDev float64       `json:"std_dev"`
	Reason string        `json:"reason"`
}

// DetectAnomalies scans a source's successful runs, newest first as the run
// store returns them, and flags runs whose record volume or duration deviates
// from the history before them. A successful run that persisted zero records
// is always flagged.
func DetectAnomalies(runs []*domain.Run, sigma float64) []Anomaly {
	if sigma <= 0 {
		sigma = defaultSigma
	}

	var anomalies []Anomaly
	for i, run := range runs {
		if run.Status != domain.RunSuccess {
			continue
		}

		if run.RecordsFetched > 0 && run.RecordsProcessed == 0 {
			anomalies = append(anomalies, Anomaly{
				RunID:  run.RunID,
				Source: run.SourceName,
				Metric: "records_processed",
				Value:  0,
				Reason: "fetched records but persisted none",
			})
			continue
		}

		history := successesAfter(runs, i)
		if len(history) < minAnomalyHistory {
			continue
		}

		if a := deviation(run, "records_processed", float64(run.RecordsProcessed), history, sigma, func(r *domain.Run) float64 {
			return float64(r.RecordsProcessed)
		}); a != nil {
			anomalies = append(anomalies, *a)
		}
		if run.DurationSeconds != nil {
			if a := deviation(run, "duration_seconds", *run.DurationSeconds, history, sigma, func(r *domain.Run) float64 {
				if r.DurationSeconds == nil {
					return 0
				}
				return *r.DurationSeconds
			}); a != nil {
				anomalies = append(anomalies, *a)
			}
		}
	}
	return anomalies
}

// successesAfter returns the successful runs older than index i.
func successesAfter(runs []*domain.Run, i int) []*domain.Run {
	var history []*domain.Run
	for _, r := range runs[i+1:] {
		if r.Status == domain.RunSuccess {
			history = append(history, r)
		}
	}
	return history
}

func deviation(run *domain.Run, metric string, value float64, history []*domain.Run, sigma float64, extract func(*domain.Run) float64) *Anomaly {
	mean, stddev := meanStdDev(history, extract)
	if stddev == 0 {
		if value == mean {
			return nil
		}
		// Perfectly flat history: any change at all is a deviation, but only
		// a large relative one is worth flagging.
		if mean != 0 && math.Abs(value-mean)/mean < 0.5 {
			return nil
		}
	} else if math.Abs(value-mean) <= sigma*stddev {
		return nil
	}

	return &Anomaly{
		RunID:  run.RunID,
		Source: run.SourceName,
		Metric: metric,
		Value:  value,
		Mean:   mean,
		StdDev: stddev,
		Reason: "deviates from historical average",
	}
}

func meanStdDev(runs []*domain.Run, extract func(*domain.Run) float64) (float64, float64) {
	if len(runs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, r := range runs {
		sum += extract(r)
	}
	mean := sum / float64(len(runs))

	var variance float64
	for _, r := range runs {
		d := extract(r) - mean
		variance += d * d
	}
	variance /= float64(len(runs))
	return mean, math.Sqrt(variance)
}
