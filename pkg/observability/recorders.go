package observability

import "time"

// Recorder is implemented by Metrics and OTelMetrics. It satisfies
// auditing.MetricsRecorder and the store and retention observers.
type Recorder interface {
	ObserveSave(status string, d time.Duration)
	ObserveSkippedEmpty()
	ObserveActions(n int)
	ObserveEntityChanges(n int)
	ObserveStoreWrite(store string, d time.Duration, err error)
	ObserveRetention(purged int64, err error)
}

// Recorders fans every measurement out to each recorder
type Recorders []Recorder

// Combine drops nil recorders and returns the rest as one
func Combine(recorders ...Recorder) Recorders {
	var out Recorders
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

func (rs Recorders) ObserveSave(status string, d time.Duration) {
	for _, r := range rs {
		r.ObserveSave(status, d)
	}
}

func (rs Recorders) ObserveSkippedEmpty() {
	for _, r := range rs {
		r.ObserveSkippedEmpty()
	}
}

func (rs Recorders) ObserveActions(n int) {
	for _, r := range rs {
		r.ObserveActions(n)
	}
}

func (rs Recorders) ObserveEntityChanges(n int) {
	for _, r := range rs {
		r.ObserveEntityChanges(n)
	}
}

func (rs Recorders) ObserveStoreWrite(store string, d time.Duration, err error) {
	for _, r := range rs {
		r.ObserveStoreWrite(store, d, err)
	}
}

func (rs Recorders) ObserveRetention(purged int64, err error) {
	for _, r := range rs {
		r.ObserveRetention(purged, err)
	}
}
