package observability

import "fmt"

// ObserveSynthesis counts one field synthesis. It satisfies synth.Recorder.
func (c *Collector) ObserveSynthesis(mode, outcome string) {
	if c == nil || c.Syntheses == nil {
		return
	}
	c.Syntheses.WithLabelValues(mode, outcome).Inc()
}

// ObserveTrace counts one field-line trace and, for traces that ran, its
// step count. It satisfies apex.Recorder.
func (c *Collector) ObserveTrace(outcome string, steps int) {
	if c == nil {
		return
	}
	if c.Traces != nil {
		c.Traces.WithLabelValues(outcome).Inc()
	}
	if c.TraceSteps != nil && steps > 0 {
		c.TraceSteps.Observe(float64(steps))
	}
}

// SetModel publishes the span and fingerprint of the loaded coefficient table.
func (c *Collector) SetModel(firstEpoch, lastEpoch float64, fingerprint uint64) {
	if c == nil {
		return
	}
	if c.ModelFirstEpoch != nil {
		c.ModelFirstEpoch.Set(firstEpoch)
	}
	if c.ModelLastEpoch != nil {
		c.ModelLastEpoch.Set(lastEpoch)
	}
	if c.ModelInfo != nil {
		c.ModelInfo.Reset()
		c.ModelInfo.WithLabelValues(fmt.Sprintf("%016x", fingerprint)).Set(1)
	}
}
