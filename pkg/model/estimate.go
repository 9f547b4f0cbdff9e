package model

// Estimate is the output of one prediction layer for a single tick.
type Estimate struct {
	// Values holds absolute temperatures, or deltas to the physics
	// temperature if Relative is set.
	Values   ZoneValues
	Relative bool
	// ZoneConfidence is the per zone weight in [0,1]. A zone with zero
	// confidence does not contribute to a blend.
	ZoneConfidence ZoneValues
	// Confidence is the layer's overall confidence in [0,1].
	Confidence float64
}

// AbsoluteEstimate builds an Estimate whose zones all share confidence c.
func AbsoluteEstimate(values ZoneValues, c float64) Estimate {
	return Estimate{Values: values, ZoneConfidence: UniformZones(c), Confidence: c}
}

// DeltaEstimate builds a relative Estimate whose zones all share confidence c.
func DeltaEstimate(deltas ZoneValues, c float64) Estimate {
	return Estimate{Values: deltas, Relative: true, ZoneConfidence: UniformZones(c), Confidence: c}
}
