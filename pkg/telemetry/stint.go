package telemetry

// StintClock derives stint time and stint laps from session time, lap counter
// and the pit road flag. A stint starts with the first observation and
// restarts when the car leaves pit road.
type StintClock struct {
	started   bool
	start     float64
	startLap  int
	onPitRoad bool
}

// Observe feeds one tick and returns the seconds elapsed in the current stint.
func (c *StintClock) Observe(sessionTime float64, lap int, onPitRoad bool) float64 {
	switch {
	case !c.started:
		c.restart(sessionTime, lap)
	case c.onPitRoad && !onPitRoad:
		c.restart(sessionTime, lap)
	case sessionTime < c.start:
		// session time went backwards (new session or replay restart)
		c.restart(sessionTime, lap)
	}
	c.onPitRoad = onPitRoad
	return sessionTime - c.start
}

// Elapsed returns the stint time at sessionTime without advancing the clock.
func (c *StintClock) Elapsed(sessionTime float64) float64 {
	if !c.started || sessionTime < c.start {
		return 0
	}
	return sessionTime - c.start
}

// Laps returns the number of laps completed in the current stint.
func (c *StintClock) Laps(lap int) int {
	if !c.started || lap < c.startLap {
		return 0
	}
	return lap - c.startLap
}

func (c *StintClock) Reset() {
	*c = StintClock{}
}

func (c *StintClock) restart(sessionTime float64, lap int) {
	c.started = true
	c.start = sessionTime
	c.startLap = lap
}
