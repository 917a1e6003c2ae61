package sim

// Config groups simulator construction parameters.
type Config struct {
	Name      string  // used in logs and as the driver coroutine name
	StartTime float64 // initial simulation time
	Horizon   float64 // Run stops before events later than this; <= 0 means unbounded
}
