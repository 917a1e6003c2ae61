package flowline

import (
	"errors"
	"fmt"
)

// StationConfig describes one station of the line.
type StationConfig struct {
	Name            string    `yaml:"name"`
	Machines        int       `yaml:"machines"`          // parallel machines, at least 1
	BufferSize      int       `yaml:"buffer_size"`       // input buffer slots, negative for unbounded
	MeanServiceTime float64   `yaml:"mean_service_time"` // exponential mean; 0 means no processing delay
	Service         *DistSpec `yaml:"service,omitempty"` // overrides mean_service_time
	ScrapRate       float64   `yaml:"scrap_rate"`        // probability that a job is scrapped after service
}

// Config describes a flow line: a source releasing jobs, an ordered list of
// stations, and a sink. Interarrival and station Service distributions
// override the exponential means when set.
type Config struct {
	Jobs             int             `yaml:"jobs"`
	MeanInterarrival float64         `yaml:"mean_interarrival"`
	Interarrival     *DistSpec       `yaml:"interarrival,omitempty"`
	WIPLimit         int             `yaml:"wip_limit"` // 0 disables the limit
	Horizon          float64         `yaml:"horizon"`   // 0 runs until all jobs left the line
	Stations         []StationConfig `yaml:"stations"`
}

// Validate checks the configuration for values the model cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Jobs <= 0 {
		errs = append(errs, fmt.Errorf("jobs must be positive, got %d", c.Jobs))
	}
	if c.MeanInterarrival < 0 {
		errs = append(errs, fmt.Errorf("mean_interarrival must not be negative, got %g", c.MeanInterarrival))
	} else if _, err := samplerOrExponential(c.Interarrival, c.MeanInterarrival); err != nil {
		errs = append(errs, fmt.Errorf("interarrival: %w", err))
	}
	if c.WIPLimit < 0 {
		errs = append(errs, fmt.Errorf("wip_limit must not be negative, got %d", c.WIPLimit))
	}
	if c.Horizon < 0 {
		errs = append(errs, fmt.Errorf("horizon must not be negative, got %g", c.Horizon))
	}
	if len(c.Stations) == 0 {
		errs = append(errs, errors.New("at least one station is required"))
	}
	seen := make(map[string]bool)
	for i, st := range c.Stations {
		if st.Name == "" {
			errs = append(errs, fmt.Errorf("station %d: name is required", i))
		} else if seen[st.Name] {
			errs = append(errs, fmt.Errorf("station %d: duplicate name %q", i, st.Name))
		}
		seen[st.Name] = true
		if st.Machines < 1 {
			errs = append(errs, fmt.Errorf("station %q: machines must be at least 1, got %d", st.Name, st.Machines))
		}
		if st.ScrapRate < 0 || st.ScrapRate > 1 {
			errs = append(errs, fmt.Errorf("station %q: scrap_rate must be within [0, 1], got %g", st.Name, st.ScrapRate))
		}
		if st.MeanServiceTime < 0 {
			errs = append(errs, fmt.Errorf("station %q: mean_service_time must not be negative, got %g", st.Name, st.MeanServiceTime))
		} else if _, err := samplerOrExponential(st.Service, st.MeanServiceTime); err != nil {
			errs = append(errs, fmt.Errorf("station %q: service: %w", st.Name, err))
		}
	}
	return errors.Join(errs...)
}

// DefaultConfig is a three-station line used when no scenario file is given.
func DefaultConfig() Config {
	return Config{
		Jobs:             1000,
		MeanInterarrival: 1.0,
		WIPLimit:         20,
		Stations: []StationConfig{
			{Name: "cutting", Machines: 1, BufferSize: 5, MeanServiceTime: 0.8},
			{Name: "drilling", Machines: 2, BufferSize: 5, MeanServiceTime: 1.5, ScrapRate: 0.02},
			{Name: "assembly", Machines: 1, BufferSize: Unbounded, MeanServiceTime: 0.7},
		},
	}
}
