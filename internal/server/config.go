package server

import "time"

// Config is the full set of knobs NewServer needs. Trimmed from the
// teacher's server.Config down to what this spec's scope actually uses —
// no AOF, no RDB save points, no cluster or Sentinel fields, since none of
// those subsystems exist here.
type Config struct {
	Host           string
	Port           int
	MaxConnections int
	ReadTimeout    time.Duration

	// Role is "master" or "replica". A replica must also set MasterHost
	// and MasterPort.
	Role       string
	MasterHost string
	MasterPort int

	// SlowThreshold is the minimum command duration the slow log records.
	// Matches the teacher's PipelineConfig.SlowThreshold in spirit: a
	// best-effort logging hook, not enforcement, so a zero value here
	// would log every single command rather than disabling the feature.
	SlowThreshold time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		Host:           "0.0.0.0",
		Port:           6379,
		MaxConnections: 10000,
		ReadTimeout:    30 * time.Second,
		Role:           "master",
		SlowThreshold:  10 * time.Millisecond,
	}
}
