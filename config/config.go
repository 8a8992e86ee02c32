// Package config loads and validates the bus topology and timing
// parameters that the rest of the core is parameterized on. Nothing in
// spec.md mandates a config file format; this mirrors the teacher's
// convention of a single YAML-tagged struct with defaults applied
// before validation.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// BusConfig parameterizes the slab pool, port table, and discovery/token
// timing. Field names match spec.md's §3/§4 vocabulary.
type BusConfig struct {
	Slab struct {
		Chunks    int `yaml:"chunks"`     // N
		ChunkSize int `yaml:"chunk_size"` // SZ
	} `yaml:"slab"`

	Dispatch struct {
		Ports      int `yaml:"ports"` // P
		ToIO       int `yaml:"to_io_depth"`
		ToIOHi     int `yaml:"to_io_hi_depth"`
		ToDispatch int `yaml:"to_dispatch_depth"`
		Shame      int `yaml:"shame_depth"`
		PortInbox  int `yaml:"port_inbox_depth"`
		PortOutbox int `yaml:"port_outbox_depth"`
	} `yaml:"dispatch"`

	Discovery struct {
		MinWait   time.Duration `yaml:"min_wait"`
		MaxWait   time.Duration `yaml:"max_wait"`
		BoostIval time.Duration `yaml:"boost_interval"`
		NormIval  time.Duration `yaml:"normal_interval"`
		BoostExit time.Duration `yaml:"boost_exit_after"`
	} `yaml:"discovery"`

	Token struct {
		MaxTime    time.Duration `yaml:"max_time"`
		EvictAfter time.Duration `yaml:"evict_after"`
		PaceIval   time.Duration `yaml:"pace_interval"`
		MaxMissed  int           `yaml:"max_missed_grants"`
	} `yaml:"token"`

	Telemetry struct {
		Enabled    bool   `yaml:"enabled"`
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"telemetry"`

	Diag struct {
		Enabled    bool   `yaml:"enabled"`
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"diag"`

	Tracing struct {
		Enabled            bool    `yaml:"enabled"`
		SamplerProbability float64 `yaml:"sampler_probability"`
	} `yaml:"tracing"`
}

// Default returns the spec's typical values (N=128, SZ=512, P=8, ...).
func Default() *BusConfig {
	c := &BusConfig{}
	c.Slab.Chunks = 128
	c.Slab.ChunkSize = 512
	c.Dispatch.Ports = 8
	c.Dispatch.ToIO = 32
	c.Dispatch.ToIOHi = 32
	c.Dispatch.ToDispatch = 32
	c.Dispatch.Shame = 2
	c.Dispatch.PortInbox = 4
	c.Dispatch.PortOutbox = 4
	c.Discovery.MinWait = 10 * time.Millisecond
	c.Discovery.MaxWait = 50 * time.Millisecond
	c.Discovery.BoostIval = 100 * time.Millisecond
	c.Discovery.NormIval = time.Second
	c.Discovery.BoostExit = 3 * time.Second
	c.Token.MaxTime = 50 * time.Millisecond
	c.Token.EvictAfter = 5 * time.Second
	c.Token.PaceIval = time.Millisecond
	c.Token.MaxMissed = 10
	c.Telemetry.Enabled = false
	c.Telemetry.ListenAddr = "127.0.0.1:9485"
	c.Diag.Enabled = false
	c.Diag.ListenAddr = "127.0.0.1:9486"
	c.Tracing.Enabled = false
	c.Tracing.SamplerProbability = 1.0
	return c
}

// Load reads a YAML config file, applying spec defaults for any field the
// file leaves at its zero value, then validates the result.
func Load(path string) (*BusConfig, error) {
	c := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	loaded := &BusConfig{}
	if err := yaml.Unmarshal(b, loaded); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	mergeNonZero(c, loaded)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func mergeNonZero(dflt, loaded *BusConfig) {
	if loaded.Slab.Chunks != 0 {
		dflt.Slab.Chunks = loaded.Slab.Chunks
	}
	if loaded.Slab.ChunkSize != 0 {
		dflt.Slab.ChunkSize = loaded.Slab.ChunkSize
	}
	if loaded.Dispatch.Ports != 0 {
		dflt.Dispatch.Ports = loaded.Dispatch.Ports
	}
	if loaded.Dispatch.ToIO != 0 {
		dflt.Dispatch.ToIO = loaded.Dispatch.ToIO
	}
	if loaded.Dispatch.ToIOHi != 0 {
		dflt.Dispatch.ToIOHi = loaded.Dispatch.ToIOHi
	}
	if loaded.Dispatch.ToDispatch != 0 {
		dflt.Dispatch.ToDispatch = loaded.Dispatch.ToDispatch
	}
	if loaded.Dispatch.Shame != 0 {
		dflt.Dispatch.Shame = loaded.Dispatch.Shame
	}
	if loaded.Dispatch.PortInbox != 0 {
		dflt.Dispatch.PortInbox = loaded.Dispatch.PortInbox
	}
	if loaded.Dispatch.PortOutbox != 0 {
		dflt.Dispatch.PortOutbox = loaded.Dispatch.PortOutbox
	}
	if loaded.Discovery.MinWait != 0 {
		dflt.Discovery.MinWait = loaded.Discovery.MinWait
	}
	if loaded.Discovery.MaxWait != 0 {
		dflt.Discovery.MaxWait = loaded.Discovery.MaxWait
	}
	if loaded.Discovery.BoostIval != 0 {
		dflt.Discovery.BoostIval = loaded.Discovery.BoostIval
	}
	if loaded.Discovery.NormIval != 0 {
		dflt.Discovery.NormIval = loaded.Discovery.NormIval
	}
	if loaded.Discovery.BoostExit != 0 {
		dflt.Discovery.BoostExit = loaded.Discovery.BoostExit
	}
	if loaded.Token.MaxTime != 0 {
		dflt.Token.MaxTime = loaded.Token.MaxTime
	}
	if loaded.Token.EvictAfter != 0 {
		dflt.Token.EvictAfter = loaded.Token.EvictAfter
	}
	if loaded.Token.PaceIval != 0 {
		dflt.Token.PaceIval = loaded.Token.PaceIval
	}
	if loaded.Token.MaxMissed != 0 {
		dflt.Token.MaxMissed = loaded.Token.MaxMissed
	}
	if loaded.Telemetry.ListenAddr == "" {
		loaded.Telemetry.ListenAddr = dflt.Telemetry.ListenAddr
	}
	if loaded.Diag.ListenAddr == "" {
		loaded.Diag.ListenAddr = dflt.Diag.ListenAddr
	}
	if loaded.Tracing.SamplerProbability == 0 {
		loaded.Tracing.SamplerProbability = dflt.Tracing.SamplerProbability
	}
	dflt.Telemetry = loaded.Telemetry
	dflt.Diag = loaded.Diag
	dflt.Tracing = loaded.Tracing
}

// Validate rejects out-of-range topology values before anything tries to
// build a slab pool or port table from them.
func (c *BusConfig) Validate() error {
	if c.Slab.Chunks < 1 {
		return fmt.Errorf("config: slab.chunks must be >= 1, got %d", c.Slab.Chunks)
	}
	if c.Slab.ChunkSize < 16 {
		return fmt.Errorf("config: slab.chunk_size must be >= 16, got %d", c.Slab.ChunkSize)
	}
	if c.Dispatch.Ports < 2 {
		return fmt.Errorf("config: dispatch.ports must be >= 2, got %d", c.Dispatch.Ports)
	}
	return nil
}
