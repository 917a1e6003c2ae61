package sim

import (
	"hash/fnv"
	"math/rand"
)

// SimulationKey identifies a reproducible simulation run. Two runs with the
// same key and identical model setup produce identical event sequences.
type SimulationKey int64

// NewSimulationKey creates a SimulationKey from a seed value.
func NewSimulationKey(seed int64) SimulationKey {
	return SimulationKey(seed)
}

// Stream names used by the bundled models.
const (
	StreamArrivals = "arrivals"
	StreamService  = "service"
	StreamScrap    = "scrap"
)

// PartitionedRNG hands out one deterministically seeded *rand.Rand per named
// stream. A stream's seed is the partition key mixed with the FNV-1a hash of
// its name, so the numbers a stream yields depend on nothing but the key and
// the name.
//
// Fork derives child partitions the same way. A model forks one partition per
// component (a station, a machine) and the component names its own streams;
// renaming or reordering other components leaves its draws unchanged.
//
// Not safe for concurrent use; within a simulation only one process runs at a
// time.
type PartitionedRNG struct {
	key     SimulationKey
	streams map[string]*rand.Rand
	forks   map[string]*PartitionedRNG
}

// NewPartitionedRNG creates a PartitionedRNG from a SimulationKey.
func NewPartitionedRNG(key SimulationKey) *PartitionedRNG {
	return &PartitionedRNG{
		key:     key,
		streams: make(map[string]*rand.Rand),
		forks:   make(map[string]*PartitionedRNG),
	}
}

// Stream returns the generator for name, creating it on first use. The same
// name always returns the same instance.
func (p *PartitionedRNG) Stream(name string) *rand.Rand {
	if rng, ok := p.streams[name]; ok {
		return rng
	}
	rng := rand.New(rand.NewSource(p.derive("stream", name)))
	p.streams[name] = rng
	return rng
}

// Fork returns the child partition for name, creating it on first use. Its
// streams never coincide with the parent's streams of the same name.
func (p *PartitionedRNG) Fork(name string) *PartitionedRNG {
	if child, ok := p.forks[name]; ok {
		return child
	}
	child := NewPartitionedRNG(SimulationKey(p.derive("fork", name)))
	p.forks[name] = child
	return child
}

// Key returns the SimulationKey of this partition.
func (p *PartitionedRNG) Key() SimulationKey {
	return p.key
}

func (p *PartitionedRNG) derive(kind, name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(name))
	return int64(p.key) ^ int64(h.Sum64())
}
