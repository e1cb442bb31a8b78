package vm

// Profiler counts taken back-edges to identify hot loops for native
// compilation. Loops are profiled per (code unit, loop head); the back-edge
// count approximates iterations executed, which is what matters for a loop
// compiler (invocation counts would under-weight long-running loops).

// LoopKey identifies one loop: the code unit's name and the instruction
// index of the loop head (the back-edge target).
type LoopKey struct {
	Code  string
	Start int
}

// LoopProfile holds profiling data for a single loop.
type LoopProfile struct {
	Key       LoopKey
	End       int    // back-edge instruction index
	BackEdges uint64 // taken back-edge count
	IsHot     bool   // true once the threshold is exceeded
}

// Profiler manages loop profiles for one VM. The VM is single-threaded, so
// no synchronization is needed.
type Profiler struct {
	profiles map[LoopKey]*LoopProfile

	// HotThreshold is the back-edge count at which a loop becomes hot.
	HotThreshold uint64

	// OnHot is invoked once, the first time a loop crosses the threshold.
	OnHot func(code *Code, profile *LoopProfile)

	hotCount int
}

// DefaultHotThreshold balances warm-up time against compiling loops that
// never pay off.
const DefaultHotThreshold uint64 = 1000

// NewProfiler creates a profiler with the default threshold.
func NewProfiler() *Profiler {
	return &Profiler{
		profiles:     make(map[LoopKey]*LoopProfile),
		HotThreshold: DefaultHotThreshold,
	}
}

// RecordBackEdge counts one taken back-edge from end to start. Returns true
// if this edge made the loop hot.
func (p *Profiler) RecordBackEdge(code *Code, start, end int) bool {
	key := LoopKey{Code: code.Name, Start: start}
	profile, ok := p.profiles[key]
	if !ok {
		profile = &LoopProfile{Key: key, End: end}
		p.profiles[key] = profile
	}
	profile.BackEdges++
	if !profile.IsHot && profile.BackEdges >= p.HotThreshold {
		profile.IsHot = true
		p.hotCount++
		if p.OnHot != nil {
			p.OnHot(code, profile)
		}
		return true
	}
	return false
}

// Seed installs a previously persisted profile. A loop seeded at or above
// the threshold is hot immediately, without firing OnHot (the caller
// decides whether to recompile).
func (p *Profiler) Seed(key LoopKey, end int, count uint64) *LoopProfile {
	profile := &LoopProfile{Key: key, End: end, BackEdges: count}
	if count >= p.HotThreshold {
		profile.IsHot = true
		p.hotCount++
	}
	p.profiles[key] = profile
	return profile
}

// Get returns the profile for a loop, or nil if not tracked.
func (p *Profiler) Get(key LoopKey) *LoopProfile {
	return p.profiles[key]
}

// IsHot reports whether the loop has exceeded the hot threshold.
func (p *Profiler) IsHot(key LoopKey) bool {
	profile := p.profiles[key]
	return profile != nil && profile.IsHot
}

// HotLoops returns all loops that have exceeded the hot threshold.
func (p *Profiler) HotLoops() []*LoopProfile {
	var hot []*LoopProfile
	for _, profile := range p.profiles {
		if profile.IsHot {
			hot = append(hot, profile)
		}
	}
	return hot
}

// Profiles returns every tracked loop profile.
func (p *Profiler) Profiles() []*LoopProfile {
	all := make([]*LoopProfile, 0, len(p.profiles))
	for _, profile := range p.profiles {
		all = append(all, profile)
	}
	return all
}

// ProfilerStats holds aggregate profiling statistics.
type ProfilerStats struct {
	TotalLoops     int
	HotLoops       int
	TotalBackEdges uint64
}

// Stats returns aggregate profiling statistics.
func (p *Profiler) Stats() ProfilerStats {
	var stats ProfilerStats
	for _, profile := range p.profiles {
		stats.TotalLoops++
		stats.TotalBackEdges += profile.BackEdges
		if profile.IsHot {
			stats.HotLoops++
		}
	}
	return stats
}

// Reset clears all profiling data.
func (p *Profiler) Reset() {
	p.profiles = make(map[LoopKey]*LoopProfile)
	p.hotCount = 0
}
