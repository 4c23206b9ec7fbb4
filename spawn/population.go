package spawn

import "sync"

// Population tracks live spawns so the scene never holds more than Max.
// Max <= 0 means unlimited.
type Population struct {
	mu     sync.Mutex
	max    int
	active map[string]int
	total  int
}

func NewPopulation(max int) *Population {
	return &Population{max: max, active: make(map[string]int)}
}

// TryAdd records one new spawn of entityType unless the cap is reached.
func (p *Population) TryAdd(entityType string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.max > 0 && p.total >= p.max {
		return false
	}
	p.active[entityType]++
	p.total++
	return true
}

// Collected removes one live spawn of entityType. It reports false when none
// was live.
func (p *Population) Collected(entityType string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active[entityType] == 0 {
		return false
	}
	p.active[entityType]--
	if p.active[entityType] == 0 {
		delete(p.active, entityType)
	}
	p.total--
	return true
}

// Active returns the number of live spawns.
func (p *Population) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

func (p *Population) Max() int {
	return p.max
}

// Snapshot returns live spawns per entity type.
func (p *Population) Snapshot() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]int, len(p.active))
	for k, v := range p.active {
		out[k] = v
	}
	return out
}
