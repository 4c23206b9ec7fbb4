package spawn

import (
	"sync"
	"testing"
)

func TestPopulationCap(t *testing.T) {
	p := NewPopulation(2)

	if !p.TryAdd("DragonNightmare_Blue") || !p.TryAdd("DragonUsurper_Green") {
		t.Fatal("adds under the cap rejected")
	}
	if p.TryAdd("DragonNightmare_Blue") {
		t.Fatal("add over the cap accepted")
	}
	if p.Active() != 2 {
		t.Errorf("active: got %d, want 2", p.Active())
	}

	if !p.Collected("DragonUsurper_Green") {
		t.Fatal("collected live spawn rejected")
	}
	if p.Collected("DragonUsurper_Green") {
		t.Error("collected the same spawn twice")
	}
	if !p.TryAdd("DragonSoulEater_Red") {
		t.Error("add after collection rejected")
	}

	snap := p.Snapshot()
	if snap["DragonNightmare_Blue"] != 1 || snap["DragonSoulEater_Red"] != 1 || len(snap) != 2 {
		t.Errorf("snapshot: %v", snap)
	}
}

func TestPopulationUnlimited(t *testing.T) {
	p := NewPopulation(0)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.TryAdd("DragonNightmare_Blue")
		}()
	}
	wg.Wait()

	if p.Active() != 100 {
		t.Errorf("active: got %d, want 100", p.Active())
	}
	if p.Collected("never_spawned") {
		t.Error("collected an entity that was never spawned")
	}
}
