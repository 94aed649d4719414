package crdt

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLamportClock_Tick(t *testing.T) {
	clock := NewLamportClock()

	tests := []struct {
		name          string
		expectedValue uint64
	}{
		{"First tick", 1},
		{"Second tick", 2},
		{"Third tick", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectedValue, clock.Tick())
			assert.Equal(t, tt.expectedValue, clock.Timestamp())
		})
	}
}

func TestLamportClock_Witness(t *testing.T) {
	tests := []struct {
		name     string
		initial  int
		remote   uint64
		nextTick uint64
	}{
		{name: "remote ahead", initial: 2, remote: 10, nextTick: 11},
		{name: "remote behind", initial: 5, remote: 3, nextTick: 6},
		{name: "remote equal", initial: 4, remote: 4, nextTick: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := NewLamportClock()
			for range tt.initial {
				clock.Tick()
			}

			clock.Witness(tt.remote)
			assert.Equal(t, tt.nextTick, clock.Tick())
		})
	}
}

func TestLamportClock_Concurrent(t *testing.T) {
	clock := NewLamportClock()

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				clock.Tick()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(1000), clock.Timestamp())
}
