package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomsJoinLeave(t *testing.T) {
	r := NewRooms()

	r.Join("r1", "c1")
	assert.ElementsMatch(t, []string{"c1"}, r.MembersOf("r1"))
	assert.ElementsMatch(t, []string{"r1"}, r.RoomsOf("c1"))

	// Duplicate join is a no-op.
	r.Join("r1", "c1")
	assert.Len(t, r.MembersOf("r1"), 1)

	r.Join("r1", "c2")
	assert.ElementsMatch(t, []string{"c1", "c2"}, r.MembersOf("r1"))

	r.Leave("r1", "c1")
	assert.ElementsMatch(t, []string{"c2"}, r.MembersOf("r1"))
	assert.Empty(t, r.RoomsOf("c1"))
}

func TestRoomsEmptyRoomIsRemoved(t *testing.T) {
	r := NewRooms()
	r.Join("r1", "c1")
	require.Equal(t, 1, r.Count())

	r.Leave("r1", "c1")
	assert.Empty(t, r.MembersOf("r1"))
	assert.Equal(t, 0, r.Count())
}

func TestRoomsLeaveUnknownIsNoop(t *testing.T) {
	r := NewRooms()
	r.Leave("ghost", "c1")
	assert.Equal(t, 0, r.Count())
}

func TestRoomsLeaveAll(t *testing.T) {
	r := NewRooms()
	r.Join("r1", "c1")
	r.Join("r2", "c1")
	r.Join("r2", "c2")

	left := r.LeaveAll("c1")
	assert.ElementsMatch(t, []string{"r1", "r2"}, left)
	assert.Empty(t, r.RoomsOf("c1"))
	assert.Empty(t, r.MembersOf("r1"))
	assert.ElementsMatch(t, []string{"c2"}, r.MembersOf("r2"))
}

// The bidirectional index must stay consistent under concurrent join, leave
// and disconnect on overlapping rooms and connections.
func TestRoomsConcurrentConsistency(t *testing.T) {
	r := NewRooms()

	const workers = 16
	const iters = 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			connID := fmt.Sprintf("c%d", w)
			for i := 0; i < iters; i++ {
				room := fmt.Sprintf("r%d", i%4)
				r.Join(room, connID)
				if i%3 == 0 {
					r.Leave(room, connID)
				}
				if i%17 == 0 {
					r.LeaveAll(connID)
				}
			}
		}(w)
	}
	wg.Wait()

	// Both sides of the index must agree exactly.
	for w := 0; w < workers; w++ {
		connID := fmt.Sprintf("c%d", w)
		for _, room := range r.RoomsOf(connID) {
			assert.Contains(t, r.MembersOf(room), connID)
		}
	}
	for i := 0; i < 4; i++ {
		room := fmt.Sprintf("r%d", i)
		for _, connID := range r.MembersOf(room) {
			assert.Contains(t, r.RoomsOf(connID), room)
		}
	}
}
