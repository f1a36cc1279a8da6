package registry

import (
	"hash/fnv"
	"sync"
)

const roomShards = 32

// Rooms maintains the room -> members and connection -> joined-rooms index as
// one consistent bidirectional structure. Lock striping keeps unrelated rooms
// on independent hot paths: a mutation locks the shard of the room first and
// then the shard of the connection, always in that order, so concurrent
// join/leave/disconnect cannot deadlock and no observer ever sees one side of
// the index without the other.
type Rooms struct {
	rooms [roomShards]roomShard
	conns [roomShards]connShard
}

type roomShard struct {
	mu      sync.RWMutex
	members map[string]map[string]struct{} // room -> set of connID
}

type connShard struct {
	mu     sync.RWMutex
	joined map[string]map[string]struct{} // connID -> set of room
}

func NewRooms() *Rooms {
	r := &Rooms{}
	for i := range r.rooms {
		r.rooms[i].members = make(map[string]map[string]struct{})
		r.conns[i].joined = make(map[string]map[string]struct{})
	}
	return r
}

func shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % roomShards)
}

// Join adds the connection to the room, creating the room lazily. A duplicate
// join by an already-joined connection is a no-op.
func (r *Rooms) Join(room, connID string) {
	rs := &r.rooms[shardIndex(room)]
	cs := &r.conns[shardIndex(connID)]

	rs.mu.Lock()
	defer rs.mu.Unlock()
	cs.mu.Lock()
	defer cs.mu.Unlock()

	members, ok := rs.members[room]
	if !ok {
		members = make(map[string]struct{})
		rs.members[room] = members
	}
	members[connID] = struct{}{}

	joined, ok := cs.joined[connID]
	if !ok {
		joined = make(map[string]struct{})
		cs.joined[connID] = joined
	}
	joined[room] = struct{}{}
}

// Leave removes the connection from the room. The room entry is deleted the
// moment its member set becomes empty, so rooms never leak.
func (r *Rooms) Leave(room, connID string) {
	rs := &r.rooms[shardIndex(room)]
	cs := &r.conns[shardIndex(connID)]

	rs.mu.Lock()
	defer rs.mu.Unlock()
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if members, ok := rs.members[room]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(rs.members, room)
		}
	}
	if joined, ok := cs.joined[connID]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(cs.joined, connID)
		}
	}
}

// LeaveAll removes the connection from every joined room and returns the
// rooms it was in. This is the disconnect cascade: the snapshot is taken
// first and each room removal is individually atomic, so a concurrent join
// racing the disconnect resolves to either ordering, never a torn index.
func (r *Rooms) LeaveAll(connID string) []string {
	rooms := r.RoomsOf(connID)
	for _, room := range rooms {
		r.Leave(room, connID)
	}
	return rooms
}

// MembersOf returns a snapshot of the room's current member connection ids.
func (r *Rooms) MembersOf(room string) []string {
	rs := &r.rooms[shardIndex(room)]
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	members, ok := rs.members[room]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

// RoomsOf returns a snapshot of the rooms the connection has joined.
func (r *Rooms) RoomsOf(connID string) []string {
	cs := &r.conns[shardIndex(connID)]
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	joined, ok := cs.joined[connID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(joined))
	for room := range joined {
		out = append(out, room)
	}
	return out
}

// Count returns the number of non-empty rooms.
func (r *Rooms) Count() int {
	n := 0
	for i := range r.rooms {
		r.rooms[i].mu.RLock()
		n += len(r.rooms[i].members)
		r.rooms[i].mu.RUnlock()
	}
	return n
}
