package registry

import (
	"errors"
	"maps"
	"sync"

	"ctchen222/picross/internal/player"
	"ctchen222/picross/pkg/proto"
)

var (
	ErrDuplicatePlayer = errors.New("player already registered")
	ErrUnknownPlayer   = errors.New("player not registered")
)

// ResultRecord is the accumulated result data for one player.
type ResultRecord struct {
	Result   proto.Result `json:"result"`
	Recorded bool         `json:"recorded"`
}

// Registry is the only state shared between connection handlers: the players
// currently connected with their results, and the active puzzle configuration.
// Every method is safe for concurrent use.
type Registry struct {
	mu            sync.RWMutex
	players       map[player.ID]ResultRecord
	configuration string
}

// New creates an empty registry with no active configuration.
func New() *Registry {
	return &Registry{
		players: make(map[player.ID]ResultRecord),
	}
}

// AddPlayer inserts an empty result record for id.
func (r *Registry) AddPlayer(id player.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.players[id]; ok {
		return ErrDuplicatePlayer
	}
	r.players[id] = ResultRecord{}
	return nil
}

// RemovePlayer deletes the entry for id and reports whether it existed.
func (r *Registry) RemovePlayer(id player.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.players[id]; !ok {
		return false
	}
	delete(r.players, id)
	return true
}

// SetConfiguration replaces the active configuration. Last writer wins.
func (r *Registry) SetConfiguration(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configuration = s
}

// Configuration returns the active configuration, or "" if none was ever set.
func (r *Registry) Configuration() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.configuration
}

// RecordResult overwrites the result of a registered player.
func (r *Registry) RecordResult(id player.ID, result proto.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.players[id]; !ok {
		return ErrUnknownPlayer
	}
	r.players[id] = ResultRecord{Result: result, Recorded: true}
	return nil
}

// Result returns the record of one player.
func (r *Registry) Result(id player.ID) (ResultRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.players[id]
	return rec, ok
}

// SnapshotResults returns a copy of every player's record. Later mutations of
// the registry are not visible in the returned map.
func (r *Registry) SnapshotResults() map[player.ID]ResultRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.players)
}

// Len returns the number of registered players.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}
