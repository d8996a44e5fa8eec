// Package sync persists reconciler poll positions across restarts.
package sync

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SourceState is the poll position of one primary-store source. The
// position is the (LastPollTime, LastPollID) pair of the last queued
// record; an empty LastPollID means every record at LastPollTime was seen.
type SourceState struct {
	LastPollTime   time.Time `json:"lastPollTime"`
	LastPollID     string    `json:"lastPollId,omitempty"`
	LastSyncTime   time.Time `json:"lastSyncTime"`
	IndexName      string    `json:"indexName"`
	Source         string    `json:"source"`
	RecordsIndexed int64     `json:"recordsIndexed"`
}

// SyncState manages persistent state for all sources
type SyncState struct {
	Sources   map[string]*SourceState `json:"sources"`
	LastSaved time.Time               `json:"lastSaved"`
}

// StateManager handles loading and saving sync state
type StateManager struct {
	filePath string
	state    *SyncState
	mutex    sync.RWMutex
	logger   *zap.Logger
}

// NewStateManager creates a new sync state manager
func NewStateManager(filePath string, logger *zap.Logger) *StateManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateManager{
		filePath: filePath,
		state: &SyncState{
			Sources: make(map[string]*SourceState),
		},
		logger: logger,
	}
}

// Load loads the sync state from disk
func (sm *StateManager) Load() error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	// Check if file exists
	if _, err := os.Stat(sm.filePath); os.IsNotExist(err) {
		sm.logger.Info("sync state file not found, starting fresh", zap.String("path", sm.filePath))
		return nil
	}

	data, err := os.ReadFile(sm.filePath)
	if err != nil {
		return fmt.Errorf("failed to read sync state file: %w", err)
	}

	if err := json.Unmarshal(data, sm.state); err != nil {
		return fmt.Errorf("failed to parse sync state file: %w", err)
	}
	if sm.state.Sources == nil {
		sm.state.Sources = make(map[string]*SourceState)
	}

	sm.logger.Info("loaded sync state", zap.Int("sources", len(sm.state.Sources)), zap.String("path", sm.filePath))
	return nil
}

// Save saves the current sync state to disk
func (sm *StateManager) Save() error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	sm.state.LastSaved = time.Now()

	data, err := json.MarshalIndent(sm.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sync state: %w", err)
	}

	// Write to temporary file first
	tempFile := sm.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp sync state file: %w", err)
	}

	// Atomic move
	if err := os.Rename(tempFile, sm.filePath); err != nil {
		return fmt.Errorf("failed to move sync state file: %w", err)
	}

	return nil
}

// GetSourceState returns a copy of the state for a source, or nil
func (sm *StateManager) GetSourceState(source string) *SourceState {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	if state, exists := sm.state.Sources[source]; exists {
		stateCopy := *state
		return &stateCopy
	}
	return nil
}

// UpdateSourceState replaces the state for a source
func (sm *StateManager) UpdateSourceState(source string, state *SourceState) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	stateCopy := *state
	sm.state.Sources[source] = &stateCopy
}

// entry must be called with the write lock held.
func (sm *StateManager) entry(source string) *SourceState {
	state, exists := sm.state.Sources[source]
	if !exists {
		state = &SourceState{Source: source}
		sm.state.Sources[source] = state
	}
	return state
}

// SetLastPollTime moves a source past every record at pollTime
func (sm *StateManager) SetLastPollTime(source string, pollTime time.Time) {
	sm.SetPollCursor(source, pollTime, "")
}

// SetPollCursor records the last queued record of a source
func (sm *StateManager) SetPollCursor(source string, pollTime time.Time, id string) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	state := sm.entry(source)
	state.LastPollTime = pollTime
	state.LastPollID = id
}

// SetLastSyncTime updates the last sync time for a source
func (sm *StateManager) SetLastSyncTime(source string, syncTime time.Time) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	sm.entry(source).LastSyncTime = syncTime
}

// IncrementRecordsIndexed increments the records indexed counter
func (sm *StateManager) IncrementRecordsIndexed(source string, count int64) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	sm.entry(source).RecordsIndexed += count
}

// GetAllSourceStates returns a copy of every source state
func (sm *StateManager) GetAllSourceStates() map[string]*SourceState {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	result := make(map[string]*SourceState, len(sm.state.Sources))
	for key, state := range sm.state.Sources {
		stateCopy := *state
		result[key] = &stateCopy
	}
	return result
}

// RemoveSourceState forgets a source so the next poll starts over
func (sm *StateManager) RemoveSourceState(source string) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	delete(sm.state.Sources, source)
}

// StartPeriodicSave saves state every interval until stopCh closes
func (sm *StateManager) StartPeriodicSave(interval time.Duration, stopCh <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := sm.Save(); err != nil {
				sm.logger.Error("failed to save sync state", zap.Error(err))
			}
		case <-stopCh:
			// Final save before stopping
			if err := sm.Save(); err != nil {
				sm.logger.Error("failed to save sync state on shutdown", zap.Error(err))
			}
			return
		}
	}
}
