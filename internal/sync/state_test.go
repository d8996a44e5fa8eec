package sync

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestNewStateManager(t *testing.T) {
	sm := NewStateManager("/tmp/test_sync_state.json", nil)
	if sm == nil {
		t.Fatal("NewStateManager returned nil")
	}
	if sm.filePath != "/tmp/test_sync_state.json" {
		t.Errorf("Expected filePath to be '/tmp/test_sync_state.json', got '%s'", sm.filePath)
	}
	if sm.state == nil || sm.state.Sources == nil {
		t.Error("Expected state to be initialized")
	}
}

func TestStateManager_SaveAndLoad(t *testing.T) {
	tempFile := filepath.Join(t.TempDir(), "test_sync_state.json")
	sm := NewStateManager(tempFile, nil)

	testTime := time.Now().Truncate(time.Second) // Truncate for JSON precision
	sm.UpdateSourceState("documents", &SourceState{
		LastPollTime:   testTime,
		LastSyncTime:   testTime.Add(time.Minute),
		IndexName:      "documents",
		Source:         "documents",
		RecordsIndexed: 1234,
	})

	if err := sm.Save(); err != nil {
		t.Fatalf("Failed to save state: %v", err)
	}
	if _, err := os.Stat(tempFile); os.IsNotExist(err) {
		t.Fatal("State file was not created")
	}

	sm2 := NewStateManager(tempFile, nil)
	if err := sm2.Load(); err != nil {
		t.Fatalf("Failed to load state: %v", err)
	}

	loaded := sm2.GetSourceState("documents")
	if loaded == nil {
		t.Fatal("Failed to load source state")
	}
	if !loaded.LastPollTime.Equal(testTime) {
		t.Errorf("Expected LastPollTime %v, got %v", testTime, loaded.LastPollTime)
	}
	if !loaded.LastSyncTime.Equal(testTime.Add(time.Minute)) {
		t.Errorf("Expected LastSyncTime %v, got %v", testTime.Add(time.Minute), loaded.LastSyncTime)
	}
	if loaded.IndexName != "documents" {
		t.Errorf("Expected IndexName 'documents', got '%s'", loaded.IndexName)
	}
	if loaded.RecordsIndexed != 1234 {
		t.Errorf("Expected RecordsIndexed 1234, got %d", loaded.RecordsIndexed)
	}
}

func TestStateManager_LoadNonExistentFile(t *testing.T) {
	sm := NewStateManager(filepath.Join(t.TempDir(), "missing.json"), nil)
	if err := sm.Load(); err != nil {
		t.Errorf("Expected no error when loading non-existent file, got: %v", err)
	}
}

func TestStateManager_LoadCorruptFile(t *testing.T) {
	tempFile := filepath.Join(t.TempDir(), "corrupt.json")
	if err := os.WriteFile(tempFile, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := NewStateManager(tempFile, nil).Load(); err == nil {
		t.Error("Expected error for corrupt state file")
	}
}

func TestStateManager_GetSourceStateReturnsCopy(t *testing.T) {
	sm := NewStateManager("/tmp/test.json", nil)

	if sm.GetSourceState("sections") != nil {
		t.Error("Expected nil for unknown source")
	}

	sm.SetLastPollTime("sections", time.Unix(100, 0))
	state := sm.GetSourceState("sections")
	if state == nil {
		t.Fatal("Expected source state to exist")
	}
	state.LastPollTime = time.Unix(999, 0)

	if got := sm.GetSourceState("sections").LastPollTime; !got.Equal(time.Unix(100, 0)) {
		t.Errorf("Mutating a returned state leaked into the manager: %v", got)
	}
}

func TestStateManager_SetLastPollTime(t *testing.T) {
	sm := NewStateManager("/tmp/test.json", nil)
	testTime := time.Now().Truncate(time.Second)

	sm.SetLastPollTime("documents", testTime)
	state := sm.GetSourceState("documents")
	if state == nil {
		t.Fatal("Expected source state to be created")
	}
	if state.Source != "documents" {
		t.Errorf("Expected Source 'documents', got '%s'", state.Source)
	}
	if !state.LastPollTime.Equal(testTime) {
		t.Errorf("Expected LastPollTime %v, got %v", testTime, state.LastPollTime)
	}

	newTime := testTime.Add(time.Hour)
	sm.SetLastPollTime("documents", newTime)
	if state := sm.GetSourceState("documents"); !state.LastPollTime.Equal(newTime) {
		t.Errorf("Expected updated LastPollTime %v, got %v", newTime, state.LastPollTime)
	}
}

func TestStateManager_SetPollCursor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	sm := NewStateManager(path, nil)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	sm.SetPollCursor("documents", at, "tie-2")
	if err := sm.Save(); err != nil {
		t.Fatalf("Failed to save state: %v", err)
	}

	loaded := NewStateManager(path, nil)
	if err := loaded.Load(); err != nil {
		t.Fatalf("Failed to load state: %v", err)
	}
	state := loaded.GetSourceState("documents")
	if state == nil || !state.LastPollTime.Equal(at) || state.LastPollID != "tie-2" {
		t.Errorf("Expected cursor (%v, tie-2), got %+v", at, state)
	}

	// Moving by time alone passes every record at that time.
	loaded.SetLastPollTime("documents", at)
	if id := loaded.GetSourceState("documents").LastPollID; id != "" {
		t.Errorf("Expected LastPollID to be cleared, got %q", id)
	}
}

func TestStateManager_SetLastSyncTime(t *testing.T) {
	sm := NewStateManager("/tmp/test.json", nil)
	testTime := time.Now().Truncate(time.Second)

	sm.SetLastSyncTime("documents", testTime)
	state := sm.GetSourceState("documents")
	if state == nil {
		t.Fatal("Expected source state to be created")
	}
	if !state.LastSyncTime.Equal(testTime) {
		t.Errorf("Expected LastSyncTime %v, got %v", testTime, state.LastSyncTime)
	}
}

func TestStateManager_IncrementRecordsIndexed(t *testing.T) {
	sm := NewStateManager("/tmp/test.json", nil)

	sm.IncrementRecordsIndexed("sections", 100)
	sm.IncrementRecordsIndexed("sections", 50)

	if got := sm.GetSourceState("sections").RecordsIndexed; got != 150 {
		t.Errorf("Expected RecordsIndexed 150, got %d", got)
	}
}

func TestStateManager_RemoveSourceState(t *testing.T) {
	sm := NewStateManager("/tmp/test.json", nil)

	sm.SetLastPollTime("documents", time.Now())
	sm.RemoveSourceState("documents")
	if sm.GetSourceState("documents") != nil {
		t.Error("Expected source to be removed")
	}
}

func TestStateManager_ConcurrentAccess(t *testing.T) {
	sm := NewStateManager("/tmp/test.json", nil)
	const numGoroutines = 10
	const numOperations = 100

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			source := fmt.Sprintf("source%d", id)

			for j := 0; j < numOperations; j++ {
				sm.SetLastPollTime(source, time.Now())
				sm.IncrementRecordsIndexed(source, 1)
				sm.GetSourceState(source)
			}
		}(i)
	}

	wg.Wait()

	states := sm.GetAllSourceStates()
	if len(states) != numGoroutines {
		t.Errorf("Expected %d sources, got %d", numGoroutines, len(states))
	}
	for key, state := range states {
		if state.RecordsIndexed != numOperations {
			t.Errorf("Expected source %s to have %d records, got %d", key, numOperations, state.RecordsIndexed)
		}
	}
}

func TestStateManager_PeriodicSave(t *testing.T) {
	tempFile := filepath.Join(t.TempDir(), "periodic.json")
	sm := NewStateManager(tempFile, nil)
	sm.SetLastPollTime("documents", time.Now())

	stopCh := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go sm.StartPeriodicSave(time.Hour, stopCh, &wg)
	close(stopCh)
	wg.Wait()

	if _, err := os.Stat(tempFile); err != nil {
		t.Errorf("Expected final save on stop: %v", err)
	}
	if _, err := os.Stat(tempFile + ".tmp"); !os.IsNotExist(err) {
		t.Error("Temporary file should not exist after successful save")
	}
}
