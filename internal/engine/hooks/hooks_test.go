package hooks

import (
	"context"
	"testing"
)

// TestEvent tests basic event creation and functionality
func TestEvent(t *testing.T) {
	event := NewEvent(EventSessionOpen).
		WithMediaID("test-media").
		WithFilename("sample.mkv").
		WithData("width", 1920).
		WithData("height", 1080)

	if event.Type != EventSessionOpen {
		t.Errorf("Expected event type %s, got %s", EventSessionOpen, event.Type)
	}

	if event.MediaID != "test-media" {
		t.Errorf("Expected media ID 'test-media', got %s", event.MediaID)
	}

	if event.Filename != "sample.mkv" {
		t.Errorf("Expected filename 'sample.mkv', got %s", event.Filename)
	}

	if event.Data["width"] != 1920 {
		t.Errorf("Expected width 1920, got %v", event.Data["width"])
	}

	if event.Data["height"] != 1080 {
		t.Errorf("Expected height 1080, got %v", event.Data["height"])
	}

	// Test string representation
	str := event.String()
	if str != "session_open:sample.mkv" {
		t.Errorf("Expected string 'session_open:sample.mkv', got %s", str)
	}
}

// fakeHook is a minimal Hook used to exercise HookManager without a real
// subprocess or network dependency.
type fakeHook struct {
	id string
}

func (h *fakeHook) Execute(context.Context, Event) error { return nil }
func (h *fakeHook) Type() string                         { return "fake" }
func (h *fakeHook) ID() string                           { return h.id }

// TestHookManager tests hook manager registration and basic functionality
func TestHookManager(t *testing.T) {
	config := DefaultHookConfig()
	manager := NewHookManager(config, nil)

	// Test hook registration
	hook := &fakeHook{id: "test"}
	err := manager.RegisterHook(EventSessionOpen, hook)
	if err != nil {
		t.Errorf("Failed to register hook: %v", err)
	}

	// Test stats
	stats := manager.GetStats()
	if stats["total_hooks"] != 1 {
		t.Errorf("Expected 1 total hook, got %v", stats["total_hooks"])
	}

	// Test unregistration
	success := manager.UnregisterHook(EventSessionOpen, "test")
	if !success {
		t.Error("Failed to unregister hook")
	}

	// Test event triggering (should not crash with no hooks)
	event := NewEvent(EventSessionOpen)
	manager.TriggerEvent(context.Background(), *event)

	// Clean up
	manager.Close()
}

// TestStdioHook tests stdio hook creation and basic functionality
func TestStdioHook(t *testing.T) {
	hook := NewStdioHook("stdio-test", "json")

	if hook.Type() != "stdio" {
		t.Errorf("Expected hook type 'stdio', got %s", hook.Type())
	}

	if hook.ID() != "stdio-test" {
		t.Errorf("Expected hook ID 'stdio-test', got %s", hook.ID())
	}

	if hook.format != "json" {
		t.Errorf("Expected format 'json', got %s", hook.format)
	}
}
