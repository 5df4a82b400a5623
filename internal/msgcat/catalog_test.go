package msgcat

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEmbeddedDefaults(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := c.Render("room.player_joined", map[string]any{"Name": "Alice"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "Alice joined the room" {
		t.Fatalf("got %q", got)
	}
}

func TestUnknownKey(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Render("room.no_such_key", nil); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestMissingTemplateData(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Render("game.paused", map[string]any{}); err == nil {
		t.Fatal("expected error for missing data key")
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	override := "room:\n  player_joined: \"welcome {{.Name}}\"\n"
	if err := os.WriteFile(filepath.Join(dir, "custom.yaml"), []byte(override), 0o644); err != nil {
		t.Fatalf("write override: %v", err)
	}

	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := c.Render("room.player_joined", map[string]any{"Name": "Bob"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "welcome Bob" {
		t.Fatalf("got %q", got)
	}
	// Untouched keys keep their defaults.
	got, err = c.Render("game.started", nil)
	if err != nil || got != "Game started" {
		t.Fatalf("default lost: %q, %v", got, err)
	}
}

func TestDuplicateOverrideKeyRejected(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.yaml", "b.yaml"} {
		body := "room:\n  player_left: \"bye\"\n"
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	_, err := New(dir)
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate key error, got %v", err)
	}
}
