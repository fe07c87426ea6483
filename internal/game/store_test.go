package game

import (
	"errors"
	"testing"
	"time"

	"github.com/joffreyzhang/kurangame/pkg/types"
)

// newTestStore creates a Store in a temp directory seeded with a complete
// world template under fileId "f1".
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	lore := &Lore{
		Title:       "Test World",
		Background:  []string{"Long ago..."},
		CurrentTime: GameTime{Year: 100},
		Eras:        []Era{{Title: "Founding", StartYear: 0, EndYear: 199}},
	}
	player := &Player{
		Profile:        Profile{Name: "Hero", Age: 20},
		Attributes:     map[string]int{"health": 80},
		Inventory:      []InventoryItem{{ID: "i1", Name: "bread", Quantity: 1}},
		Currency:       50,
		Location:       "village",
		UnlockedScenes: []string{"village"},
		Network:        map[string]int{},
	}
	items := ItemCatalog{"i1": {Name: "bread", Description: "Fresh bread."}}
	scenes := Scenes{"village": &Scene{Name: "Village"}}

	if err := s.SaveLore("f1", lore); err != nil {
		t.Fatalf("SaveLore: %v", err)
	}
	if err := s.SavePlayer("f1", player); err != nil {
		t.Fatalf("SavePlayer: %v", err)
	}
	if err := s.SaveItems("f1", items); err != nil {
		t.Fatalf("SaveItems: %v", err)
	}
	if err := s.SaveScenes("f1", scenes); err != nil {
		t.Fatalf("SaveScenes: %v", err)
	}
	return s
}

// TestLoadRoundTrip checks save-then-load of a template document.
func TestLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	lore, err := s.LoadLore("f1")
	if err != nil {
		t.Fatalf("LoadLore: %v", err)
	}
	if lore.Title != "Test World" {
		t.Errorf("title: got %q, want %q", lore.Title, "Test World")
	}
	if lore.CurrentTime.Year != 100 {
		t.Errorf("year: got %d, want 100", lore.CurrentTime.Year)
	}
}

// TestLoadMissing checks the NotFound sentinel.
func TestLoadMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LoadPlayer("nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// TestSessionFallback checks that session reads fall back to the template
// until the session is materialized, and stop falling back afterwards.
func TestSessionFallback(t *testing.T) {
	s := newTestStore(t)

	// Before materialization: reads resolve via the template.
	p, err := s.SessionPlayer("s1", "f1")
	if err != nil {
		t.Fatalf("SessionPlayer fallback: %v", err)
	}
	if p.Profile.Name != "Hero" {
		t.Errorf("fallback player name: got %q", p.Profile.Name)
	}
	if s.ExistsSession("s1") {
		t.Error("session should not exist before materialization")
	}

	// Materialize, then diverge the session copy.
	docs, err := s.MaterializeSession("s1", "f1")
	if err != nil {
		t.Fatalf("MaterializeSession: %v", err)
	}
	if docs.Player == nil || docs.Lore == nil || docs.Items == nil || docs.Scenes == nil {
		t.Fatal("expected all four documents cloned")
	}
	if !s.ExistsSession("s1") {
		t.Error("session should exist after materialization")
	}

	docs.Player.Currency = 999
	if err := s.SavePlayer("s1", docs.Player); err != nil {
		t.Fatalf("SavePlayer session: %v", err)
	}

	// Session read now sees the session copy; template is untouched.
	p2, err := s.SessionPlayer("s1", "f1")
	if err != nil {
		t.Fatalf("SessionPlayer: %v", err)
	}
	if p2.Currency != 999 {
		t.Errorf("session currency: got %d, want 999", p2.Currency)
	}
	tpl, err := s.LoadPlayer("f1")
	if err != nil {
		t.Fatalf("LoadPlayer template: %v", err)
	}
	if tpl.Currency != 50 {
		t.Errorf("template currency mutated: got %d, want 50", tpl.Currency)
	}
}

// TestMaterializeMissingTemplate checks the NotFound propagation.
func TestMaterializeMissingTemplate(t *testing.T) {
	s := newTestStore(t)
	_, err := s.MaterializeSession("s1", "missing-file")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// TestHistoryRoundTrip checks the narrative-log file.
func TestHistoryRoundTrip(t *testing.T) {
	s := newTestStore(t)

	// Missing history is an empty log, not an error.
	entries, err := s.LoadHistory("s1")
	if err != nil {
		t.Fatalf("LoadHistory empty: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty history, got %d entries", len(entries))
	}

	log := []types.HistoryEntry{
		{Type: types.HistoryPlayerAction, Text: "look around", Timestamp: time.Now().UTC()},
		{Type: types.HistoryNarration, Text: "You see a village.", Timestamp: time.Now().UTC()},
	}
	if err := s.SaveHistory("s1", log); err != nil {
		t.Fatalf("SaveHistory: %v", err)
	}
	got, err := s.LoadHistory("s1")
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Type != types.HistoryPlayerAction || got[1].Text != "You see a village." {
		t.Errorf("history mismatch: %+v", got)
	}
}

// TestNPCChatRoundTrip checks per-NPC transcript persistence.
func TestNPCChatRoundTrip(t *testing.T) {
	s := newTestStore(t)
	msgs := []types.Message{
		{Role: types.RoleUser, Content: "Hello Bob"},
		{Role: types.RoleAssistant, Content: "Greetings, traveler."},
	}
	if err := s.SaveNPCChat("s1", "n1", msgs); err != nil {
		t.Fatalf("SaveNPCChat: %v", err)
	}
	got, err := s.LoadNPCChat("s1", "n1")
	if err != nil {
		t.Fatalf("LoadNPCChat: %v", err)
	}
	if len(got) != 2 || got[1].Content != "Greetings, traveler." {
		t.Errorf("transcript mismatch: %+v", got)
	}

	// A different NPC has its own empty transcript.
	other, err := s.LoadNPCChat("s1", "n2")
	if err != nil {
		t.Fatalf("LoadNPCChat other: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("expected empty transcript for other NPC, got %d", len(other))
	}
}

// TestSnapshotRoundTrip checks opaque snapshot persistence and deletion.
func TestSnapshotRoundTrip(t *testing.T) {
	s := newTestStore(t)

	type snap struct {
		FileID    string `json:"fileId"`
		TurnCount int    `json:"turnCount"`
	}

	var missing snap
	if err := s.LoadSnapshot("s1", &missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing snapshot, got %v", err)
	}

	if err := s.SaveSnapshot("s1", snap{FileID: "f1", TurnCount: 7}); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	var got snap
	if err := s.LoadSnapshot("s1", &got); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if got.FileID != "f1" || got.TurnCount != 7 {
		t.Errorf("snapshot mismatch: %+v", got)
	}

	if err := s.DeleteSnapshot("s1"); err != nil {
		t.Fatalf("DeleteSnapshot: %v", err)
	}
	if err := s.DeleteSnapshot("s1"); err != nil {
		t.Errorf("DeleteSnapshot twice should be a no-op, got %v", err)
	}
}

// TestExistsTemplate checks template presence detection.
func TestExistsTemplate(t *testing.T) {
	s := newTestStore(t)
	if !s.ExistsTemplate("f1") {
		t.Error("expected template f1 to exist")
	}
	if s.ExistsTemplate("f2") {
		t.Error("expected template f2 to be absent")
	}
}
