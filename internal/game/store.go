package game

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joffreyzhang/kurangame/pkg/types"
)

// Kind identifies one of the four world documents.
type Kind string

// The four document kinds persisted per fileId and per sessionId.
const (
	KindLore   Kind = "lore"
	KindPlayer Kind = "player"
	KindItems  Kind = "items"
	KindScenes Kind = "scenes"
)

// Kinds lists all document kinds in materialization order.
var Kinds = []Kind{KindLore, KindPlayer, KindItems, KindScenes}

// Sentinel errors returned by the Store.
var (
	// ErrNotFound is returned when a requested document does not exist on disk.
	ErrNotFound = errors.New("game: document not found")
)

// Store persists world documents as JSON files under a single directory.
//
// Layout: lore_{id}.json, player_{id}.json, items_{id}.json, scenes_{id}.json
// where id is either a fileId (world template) or a sessionId (running
// instance). Auxiliary files: history_{sessionId}.json holds the narrative
// log, npc_chat_{sessionId}_{npcId}.json per-NPC chat transcripts, and
// session_{sessionId}.json the conversation-state snapshot.
//
// Writes are whole-document replacements, made atomic against concurrent
// readers by writing to a temp file and renaming. The Store itself carries no
// lock: callers serialize writes per session via the session runtime.
type Store struct {
	dir string
}

// NewStore creates a Store rooted at dir, creating the directory if needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("game: store dir must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("game: create store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the root directory of the store.
func (s *Store) Dir() string {
	return s.dir
}

// docPath returns the on-disk path for a document of the given kind and id.
func (s *Store) docPath(kind Kind, id string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.json", kind, id))
}

// readDoc unmarshals the document file into out.
func (s *Store) readDoc(kind Kind, id string, out any) error {
	data, err := os.ReadFile(s.docPath(kind, id))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("game: load %s %q: %w", kind, id, ErrNotFound)
		}
		return fmt.Errorf("game: load %s %q: %w", kind, id, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("game: decode %s %q: %w", kind, id, err)
	}
	return nil
}

// writeDoc atomically replaces the document file with the JSON encoding of v.
func (s *Store) writeDoc(kind Kind, id string, v any) error {
	if err := s.writeFileAtomic(s.docPath(kind, id), v); err != nil {
		return fmt.Errorf("game: save %s %q: %w", kind, id, err)
	}
	return nil
}

// writeFileAtomic writes v as indented JSON to a temp file in the store
// directory and renames it over path. Rename within one directory is atomic
// on POSIX filesystems, so readers see either the old or the new document.
func (s *Store) writeFileAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".doc-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// ── Template reads ────────────────────────────────────────────────────────────

// LoadLore loads the lore document for the given fileId or sessionId.
func (s *Store) LoadLore(id string) (*Lore, error) {
	var l Lore
	if err := s.readDoc(KindLore, id, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// LoadPlayer loads the player document for the given fileId or sessionId.
func (s *Store) LoadPlayer(id string) (*Player, error) {
	var p Player
	if err := s.readDoc(KindPlayer, id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadScenes loads the scenes document for the given fileId or sessionId.
func (s *Store) LoadScenes(id string) (Scenes, error) {
	var sc Scenes
	if err := s.readDoc(KindScenes, id, &sc); err != nil {
		return nil, err
	}
	return sc, nil
}

// LoadItems loads the item catalog for the given fileId or sessionId.
func (s *Store) LoadItems(id string) (ItemCatalog, error) {
	var c ItemCatalog
	if err := s.readDoc(KindItems, id, &c); err != nil {
		return nil, err
	}
	return c, nil
}

// ── Session reads with template fallback ─────────────────────────────────────

// SessionLore loads the session's lore, falling back to the template when the
// session has not been materialized yet.
func (s *Store) SessionLore(sessionID, fileID string) (*Lore, error) {
	l, err := s.LoadLore(sessionID)
	if errors.Is(err, ErrNotFound) {
		return s.LoadLore(fileID)
	}
	return l, err
}

// SessionPlayer loads the session's player document with template fallback.
func (s *Store) SessionPlayer(sessionID, fileID string) (*Player, error) {
	p, err := s.LoadPlayer(sessionID)
	if errors.Is(err, ErrNotFound) {
		return s.LoadPlayer(fileID)
	}
	return p, err
}

// SessionScenes loads the session's scenes document with template fallback.
func (s *Store) SessionScenes(sessionID, fileID string) (Scenes, error) {
	sc, err := s.LoadScenes(sessionID)
	if errors.Is(err, ErrNotFound) {
		return s.LoadScenes(fileID)
	}
	return sc, err
}

// SessionItems loads the session's item catalog with template fallback.
func (s *Store) SessionItems(sessionID, fileID string) (ItemCatalog, error) {
	c, err := s.LoadItems(sessionID)
	if errors.Is(err, ErrNotFound) {
		return s.LoadItems(fileID)
	}
	return c, err
}

// ── Writes ────────────────────────────────────────────────────────────────────

// SaveLore atomically replaces the lore document for the given id.
func (s *Store) SaveLore(id string, l *Lore) error {
	return s.writeDoc(KindLore, id, l)
}

// SavePlayer atomically replaces the player document for the given id.
func (s *Store) SavePlayer(id string, p *Player) error {
	return s.writeDoc(KindPlayer, id, p)
}

// SaveScenes atomically replaces the scenes document for the given id.
func (s *Store) SaveScenes(id string, sc Scenes) error {
	return s.writeDoc(KindScenes, id, sc)
}

// SaveItems atomically replaces the item catalog for the given id.
func (s *Store) SaveItems(id string, c ItemCatalog) error {
	return s.writeDoc(KindItems, id, c)
}

// ── Session lifecycle ─────────────────────────────────────────────────────────

// ExistsSession reports whether the session has been materialized, i.e. at
// least the player document exists under the sessionId namespace.
func (s *Store) ExistsSession(sessionID string) bool {
	_, err := os.Stat(s.docPath(KindPlayer, sessionID))
	return err == nil
}

// ExistsTemplate reports whether a world template with the given fileId
// exists (checked via its lore document).
func (s *Store) ExistsTemplate(fileID string) bool {
	_, err := os.Stat(s.docPath(KindLore, fileID))
	return err == nil
}

// MaterializedDocs bundles the four cloned documents returned by
// MaterializeSession.
type MaterializedDocs struct {
	Lore   *Lore
	Player *Player
	Items  ItemCatalog
	Scenes Scenes
}

// MaterializeSession copies the four world documents from the template
// namespace into the session namespace and returns the cloned values.
// Returns ErrNotFound (wrapped) when any template document is missing.
func (s *Store) MaterializeSession(sessionID, fileID string) (*MaterializedDocs, error) {
	lore, err := s.LoadLore(fileID)
	if err != nil {
		return nil, err
	}
	player, err := s.LoadPlayer(fileID)
	if err != nil {
		return nil, err
	}
	items, err := s.LoadItems(fileID)
	if err != nil {
		return nil, err
	}
	scenes, err := s.LoadScenes(fileID)
	if err != nil {
		return nil, err
	}

	if err := s.SaveLore(sessionID, lore); err != nil {
		return nil, err
	}
	if err := s.SavePlayer(sessionID, player); err != nil {
		return nil, err
	}
	if err := s.SaveItems(sessionID, items); err != nil {
		return nil, err
	}
	if err := s.SaveScenes(sessionID, scenes); err != nil {
		return nil, err
	}

	return &MaterializedDocs{Lore: lore, Player: player, Items: items, Scenes: scenes}, nil
}

// ── History and transcripts ───────────────────────────────────────────────────

// historyPath returns the path of the full narrative log for a session.
func (s *Store) historyPath(sessionID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("history_%s.json", sessionID))
}

// LoadHistory loads the full narrative log for a session. A missing file
// yields an empty log, not an error.
func (s *Store) LoadHistory(sessionID string) ([]types.HistoryEntry, error) {
	data, err := os.ReadFile(s.historyPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("game: load history %q: %w", sessionID, err)
	}
	var entries []types.HistoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("game: decode history %q: %w", sessionID, err)
	}
	return entries, nil
}

// SaveHistory atomically replaces the narrative log for a session.
func (s *Store) SaveHistory(sessionID string, entries []types.HistoryEntry) error {
	if err := s.writeFileAtomic(s.historyPath(sessionID), entries); err != nil {
		return fmt.Errorf("game: save history %q: %w", sessionID, err)
	}
	return nil
}

// npcChatPath returns the path of an NPC chat transcript.
func (s *Store) npcChatPath(sessionID, npcID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("npc_chat_%s_%s.json", sessionID, npcID))
}

// LoadNPCChat loads the chat transcript between the player and one NPC.
// A missing file yields an empty transcript.
func (s *Store) LoadNPCChat(sessionID, npcID string) ([]types.Message, error) {
	data, err := os.ReadFile(s.npcChatPath(sessionID, npcID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("game: load npc chat %q/%q: %w", sessionID, npcID, err)
	}
	var msgs []types.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("game: decode npc chat %q/%q: %w", sessionID, npcID, err)
	}
	return msgs, nil
}

// SaveNPCChat atomically replaces the chat transcript for one NPC.
func (s *Store) SaveNPCChat(sessionID, npcID string, msgs []types.Message) error {
	if err := s.writeFileAtomic(s.npcChatPath(sessionID, npcID), msgs); err != nil {
		return fmt.Errorf("game: save npc chat %q/%q: %w", sessionID, npcID, err)
	}
	return nil
}

// ── Conversation-state snapshots ─────────────────────────────────────────────

// snapshotPath returns the path of a session's conversation-state snapshot.
func (s *Store) snapshotPath(sessionID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("session_%s.json", sessionID))
}

// SaveSnapshot atomically persists the conversation-state snapshot for a
// session. The snapshot type is owned by the session runtime; the store
// treats it as opaque JSON.
func (s *Store) SaveSnapshot(sessionID string, v any) error {
	if err := s.writeFileAtomic(s.snapshotPath(sessionID), v); err != nil {
		return fmt.Errorf("game: save snapshot %q: %w", sessionID, err)
	}
	return nil
}

// LoadSnapshot unmarshals the session snapshot into out. Returns ErrNotFound
// (wrapped) when no snapshot exists.
func (s *Store) LoadSnapshot(sessionID string, out any) error {
	data, err := os.ReadFile(s.snapshotPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("game: load snapshot %q: %w", sessionID, ErrNotFound)
		}
		return fmt.Errorf("game: load snapshot %q: %w", sessionID, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("game: decode snapshot %q: %w", sessionID, err)
	}
	return nil
}

// DeleteSnapshot removes a session snapshot. Missing files are not an error.
func (s *Store) DeleteSnapshot(sessionID string) error {
	if err := os.Remove(s.snapshotPath(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("game: delete snapshot %q: %w", sessionID, err)
	}
	return nil
}
