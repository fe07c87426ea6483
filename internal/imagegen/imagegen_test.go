package imagegen

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/joffreyzhang/kurangame/internal/game"
	imgprov "github.com/joffreyzhang/kurangame/pkg/provider/image"
	"github.com/joffreyzhang/kurangame/pkg/provider/image/mock"
)

// pngBytes renders a solid test image of the given size.
func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 120, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return buf.Bytes()
}

// newTestPipeline seeds template "f1" and serves a 1200x600 test image from
// an httptest server.
func newTestPipeline(t *testing.T) (*Pipeline, *game.Store, *mock.Provider, string) {
	t.Helper()
	store, err := game.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	lore := &game.Lore{
		Title:      "Kingdom of Kuran",
		Background: []string{"An old kingdom by the sea, ruled by a knight order."},
		TimePeriod: "early iron age",
		Eras:       []game.Era{{Title: "Age of Dawn", StartYear: 100, EndYear: 120}},
		KeyEvents:  []game.KeyEvent{{Year: 90, Title: "The Founding"}},
	}
	scenes := game.Scenes{
		"village": &game.Scene{
			Name:        "Village",
			Description: "A quiet hamlet",
			NPCs:        []game.NPC{{ID: "npc_bob", Name: "Bob", Job: "blacksmith"}},
			Buildings:   []game.Building{{ID: "bld_forge", Name: "The Forge", Type: "smithy"}},
		},
		"market": &game.Scene{Name: "Market"},
	}
	player := &game.Player{Profile: game.Profile{Name: "Hero", Age: 20}}
	if err := store.SaveLore("f1", lore); err != nil {
		t.Fatalf("SaveLore: %v", err)
	}
	if err := store.SaveScenes("f1", scenes); err != nil {
		t.Fatalf("SaveScenes: %v", err)
	}
	if err := store.SavePlayer("f1", player); err != nil {
		t.Fatalf("SavePlayer: %v", err)
	}

	body := pngBytes(t, 1200, 600)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "missing") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(body)
	}))
	t.Cleanup(srv.Close)

	provider := &mock.Provider{URL: srv.URL + "/render.png"}
	imagesDir := t.TempDir()
	p := NewPipeline(store, provider, imagesDir, nil, WithHTTPClient(srv.Client()))
	return p, store, provider, srv.URL
}

func TestGenerateAll(t *testing.T) {
	p, store, provider, _ := newTestPipeline(t)

	res, err := p.GenerateAll(context.Background(), "f1", AllOptions())
	if err != nil {
		t.Fatalf("GenerateAll: %v", err)
	}
	if len(res.Errors) != 0 {
		t.Fatalf("errors: %v", res.Errors)
	}
	if len(res.NPCs) != 1 || res.NPCs[0].ID != "npc_bob" {
		t.Errorf("npcs: %+v", res.NPCs)
	}
	if len(res.Scenes) != 2 {
		t.Errorf("scenes: %+v", res.Scenes)
	}
	if len(res.Buildings) != 1 || res.Buildings[0].ID != "bld_forge" {
		t.Errorf("buildings: %+v", res.Buildings)
	}
	if res.World == "" || res.User == "" {
		t.Errorf("world %q user %q", res.World, res.User)
	}
	// 1 npc + 2 scenes + 1 building + world + player
	if len(provider.Requests) != 6 {
		t.Errorf("generate calls: %d", len(provider.Requests))
	}

	// Files exist and were downscaled to the avatar width.
	avatarPath := filepath.Join(p.imagesDir, "f1", "avatars", "npc_bob.png")
	f, err := os.Open(avatarPath)
	if err != nil {
		t.Fatalf("open avatar: %v", err)
	}
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	if err != nil {
		t.Fatalf("decode avatar: %v", err)
	}
	if cfg.Width != avatarWidth {
		t.Errorf("avatar width: %d", cfg.Width)
	}
	// 1200x600 scaled to 300 wide keeps the 2:1 ratio.
	if cfg.Height != avatarWidth/2 {
		t.Errorf("avatar height: %d", cfg.Height)
	}

	// No temp files left behind anywhere in the asset tree.
	err = filepath.WalkDir(filepath.Join(p.imagesDir, "f1"), func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasPrefix(d.Name(), ".") {
			t.Errorf("leftover temp file: %s", path)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk asset dir: %v", err)
	}

	// UpdateJSON rewrote the scenes document in place.
	scenes, err := store.LoadScenes("f1")
	if err != nil {
		t.Fatalf("LoadScenes: %v", err)
	}
	village := scenes["village"]
	if village.Background != "/images/f1/scenes/village.png" {
		t.Errorf("scene background: %q", village.Background)
	}
	if village.NPCs[0].Icon != "/images/f1/avatars/npc_bob.png" {
		t.Errorf("npc icon: %q", village.NPCs[0].Icon)
	}
	if village.Buildings[0].Icon != "/images/f1/icons/bld_forge.png" {
		t.Errorf("building icon: %q", village.Buildings[0].Icon)
	}
}

func TestGenerateAllSelective(t *testing.T) {
	p, store, provider, _ := newTestPipeline(t)

	res, err := p.GenerateAll(context.Background(), "f1", Options{GenerateNPCs: true})
	if err != nil {
		t.Fatalf("GenerateAll: %v", err)
	}
	if len(res.NPCs) != 1 || len(res.Scenes) != 0 || len(res.Buildings) != 0 {
		t.Errorf("result: %+v", res)
	}
	if res.World != "" || res.User != "" {
		t.Errorf("world/user generated unexpectedly")
	}
	if len(provider.Requests) != 1 {
		t.Errorf("generate calls: %d", len(provider.Requests))
	}

	// Without UpdateJSON the scenes document is untouched.
	scenes, err := store.LoadScenes("f1")
	if err != nil {
		t.Fatalf("LoadScenes: %v", err)
	}
	if scenes["village"].NPCs[0].Icon != "" {
		t.Error("scenes document updated without UpdateJSON")
	}
}

func TestGenerateAllCollectsErrors(t *testing.T) {
	p, _, provider, base := newTestPipeline(t)

	// The NPC render 404s; everything else succeeds.
	provider.URLFunc = func(req imgprov.Request) string {
		if strings.Contains(req.Prompt, "Character portrait") {
			return base + "/missing.png"
		}
		return base + "/render.png"
	}

	res, err := p.GenerateAll(context.Background(), "f1", AllOptions())
	if err != nil {
		t.Fatalf("GenerateAll: %v", err)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "npc npc_bob") {
		t.Errorf("errors: %v", res.Errors)
	}
	if len(res.NPCs) != 0 {
		t.Errorf("failed npc still reported: %+v", res.NPCs)
	}
	if len(res.Scenes) != 2 || res.World == "" {
		t.Errorf("other assets missing: %+v", res)
	}

	// The failed NPC keeps an empty icon; successful scenes still update.
	scenes, err := p.store.LoadScenes("f1")
	if err != nil {
		t.Fatalf("LoadScenes: %v", err)
	}
	if scenes["village"].NPCs[0].Icon != "" {
		t.Error("failed npc got an icon")
	}
	if scenes["village"].Background == "" {
		t.Error("successful scene background not updated")
	}
}

func TestGenerateAllUnknownTemplate(t *testing.T) {
	p, _, _, _ := newTestPipeline(t)
	if _, err := p.GenerateAll(context.Background(), "missing", AllOptions()); err == nil {
		t.Fatal("expected error for unknown template")
	}
}
