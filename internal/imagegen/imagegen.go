// Package imagegen synthesizes the visual assets of a world template: NPC
// avatars, scene backgrounds, building icons, a world overview, and the
// player portrait.
//
// All per-element requests are dispatched concurrently; the image provider's
// connection pool bounds the effective parallelism. Individual failures are
// collected into the result's Errors list and never abort the run, so a
// partially-illustrated world is still playable.
package imagegen

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joffreyzhang/kurangame/internal/game"
	imgprov "github.com/joffreyzhang/kurangame/pkg/provider/image"
)

// Options selects which asset groups a run generates. The zero value
// generates nothing; use [AllOptions] for a full run.
type Options struct {
	GenerateNPCs      bool `json:"generateNPCs"`
	GenerateScenes    bool `json:"generateScenes"`
	GenerateBuildings bool `json:"generateBuildings"`
	GenerateWorld     bool `json:"generateWorld"`
	GenerateUser      bool `json:"generateUser"`

	// UpdateJSON rewrites the scenes document in place with the generated
	// asset URLs.
	UpdateJSON bool `json:"updateJSON"`
}

// AllOptions enables every asset group and the scenes-document update.
func AllOptions() Options {
	return Options{
		GenerateNPCs:      true,
		GenerateScenes:    true,
		GenerateBuildings: true,
		GenerateWorld:     true,
		GenerateUser:      true,
		UpdateJSON:        true,
	}
}

// Asset is one generated image.
type Asset struct {
	// ID identifies the source element (NPC id, scene id, building id).
	ID string `json:"id"`

	// Name is the element's display name.
	Name string `json:"name"`

	// URL is the serving path of the stored image.
	URL string `json:"url"`
}

// Result reports everything one run produced.
type Result struct {
	NPCs      []Asset `json:"npcs"`
	Scenes    []Asset `json:"scenes"`
	Buildings []Asset `json:"buildings"`
	World     string  `json:"world,omitempty"`
	User      string  `json:"user,omitempty"`

	// Errors lists per-element failures. A non-empty list does not mean the
	// run failed; the successful assets are still usable.
	Errors []string `json:"errors,omitempty"`
}

// Pipeline generates and stores world images.
type Pipeline struct {
	store      *game.Store
	provider   imgprov.Provider
	httpClient *http.Client
	imagesDir  string
	urlPrefix  string
	log        *slog.Logger
}

// Option configures the Pipeline.
type Option func(*Pipeline)

// WithHTTPClient overrides the client used to download rendered images.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Pipeline) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// WithURLPrefix overrides the serving-path prefix recorded in the scenes
// document. Default "/images".
func WithURLPrefix(prefix string) Option {
	return func(p *Pipeline) {
		if prefix != "" {
			p.urlPrefix = prefix
		}
	}
}

// NewPipeline wires the image pipeline. Generated files land under
// imagesDir/<fileID>/.
func NewPipeline(store *game.Store, provider imgprov.Provider, imagesDir string, log *slog.Logger, opts ...Option) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	p := &Pipeline{
		store:      store,
		provider:   provider,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		imagesDir:  imagesDir,
		urlPrefix:  "/images",
		log:        log.With("component", "imagegen"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// job is one queued generation unit.
type job struct {
	kind   string // "npc", "scene", "building", "world", "user"
	id     string
	name   string
	prompt string
	width  int
}

// GenerateAll renders every selected asset group for the template. It fails
// only when the template documents cannot be loaded; per-element errors are
// collected in the result.
func (p *Pipeline) GenerateAll(ctx context.Context, fileID string, opts Options) (*Result, error) {
	lore, err := p.store.LoadLore(fileID)
	if err != nil {
		return nil, fmt.Errorf("imagegen: load lore: %w", err)
	}
	scenes, err := p.store.LoadScenes(fileID)
	if err != nil {
		return nil, fmt.Errorf("imagegen: load scenes: %w", err)
	}
	var player *game.Player
	if opts.GenerateUser {
		if player, err = p.store.LoadPlayer(fileID); err != nil {
			return nil, fmt.Errorf("imagegen: load player: %w", err)
		}
	}

	lctx := extractLoreContext(lore)
	jobs := p.buildJobs(lore, player, scenes, lctx, opts)

	res := &Result{NPCs: []Asset{}, Scenes: []Asset{}, Buildings: []Asset{}}
	if len(jobs) == 0 {
		return res, nil
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, j := range jobs {
		j := j
		g.Go(func() error {
			asset, err := p.generateOne(ctx, fileID, j)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("%s %s: %v", j.kind, j.id, err))
				return nil
			}
			switch j.kind {
			case "npc":
				res.NPCs = append(res.NPCs, asset)
			case "scene":
				res.Scenes = append(res.Scenes, asset)
			case "building":
				res.Buildings = append(res.Buildings, asset)
			case "world":
				res.World = asset.URL
			case "user":
				res.User = asset.URL
			}
			return nil
		})
	}
	g.Wait() // workers never return errors; failures land in res.Errors

	sortAssets(res)

	if opts.UpdateJSON {
		if err := p.updateScenes(fileID, scenes, res); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("update scenes document: %v", err))
		}
	}

	p.log.Info("image run finished", "file", fileID,
		"npcs", len(res.NPCs), "scenes", len(res.Scenes),
		"buildings", len(res.Buildings), "errors", len(res.Errors))
	return res, nil
}

// buildJobs enumerates the generation units selected by opts. Scene map
// iteration is unordered; jobs are sorted by id so reruns are deterministic.
func (p *Pipeline) buildJobs(lore *game.Lore, player *game.Player, scenes game.Scenes, lctx loreContext, opts Options) []job {
	var jobs []job

	sceneIDs := make([]string, 0, len(scenes))
	for id := range scenes {
		sceneIDs = append(sceneIDs, id)
	}
	sort.Strings(sceneIDs)

	for _, sceneID := range sceneIDs {
		scene := scenes[sceneID]
		if opts.GenerateScenes {
			jobs = append(jobs, job{
				kind: "scene", id: sceneID, name: scene.Name,
				prompt: scenePrompt(scene, lctx), width: backgroundWidth,
			})
		}
		if opts.GenerateNPCs {
			for _, npc := range scene.NPCs {
				jobs = append(jobs, job{
					kind: "npc", id: npc.ID, name: npc.Name,
					prompt: npcPrompt(npc, lctx), width: avatarWidth,
				})
			}
		}
		if opts.GenerateBuildings {
			for _, b := range scene.Buildings {
				jobs = append(jobs, job{
					kind: "building", id: b.ID, name: b.Name,
					prompt: buildingPrompt(b, lctx), width: iconWidth,
				})
			}
		}
	}

	if opts.GenerateWorld {
		jobs = append(jobs, job{
			kind: "world", id: "world", name: lore.Title,
			prompt: worldPrompt(lore, lctx), width: portraitWidth,
		})
	}
	if opts.GenerateUser {
		jobs = append(jobs, job{
			kind: "user", id: "player", name: playerName(player),
			prompt: playerPrompt(player, lctx), width: portraitWidth,
		})
	}
	return jobs
}

// generateOne renders, downloads and stores a single asset.
func (p *Pipeline) generateOne(ctx context.Context, fileID string, j job) (Asset, error) {
	url, err := p.provider.Generate(ctx, imgprov.Request{Prompt: j.prompt})
	if err != nil {
		return Asset{}, fmt.Errorf("generate: %w", err)
	}

	rel := assetRelPath(fileID, j)
	finalPath := filepath.Join(p.imagesDir, fileID, filepath.FromSlash(rel))
	if err := p.fetchAndStore(ctx, url, finalPath, j.width); err != nil {
		return Asset{}, err
	}
	return Asset{
		ID:   j.id,
		Name: j.name,
		URL:  path.Join(p.urlPrefix, fileID, rel),
	}, nil
}

// assetRelPath maps a job to its path under the per-template image
// directory: avatars/, scenes/ and icons/ subfolders, world and player at
// the top level.
func assetRelPath(fileID string, j job) string {
	switch j.kind {
	case "npc":
		return "avatars/" + j.id + ".png"
	case "scene":
		return "scenes/" + j.id + ".png"
	case "building":
		return "icons/" + j.id + ".png"
	case "world":
		return "world_" + fileID + ".png"
	default: // "user"
		return "player_" + fileID + ".png"
	}
}

// updateScenes writes the generated URLs back into the scenes document.
func (p *Pipeline) updateScenes(fileID string, scenes game.Scenes, res *Result) error {
	byNPC := make(map[string]string, len(res.NPCs))
	for _, a := range res.NPCs {
		byNPC[a.ID] = a.URL
	}
	byScene := make(map[string]string, len(res.Scenes))
	for _, a := range res.Scenes {
		byScene[a.ID] = a.URL
	}
	byBuilding := make(map[string]string, len(res.Buildings))
	for _, a := range res.Buildings {
		byBuilding[a.ID] = a.URL
	}

	for sceneID, scene := range scenes {
		if url, ok := byScene[sceneID]; ok {
			scene.Background = url
		}
		for i := range scene.NPCs {
			if url, ok := byNPC[scene.NPCs[i].ID]; ok {
				scene.NPCs[i].Icon = url
			}
		}
		for i := range scene.Buildings {
			if url, ok := byBuilding[scene.Buildings[i].ID]; ok {
				scene.Buildings[i].Icon = url
			}
		}
	}
	if err := p.store.SaveScenes(fileID, scenes); err != nil {
		return fmt.Errorf("imagegen: save scenes: %w", err)
	}
	return nil
}

func sortAssets(res *Result) {
	byID := func(s []Asset) func(i, j int) bool {
		return func(i, j int) bool { return s[i].ID < s[j].ID }
	}
	sort.Slice(res.NPCs, byID(res.NPCs))
	sort.Slice(res.Scenes, byID(res.Scenes))
	sort.Slice(res.Buildings, byID(res.Buildings))
	sort.Strings(res.Errors)
}

func playerName(p *game.Player) string {
	if p == nil {
		return ""
	}
	return p.Profile.Name
}
