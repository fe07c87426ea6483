package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/joffreyzhang/kurangame/internal/game"
	"github.com/joffreyzhang/kurangame/internal/health"
	"github.com/joffreyzhang/kurangame/internal/ingest"
	"github.com/joffreyzhang/kurangame/internal/mission"
	"github.com/joffreyzhang/kurangame/internal/prompt"
	"github.com/joffreyzhang/kurangame/internal/session"
	"github.com/joffreyzhang/kurangame/internal/status"
	"github.com/joffreyzhang/kurangame/internal/stream"
	"github.com/joffreyzhang/kurangame/internal/task"
	"github.com/joffreyzhang/kurangame/pkg/provider/llm"
	"github.com/joffreyzhang/kurangame/pkg/provider/llm/mock"
)

// worldReply is a minimal valid world-generation model reply for ingest tests.
const worldReply = "```json\n" + `{
  "title": "The Salt Crown",
  "description": "A kingdom clings to its drowned coast.",
  "lore": {
    "title": "The Salt Crown",
    "background": ["The sea took the old capital."],
    "currentTime": {"year": 100},
    "eras": [{"title": "Age of Tides", "startYear": 100, "endYear": 150}]
  },
  "player": {
    "profile": {"name": "Wren", "age": 19},
    "attributes": {"health": 70},
    "inventory": [],
    "currency": 10,
    "location": "harbor",
    "unlockedScenes": ["harbor"]
  },
  "items": {},
  "scenes": {
    "harbor": {"name": "Harbor", "npcs": [], "buildings": []}
  }
}` + "\n```"

// newTestServer wires a full engine over temp dirs with the given provider
// and returns the HTTP test server plus the backing game store.
func newTestServer(t *testing.T, provider llm.Provider) (*httptest.Server, *game.Store) {
	t.Helper()
	store, err := game.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	lore := &game.Lore{
		Title:       "Kingdom of Kuran",
		Background:  []string{"An old kingdom by the sea."},
		CurrentTime: game.GameTime{Year: 100},
		Eras: []game.Era{
			{Title: "Age of Dawn", StartYear: 100, EndYear: 120},
			{Title: "Age of Storms", StartYear: 120, EndYear: 150},
		},
	}
	player := &game.Player{
		Profile:        game.Profile{Name: "Hero", Age: 20},
		Attributes:     map[string]int{"health": 80},
		Currency:       50,
		Location:       "village",
		UnlockedScenes: []string{"village"},
	}
	scenes := game.Scenes{
		"village": &game.Scene{Name: "Village"},
		"forest":  &game.Scene{Name: "Forest"},
	}
	if err := store.SaveLore("f1", lore); err != nil {
		t.Fatalf("SaveLore: %v", err)
	}
	if err := store.SavePlayer("f1", player); err != nil {
		t.Fatalf("SavePlayer: %v", err)
	}
	if err := store.SaveItems("f1", game.ItemCatalog{}); err != nil {
		t.Fatalf("SaveItems: %v", err)
	}
	if err := store.SaveScenes("f1", scenes); err != nil {
		t.Fatalf("SaveScenes: %v", err)
	}

	log := slog.Default()
	hub := stream.NewHub(log)
	st := status.NewEngine(store, log)
	builder := prompt.NewBuilder()
	me := mission.NewEngine(store, st, provider, builder, log)
	rt := session.NewRuntime(store, st, me, provider, builder, hub, log)

	users, err := task.NewUserFiles(t.TempDir())
	if err != nil {
		t.Fatalf("NewUserFiles: %v", err)
	}
	wf := &task.Workflow{
		Store:     store,
		Extractor: ingest.PlainTextExtractor{},
		Generator: ingest.NewWorldGenerator(provider, log),
		Uploader:  &ingest.FSUploader{Dir: t.TempDir()},
		UserFiles: users,
	}
	tasks, err := task.NewManager(t.TempDir(), wf, log)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	srv := New(rt, tasks, hub, log, WithHealth(health.New()))
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts, store
}

// postJSON sends a JSON body and decodes the JSON reply into out (when out is
// non-nil), returning the status code.
func postJSON(t *testing.T, url string, body any, out any) int {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode reply: %v", err)
		}
	}
	return resp.StatusCode
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode reply: %v", err)
		}
	}
	return resp.StatusCode
}

func TestCreateAndGetSession(t *testing.T) {
	ts, _ := newTestServer(t, &mock.Provider{})

	var created session.ConversationState
	code := postJSON(t, ts.URL+"/api/sessions", map[string]string{
		"sessionId":     "s1",
		"fileId":        "f1",
		"playerName":    "Alice",
		"literaryStyle": "literary",
	}, &created)
	if code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", code)
	}
	if created.PlayerName != "Alice" {
		t.Errorf("player name: %q", created.PlayerName)
	}
	if created.GameState.IsInitialized {
		t.Error("new session must not be initialized")
	}

	var got session.ConversationState
	if code := getJSON(t, ts.URL+"/api/sessions/s1", &got); code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", code)
	}
	if got.SessionID != "s1" || got.FileID != "f1" {
		t.Errorf("snapshot: %+v", got)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	ts, _ := newTestServer(t, &mock.Provider{})

	var body errorBody
	code := postJSON(t, ts.URL+"/api/sessions", map[string]string{"playerName": "Alice"}, &body)
	if code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", code)
	}
	if body.Error.Kind != "ValidationFailure" {
		t.Errorf("kind = %q", body.Error.Kind)
	}
}

func TestCreateSessionUnknownTemplate(t *testing.T) {
	ts, _ := newTestServer(t, &mock.Provider{})

	var body errorBody
	code := postJSON(t, ts.URL+"/api/sessions", map[string]string{"fileId": "missing"}, &body)
	if code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", code)
	}
	if body.Error.Kind != "NotFound" {
		t.Errorf("kind = %q", body.Error.Kind)
	}
}

func TestProcessAction(t *testing.T) {
	provider := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: "[NARRATION: You wander the village square.]",
		},
	}
	ts, _ := newTestServer(t, provider)

	if code := postJSON(t, ts.URL+"/api/sessions", map[string]string{"sessionId": "s1", "fileId": "f1"}, nil); code != http.StatusCreated {
		t.Fatalf("create status = %d", code)
	}

	var result session.ActionResult
	code := postJSON(t, ts.URL+"/api/sessions/s1/actions", map[string]string{"action": "look around"}, &result)
	if code != http.StatusOK {
		t.Fatalf("action status = %d, want 200", code)
	}
	if len(result.Steps) == 0 {
		t.Fatal("no steps in action result")
	}
	if !result.GameState.IsInitialized {
		t.Error("first action should initialize the session")
	}
}

func TestChangeSceneLocked(t *testing.T) {
	ts, _ := newTestServer(t, &mock.Provider{})
	postJSON(t, ts.URL+"/api/sessions", map[string]string{"sessionId": "s1", "fileId": "f1"}, nil)

	var body errorBody
	code := postJSON(t, ts.URL+"/api/sessions/s1/scene", map[string]string{"sceneId": "forest"}, &body)
	if code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", code)
	}
	if body.Error.Kind != "SceneLocked" {
		t.Errorf("kind = %q", body.Error.Kind)
	}
}

func TestSkipEraAndConflictAtLast(t *testing.T) {
	ts, _ := newTestServer(t, &mock.Provider{})
	postJSON(t, ts.URL+"/api/sessions", map[string]string{"sessionId": "s1", "fileId": "f1"}, nil)

	var skip session.EraSkip
	if code := postJSON(t, ts.URL+"/api/sessions/s1/era/skip", map[string]string{}, &skip); code != http.StatusOK {
		t.Fatalf("skip status = %d, want 200", code)
	}
	if skip.CurrentEra.Title != "Age of Storms" {
		t.Errorf("current era: %q", skip.CurrentEra.Title)
	}

	var body errorBody
	code := postJSON(t, ts.URL+"/api/sessions/s1/era/skip", map[string]string{}, &body)
	if code != http.StatusConflict {
		t.Fatalf("second skip status = %d, want 409", code)
	}
	if body.Error.Kind != "AlreadyAtLastEra" {
		t.Errorf("kind = %q", body.Error.Kind)
	}
}

func TestListMissionsEmpty(t *testing.T) {
	ts, _ := newTestServer(t, &mock.Provider{})
	postJSON(t, ts.URL+"/api/sessions", map[string]string{"sessionId": "s1", "fileId": "f1"}, nil)

	var reply struct {
		Missions []*mission.Mission `json:"missions"`
	}
	if code := getJSON(t, ts.URL+"/api/sessions/s1/missions", &reply); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if reply.Missions == nil {
		t.Error("missions should decode as an empty array, not null")
	}
}

func TestStoryline(t *testing.T) {
	ts, _ := newTestServer(t, &mock.Provider{})
	postJSON(t, ts.URL+"/api/sessions", map[string]string{"sessionId": "s1", "fileId": "f1"}, nil)

	var st session.StorylineStatus
	if code := getJSON(t, ts.URL+"/api/sessions/s1/storyline", &st); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if st.Blocked {
		t.Error("fresh session must not be blocked")
	}
}

func TestTaskLifecycle(t *testing.T) {
	provider := &mock.Provider{
		CompleteResponses: []*llm.CompletionResponse{
			{Content: worldReply},
		},
	}
	ts, store := newTestServer(t, provider)

	var created struct {
		TaskID string `json:"taskId"`
	}
	code := postJSON(t, ts.URL+"/api/tasks", map[string]any{
		"userId":         "u1",
		"fileName":       "novel.txt",
		"fileDataBase64": base64.StdEncoding.EncodeToString([]byte("The sea took the old capital long ago.")),
		"options":        map[string]any{"skipImages": true},
	}, &created)
	if code != http.StatusAccepted {
		t.Fatalf("create status = %d, want 202", code)
	}
	if created.TaskID == "" {
		t.Fatal("no taskId returned")
	}

	// Poll until the workflow finishes.
	deadline := time.Now().Add(5 * time.Second)
	var rec task.Record
	for {
		if code := getJSON(t, ts.URL+"/api/tasks/"+created.TaskID, &rec); code != http.StatusOK {
			t.Fatalf("get status = %d, want 200", code)
		}
		if rec.State.Terminal() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("task did not finish: state=%s progress=%d", rec.State, rec.Progress)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if rec.State != task.StateCompleted {
		t.Fatalf("state = %s (%s), want completed", rec.State, rec.Error)
	}
	if rec.Progress != 100 {
		t.Errorf("progress = %d, want 100", rec.Progress)
	}
	if !store.ExistsTemplate(rec.Result.FileID) {
		t.Error("world template missing after completed ingest")
	}

	var list task.TaskList
	if code := getJSON(t, ts.URL+"/api/tasks?userId=u1", &list); code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", code)
	}
	if len(list.Completed) != 1 {
		t.Errorf("completed tasks = %d, want 1", len(list.Completed))
	}
}

func TestTaskValidationAndNotFound(t *testing.T) {
	ts, _ := newTestServer(t, &mock.Provider{})

	var body errorBody
	if code := postJSON(t, ts.URL+"/api/tasks", map[string]string{"userId": "u1"}, &body); code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", code)
	}

	if code := getJSON(t, ts.URL+"/api/tasks/nope", &body); code != http.StatusNotFound {
		t.Fatalf("get status = %d, want 404", code)
	}
	if body.Error.Kind != "NotFound" {
		t.Errorf("kind = %q", body.Error.Kind)
	}

	resp, err := http.Post(ts.URL+"/api/tasks/nope/resume", "application/json", nil)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("resume status = %d, want 404", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t, &mock.Provider{})
	if code := getJSON(t, ts.URL+"/healthz", nil); code != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", code)
	}
}

func TestSSEDeliversActionEvents(t *testing.T) {
	provider := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: "[NARRATION: The tide rolls in.]",
		},
	}
	ts, _ := newTestServer(t, provider)
	postJSON(t, ts.URL+"/api/sessions", map[string]string{"sessionId": "s1", "fileId": "f1"}, nil)

	resp, err := http.Get(ts.URL + "/api/sessions/s1/events")
	if err != nil {
		t.Fatalf("open SSE: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	// Read the connected frame, then fire an action and wait for complete.
	frames := make(chan string, 64)
	go func() {
		buf := make([]byte, 4096)
		var acc []byte
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				acc = append(acc, buf[:n]...)
				for {
					idx := bytes.Index(acc, []byte("\n\n"))
					if idx < 0 {
						break
					}
					frames <- string(acc[:idx])
					acc = acc[idx+2:]
				}
			}
			if err != nil {
				close(frames)
				return
			}
		}
	}()

	waitFrame := func(substr string) {
		t.Helper()
		deadline := time.After(3 * time.Second)
		for {
			select {
			case f, ok := <-frames:
				if !ok {
					t.Fatalf("stream closed waiting for %q", substr)
				}
				if bytes.Contains([]byte(f), []byte(substr)) {
					return
				}
			case <-deadline:
				t.Fatalf("timed out waiting for %q", substr)
			}
		}
	}

	waitFrame(`"type":"connected"`)
	postJSON(t, ts.URL+"/api/sessions/s1/actions", map[string]string{"action": "look"}, nil)
	waitFrame(`"type":"response_chunk"`)
	waitFrame(`"type":"` + string(stream.EventComplete) + `"`)
}
