package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joffreyzhang/kurangame/pkg/provider/embeddings/ollama"
)

// unreachable is a base URL no test server listens on; requests against it
// must fail fast, and tests that expect zero network traffic use it to catch
// accidental calls.
const unreachable = "http://127.0.0.1:19999"

// embedServer serves /api/embed, checks the requested model, and answers with
// one vector per input text taken from vecs.
func embedServer(t *testing.T, wantModel string, vecs [][]float32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
			return
		}

		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req.Model != wantModel {
			t.Errorf("model %q, want %q", req.Model, wantModel)
		}

		reply := vecs
		if len(reply) > len(req.Input) {
			reply = reply[:len(req.Input)]
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":      wantModel,
			"embeddings": reply,
		})
	}))
}

func TestNewValidation(t *testing.T) {
	if _, err := ollama.New("", ""); err == nil {
		t.Fatal("empty model accepted")
	}

	p, err := ollama.New("", "nomic-embed-text")
	if err != nil {
		t.Fatalf("New with default base URL: %v", err)
	}
	if p.ModelID() != "nomic-embed-text" {
		t.Errorf("ModelID() = %q", p.ModelID())
	}
}

func TestEmbedSingle(t *testing.T) {
	want := []float32{0.1, 0.2, 0.3, 0.4}
	srv := embedServer(t, "nomic-embed-text", [][]float32{want})
	defer srv.Close()

	p, err := ollama.New(srv.URL, "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := p.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("vector length %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("vec[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestEmbedBatchOrdering(t *testing.T) {
	vecs := [][]float32{
		{0.1, 0.2, 0.3},
		{0.4, 0.5, 0.6},
		{0.7, 0.8, 0.9},
	}
	srv := embedServer(t, "nomic-embed-text", vecs)
	defer srv.Close()

	p, err := ollama.New(srv.URL, "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := p.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(got) != len(vecs) {
		t.Fatalf("batch length %d, want %d", len(got), len(vecs))
	}
	for i := range vecs {
		for j := range vecs[i] {
			if got[i][j] != vecs[i][j] {
				t.Errorf("vec[%d][%d] = %v, want %v", i, j, got[i][j], vecs[i][j])
			}
		}
	}
}

func TestEmbedBatchEmptySkipsNetwork(t *testing.T) {
	p, err := ollama.New(unreachable, "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := p.EmbedBatch(context.Background(), nil)
	if err != nil || got != nil {
		t.Fatalf("EmbedBatch(nil) = %v, %v; want nil, nil", got, err)
	}
}

func TestDimensionsFromTable(t *testing.T) {
	cases := []struct {
		model string
		want  int
	}{
		{"nomic-embed-text", 768},
		{"nomic-embed-text:latest", 768},
		{"mxbai-embed-large", 1024},
		{"all-minilm", 384},
	}
	for _, tc := range cases {
		// Unreachable server: the table must answer without a probe.
		p, err := ollama.New(unreachable, tc.model)
		if err != nil {
			t.Fatalf("New(%q): %v", tc.model, err)
		}
		if got := p.Dimensions(); got != tc.want {
			t.Errorf("Dimensions(%q) = %d, want %d", tc.model, got, tc.want)
		}
	}
}

func TestDimensionsProbesUnknownModelOnce(t *testing.T) {
	const dim = 512
	vec := make([]float32, dim)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":      "custom-embed",
			"embeddings": [][]float32{vec},
		})
	}))
	defer srv.Close()

	p, err := ollama.New(srv.URL, "custom-embed")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 3; i++ {
		if got := p.Dimensions(); got != dim {
			t.Errorf("call %d: Dimensions() = %d, want %d", i, got, dim)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("probe requests: %d, want 1", n)
	}
}

func TestDimensionsOptionWins(t *testing.T) {
	p, err := ollama.New(unreachable, "custom-model", ollama.WithDimensions(256))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := p.Dimensions(); got != 256 {
		t.Errorf("Dimensions() = %d, want 256", got)
	}
}

func TestEmbedErrors(t *testing.T) {
	t.Run("server down", func(t *testing.T) {
		p, err := ollama.New(unreachable, "nomic-embed-text", ollama.WithTimeout(500*time.Millisecond))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, err := p.Embed(context.Background(), "hello"); err == nil {
			t.Fatal("unreachable server returned nil error")
		}
	})

	t.Run("http 500", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer srv.Close()

		p, _ := ollama.New(srv.URL, "nomic-embed-text")
		if _, err := p.Embed(context.Background(), "hello"); err == nil {
			t.Fatal("500 response returned nil error")
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte("not-json"))
		}))
		defer srv.Close()

		p, _ := ollama.New(srv.URL, "nomic-embed-text")
		if _, err := p.Embed(context.Background(), "hello"); err == nil {
			t.Fatal("malformed body returned nil error")
		}
	})
}

func TestEmbedHonorsContext(t *testing.T) {
	// The handler parks until the client gives up or the test tears down, so
	// only context expiry can end the Embed call.
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	p, err := ollama.New(srv.URL, "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, err := p.Embed(ctx, "hello"); err == nil {
		t.Fatal("expired context returned nil error")
	}
}
