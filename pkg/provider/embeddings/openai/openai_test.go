package openai

import "testing"

func TestModelDimensionsKnownFamilies(t *testing.T) {
	cases := []struct {
		model string
		want  int
	}{
		{"text-embedding-3-small", 1536},
		{"text-embedding-3-large", 3072},
		{"text-embedding-ada-002", 1536},
		{"openai/text-embedding-3-large", 3072},
		{"some-future-model", 1536},
	}
	for _, tc := range cases {
		if got := modelDimensions(tc.model); got != tc.want {
			t.Errorf("modelDimensions(%q) = %d, want %d", tc.model, got, tc.want)
		}
	}
}

func TestProviderReportsModel(t *testing.T) {
	p := &Provider{model: "text-embedding-3-large"}
	if p.ModelID() != "text-embedding-3-large" {
		t.Errorf("ModelID() = %q", p.ModelID())
	}
	if p.Dimensions() != 3072 {
		t.Errorf("Dimensions() = %d, want 3072", p.Dimensions())
	}
}

func TestNewDefaultsModel(t *testing.T) {
	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.ModelID() != DefaultModel {
		t.Errorf("model defaulted to %q, want %q", p.ModelID(), DefaultModel)
	}
}

func TestNewRejectsEmptyKey(t *testing.T) {
	if _, err := New("", "text-embedding-3-small"); err == nil {
		t.Fatal("empty API key accepted")
	}
}

func TestNewAcceptsOptions(t *testing.T) {
	_, err := New("sk-test", "text-embedding-3-small",
		WithBaseURL("https://custom.example.com"),
		WithOrganization("org-123"),
	)
	if err != nil {
		t.Fatalf("New with options: %v", err)
	}
}

func TestVec32(t *testing.T) {
	in := []float64{1.0, 2.5, -0.5}
	out := vec32(in)
	if len(out) != len(in) {
		t.Fatalf("length %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != float32(in[i]) {
			t.Errorf("out[%d] = %v, want %v", i, out[i], float32(in[i]))
		}
	}
}
