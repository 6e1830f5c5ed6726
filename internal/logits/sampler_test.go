package logits

import "testing"

func TestSamplerGreedy(t *testing.T) {
	t.Parallel()
	logs := []float32{-1, 5, 3, 7, 2}
	s := NewSampler(SamplerConfig{Seed: 99})
	if !s.Greedy() {
		t.Fatal("zero temperature must select greedy decoding")
	}
	if idx := s.Sample(logs); idx != 3 {
		t.Fatalf("expected greedy index 3, got %d", idx)
	}
}

// Two samplers configured identically must produce identical draws.
func TestSamplerDeterminism(t *testing.T) {
	t.Parallel()
	logs := []float32{0, 1, 2, 3, 4, 5}
	s1 := NewSampler(SamplerConfig{Seed: 42, Temperature: 0.9, TopK: 4, TopP: 0.95})
	s2 := NewSampler(SamplerConfig{Seed: 42, Temperature: 0.9, TopK: 4, TopP: 0.95})
	for i := 0; i < 16; i++ {
		a := s1.Sample(logs)
		b := s2.Sample(logs)
		if a != b {
			t.Fatalf("draw %d diverged: %d vs %d", i, a, b)
		}
	}
}

func TestSamplerTopKRestrictsCandidates(t *testing.T) {
	t.Parallel()
	logs := []float32{0, 10, 9, 0, 0}
	s := NewSampler(SamplerConfig{Seed: 7, Temperature: 1.0, TopK: 2, TopP: 1.0})
	for i := 0; i < 50; i++ {
		idx := s.Sample(logs)
		if idx != 1 && idx != 2 {
			t.Fatalf("top-k=2 sampled outside shortlist: %d", idx)
		}
	}
}

// With one dominant logit and TopP=0.5, the cumulative probability crosses
// the threshold at the first candidate, so only index 0 is ever returned.
func TestSamplerTopP(t *testing.T) {
	t.Parallel()
	logs := []float32{10, 0, 0, 0, 0}
	s := NewSampler(SamplerConfig{Seed: 7, Temperature: 1.0, TopK: 5, TopP: 0.5})
	for i := 0; i < 10; i++ {
		if idx := s.Sample(logs); idx != 0 {
			t.Fatalf("top-p sampling returned unexpected index %d", idx)
		}
	}
}
