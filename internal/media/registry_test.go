package media

import (
	"context"
	"testing"
)

type dummyClips struct{ name string }

func (d *dummyClips) GenerateClip(ctx context.Context, req ClipRequest) (Clip, error) {
	return Clip{ID: d.name, Ref: "loc"}, nil
}

func TestRegistry_AddGetNames(t *testing.T) {
	reg := NewRegistry("base")
	if len(reg.Names()) != 0 {
		t.Fatalf("expected empty registry")
	}
	if _, _, _, err := reg.Resolve(""); err == nil {
		t.Fatalf("resolve without default generator should fail")
	}

	base := &dummyClips{name: "base"}
	fast := &dummyClips{name: "fast"}
	reg.Add("base", base)
	reg.Add(" fast ", fast)

	if _, ok := reg.Get("fast"); !ok {
		t.Fatalf("expected to get generator fast")
	}
	names := reg.Names()
	if len(names) != 2 || names[0] != "base" || names[1] != "fast" {
		t.Fatalf("names mismatch: %+v", names)
	}
}

func TestRegistry_Resolve(t *testing.T) {
	reg := NewRegistry("base")
	reg.Add("base", &dummyClips{name: "base"})
	reg.Add("fast", &dummyClips{name: "fast"})

	cases := []struct {
		override string
		model    string
		fellBack bool
	}{
		{"", "base", false},
		{"fast", "fast", false},
		{"unknown", "base", true},
	}
	for _, tc := range cases {
		g, model, fellBack, err := reg.Resolve(tc.override)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", tc.override, err)
		}
		clip, _ := g.GenerateClip(context.Background(), ClipRequest{})
		if model != tc.model || fellBack != tc.fellBack || clip.ID != tc.model {
			t.Fatalf("Resolve(%q) = %s/%v, want %s/%v", tc.override, model, fellBack, tc.model, tc.fellBack)
		}
	}
}
