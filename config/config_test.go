package config

import (
	"fmt"
	"testing"

	"github.com/spf13/afero"
)

func TestRoundTripPreservesSectionsAndOrder(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "/a.conf", []byte(
		"[s1]\nk1=v1\nk1=v2\n\n[s2]\nk2=v2\n"), 0o644)

	l := &Loader{Fs: fs, Log: discardLog()}
	cfg, err := l.Load("/a.conf")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := cfg.Save(fs, "/out.conf"); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	l2 := &Loader{Fs: fs, Log: discardLog()}
	roundTripped, err := l2.Load("/out.conf")
	if err != nil {
		t.Fatalf("unexpected error reloading saved config: %v", err)
	}

	if got := roundTripped.Section("s1").GetAll("k1"); len(got) != 2 || got[0] != "v1" || got[1] != "v2" {
		t.Fatalf("expected [v1 v2], got %v", got)
	}
	if v, _ := roundTripped.GetParam("s2", "k2"); v != "v2" {
		t.Fatalf("expected v2, got %q", v)
	}
	names := roundTripped.Sections()
	if len(names) != 2 || names[0].Name != "s1" || names[1].Name != "s2" {
		t.Fatalf("section order not preserved: %v", names)
	}
}

func TestIncludeMergesSections(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "/a.conf", []byte(
		"[s1]\nk1=v1\n\n[$include b.conf]\n"), 0o644)
	_ = afero.WriteFile(fs, "/b.conf", []byte(
		"[s1]\nk2=v2\n\n[s2]\nk3=v3\n"), 0o644)

	l := &Loader{Fs: fs, Log: discardLog()}
	cfg, err := l.Load("/a.conf")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s1 := cfg.Section("s1")
	if v, _ := s1.Get("k1"); v != "v1" {
		t.Fatalf("expected k1=v1, got %q", v)
	}
	if v, _ := s1.Get("k2"); v != "v2" {
		t.Fatalf("expected k2=v2 merged from included file, got %q", v)
	}
	s2 := cfg.Section("s2")
	if s2 == nil {
		t.Fatal("expected s2 to be present from included file")
	}
	if v, _ := s2.Get("k3"); v != "v3" {
		t.Fatalf("expected k3=v3, got %q", v)
	}
}

func TestRequireMissingFileFailsLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "/a.conf", []byte("[$require missing.conf]\n"), 0o644)

	l := &Loader{Fs: fs, Log: discardLog()}
	if _, err := l.Load("/a.conf"); err == nil {
		t.Fatal("expected $require of a missing file to fail the load")
	}
}

func TestIncludeMissingFileIsTolerated(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "/a.conf", []byte("[$include missing.conf]\n[s1]\nk=v\n"), 0o644)

	l := &Loader{Fs: fs, Log: discardLog()}
	cfg, err := l.Load("/a.conf")
	if err != nil {
		t.Fatalf("a missing optional include must not fail the load: %v", err)
	}
	if v, _ := cfg.GetParam("s1", "k"); v != "v" {
		t.Fatalf("parsing must continue after the missing include, got %q", v)
	}
}

// chainOfIncludes builds a straight-line chain root -> f0 -> f1 -> ... -> f(n-1),
// each linking to the next via $require, the last file defining [leaf] ok=1.
func chainOfIncludes(fs afero.Fs, n int) {
	root := "[configuration]\nmax_depth=" + "" // placeholder, caller sets separately
	_ = root
	for i := 0; i < n; i++ {
		next := fmt.Sprintf("/f%d.conf", i+1)
		if i == n-1 {
			_ = afero.WriteFile(fs, fmt.Sprintf("/f%d.conf", i), []byte("[leaf]\nok=1\n"), 0o644)
			continue
		}
		_ = afero.WriteFile(fs, fmt.Sprintf("/f%d.conf", i), []byte(fmt.Sprintf("[$require %s]\n", next)), 0o644)
	}
}

func TestMaxDepthBoundary(t *testing.T) {
	fs := afero.NewMemMapFs()
	// root.conf (depth 0) -> f0.conf (depth 1) -> f1.conf (depth 2) -> f2.conf (depth 3, leaf)
	_ = afero.WriteFile(fs, "/root.conf", []byte("[configuration]\nmax_depth=3\n[$require f0.conf]\n"), 0o644)
	chainOfIncludes(fs, 3)

	l := &Loader{Fs: fs, Log: discardLog()}
	cfg, err := l.Load("/root.conf")
	if err != nil {
		t.Fatalf("include chain exactly at max_depth must succeed: %v", err)
	}
	if v, _ := cfg.GetParam("leaf", "ok"); v != "1" {
		t.Fatalf("expected leaf section to be reached, got %q", v)
	}

	fs2 := afero.NewMemMapFs()
	_ = afero.WriteFile(fs2, "/root.conf", []byte("[configuration]\nmax_depth=2\n[$require f0.conf]\n"), 0o644)
	chainOfIncludes(fs2, 3)

	l2 := &Loader{Fs: fs2, Log: discardLog()}
	if _, err := l2.Load("/root.conf"); err == nil {
		t.Fatal("include chain exceeding max_depth must fail")
	}
}

func TestEnabledConditionalGatesParams(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "/a.conf", []byte(
		"[s1]\n[$enabled false]\nhidden=1\n[$enabled else]\nshown=1\n"), 0o644)

	l := &Loader{Fs: fs, Log: discardLog()}
	cfg, err := l.Load("/a.conf")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := cfg.GetParam("s1", "hidden"); ok {
		t.Fatal("param under a false $enabled condition must be dropped")
	}
	if v, ok := cfg.GetParam("s1", "shown"); !ok || v != "1" {
		t.Fatal("param under the matching $enabled else branch must be kept")
	}
}

func TestRecursiveIncludeDetected(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "/a.conf", []byte("[$require b.conf]\n"), 0o644)
	_ = afero.WriteFile(fs, "/b.conf", []byte("[$require a.conf]\n"), 0o644)

	l := &Loader{Fs: fs, Log: discardLog()}
	if _, err := l.Load("/a.conf"); err == nil {
		t.Fatal("a required cyclic include must fail the load")
	}
}
