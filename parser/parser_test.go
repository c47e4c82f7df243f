package parser

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	cases := map[string]bool{
		"notes.txt":        true,
		"README.md":        true,
		"report.PDF":       true,
		"numbers.xlsx":     true,
		"archive.zip":      false,
		"no-extension":     false,
		"deep/dir/doc.txt": true,
	}
	for path, ok := range cases {
		_, err := r.ForPath(path)
		if ok && err != nil {
			t.Errorf("ForPath(%q): %v", path, err)
		}
		if !ok && err == nil {
			t.Errorf("ForPath(%q): expected error", path)
		}
	}
}

func TestTextParser(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := (&TextParser{}).Parse(context.Background(), path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if res.Text() != "hello world" {
		t.Errorf("text = %q", res.Text())
	}

	empty := filepath.Join(dir, "empty.txt")
	os.WriteFile(empty, nil, 0o644)
	if _, err := (&TextParser{}).Parse(context.Background(), empty); err == nil {
		t.Error("empty file should be rejected")
	}
}

func TestResultTextJoinsSections(t *testing.T) {
	r := &Result{Sections: []Section{
		{Heading: "Intro", Content: "first\n"},
		{Content: "second"},
	}}
	want := "Intro\nfirst\n\nsecond"
	if got := r.Text(); got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
}

func TestRegistryCustomParser(t *testing.T) {
	r := NewRegistry()
	r.Register("csv", &TextParser{})
	if _, err := r.ForPath("data.csv"); err != nil {
		t.Errorf("registered extension not found: %v", err)
	}
}
