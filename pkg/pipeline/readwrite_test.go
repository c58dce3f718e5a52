package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestJSONLRoundTrip(t *testing.T) {
	dir := t.TempDir()
	task := testTask()

	docs := makeDocs(25)
	docs[0].SetMeta("token_count", 7)
	docs[0].Added = "2025-06-01T12:00:00Z"

	err := Run(context.Background(), task, []Step{&sliceSource{docs: docs}, NewJSONLWriter(dir)})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "task_00000.jsonl.gz")); err != nil {
		t.Fatalf("output file missing: %v", err)
	}

	sink := &collector{}
	err = Run(context.Background(), testTask(), []Step{NewJSONLReader(dir, ""), sink})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(sink.docs) != 25 {
		t.Fatalf("read %d documents, want 25", len(sink.docs))
	}
	got := sink.docs[0]
	if got.ID != "doc-0000" || got.Text != "text 0" || got.Added != "2025-06-01T12:00:00Z" {
		t.Errorf("first doc = %+v", got)
	}
	if n, ok := got.Metadata["token_count"].(float64); !ok || n != 7 {
		t.Errorf("metadata token_count = %v", got.Metadata["token_count"])
	}
}

func TestParquetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	task := testTask()

	docs := makeDocs(10)
	docs[3].SetMeta("language", "da")

	err := Run(context.Background(), task, []Step{&sliceSource{docs: docs}, NewParquetWriter(dir)})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	sink := &collector{}
	err = Run(context.Background(), testTask(), []Step{NewParquetReader(dir, ""), sink})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(sink.docs) != 10 {
		t.Fatalf("read %d documents, want 10", len(sink.docs))
	}
	if sink.docs[3].Metadata["language"] != "da" {
		t.Errorf("metadata did not survive: %+v", sink.docs[3].Metadata)
	}
	if sink.docs[9].ID != "doc-0009" || sink.docs[9].Source != "test" {
		t.Errorf("last doc = %+v", sink.docs[9])
	}
}

func TestShardFiles(t *testing.T) {
	files := []string{"a", "b", "c", "d", "e"}

	if got := ShardFiles(files, 0, 1); len(got) != 5 {
		t.Fatalf("world 1 shard = %v", got)
	}

	seen := map[string]int{}
	for rank := 0; rank < 2; rank++ {
		for _, f := range ShardFiles(files, rank, 2) {
			seen[f]++
		}
	}
	if len(seen) != 5 {
		t.Fatalf("shards did not cover all files: %v", seen)
	}
	for f, n := range seen {
		if n != 1 {
			t.Fatalf("file %s assigned %d times", f, n)
		}
	}
}

func TestListFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"b.jsonl.gz", "a.jsonl.gz", filepath.Join("sub", "c.jsonl.gz"), "skip.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	files, err := ListFiles(dir, "**/*.jsonl.gz")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 3 {
		t.Fatalf("ListFiles = %v, want 3 entries", files)
	}
	if filepath.Base(files[0]) != "a.jsonl.gz" {
		t.Errorf("files not sorted: %v", files)
	}
	for _, f := range files {
		if filepath.Base(f) == "skip.txt" {
			t.Errorf("pattern matched %s", f)
		}
	}
}
