package document

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileMetadata(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(path, []byte("Hej verden"), 0o644); err != nil {
		t.Fatal(err)
	}

	meta := FileMetadata(path)
	if meta["filename"] != "file.txt" {
		t.Errorf("filename = %v", meta["filename"])
	}
	if meta["filetype"] != ".txt" {
		t.Errorf("filetype = %v", meta["filetype"])
	}
	if size := meta["filesize"].(int64); size == 0 {
		t.Error("filesize = 0")
	}
	if meta["page_count"] != 0 {
		t.Errorf("page_count = %v", meta["page_count"])
	}
	if meta["file_path"] != path {
		t.Errorf("file_path = %v", meta["file_path"])
	}
}

func TestMakeUnique(t *testing.T) {
	t.Run("new name", func(t *testing.T) {
		counts := map[string]int{"Other": 1}
		if got := MakeUnique("Navn", counts); got != "Navn" {
			t.Errorf("MakeUnique = %q, want Navn", got)
		}
		if counts["Navn"] != 0 || counts["Other"] != 1 {
			t.Errorf("counts = %v", counts)
		}
	})
	t.Run("seen name", func(t *testing.T) {
		counts := map[string]int{"Navn": 1}
		if got := MakeUnique("Navn", counts); got != "Navn_2" {
			t.Errorf("MakeUnique = %q, want Navn_2", got)
		}
		if counts["Navn"] != 2 {
			t.Errorf("counts = %v", counts)
		}
	})
}

func TestDecodeSafelinkURL(t *testing.T) {
	tests := []struct {
		name string
		link string
		want string
		ok   bool
	}{
		{
			name: "url parameter next to tracking parameter",
			link: "https://safelink.example.com?foo=bar&url=http%3A%2F%2Fexample.com",
			want: "http://example.com",
			ok:   true,
		},
		{
			name: "no query",
			link: "https://safelink.example.com",
		},
		{
			name: "single parameter",
			link: "https://safelink.example.com?url=http%3A%2F%2Fexample.com",
		},
		{
			name: "malformed parameter",
			link: "https://safelink.example.com?invalidparam&url=http%3A%2F%2Fexample.com",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DecodeSafelinkURL(tt.link)
			if ok != tt.ok || got != tt.want {
				t.Errorf("DecodeSafelinkURL(%q) = %q, %v, want %q, %v", tt.link, got, ok, tt.want, tt.ok)
			}
		})
	}
}
