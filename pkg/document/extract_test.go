package document

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeInput(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func extractOne(t *testing.T, path string, opts Options) string {
	t.Helper()
	docs, err := Extract(path, "client", opts)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("got %d documents, want 1", len(docs))
	}
	return docs[0].Text
}

func TestExtractPlainText(t *testing.T) {
	path := writeInput(t, "test.txt", "Linje1\n\n\nLinje2")

	docs, err := Extract(path, "client", Options{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("got %d documents, want 1", len(docs))
	}
	doc := docs[0]
	if doc.Text != "Linje1\nLinje2" {
		t.Errorf("text = %q", doc.Text)
	}
	if doc.ID != "client-test.txt" {
		t.Errorf("id = %q", doc.ID)
	}
	if doc.Source != "client" {
		t.Errorf("source = %q", doc.Source)
	}
	if _, err := time.Parse(time.RFC3339, doc.Added); err != nil {
		t.Errorf("added = %q: %v", doc.Added, err)
	}
	if doc.Metadata["filename"] != "test.txt" || doc.Metadata["filetype"] != ".txt" {
		t.Errorf("metadata = %v", doc.Metadata)
	}
}

func TestExtractMarkdown(t *testing.T) {
	path := writeInput(t, "notes.md", "# Overskrift\n\nBrødtekst her.")
	if got := extractOne(t, path, Options{}); got != "# Overskrift\nBrødtekst her." {
		t.Errorf("text = %q", got)
	}
}

func TestExtractHTMLDocument(t *testing.T) {
	page := `<html><head><title>Titel</title><script>var x = 1;</script></head>
<body><nav>menu</nav><p>Første afsnit.</p><p>Andet afsnit.</p><footer>kontakt</footer></body></html>`
	path := writeInput(t, "page.html", page)

	if got := extractOne(t, path, Options{}); got != "Første afsnit.\nAndet afsnit." {
		t.Errorf("text = %q", got)
	}
}

func TestExtractHTMLNoContent(t *testing.T) {
	path := writeInput(t, "empty.html", "<html><body><script>alert(1)</script></body></html>")
	docs, err := Extract(path, "client", Options{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("got %d documents, want 0", len(docs))
	}
}

func TestExtractHTMLTable(t *testing.T) {
	raw := []byte(`<table><tr><th>Navn</th><th>Navn</th></tr><tr><td>a</td><td>b</td></tr></table>`)
	text, err := ExtractHTML(raw)
	if err != nil {
		t.Fatalf("ExtractHTML: %v", err)
	}
	want := "| Navn | Navn_1 |\n| --- | --- |\n| a | b |"
	if text != want {
		t.Errorf("table = %q, want %q", text, want)
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		opts    Options
		want    []string
	}{
		{
			name:    "default key",
			content: `{"text": "Noget tekst"}`,
			want:    []string{"Noget tekst"},
		},
		{
			name:    "nested key path",
			content: `{"a": {"b": "dyb tekst"}}`,
			opts:    Options{KeyPath: "a,b"},
			want:    []string{"dyb tekst"},
		},
		{
			name:    "array fans out",
			content: `{"text": ["en", "to"]}`,
			want:    []string{"en", "to"},
		},
		{
			name:    "list root descends into elements",
			content: `[{"doc_1": {"text": "Hej verden"}}]`,
			opts:    Options{KeyPath: "doc_1,text"},
			want:    []string{"Hej verden"},
		},
		{
			name:    "html formatted text",
			content: `{"text": "<p>Hej verden</p>"}`,
			opts:    Options{TextFormat: "html"},
			want:    []string{"Hej verden"},
		},
		{
			name:    "missing key yields nothing",
			content: `{"other": 1}`,
			opts:    Options{KeyPath: "missing"},
			want:    nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeInput(t, "data.json", tt.content)
			docs, err := Extract(path, "client", tt.opts)
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if len(docs) != len(tt.want) {
				t.Fatalf("got %d documents, want %d", len(docs), len(tt.want))
			}
			for i, doc := range docs {
				if doc.Text != tt.want[i] {
					t.Errorf("doc %d text = %q, want %q", i, doc.Text, tt.want[i])
				}
				if doc.ID != "client-data.json" {
					t.Errorf("doc %d id = %q", i, doc.ID)
				}
			}
		})
	}
}

func TestExtractJSONObjectLeaf(t *testing.T) {
	path := writeInput(t, "data.json", `{"text": {"felt": "værdi"}}`)
	got := extractOne(t, path, Options{})
	if !strings.Contains(got, `"felt":"værdi"`) {
		t.Errorf("text = %q", got)
	}
}

func TestExtractMailWithHeaders(t *testing.T) {
	msg := "From: afsender@example.com\r\nSubject: Hilsen\r\n\r\n" +
		"Hej\n\n\nVerden\n[ref]\nhttps://safelink.example.com?foo=bar&url=http%3A%2F%2Fexample.com\n"
	path := writeInput(t, "mail.eml", msg)

	got := extractOne(t, path, Options{})
	if !strings.Contains(got, "Hej\nVerden") {
		t.Errorf("text = %q", got)
	}
	if strings.Contains(got, "[ref]") {
		t.Errorf("reference marker kept: %q", got)
	}
	if !strings.Contains(got, "http://example.com") || strings.Contains(got, "safelink") {
		t.Errorf("safelink not decoded: %q", got)
	}
	if strings.Contains(got, "Subject") {
		t.Errorf("headers kept: %q", got)
	}
}

func TestExtractMailRawBody(t *testing.T) {
	path := writeInput(t, "export.msg", "Hej\n\n\nVerden\r\n[note]\nalmindelig tekst")
	got := extractOne(t, path, Options{})
	if !strings.Contains(got, "Hej\nVerden") || strings.Contains(got, "[note]") {
		t.Errorf("text = %q", got)
	}
}

func TestExtractUnsupported(t *testing.T) {
	path := writeInput(t, "data.xyz", "binært")
	docs, err := Extract(path, "client", Options{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if docs != nil {
		t.Errorf("got %d documents, want none", len(docs))
	}
}

func TestExtractMissingFile(t *testing.T) {
	if _, err := Extract(filepath.Join(t.TempDir(), "gone.txt"), "client", Options{}); err == nil {
		t.Fatal("expected error for missing file")
	}
}
