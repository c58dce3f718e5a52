package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/mail"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/corpusworks/docpipe/pkg/logging"
	"github.com/corpusworks/docpipe/pkg/pipeline"
)

// Options steer extraction for formats that need it. Both fields only
// apply to JSON input.
type Options struct {
	// KeyPath is a comma-separated chain of keys leading to the text,
	// descending through nested objects and fanning out over arrays.
	KeyPath string
	// TextFormat names how the extracted strings are encoded, "txt" or
	// "html".
	TextFormat string
}

var (
	newlineRuns  = regexp.MustCompile(`\n+`)
	bracketRefs  = regexp.MustCompile(`\[[^\]\n]+\]`)
	safelinkURLs = regexp.MustCompile(`https?://[^\s>]+`)
)

func collapseNewlines(s string) string {
	return newlineRuns.ReplaceAllString(s, "\n")
}

// Extract reads one delivered file and turns it into pipeline documents,
// dispatching on the file suffix. Unsupported suffixes and files without
// extractable text return no documents and no error. A JSON file can
// yield several documents, every other format at most one.
func Extract(path, source string, opts Options) ([]*pipeline.Document, error) {
	log := logging.NewLogger("document").WithField("file", filepath.Base(path))

	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md":
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return records(collapseNewlines(string(raw)), source, path), nil
	case ".html", ".htm":
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		text, err := ExtractHTML(raw)
		if err != nil {
			return nil, err
		}
		if text == "" {
			log.Debug("no extractable text in html document")
			return nil, nil
		}
		return records(text, source, path), nil
	case ".json":
		return extractJSON(path, source, opts, log)
	case ".eml", ".msg":
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return records(extractMailBody(raw), source, path), nil
	default:
		log.Warnf("unsupported file type %q, skipping", filepath.Ext(path))
		return nil, nil
	}
}

// records wraps one extracted text as a single-document slice, or none
// when the text is empty.
func records(text, source, path string) []*pipeline.Document {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return []*pipeline.Document{newRecord(text, source, path)}
}

// extractJSON traverses the document along opts.KeyPath and emits one
// record per extracted string. A key missing at any level is logged and
// yields nothing rather than failing the file.
func extractJSON(path, source string, opts Options, log *logrus.Entry) ([]*pipeline.Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var root any
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("parse json %s: %w", path, err)
	}

	keyPath := opts.KeyPath
	if keyPath == "" {
		keyPath = "text"
	}
	texts := jsonTexts(root, strings.Split(keyPath, ","), log)

	format := opts.TextFormat
	if format == "" {
		format = "txt"
	}
	switch format {
	case "txt":
	case "html":
		formatted := texts[:0]
		for _, text := range texts {
			extracted, err := ExtractHTML([]byte(text))
			if err != nil {
				return nil, err
			}
			if extracted != "" {
				formatted = append(formatted, extracted)
			}
		}
		texts = formatted
	default:
		log.Warnf("text format %q is not supported, defaulting to plain text", format)
	}

	var docs []*pipeline.Document
	for _, text := range texts {
		docs = append(docs, newRecord(text, source, path))
	}
	return docs, nil
}

// jsonTexts walks the parsed JSON along keys. Arrays fan out at any
// depth, and an object reached with the keys exhausted is kept as its
// JSON encoding.
func jsonTexts(data any, keys []string, log *logrus.Entry) []string {
	if len(keys) == 0 {
		switch v := data.(type) {
		case string:
			return []string{v}
		case []any:
			var texts []string
			for _, item := range v {
				texts = append(texts, jsonTexts(item, keys, log)...)
			}
			return texts
		case map[string]any:
			encoded, err := json.Marshal(v)
			if err != nil {
				return nil
			}
			return []string{string(encoded)}
		default:
			return []string{fmt.Sprint(v)}
		}
	}

	if obj, ok := data.(map[string]any); ok {
		if child, ok := obj[keys[0]]; ok {
			return jsonTexts(child, keys[1:], log)
		}
	}
	if list, ok := data.([]any); ok {
		var texts []string
		for _, item := range list {
			texts = append(texts, jsonTexts(item, keys, log)...)
		}
		return texts
	}

	log.Warnf("key %q not found in JSON document", keys[0])
	return nil
}

// extractMailBody takes the body of an exported mail message and cleans
// it up: newline runs collapse, [..] reference markers and carriage
// returns go away, and safelink-wrapped URLs are rewritten to their
// decoded destination. Messages with RFC 5322 headers are split first so
// only the body survives.
func extractMailBody(raw []byte) string {
	body := string(raw)
	if msg, err := mail.ReadMessage(bytes.NewReader(raw)); err == nil {
		if data, err := io.ReadAll(msg.Body); err == nil {
			body = string(data)
		}
	}

	text := collapseNewlines(body)
	text = bracketRefs.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "\r", "")
	return safelinkURLs.ReplaceAllStringFunc(text, func(link string) string {
		if decoded, ok := DecodeSafelinkURL(link); ok {
			return decoded
		}
		return link
	})
}

// newRecord stamps a freshly extracted text as a pipeline document.
func newRecord(text, source, path string) *pipeline.Document {
	return &pipeline.Document{
		Text:     text,
		ID:       source + "-" + filepath.Base(path),
		Source:   source,
		Added:    time.Now().UTC().Format(time.RFC3339),
		Metadata: FileMetadata(path),
	}
}
