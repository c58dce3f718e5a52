package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads, parses, and validates the YAML configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML document into a Config, applies defaults, and
// validates it. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		if located := locateDecodeError(data, err); located != nil {
			return nil, located
		}
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Marshal serializes the configuration back to YAML. A validated config is
// guaranteed to re-parse into an identical structure.
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// locateDecodeError re-walks the document to attribute a yaml.TypeError to a
// dotted field path. Returns nil when the failure is not a type error or the
// offending field cannot be pinned down.
func locateDecodeError(data []byte, cause error) error {
	var typeErr *yaml.TypeError
	if !errors.As(cause, &typeErr) {
		return nil
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil
	}
	doc := &root
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		doc = doc.Content[0]
	}

	if err := probeStruct("", doc, reflect.TypeOf(Config{})); err != nil {
		return err
	}
	return &ConfigError{
		Kind:   KindTypeMismatch,
		Detail: strings.Join(typeErr.Errors, "; "),
	}
}

// probeStruct decodes node field by field against t's yaml tags so the first
// failure names an exact path.
func probeStruct(path string, node *yaml.Node, t reflect.Type) error {
	if node.Kind == yaml.AliasNode {
		node = node.Alias
	}
	if node.Kind != yaml.MappingNode {
		return &ConfigError{
			Kind:   KindTypeMismatch,
			Field:  path,
			Detail: fmt.Sprintf("expected a mapping, got %s", nodeKind(node)),
		}
	}

	fields := yamlFields(t)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i].Value, node.Content[i+1]
		fieldPath := key
		if path != "" {
			fieldPath = path + "." + key
		}

		ft, ok := fields[key]
		if !ok {
			return &ConfigError{Kind: KindTypeMismatch, Field: fieldPath, Detail: "unknown field"}
		}
		if err := probeValue(fieldPath, value, ft); err != nil {
			return err
		}
	}
	return nil
}

func probeValue(path string, node *yaml.Node, t reflect.Type) error {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if node.Kind == yaml.AliasNode {
		node = node.Alias
	}

	switch t.Kind() {
	case reflect.Struct:
		return probeStruct(path, node, t)
	case reflect.Slice:
		if node.Kind != yaml.SequenceNode {
			return &ConfigError{
				Kind:   KindTypeMismatch,
				Field:  path,
				Detail: fmt.Sprintf("expected a list, got %s", nodeKind(node)),
			}
		}
		for i, item := range node.Content {
			if err := probeValue(fmt.Sprintf("%s[%d]", path, i), item, t.Elem()); err != nil {
				return err
			}
		}
		return nil
	default:
		if err := node.Decode(reflect.New(t).Interface()); err != nil {
			return &ConfigError{
				Kind:   KindTypeMismatch,
				Field:  path,
				Detail: fmt.Sprintf("cannot parse %q as %s", node.Value, t.Kind()),
			}
		}
		return nil
	}
}

// yamlFields maps yaml key names to field types, following anonymous
// embedded structs the way yaml.v3 inlines them.
func yamlFields(t reflect.Type) map[string]reflect.Type {
	fields := make(map[string]reflect.Type)
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag := f.Tag.Get("yaml")
		name, _, _ := strings.Cut(tag, ",")
		if name == "-" {
			continue
		}
		if f.Anonymous && strings.Contains(tag, ",inline") {
			ft := f.Type
			for ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			for k, v := range yamlFields(ft) {
				fields[k] = v
			}
			continue
		}
		if name == "" {
			name = strings.ToLower(f.Name)
		}
		fields[name] = f.Type
	}
	return fields
}

func nodeKind(node *yaml.Node) string {
	switch node.Kind {
	case yaml.MappingNode:
		return "a mapping"
	case yaml.SequenceNode:
		return "a list"
	case yaml.ScalarNode:
		return fmt.Sprintf("scalar %q", node.Value)
	default:
		return "an unexpected node"
	}
}
