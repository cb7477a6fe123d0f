package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zjrosen/devteam/internal/log"
)

// SetValue writes value under a dotted key (e.g. "llm.provider") in the config
// file, creating intermediate mappings as needed. Comments and formatting of
// other keys are preserved by editing the yaml.Node tree.
func SetValue(configPath, key string, value any) error {
	parts := strings.Split(key, ".")
	for _, p := range parts {
		if p == "" {
			return fmt.Errorf("invalid config key %q", key)
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading config: %w", err)
	}

	var doc yaml.Node
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parsing config: %w", err)
		}
	}
	if doc.Kind == 0 {
		doc = yaml.Node{
			Kind:    yaml.DocumentNode,
			Content: []*yaml.Node{{Kind: yaml.MappingNode}},
		}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return fmt.Errorf("config root is not a mapping")
	}

	var valueNode yaml.Node
	if err := valueNode.Encode(value); err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}

	parent := doc.Content[0]
	for i, part := range parts {
		last := i == len(parts)-1
		child := lookup(parent, part)
		switch {
		case last && child != nil:
			*child = valueNode
		case last:
			parent.Content = append(parent.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Value: part},
				&valueNode,
			)
		case child == nil:
			child = &yaml.Node{Kind: yaml.MappingNode}
			parent.Content = append(parent.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Value: part},
				child,
			)
		case child.Kind != yaml.MappingNode:
			return fmt.Errorf("config key %q is not a mapping", strings.Join(parts[:i+1], "."))
		}
		parent = child
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&doc); err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	_ = encoder.Close()

	if err := writeAtomic(configPath, buf.Bytes()); err != nil {
		return err
	}
	log.Debug(log.CatConfig, "Saved config value", "path", configPath, "key", key)
	return nil
}

// SaveProvider sets llm.provider.
func SaveProvider(configPath, provider string) error {
	return SetValue(configPath, "llm.provider", provider)
}

// SaveTeam sets orchestrator.team.
func SaveTeam(configPath string, team []string) error {
	return SetValue(configPath, "orchestrator.team", team)
}

// lookup returns the value node for key in a mapping node.
func lookup(mapping *yaml.Node, key string) *yaml.Node {
	for i := 0; i < len(mapping.Content)-1; i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

// writeAtomic writes to a temp file in the target directory, then renames.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	temp, err := os.CreateTemp(dir, ".devteam.yaml.tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := temp.Name()

	if _, err := temp.Write(data); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
