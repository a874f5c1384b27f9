package config

import (
	"fmt"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"
)

// Parse decodes YAML content over base and validates the result.
//
// Keys that do not map to a setting produce line-numbered warnings, not errors.
func Parse(content string, base Config) (Config, []Warning, error) {
	var root yaml.Node
	if err := yaml.Unmarshal([]byte(content), &root); err != nil {
		return Config{}, nil, err
	}

	cfg := base
	var warnings []Warning
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		if err := root.Decode(&cfg); err != nil {
			return Config{}, nil, err
		}
		warnings = unknownKeys(&root, reflect.TypeOf(cfg), "")
	}

	validated, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, append(warnings, validated...), nil
}

// unknownKeys walks a mapping node against the yaml tags of t.
func unknownKeys(node *yaml.Node, t reflect.Type, prefix string) []Warning {
	if node.Kind == yaml.DocumentNode {
		if len(node.Content) == 0 {
			return nil
		}
		return unknownKeys(node.Content[0], t, prefix)
	}
	if node.Kind != yaml.MappingNode || t.Kind() != reflect.Struct {
		return nil
	}

	fields := yamlFields(t)
	var warnings []Warning
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		name := prefix + key.Value
		field, ok := fields[key.Value]
		if !ok {
			warnings = append(warnings, Warning{Line: key.Line, Message: fmt.Sprintf("unknown key %q ignored", name)})
			continue
		}
		warnings = append(warnings, unknownKeys(value, field, name+".")...)
	}
	return warnings
}

func yamlFields(t reflect.Type) map[string]reflect.Type {
	out := make(map[string]reflect.Type, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "" || name == "-" {
			continue
		}
		out[name] = f.Type
	}
	return out
}
