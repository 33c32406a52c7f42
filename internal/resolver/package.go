package resolver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// Package is the subset of package.json the resolver reads.
type Package struct {
	Name    string       `json:"name"`
	Main    string       `json:"main"`
	Module  string       `json:"module"`
	Source  stringField  `json:"source"`
	Browser BrowserField `json:"browser"`
	Alias   aliasMap     `json:"alias"`

	// Dir is the directory holding package.json, as looked up (not realpath)
	Dir string `json:"-"`
}

// BrowserField holds either form of package.json "browser": a string that
// replaces the entry point, or an object remapping files and packages.
type BrowserField struct {
	Entry string
	Map   map[string]BrowserTarget
}

// BrowserTarget is one value of the object form. Disabled means the key was
// mapped to false and resolves to an empty module.
type BrowserTarget struct {
	Path     string
	Disabled bool
}

// UnmarshalJSON accepts a string or an object of string|false values
func (b *BrowserField) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	if data[0] == '"' {
		return json.Unmarshal(data, &b.Entry)
	}
	if data[0] != '{' {
		return nil
	}

	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid browser field: %w", err)
	}
	b.Map = make(map[string]BrowserTarget, len(raw))
	for key, value := range raw {
		var s string
		if err := json.Unmarshal(value, &s); err == nil {
			b.Map[key] = BrowserTarget{Path: s}
			continue
		}
		var flag bool
		if err := json.Unmarshal(value, &flag); err == nil && !flag {
			b.Map[key] = BrowserTarget{Disabled: true}
		}
	}
	return nil
}

// lookup finds key in the object form. Keys match exactly, or after
// dropping a leading "./" and the file extension.
func (b BrowserField) lookup(key string) (BrowserTarget, bool) {
	if t, ok := b.Map[key]; ok {
		return t, true
	}
	want := normalizeBrowserKey(key)
	for k, t := range b.Map {
		if normalizeBrowserKey(k) == want {
			return t, true
		}
	}
	return BrowserTarget{}, false
}

func normalizeBrowserKey(key string) string {
	relative := strings.HasPrefix(key, "./") || strings.Contains(key, "/")
	key = strings.TrimPrefix(key, "./")
	if relative {
		key = strings.TrimSuffix(key, filepath.Ext(key))
	}
	return key
}

// stringField ignores non-string JSON values. Some packages publish
// "source" as an object for other tools.
type stringField string

func (s *stringField) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = stringField(str)
	}
	return nil
}

// aliasMap keeps only string values
type aliasMap map[string]string

func (a *aliasMap) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	out := make(aliasMap, len(raw))
	for key, value := range raw {
		var s string
		if err := json.Unmarshal(value, &s); err == nil {
			out[key] = s
		}
	}
	*a = out
	return nil
}

func parsePackage(dir string, data []byte) (*Package, error) {
	pkg := &Package{}
	if err := json.Unmarshal(data, pkg); err != nil {
		return nil, fmt.Errorf("invalid package.json in %s: %w", dir, err)
	}
	pkg.Dir = dir
	return pkg, nil
}
