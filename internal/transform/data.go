package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/pelletier/go-toml/v2"
	"github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"

	cerrors "github.com/conduit-lang/bundler/compiler/errors"
)

// DataFormat is a structured data syntax
type DataFormat string

const (
	FormatJSON  DataFormat = "json"
	FormatJSON5 DataFormat = "json5"
	FormatYAML  DataFormat = "yaml"
	FormatTOML  DataFormat = "toml"
)

// DataTransformer turns a data file into a module exporting its value
type DataTransformer struct {
	Format DataFormat
}

// Transform implements Transformer
func (t *DataTransformer) Transform(_ context.Context, in Input) (*Result, error) {
	value, err := t.decode(in.Content)
	if err != nil {
		return nil, &cerrors.TransformError{
			Path:    in.Path,
			Message: fmt.Sprintf("invalid %s: %v", t.Format, err),
			Err:     err,
		}
	}

	var out []byte
	if in.Options.Production {
		out, err = json.Marshal(value)
	} else {
		out, err = json.MarshalIndent(value, "", "  ")
	}
	if err != nil {
		return nil, &cerrors.TransformError{Path: in.Path, Message: err.Error(), Err: err}
	}

	return &Result{
		Generated: map[string]string{"js": "module.exports = " + string(out) + ";"},
	}, nil
}

func (t *DataTransformer) decode(content []byte) (any, error) {
	var value any
	switch t.Format {
	case FormatYAML:
		if err := yaml.Unmarshal(content, &value); err != nil {
			return nil, err
		}
		return normalizeYAML(value), nil
	case FormatTOML:
		table := map[string]any{}
		if err := toml.Unmarshal(content, &table); err != nil {
			return nil, err
		}
		return table, nil
	case FormatJSON5:
		if err := json5.Unmarshal(content, &value); err != nil {
			return nil, err
		}
		return value, nil
	default:
		dec := json.NewDecoder(bytes.NewReader(content))
		dec.UseNumber()
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		if _, err := dec.Token(); !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("unexpected data after top-level value at offset %d", dec.InputOffset())
		}
		return value, nil
	}
}

// normalizeYAML converts maps with non-string keys, which encoding/json
// cannot marshal, into string keyed maps
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			val[k] = normalizeYAML(item)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalizeYAML(item)
		}
		return out
	case []any:
		for i, item := range val {
			val[i] = normalizeYAML(item)
		}
		return val
	default:
		return v
	}
}
