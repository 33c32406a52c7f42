package transform

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
)

// LoadEnv reads .env, .env.<mode> and .env.local from dir, later files
// overriding earlier ones, then applies the process environment on top.
// Missing files are skipped.
func LoadEnv(fs afero.Fs, dir, mode string, extra ...string) (map[string]string, error) {
	names := []string{".env", ".env." + mode, ".env.local"}
	names = append(names, extra...)

	env := make(map[string]string)
	for _, name := range names {
		path := name
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, name)
		}
		file, err := fs.Open(path)
		if err != nil {
			continue
		}
		values, err := godotenv.Parse(file)
		file.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		for k, v := range values {
			env[k] = v
		}
	}

	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}

	if _, ok := env["NODE_ENV"]; !ok {
		env["NODE_ENV"] = mode
	}
	return env, nil
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// defines builds the esbuild define table for one file. Only browser builds
// substitute anything.
func defines(path string, opts Options) map[string]string {
	if !opts.Target.IsBrowser() {
		return nil
	}

	out := make(map[string]string, len(opts.Env)+4)
	for k, v := range opts.Env {
		if !identifierPattern.MatchString(k) {
			continue
		}
		out["process.env."+k] = jsString(v)
	}
	if _, ok := out["process.env.NODE_ENV"]; !ok {
		mode := "development"
		if opts.Production {
			mode = "production"
		}
		out["process.env.NODE_ENV"] = jsString(mode)
	}

	out["global"] = "globalThis"
	out["__filename"] = jsString(filepath.ToSlash(path))
	out["__dirname"] = jsString(filepath.ToSlash(filepath.Dir(path)))
	return out
}

func jsString(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}
