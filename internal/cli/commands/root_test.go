package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/conduit-lang/bundler/compiler/errors"
	"github.com/conduit-lang/bundler/internal/bundler"
)

func TestNewRootCommand(t *testing.T) {
	cmd := NewRootCommand()

	if cmd.Use != "bundler" {
		t.Errorf("expected Use to be 'bundler', got %s", cmd.Use)
	}

	if cmd.Short == "" {
		t.Error("expected Short description to be set")
	}

	if cmd.Long == "" {
		t.Error("expected Long description to be set")
	}

	for _, expected := range []string{"version", "build", "tree"} {
		found := false
		for _, sub := range cmd.Commands() {
			if sub.Name() == expected {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected command %s to be registered", expected)
		}
	}
}

func TestNewVersionCommand(t *testing.T) {
	GitCommit = "abc123"
	BuildDate = "2025-01-01"
	GoVersion = "go1.23"

	var out bytes.Buffer
	cmd := NewVersionCommand()
	cmd.SetOut(&out)
	cmd.Run(cmd, []string{})

	for _, exp := range []string{"Bundler version:", "abc123", "2025-01-01", "go1.23"} {
		if !strings.Contains(out.String(), exp) {
			t.Errorf("expected %q in version output, got %q", exp, out.String())
		}
	}
}

// project writes a small app with a lazily loaded module into a temp dir
func project(t *testing.T, config string) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"package.json": `{"name":"app"}`,
		"src/index.js": "var util = require('./util');\nexports.run = function () { return import('./lazy'); };\n",
		"src/util.js":  "module.exports = 42;\n",
		"src/lazy.js":  "module.exports = 'lazy';\n",
		"src/bad.js":   "var x = ;\n",
	}
	if config != "" {
		files["bundler.yml"] = config
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return dir
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestBuildCommand(t *testing.T) {
	dir := project(t, "entries:\n  - src/index.js\nauto_install: false\n")

	out, _, err := execute(t, "build", "--root", dir, "--no-color")
	require.NoError(t, err)

	assert.Contains(t, out, "index.js")
	assert.Contains(t, out, "index.js.map")
	assert.Contains(t, out, "✓ Built")

	data, err := os.ReadFile(filepath.Join(dir, "dist", "index.js"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "42")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(string(data)), "//# sourceMappingURL=index.js.map"))
}

func TestBuildCommand_VerboseDetails(t *testing.T) {
	dir := project(t, "entries:\n  - src/index.js\nauto_install: false\n")

	out, errOut, err := execute(t, "build", "--root", dir, "--verbose", "--no-color", "--production")
	require.NoError(t, err)
	assert.NotContains(t, errOut, "Build complete", "no progress bar in verbose mode")

	assert.Contains(t, out, "Build details\n─────────────")
	assert.Contains(t, out, "Mode:            production")
	assert.Contains(t, out, "Target:          browser")
	assert.Contains(t, out, "Assets:          6")
	assert.Contains(t, out, "Output:          "+filepath.Join(dir, "dist"))
}

func TestBuildCommand_ProgressOnStderr(t *testing.T) {
	dir := project(t, "entries:\n  - src/index.js\nauto_install: false\n")

	out, errOut, err := execute(t, "build", "--root", dir, "--no-color")
	require.NoError(t, err)
	assert.Contains(t, errOut, "100%")
	assert.Contains(t, errOut, "✓ Build complete")
	assert.NotContains(t, out, "Build details")
}

func TestBuildCommand_FlagsOverrideConfig(t *testing.T) {
	dir := project(t, "entries:\n  - src/index.js\nauto_install: false\nout_dir: build\n")

	out, _, err := execute(t, "build", "--root", dir, "--out-dir", "public", "--global", "App", "--json")
	require.NoError(t, err)

	var summary buildSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, "success", summary.Status)
	// index, util, lazy and the three loader modules the dynamic import pulls in
	assert.Equal(t, 6, summary.Assets)
	require.NotEmpty(t, summary.Bundles)
	for _, b := range summary.Bundles {
		assert.True(t, strings.HasPrefix(b.Path, filepath.Join(dir, "public")), "unexpected path %s", b.Path)
	}

	data, err := os.ReadFile(filepath.Join(dir, "public", "index.js"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `["App"] = mainExports;`)

	_, err = os.Stat(filepath.Join(dir, "build"))
	assert.True(t, os.IsNotExist(err), "config out_dir should be overridden")
}

func TestBuildCommand_EntryArgument(t *testing.T) {
	dir := project(t, "auto_install: false\n")

	_, _, err := execute(t, "build", filepath.Join(dir, "src", "util.js"), "--root", dir, "--json")
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "dist", "util.js"))
	assert.NoError(t, err)
}

func TestBuildCommand_Errors(t *testing.T) {
	tests := []struct {
		name   string
		config string
		args   []string
		code   string
	}{
		{
			name:   "no entries",
			config: "auto_install: false\n",
			code:   cerrors.ErrInvalidConfig,
		},
		{
			name:   "invalid target flag",
			config: "entries:\n  - src/index.js\n",
			args:   []string{"--target", "deno"},
			code:   cerrors.ErrInvalidConfig,
		},
		{
			name:   "syntax error",
			config: "entries:\n  - src/bad.js\nauto_install: false\n",
			code:   cerrors.ErrTransformFailed,
		},
		{
			name:   "missing module",
			config: "auto_install: false\n",
			args:   []string{"src/missing.js"},
			code:   cerrors.ErrModuleNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := project(t, tt.config)
			args := []string{"build", "--root", dir, "--json"}
			for _, a := range tt.args {
				if strings.HasSuffix(a, ".js") {
					a = filepath.Join(dir, a)
				}
				args = append(args, a)
			}

			out, _, err := execute(t, args...)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errBuildFailed))

			var doc cerrors.JSONOutput
			require.NoError(t, json.Unmarshal([]byte(out), &doc), out)
			assert.Equal(t, "error", doc.Status)
			require.Len(t, doc.Errors, 1)
			assert.Equal(t, tt.code, doc.Errors[0].Code)

			_, statErr := os.Stat(filepath.Join(dir, "dist"))
			assert.True(t, os.IsNotExist(statErr), "nothing should be written on failure")
		})
	}
}

func TestBuildCommand_TerminalError(t *testing.T) {
	dir := project(t, "entries:\n  - src/bad.js\nauto_install: false\n")

	_, errOut, err := execute(t, "build", "--root", dir, "--no-color")
	require.Error(t, err)
	assert.Contains(t, errOut, "BUILD FAILED")
	assert.Contains(t, errOut, "bad.js")
}

func TestBuildCommand_VerboseError(t *testing.T) {
	dir := project(t, "entries:\n  - src/bad.js\nauto_install: false\n")

	_, errOut, err := execute(t, "build", "--root", dir, "--verbose")
	require.Error(t, err)

	plain := cerrors.StripColors(errOut)
	assert.Contains(t, plain, "Error[TRANSFORM_FAILED]")
	assert.Contains(t, plain, "Build failed with 1 error(s)")
}

func TestTreeCommand(t *testing.T) {
	dir := project(t, "entries:\n  - src/index.js\nauto_install: false\n")

	out, _, err := execute(t, "tree", "--root", dir)
	require.NoError(t, err)

	var nodes []bundler.Node
	require.NoError(t, json.Unmarshal([]byte(out), &nodes))
	require.Len(t, nodes, 1)
	assert.Equal(t, "index.js", nodes[0].Name)
	assert.Contains(t, nodes[0].Assets, "util.js")

	var names []string
	for _, c := range nodes[0].ChildBundles {
		names = append(names, c.Name)
	}
	assert.Contains(t, names, "index.js.map")

	_, err = os.Stat(filepath.Join(dir, "dist"))
	assert.True(t, os.IsNotExist(err), "tree must not write output")
}
