// Package platform names the runtime environments a bundle can target.
package platform

import "fmt"

// Target is the runtime a build is produced for
type Target string

const (
	Browser  Target = "browser"
	Node     Target = "node"
	Electron Target = "electron"
)

// ParseTarget validates a target name. The empty string means Browser.
func ParseTarget(s string) (Target, error) {
	switch Target(s) {
	case "", Browser:
		return Browser, nil
	case Node, Electron:
		return Target(s), nil
	default:
		return "", fmt.Errorf("unknown target %q (want browser, node or electron)", s)
	}
}

// IsBrowser reports whether node_modules are inlined and env vars substituted
func (t Target) IsBrowser() bool {
	return t == Browser || t == ""
}

func (t Target) String() string {
	if t == "" {
		return string(Browser)
	}
	return string(t)
}

// ModuleField controls when a package's "module" entry is preferred over "main".
type ModuleField string

const (
	// ModuleFieldAuto prefers "module" on browser, and on node/electron only
	// when the importing file is itself an ES module.
	ModuleFieldAuto   ModuleField = "auto"
	ModuleFieldAlways ModuleField = "always"
	ModuleFieldNever  ModuleField = "never"
)

// ParseModuleField validates a module field policy. The empty string means auto.
func ParseModuleField(s string) (ModuleField, error) {
	switch ModuleField(s) {
	case "", ModuleFieldAuto:
		return ModuleFieldAuto, nil
	case ModuleFieldAlways, ModuleFieldNever:
		return ModuleField(s), nil
	default:
		return "", fmt.Errorf("unknown module field policy %q (want auto, always or never)", s)
	}
}

// PreferModule reports whether "module" wins over "main" for an importer
func (m ModuleField) PreferModule(t Target, esmImporter bool) bool {
	switch m {
	case ModuleFieldAlways:
		return true
	case ModuleFieldNever:
		return false
	default:
		return t.IsBrowser() || esmImporter
	}
}
