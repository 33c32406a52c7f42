package errors

import (
	"fmt"
)

// ResolutionError reports a specifier that could not be mapped to a file.
type ResolutionError struct {
	Specifier   string // as written by the importer, before aliasing
	From        string // importing file, or "" for entries
	Line        int    // line of the reference in From, when known
	Suggestions []string
	Err         error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("Cannot resolve dependency '%s'", e.Specifier)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Code returns MODULE_NOT_FOUND
func (e *ResolutionError) Code() string { return ErrModuleNotFound }

// ToCompilerError converts the error into a diagnostic
func (e *ResolutionError) ToCompilerError() CompilerError {
	ce := NewCompilerError(PhaseResolve, ErrModuleNotFound, e.Error(), SourceLocation{File: e.From, Line: e.Line}, Error)
	if len(e.Suggestions) > 0 {
		ce = ce.WithSuggestion(FixSuggestion{
			Description: "Did you mean one of these?",
			Candidates:  e.Suggestions,
		})
	}
	return ce
}

// TransformError reports a failure of a transform stage on one asset.
type TransformError struct {
	Path     string
	Message  string
	Location SourceLocation
	Source   string // file content, used for the context snippet
	Err      error
}

func (e *TransformError) Error() string {
	if e.Location.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", e.Path, e.Location.Line, e.Location.Column, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

func (e *TransformError) Unwrap() error { return e.Err }

// Code returns TRANSFORM_FAILED
func (e *TransformError) Code() string { return ErrTransformFailed }

// ToCompilerError converts the error into a diagnostic with source context
func (e *TransformError) ToCompilerError() CompilerError {
	loc := e.Location
	if loc.File == "" {
		loc.File = e.Path
	}
	ce := NewCompilerError(PhaseTransform, ErrTransformFailed, e.Message, loc, Error)
	if e.Source != "" && loc.Line > 0 {
		ce = EnrichError(ce, e.Source)
	}
	return ce
}

// InstallError reports a missing package the installer failed to add.
type InstallError struct {
	Package string
	Err     error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("%s '%s': %v", GetErrorMessage(ErrInstallFailed), e.Package, e.Err)
}

func (e *InstallError) Unwrap() error { return e.Err }

// Code returns INSTALL_FAILED
func (e *InstallError) Code() string { return ErrInstallFailed }

// ToCompilerError converts the error into a diagnostic
func (e *InstallError) ToCompilerError() CompilerError {
	return NewCompilerError(GetPhaseForCode(e.Code()), e.Code(), e.Error(), SourceLocation{}, Error)
}

// ConfigurationError reports an invalid build configuration. It is raised
// before any graph work begins.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "invalid configuration: " + e.Message
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Message)
}

// Code returns INVALID_CONFIG
func (e *ConfigurationError) Code() string { return ErrInvalidConfig }

// ToCompilerError converts the error into a diagnostic
func (e *ConfigurationError) ToCompilerError() CompilerError {
	return NewCompilerError(PhaseConfig, ErrInvalidConfig, e.Error(), SourceLocation{}, Fatal)
}

// Diagnostic is implemented by every typed build error.
type Diagnostic interface {
	error
	Code() string
	ToCompilerError() CompilerError
}

// ToCompilerError unwraps err until it finds a typed build error and converts
// it. Unknown errors become a generic diagnostic in the given phase.
func ToCompilerError(err error, phase string) CompilerError {
	var ce CompilerError
	if As(err, &ce) {
		return ce
	}
	var d Diagnostic
	if As(err, &d) {
		return d.ToCompilerError()
	}
	code := ErrPackageFailed
	if phase == PhaseTransform {
		code = ErrTransformFailed
	}
	return NewCompilerError(phase, code, err.Error(), SourceLocation{}, Error)
}
