package errors

// Phases a diagnostic can originate from.
const (
	PhaseResolve   = "resolve"
	PhaseTransform = "transform"
	PhasePackage   = "package"
	PhaseConfig    = "config"
)

// Error codes. MODULE_NOT_FOUND is also the code thrown at runtime by the
// module prelude for a missing optional dependency.
const (
	ErrModuleNotFound  = "MODULE_NOT_FOUND"
	ErrTransformFailed = "TRANSFORM_FAILED"
	ErrInvalidConfig   = "INVALID_CONFIG"
	ErrPackageFailed   = "PACKAGE_FAILED"
	ErrInstallFailed   = "INSTALL_FAILED"
	ErrUnknownAsset    = "UNKNOWN_ASSET_TYPE"
)

// ErrorMessages maps codes to a short default description
var ErrorMessages = map[string]string{
	ErrModuleNotFound:  "Cannot find module",
	ErrTransformFailed: "Failed to transform asset",
	ErrInvalidConfig:   "Invalid configuration",
	ErrPackageFailed:   "Failed to write bundle",
	ErrInstallFailed:   "Failed to install package",
	ErrUnknownAsset:    "No transformer registered for file type",
}

// GetErrorMessage returns the default message for an error code
func GetErrorMessage(code string) string {
	if msg, ok := ErrorMessages[code]; ok {
		return msg
	}
	return "Unknown error"
}

// GetPhaseForCode returns the phase a code is raised in
func GetPhaseForCode(code string) string {
	switch code {
	case ErrModuleNotFound, ErrInstallFailed:
		return PhaseResolve
	case ErrTransformFailed, ErrUnknownAsset:
		return PhaseTransform
	case ErrPackageFailed:
		return PhasePackage
	case ErrInvalidConfig:
		return PhaseConfig
	default:
		return "unknown"
	}
}
