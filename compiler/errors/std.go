package errors

import stderrors "errors"

// Is, As and New mirror the standard library so callers importing this
// package under the name errors keep access to them.
var (
	Is  = stderrors.Is
	As  = stderrors.As
	New = stderrors.New
)
