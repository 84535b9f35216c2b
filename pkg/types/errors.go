package types

import "errors"

// Definition errors. These are fatal: the call that returns them leaves no
// partial effect behind.
var (
	ErrClassNotFound             = errors.New("class not found")
	ErrUnsupportedAlteration     = errors.New("unsupported alteration")
	ErrUnresolvedReferenceTarget = errors.New("unresolved reference target")
	ErrUnsupportedType           = errors.New("unsupported type")
	ErrReferencedClassNotFound   = errors.New("referenced class not found")
	ErrReversePropertyNotFound   = errors.New("reverse property not found")
	ErrInvalidDefinition         = errors.New("invalid property definition")
)

// Store errors.
var (
	ErrNotFound         = errors.New("entity not found")
	ErrPropertyNotFound = errors.New("property not found")
	ErrInvalidName      = errors.New("invalid name")
	ErrDuplicateName    = errors.New("duplicate name")
	ErrInvalidID        = errors.New("invalid entity ID")
	ErrBackendDetached  = errors.New("backend is detached")
	ErrAlreadyAttached  = errors.New("backend is already attached")
)
