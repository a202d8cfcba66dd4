package workflow

import "errors"

// Sentinel errors for enum parsing and rule loading.
var (
	ErrInvalidStatus         = errors.New("invalid status")
	ErrInvalidAction         = errors.New("invalid action")
	ErrInvalidClassification = errors.New("invalid classification")
	ErrInvalidFactType       = errors.New("invalid fact type")
	ErrInvalidSourceType     = errors.New("invalid source type")
	ErrInvalidRule           = errors.New("invalid transition rule")
)
