package model

import (
	"errors"
	"fmt"
)

var (
	ErrModelNotLoaded   = errors.New("model not loaded")
	ErrNumerical        = errors.New("numerical error")
	ErrUnsupportedLayer = errors.New("unsupported layer")
	ErrInvalidInput     = errors.New("invalid input")
	ErrTrainingMode     = errors.New("layer cannot run in training mode")
)

// errorf wraps sentinel with a formatted detail message.
func errorf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}
