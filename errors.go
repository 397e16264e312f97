package sitecache

import (
	"github.com/jmgilman/go/errors"
)

var (
	// ErrNilFetch is returned when GetOrFetch is called without a fetch
	// function.
	ErrNilFetch = errors.New(errors.CodeInvalidInput, "fetch function is nil")

	// ErrDecode is returned by the typed helpers when cached data cannot be
	// decoded into the requested type.
	ErrDecode = errors.New(errors.CodeInvalidInput, "cached data cannot be decoded")

	// ErrInvalidConfig is returned for configuration that fails validation.
	ErrInvalidConfig = errors.New(errors.CodeInvalidConfig, "invalid cache configuration")
)
