package windowfence

import (
	"errors"

	"github.com/KanavDutta/windowfence/core"
)

var (
	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNonPositiveQuota is returned when the quota is zero or negative
	ErrNonPositiveQuota = core.ErrNonPositiveQuota

	// ErrNonPositiveWindow is returned when the window size is zero or negative
	ErrNonPositiveWindow = core.ErrNonPositiveWindow
)
