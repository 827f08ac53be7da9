package session

import "errors"

var (
	ErrNotFound              = errors.New("session not found")
	ErrInvalidTimeWindow     = errors.New("session end time must be after start time")
	ErrInvalidModules        = errors.New("invalid session modules")
	ErrTransientStore        = errors.New("session store unavailable")
	ErrDependencyUnavailable = errors.New("attempt counter unavailable")
)
