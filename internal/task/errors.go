package task

import "errors"

var (
	ErrNoPages         = errors.New("at least one page identifier is required")
	ErrTooManyPages    = errors.New("too many pages requested")
	ErrNoRenderedPages = errors.New("no pages could be rendered")
)
