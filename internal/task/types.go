package task

import "time"

// Request carries one accepted generation request.
type Request struct {
	Pages       []string
	Title       string
	SourceBase  string
	IsPublic    bool
	Description string
}

// Options configures the Manager.
type Options struct {
	OutputDir          string
	DefaultSourceBase  string
	MaxConcurrentTasks int
	MaxPagesPerBook    int
	FetchTimeout       time.Duration
}

const (
	defaultMaxConcurrent = 3
	defaultMaxPages      = 50
	defaultFetchTimeout  = 20 * time.Second
	defaultTitle         = "Wiki Book"
)
