package utils

import (
	"errors"
	"time"
)

const (
	ToolUserAgent       = "gdvl/1.0"
	LogFile             = ".gdvl.log"
	StateFileSuffix     = ".gdvl-state"
	DefaultConnections  = 8
	DefaultTimeout      = 3 * time.Minute
	DefaultKATimeout    = 90 * time.Second
	MaxTotalConnections = 64
	DefaultRetries      = 3
	DefaultRangeRetries = 2
	DefaultRetryBackoff = time.Second
)

var (
	ErrUnsupportedLocator = errors.New("unsupported locator")
	ErrJobFailed          = errors.New("one or more downloads failed")
)

// Local-only User-Agent list
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:135.0) Gecko/20100101 Firefox/135.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64; rv:136.0) Gecko/20100101 Firefox/136.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.3 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.0.0 Safari/537.36 Edg/132.0.0.0",
	"curl/8.5.0",
}
