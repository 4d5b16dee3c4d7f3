package httpapi

import (
	"net/http"
	"time"
)

const defaultMaxBodyBytes int64 = 64 << 10

// Options tunes the control API. Configure applies them process-wide.
type Options struct {
	// MaxBodyBytes caps JSON request bodies; the config form is small.
	MaxBodyBytes int64
	// GenerateTimeout bounds POST /generate on top of the chat client's own
	// timeout. Zero leaves it to the client.
	GenerateTimeout time.Duration
	CORS            CORSOptions
}

// CORSOptions enables browser access from other origins, for a web front
// end served elsewhere. Empty method and header lists take defaults.
type CORSOptions struct {
	Enabled bool
	Origins []string
	Methods []string
	Headers []string
}

var current = withDefaults(Options{})

// Configure replaces the API options. Routers built afterwards pick up the
// CORS settings.
func Configure(o Options) { current = withDefaults(o) }

func withDefaults(o Options) Options {
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = defaultMaxBodyBytes
	}
	if o.GenerateTimeout < 0 {
		o.GenerateTimeout = 0
	}
	if len(o.CORS.Origins) == 0 {
		o.CORS.Origins = []string{"*"}
	}
	if len(o.CORS.Methods) == 0 {
		o.CORS.Methods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions}
	}
	if len(o.CORS.Headers) == 0 {
		o.CORS.Headers = []string{"Content-Type", "X-Request-Id"}
	}
	return o
}
