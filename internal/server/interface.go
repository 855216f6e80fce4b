package server

import (
	"context"
	"net/http"
)

// Service is the HTTP listener the REST and realtime endpoints are mounted on.
type Service interface {
	// Start listens and serves until a fatal error occurs or ctx is canceled.
	Start(ctx context.Context) error

	// Stop shuts the listener down, waiting for active requests until ctx
	// expires.
	Stop(ctx context.Context) error

	// RegisterHTTPHandler must be called before Start.
	RegisterHTTPHandler(pattern string, handler http.Handler)

	// Addr returns the bound address once Start is listening, "" before.
	Addr() string
}
