package main

import (
	"context"
	"time"

	"github.com/morezero/ipc-bridge/pkg/endpoint"
)

// Endpoints added here are picked up by the host when it starts.
var _ = endpoint.Route("time", serverTime)

func serverTime(context.Context, *endpoint.Request) (any, error) {
	return time.Now().UTC().Format(time.RFC3339Nano), nil
}
