package commands

import (
	"context"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/drblury/simabus/internal/ingest"
	"github.com/drblury/simabus/internal/runtime"
)

// serveUntilDone runs the service and, when addr is set, an HTTP server until
// ctx is cancelled or one of them fails.
func (f *Flags) serveUntilDone(ctx context.Context, svc *runtime.Service, addr string, handler http.Handler) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Start(gctx) })
	if addr != "" && handler != nil {
		g.Go(func() error { return ingest.Serve(gctx, addr, handler, f.Logger) })
	}
	return g.Wait()
}
