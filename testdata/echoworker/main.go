// Command echoworker is a minimal process-driver fixture: it registers a
// single "echo" handler and serves it until the host disconnects. The
// -delay flag lets a test simulate a slow-starting worker by sleeping
// before the socket is bound, without touching the protocol itself.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"time"

	"github.com/atsika/workers"
)

func main() {
	delay := flag.Duration("delay", 0, "sleep this long before listening on the assigned endpoint")
	flag.Parse()

	if *delay > 0 {
		time.Sleep(*delay)
	}

	cfg := workers.NewConfig()
	os.Exit(workers.Run(cfg, func(srv *workers.Server) {
		srv.Handle("echo", func(_ context.Context, payload json.RawMessage) (any, error) {
			var v int
			if err := json.Unmarshal(payload, &v); err != nil {
				return nil, err
			}
			return v, nil
		})
	}))
}
