// Package server exposes a block bridge over HTTP.
//
// Every request runs the bridge the way a mass-storage transport would:
// block data travels through simulated bulk endpoint packets, one request
// at a time.
//
// Routes:
//
//	GET  /info                    medium type, geometry and CID as JSON
//	POST /init                    reinitialize the card
//	GET  /blocks/{start}?count=N  read N blocks (default 1)
//	PUT  /blocks/{start}          write the body, a whole number of blocks
//	GET  /metrics                 Prometheus metrics
//	GET  /debug/pprof/            runtime profiles (builds with the profile tag)
//
// Each response carries an X-Request-Id header holding a ULID that also
// tags the request's log lines.
package server
