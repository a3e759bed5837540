// The main package for the chainmap executable.
//
// Architecture overview:
//   - Inputs: internal/crawllog tokenizes crawl logs, CDX files, seed lists and post-processing TSVs into
//     iter.Seq2 streams. internal/source opens them from stdin, local paths or gs:// objects, gunzipping .gz names.
//   - Phase 1: chain.Run.Build normalizes every edge (internal/urlnorm) and appends it to a graph Builder
//     (internal/graph/memory, sqlite or badger), then seals it. A sealed map can be reused by later commands.
//   - Phase 2: the backward pass maps in-scope terminal hits to the root of their referrer chain; the forward
//     pass follows every seed through the map to its terminal. Both write through chain.Materializer into a
//     ResultStore (internal/resultstore/sqlite or postgres) keyed by initial URL.
//   - Reports: internal/report stamps post-processing status by sha1 and dumps rows as JSON lines, optionally
//     publishing each row to Pub/Sub (internal/export/pubsub).
//   - Plumbing: Viper loads config from YAML, CHAINMAP_* env vars and flags; zap logs to stderr; Prometheus
//     collectors count per-pass outcomes and chain lengths, served by internal/server or written to a textfile.
//
// Quick checklist:
//   - chainmap referrer crawl.log map.sqlite
//   - chainmap backward crawl.log map.sqlite results.sqlite
//   - chainmap forward seeds.tsv map.sqlite results.sqlite
//   - chainmap everything crawl.log seeds.tsv postgres://user@host/db --graph-backend=badger --map map.badger
//   - chainmap dump-json results.sqlite --only-identifier-hits > rows.json
package main

import (
	"github.com/JakeFAU/chainmap/cmd"
)

// main defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
