// Command server runs the Loom backend: session lifecycle, snapshot
// persistence, and the maintenance sweeper behind a REST API.
package main
