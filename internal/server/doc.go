// Package server hosts the Fiber mirror service. Every GET /<host>/<path> is
// fetched from <scheme>://<host>/<path> through the shared caching client, so
// repeated requests are answered from the disk cache according to the rule
// table. Diagnostics live under /-/.
package server
