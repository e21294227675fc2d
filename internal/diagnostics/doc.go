// Package diagnostics inspects the host a research engine runs on:
// processor and memory capacity, load, and free space on the volumes that
// hold the evidence and checkpoint stores.
package diagnostics
