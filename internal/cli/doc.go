// Package cli implements the flux command line: foreground runs, detached
// jobs that can be tailed, stopped and listed, and a cat command that
// exercises the pipeline, quicksearch and cache packages.
package cli
