// Package logging provides structured logging using uber/zap.
//
// Two modes are available:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Libraries in this module take a *zap.Logger through a WithLogger option
// and stay silent by default. Binaries build one Logger here and hand out
// named children with Component.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	defer logger.Close()
//	jobs, err := job.NewManager(root, job.WithLogger(logger.Component("job")))
package logging
