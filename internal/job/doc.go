// Package job runs shell commands detached from the calling process.
//
// Each job lives in its own directory named by its token:
//
//	<root>/<token>/pid.txt       pid of the wrapper, removed when it exits
//	<root>/<token>/stdout.txt    standard output
//	<root>/<token>/stderr.txt    standard error
//	<root>/<token>/exitcode.txt  written once the command finished
//
// Any program that knows the token can follow the output, resume from a
// position map, stop the job or read its exit code. A sqlite Registry
// optionally keeps a record of every job started.
package job
