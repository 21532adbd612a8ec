// Command flux is the command line client: it runs shell command templates,
// manages detached jobs and filters files through cached pipelines.
//
//	flux run 'grep -c ? ?' error /var/log/syslog
//	flux detach 'sleep 5; echo done'
//	flux tail <token>
//	flux cat access.log --search 'GET -healthz' --unique 0 --cache 10m
package main
