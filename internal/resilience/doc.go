/*
Package resilience implements circuit breakers for remote pipeline sources.

A breaker counts the outcomes of calls to one dependency. After enough
consecutive failures it opens and fails calls immediately with
ErrCircuitOpen. Once the timeout passes it lets MaxRequests trial calls
through; if they succeed it closes again, otherwise it reopens.

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                       [failure]
	                                           v
	                                          Open

Group keeps one breaker per host, and Transport applies a Group to every
request of an http.Client:

	client := &http.Client{
		Transport: resilience.NewTransport(nil, resilience.NewGroup(resilience.Settings{}, logger)),
	}
*/
package resilience
