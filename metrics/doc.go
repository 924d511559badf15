/*
Package metrics records fetchmock call outcomes with Prometheus collectors.

A Recorder counts calls by serving route and result, observes dispatch latency
and tracks calls in flight. Collectors are registered on the Registerer given
in Config, or on a private registry exposed through Gatherer. A nil *Recorder
is valid and records nothing.
*/
package metrics
