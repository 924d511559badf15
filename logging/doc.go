/*
Package logging offers the client fetchmock uses to report warnings, such as
routes that were never called, and debug traces of each dispatched call.

The package exposes a small interface with convenience methods for common log
levels (Info, Warn, Error, Debug, Trace) backed by zap. Tests can pass their
own *zap.Logger, for example one built on zaptest/observer, to assert on what
was logged.
*/
package logging
