/*
Package log provides structured logging built on zerolog.

Init configures the global Logger once at startup from a Config (level,
JSON vs. console output, destination writer). Packages elsewhere in the
orchestrator derive sub-loggers from that global through WithComponent,
WithOwner and WithSource, which add the matching field, or call the
package-level Info/Debug/Warn/Error/Fatal helpers directly.
*/
package log
