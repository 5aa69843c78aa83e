package version

// Current is the enricher release. It is stamped into metrics reports and the startup log.
const Current = "0.4.0"
