// Package logging provides opt-in file-based logging with rotation for cqs.
// When debug logging is enabled, comprehensive logs are written to
// ~/.cqs/logs/ for troubleshooting indexing and search runs.
//
// By default, logging is minimal and goes to stderr only.
package logging
