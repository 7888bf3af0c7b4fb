// Package logger wraps zap for the release tools.
//
// A global sugared logger writes console lines to stdout and, once Configure
// is given a file, JSON lines to that file as well. Components carry scoped
// loggers in their context (WithName, WithKV) and log through the leveled
// helpers, e.g. InfoKV(ctx, "Release placed", "app", app).
package logger
