// Package logx configures kinobot's structured logging.
//
// Components receive a logx.Logger (a small wrapper on top of zerolog) and
// derive their own with With(logx.String("comp", ...)). The root logger is
// owned by a Service whose outputs can be swapped at runtime:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional admin chat sink (min-level + rate limiting)
package logx
