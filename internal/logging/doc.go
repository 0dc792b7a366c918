// Package logging provides structured logging using uber/zap.
//
// Production mode emits JSON for machine parsing; development mode emits
// colored console output. Detection-path code logs through a named child
// logger per monitor so threat lines can be filtered by source.
package logging
