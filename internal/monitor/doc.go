// Package monitor implements the generic domain monitor: the
// detect→score→decide→record→report pipeline every per-concern detector
// (XSS, SQL injection, CSRF, DNS rebinding, clickjacking, fingerprinting,
// storage, IndexedDB, resource, session) instantiates.
//
// The pipeline is written once. A concern contributes only its name, the
// pattern categories it consults, and its structural checks; everything
// a monitor does after detection (severity combination, sliding-window
// rate limiting, the allow/block/sanitize decision, bounded history,
// reporting) is shared.
//
// Decision bias: findings below the configured block threshold are
// logged, never blocked. A false positive must not silently break
// legitimate site behavior; CRITICAL is the default blocking bar.
package monitor
