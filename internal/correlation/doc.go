// Package correlation promotes independent low-severity threats into
// high-confidence composite threats. The aggregator buckets threats by
// type and escalates when the same signal spans enough distinct subjects
// inside the window; the tab watcher applies the same sliding-window
// primitive to tab-lifecycle structure.
//
// Both are read-mostly from the monitors' perspective: they observe
// emitted threats and never reach back into monitor state, so monitors
// stay decoupled and no ordering hazards exist between them.
package correlation
