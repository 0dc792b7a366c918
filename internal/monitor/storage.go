package monitor

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/browserwarden/warden/internal/engine"
	"github.com/browserwarden/warden/internal/patterns"
)

// storageScanCategories are the packs consulted for stored values. Memory
// poisoning plants agent instructions or exfiltration payloads in storage
// the agent will later read back as trusted context.
var storageScanCategories = []patterns.Category{
	patterns.CategoryInstructionHijack,
	patterns.CategoryDataExfiltration,
	patterns.CategoryObfuscation,
	patterns.CategorySessionTheft,
}

// maxStoredValue flags single values above 256KB as quota abuse.
const maxStoredValue = 256 * 1024

// NewStorage builds the localStorage/sessionStorage monitor.
func NewStorage(opts Options) *Monitor {
	return New(Concern{
		Name:       "storage",
		Categories: storageScanCategories,
		Structural: storageStructural,
	}, opts)
}

var pollutionKeys = map[string]bool{
	"__proto__": true, "constructor": true, "prototype": true,
}

func storageStructural(ev engine.Event) []Finding {
	var findings []Finding

	if key := ev.String("key"); pollutionKeys[key] {
		findings = append(findings, Finding{
			Type:        "PROTOTYPE_POLLUTION_KEY",
			Severity:    engine.SeverityHigh,
			Score:       65,
			Description: fmt.Sprintf("storage write to %q", key),
			Context:     map[string]string{"key": key},
		})
	}

	size := ev.Int64("size")
	if size == 0 {
		size = int64(len(ev.String("value")))
	}
	if size > maxStoredValue {
		findings = append(findings, Finding{
			Type:        "OVERSIZED_STORAGE_VALUE",
			Severity:    engine.SeverityMedium,
			Score:       35,
			Description: fmt.Sprintf("stored value of %d bytes", size),
		})
	}
	return findings
}

// NewIndexedDB builds the IndexedDB monitor. Keyed by database name: a
// page hammering many databases is distinct from one hammering one.
func NewIndexedDB(opts Options) *Monitor {
	return New(Concern{
		Name:       "indexeddb",
		Categories: storageScanCategories,
		Structural: indexedDBStructural,
		Key: func(ev engine.Event) string {
			if db := ev.String("db"); db != "" {
				return db
			}
			return DomainOf(ev)
		},
	}, opts)
}

func indexedDBStructural(ev engine.Event) []Finding {
	var findings []Finding

	db := ev.String("db")
	if len(db) > 128 || hasControlRunes(db) {
		findings = append(findings, Finding{
			Type:        "SUSPICIOUS_DATABASE_NAME",
			Severity:    engine.SeverityMedium,
			Score:       30,
			Description: "database name is oversized or contains control characters",
		})
	}

	if ev.String("op") == "deleteDatabase" && ev.Bool("foreign_initiator") {
		findings = append(findings, Finding{
			Type:        "FOREIGN_DATABASE_DELETE",
			Severity:    engine.SeverityHigh,
			Score:       60,
			Description: fmt.Sprintf("deleteDatabase on %q initiated outside the owning origin", db),
			Context:     map[string]string{"db": db},
		})
	}

	if size := ev.Int64("size"); size > 4*1024*1024 {
		findings = append(findings, Finding{
			Type:        "OVERSIZED_RECORD_WRITE",
			Severity:    engine.SeverityMedium,
			Score:       35,
			Description: fmt.Sprintf("single record write of %d bytes", size),
		})
	}
	return findings
}

func hasControlRunes(s string) bool {
	return strings.ContainsFunc(s, unicode.IsControl)
}
