package monitor

import (
	"encoding/base64"
	"fmt"
	"math"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"gonum.org/v1/gonum/stat"

	"github.com/browserwarden/warden/internal/engine"
)

// dangerousExtensions are download types that execute on open.
var dangerousExtensions = map[string]bool{
	".exe": true, ".scr": true, ".bat": true, ".cmd": true, ".com": true,
	".msi": true, ".dll": true, ".jar": true, ".vbs": true, ".ps1": true,
	".hta": true, ".apk": true, ".dmg": true,
}

// maskedExtensions look harmless in a double-extension name like
// report.pdf.exe.
var maskedExtensions = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
	".jpg": true, ".png": true, ".txt": true, ".mp4": true,
}

const maxDownloadSize = 512 * 1024 * 1024

// NewResource builds the resource-exhaustion and download monitor. It
// keeps a bounded window of observed download sizes and flags statistical
// outliers alongside the fixed checks.
func NewResource(opts Options) *Monitor {
	tracker := &sizeTracker{sizes: engine.NewRing[float64](200)}
	return New(Concern{
		Name: "resource",
		Structural: func(ev engine.Event) []Finding {
			return resourceStructural(ev, tracker)
		},
	}, opts)
}

// sizeTracker owns the download-size window. Separate from the monitor's
// own lock because it is touched from inside the structural check, which
// runs outside that lock.
type sizeTracker struct {
	mu    sync.Mutex
	sizes *engine.Ring[float64]
}

// observe records a size and reports how anomalous it is against the
// window. Requires at least 20 observations before judging.
func (t *sizeTracker) observe(size float64) (zScore float64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prior := t.sizes.Snapshot()
	t.sizes.Push(size)

	if len(prior) < 20 {
		return 0, false
	}
	mean := stat.Mean(prior, nil)
	sd := stat.StdDev(prior, nil)
	if sd == 0 || math.IsNaN(sd) {
		return 0, false
	}
	return (size - mean) / sd, true
}

func resourceStructural(ev engine.Event, tracker *sizeTracker) []Finding {
	var findings []Finding

	name := downloadName(ev)
	if name != "" {
		ext := strings.ToLower(path.Ext(name))
		if dangerousExtensions[ext] {
			sev := engine.SeverityHigh
			score := 60.0
			desc := fmt.Sprintf("download of executable type %s", ext)

			// report.pdf.exe: the inner extension is the lure.
			stem := strings.TrimSuffix(name, ext)
			if inner := strings.ToLower(path.Ext(stem)); maskedExtensions[inner] {
				sev = engine.SeverityCritical
				score = 85
				desc = fmt.Sprintf("masked executable download (%s%s)", inner, ext)
			}
			findings = append(findings, Finding{
				Type:        "DANGEROUS_FILE_TYPE",
				Severity:    sev,
				Score:       score,
				Description: desc,
				Context:     map[string]string{"filename": name},
			})
		}
	}

	if size := ev.Int64("size"); size > 0 {
		if size > maxDownloadSize {
			findings = append(findings, Finding{
				Type:        "OVERSIZED_DOWNLOAD",
				Severity:    engine.SeverityMedium,
				Score:       35,
				Description: fmt.Sprintf("download of %d bytes", size),
			})
		}
		if z, ok := tracker.observe(float64(size)); ok && z > 3 {
			findings = append(findings, Finding{
				Type:        "ANOMALOUS_DOWNLOAD_SIZE",
				Severity:    engine.SeverityMedium,
				Score:       30,
				Description: fmt.Sprintf("download size %.0f standard deviations above recent norm", z),
			})
		}
	}

	if f, ok := sniffMismatch(ev); ok {
		findings = append(findings, f)
	}
	return findings
}

// sniffMismatch compares the first bytes of a payload against its claimed
// content type. A "text/plain" response that sniffs as an executable is a
// smuggling vector.
func sniffMismatch(ev engine.Event) (Finding, bool) {
	claimed := ev.String("content_type")
	sampleB64 := ev.String("sample_b64")
	if claimed == "" || sampleB64 == "" {
		return Finding{}, false
	}
	sample, err := base64.StdEncoding.DecodeString(sampleB64)
	if err != nil || len(sample) == 0 {
		return Finding{}, false
	}

	detected := mimetype.Detect(sample)
	if detected.Is(claimed) {
		return Finding{}, false
	}
	// Only flag when the sniffed type is an active one; text/css vs
	// text/plain disagreements are noise.
	sniffed := detected.String()
	if !activeMIME(sniffed) {
		return Finding{}, false
	}
	return Finding{
		Type:        "CONTENT_TYPE_MISMATCH",
		Severity:    engine.SeverityHigh,
		Score:       55,
		Description: fmt.Sprintf("payload claims %s but sniffs as %s", claimed, sniffed),
		Context:     map[string]string{"claimed": claimed, "sniffed": sniffed},
	}, true
}

func activeMIME(mime string) bool {
	for _, prefix := range []string{
		"application/x-executable", "application/x-msdownload",
		"application/x-mach-binary", "application/x-elf",
		"application/vnd.microsoft.portable-executable",
		"application/x-sh", "application/zip", "application/x-java-archive",
		"text/html", "text/javascript", "application/javascript",
	} {
		if strings.HasPrefix(mime, prefix) {
			return true
		}
	}
	return false
}

func downloadName(ev engine.Event) string {
	if name := ev.String("filename"); name != "" {
		return name
	}
	raw := ev.String("url")
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return path.Base(u.Path)
}
