package patterns

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"
	"github.com/goccy/go-yaml"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/browserwarden/warden/internal/logging"
)

// maxPackSize bounds a single rule pack file to keep a hostile or corrupt
// pack from exhausting memory at load time.
const maxPackSize = 1 * 1024 * 1024

// packFile is the YAML shape of one rule pack.
type packFile struct {
	Category string         `yaml:"category"`
	Weight   float64        `yaml:"weight"`
	Rules    []packRuleFile `yaml:"rules"`
}

type packRuleFile struct {
	ID          string  `yaml:"id"`
	Pattern     string  `yaml:"pattern"`
	Predicate   string  `yaml:"predicate"`
	Score       float64 `yaml:"score"`
	Description string  `yaml:"description"`
}

// remoteFile is the YAML shape of a remote rule bundle.
type remoteFile struct {
	Packs []packFile `yaml:"packs"`
}

func (pf packFile) toPack() (Pack, error) {
	if pf.Category == "" {
		return Pack{}, fmt.Errorf("pack missing category")
	}
	p := Pack{Category: Category(pf.Category), Weight: pf.Weight}
	for _, rf := range pf.Rules {
		var (
			rule Rule
			err  error
		)
		switch {
		case rf.Pattern != "":
			rule, err = NewRegexRule(rf.ID, p.Category, rf.Pattern, rf.Score, rf.Description)
		case rf.Predicate != "":
			rule, err = NewPredicateRule(rf.ID, p.Category, rf.Predicate, rf.Score, rf.Description)
		default:
			err = fmt.Errorf("rule %s: neither pattern nor predicate", rf.ID)
		}
		if err != nil {
			return Pack{}, err
		}
		p.Rules = append(p.Rules, rule)
	}
	return p, nil
}

// LoadDir walks dir and installs every *.yaml / *.yml rule pack found.
// The directory's packs replace whatever a previous LoadDir installed,
// so reloading never duplicates rules. A malformed pack is logged and
// skipped; a walk failure leaves the current rule set untouched.
func LoadDir(lib *Library, dir string, log *logging.Logger) error {
	conf := fastwalk.Config{Follow: false}

	var mu sync.Mutex
	var packs []Pack

	err := fastwalk.Walk(&conf, dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(p))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		data, readErr := os.ReadFile(p)
		if readErr != nil {
			log.Warn("failed to read rule pack", zap.String("path", p), zap.Error(readErr))
			return nil
		}
		if len(data) > maxPackSize {
			log.Warn("rule pack exceeds size limit, skipped", zap.String("path", p))
			return nil
		}

		var pf packFile
		if parseErr := yaml.Unmarshal(data, &pf); parseErr != nil {
			log.Warn("failed to parse rule pack", zap.String("path", p), zap.Error(parseErr))
			return nil
		}
		pack, packErr := pf.toPack()
		if packErr != nil {
			log.Warn("invalid rule pack, skipped", zap.String("path", p), zap.Error(packErr))
			return nil
		}

		mu.Lock()
		packs = append(packs, pack)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk rules dir: %w", err)
	}

	lib.ReplacePacks(sourceDir, packs)
	log.Info("rule packs loaded", zap.String("dir", dir), zap.Int("packs", len(packs)))
	return nil
}

// FetchRemote downloads a rule bundle and installs its packs, replacing
// whatever a previous fetch installed. Transient failures are retried; a
// bundle that cannot be fetched or parsed leaves the current rule set
// untouched.
func FetchRemote(ctx context.Context, lib *Library, url string, log *logging.Logger) error {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("invalid rules URL: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch remote rules: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("remote rules returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPackSize))
	if err != nil {
		return fmt.Errorf("failed to read remote rules: %w", err)
	}

	var rf remoteFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return fmt.Errorf("failed to parse remote rules: %w", err)
	}

	var packs []Pack
	for _, pf := range rf.Packs {
		pack, packErr := pf.toPack()
		if packErr != nil {
			log.Warn("invalid remote rule pack, skipped", zap.Error(packErr))
			continue
		}
		packs = append(packs, pack)
	}
	lib.ReplacePacks(sourceRemote, packs)

	log.Info("remote rule packs installed", zap.String("url", url), zap.Int("packs", len(packs)))
	return nil
}
