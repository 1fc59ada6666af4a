package matcher

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/japaniel/occumatch/pkg/dictionary"
	"github.com/japaniel/occumatch/pkg/fusion"
	"github.com/japaniel/occumatch/pkg/matcherr"
	"github.com/japaniel/occumatch/pkg/posting"
	"github.com/japaniel/occumatch/pkg/semantic"
	"github.com/japaniel/occumatch/pkg/skills"
	"github.com/japaniel/occumatch/pkg/taxonomy"
)

// DefaultStrategy is the strategy used when none is configured.
const DefaultStrategy = "v2"

// Strategy matches one posting. Implementations are safe for concurrent use.
type Strategy interface {
	Name() string
	Match(ctx context.Context, rec posting.Record) Result
}

// Resources are the immutable reference structures a strategy reads.
type Resources struct {
	Snapshot   *taxonomy.Snapshot
	Dictionary *dictionary.Matcher
	Skills     *skills.Matcher
	// Index may be nil, in which case the semantic signal is absent.
	Index *semantic.Index
	// DictionaryVersion is recorded on bypassed results whose entry carries
	// no version of its own.
	DictionaryVersion int
}

// Params are the calibration settings of a strategy.
type Params struct {
	// Version is the persisted matching_version; it defaults to the strategy name.
	Version        string
	Weights        fusion.Weights
	Thresholds     fusion.Thresholds
	TopK           int
	Rules          fusion.RuleConfig
	UseDescription bool
	ExcerptChars   int
}

// DefaultParams returns the stock calibration.
func DefaultParams() Params {
	return Params{
		Weights:      fusion.DefaultWeights(),
		Thresholds:   fusion.DefaultThresholds(),
		TopK:         3,
		Rules:        fusion.DefaultRuleConfig(),
		ExcerptChars: 200,
	}
}

// Factory builds a strategy from resources and parameters.
type Factory func(res Resources, p Params, log *zap.Logger) (Strategy, error)

// Registry maps strategy names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry holding the built-in strategies.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register("v1", func(res Resources, p Params, log *zap.Logger) (Strategy, error) {
		return NewPipeline("v1", res, p, []fusion.Rule{
			fusion.ManagerialConsistency{Penalty: p.Rules.ManagerialPenalty, Seniority: p.Rules.ManagerialSeniority},
		}, log)
	})
	_ = r.Register("v2", func(res Resources, p Params, log *zap.Logger) (Strategy, error) {
		return NewPipeline("v2", res, p, []fusion.Rule{
			fusion.FamilyConsistency{Families: p.Rules.Families},
			fusion.ManagerialConsistency{Penalty: p.Rules.ManagerialPenalty, Seniority: p.Rules.ManagerialSeniority},
			fusion.ManagerialEvidenceGuard{Penalty: p.Rules.ManagerialPenalty, Seniority: p.Rules.ManagerialSeniority,
				Keywords: p.Rules.ManagerialKeywords},
			fusion.EntryLevelGuard{Penalty: p.Rules.EntryPenalty, Keywords: p.Rules.EntryKeywords},
		}, log)
	})
	return r
}

// Register adds a factory. Names are unique.
func (r *Registry) Register(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name == "" || f == nil {
		return fmt.Errorf("strategy name and factory are required")
	}
	if _, dup := r.factories[name]; dup {
		return fmt.Errorf("strategy %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// Names lists the registered strategies in ascending order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// New builds the named strategy.
func (r *Registry) New(name string, res Resources, p Params, log *zap.Logger) (Strategy, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, matcherr.Config(fmt.Sprintf("unknown matching strategy %q (known: %v)", name, r.Names()), nil)
	}
	return f(res, p, log)
}
