// Package config reads the occumatch configuration through viper.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/japaniel/occumatch/pkg/events"
	"github.com/japaniel/occumatch/pkg/fusion"
	"github.com/japaniel/occumatch/pkg/matcher"
	"github.com/japaniel/occumatch/pkg/matcherr"
	"github.com/japaniel/occumatch/pkg/semantic"
	"github.com/japaniel/occumatch/pkg/skills"
)

// App is the config file base name and env prefix.
const App = "occumatch"

// Reference sources.
const (
	SourceFile = "file"
	SourceDB   = "db"
)

type Config struct {
	Database          string     `mapstructure:"database" json:"-"`
	ReferenceDir      string     `mapstructure:"reference-dir" json:"-"`
	ReferenceSource   string     `mapstructure:"reference-source" json:"reference_source"`
	DictionaryVersion int        `mapstructure:"dictionary-version" json:"dictionary_version"`
	Matching          Matching   `mapstructure:"matching" json:"matching"`
	Weights           Weights    `mapstructure:"weights" json:"weights"`
	Thresholds        Thresholds `mapstructure:"thresholds" json:"thresholds"`
	Semantic          Semantic   `mapstructure:"semantic" json:"semantic"`
	Skills            Skills     `mapstructure:"skills" json:"skills"`
	Rules             Rules      `mapstructure:"rules" json:"rules"`
	Batch             Batch      `mapstructure:"batch" json:"-"`
	NATS              NATS       `mapstructure:"nats" json:"-"`
	Telemetry         Telemetry  `mapstructure:"telemetry" json:"-"`
	Eval              Eval       `mapstructure:"eval" json:"-"`
}

type Matching struct {
	// Version keys persisted results. It defaults to the strategy name.
	Version  string `mapstructure:"version" json:"version"`
	Strategy string `mapstructure:"strategy" json:"strategy"`
}

type Weights struct {
	Skills      float64 `mapstructure:"skills" json:"skills"`
	Semantic    float64 `mapstructure:"semantic" json:"semantic"`
	TextOverlap float64 `mapstructure:"text-overlap" json:"text_overlap"`
}

type Thresholds struct {
	SkillSimilarity float64 `mapstructure:"skill-similarity" json:"skill_similarity"`
	Floor           float64 `mapstructure:"floor" json:"floor"`
	Confirm         float64 `mapstructure:"confirm" json:"confirm"`
}

type Semantic struct {
	TopK           int  `mapstructure:"top-k" json:"top_k"`
	Dims           int  `mapstructure:"dims" json:"dims"`
	UseDescription bool `mapstructure:"use-description" json:"use_description"`
	ExcerptChars   int  `mapstructure:"excerpt-chars" json:"excerpt_chars"`
}

type Skills struct {
	EssentialWeight float64 `mapstructure:"essential-weight" json:"essential_weight"`
	OptionalWeight  float64 `mapstructure:"optional-weight" json:"optional_weight"`
	MergePolicy     string  `mapstructure:"merge-policy" json:"merge_policy"`
	MaxCandidates   int     `mapstructure:"max-candidates" json:"max_candidates"`
}

type Rules struct {
	ManagerialPenalty   float64             `mapstructure:"managerial-penalty" json:"managerial_penalty"`
	EntryPenalty        float64             `mapstructure:"entry-penalty" json:"entry_penalty"`
	ManagerialSeniority []string            `mapstructure:"managerial-seniority" json:"managerial_seniority"`
	ManagerialKeywords  []string            `mapstructure:"managerial-keywords" json:"managerial_keywords"`
	EntryKeywords       []string            `mapstructure:"entry-keywords" json:"entry_keywords"`
	Families            []fusion.FamilyRule `mapstructure:"families" json:"families"`
}

type Batch struct {
	Workers       int           `mapstructure:"workers"`
	BatchSize     int           `mapstructure:"batch-size"`
	FlushInterval time.Duration `mapstructure:"flush-interval"`
}

type NATS struct {
	URL           string        `mapstructure:"url"`
	Subject       string        `mapstructure:"subject"`
	ResultSubject string        `mapstructure:"result-subject"`
	Queue         string        `mapstructure:"queue"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type Telemetry struct {
	CollectorURL string `mapstructure:"collector-url"`
}

type Eval struct {
	GoldSet string `mapstructure:"gold-set"`
}

// SetDefaults registers the stock value of every key on v.
func SetDefaults(v *viper.Viper) {
	w, th, rc, so := fusion.DefaultWeights(), fusion.DefaultThresholds(), fusion.DefaultRuleConfig(), skills.DefaultOptions()
	p := matcher.DefaultParams()

	v.SetDefault("database", App+".db")
	v.SetDefault("reference-dir", "reference")
	v.SetDefault("reference-source", SourceFile)
	v.SetDefault("dictionary-version", 0)
	v.SetDefault("matching.strategy", matcher.DefaultStrategy)
	v.SetDefault("matching.version", "")
	v.SetDefault("weights.skills", w.Skills)
	v.SetDefault("weights.semantic", w.Semantic)
	v.SetDefault("weights.text-overlap", w.TextOverlap)
	v.SetDefault("thresholds.skill-similarity", so.Threshold)
	v.SetDefault("thresholds.floor", th.Floor)
	v.SetDefault("thresholds.confirm", th.Confirm)
	v.SetDefault("semantic.top-k", p.TopK)
	v.SetDefault("semantic.dims", semantic.DefaultDims)
	v.SetDefault("semantic.use-description", false)
	v.SetDefault("semantic.excerpt-chars", p.ExcerptChars)
	v.SetDefault("skills.essential-weight", so.EssentialWeight)
	v.SetDefault("skills.optional-weight", so.OptionalWeight)
	v.SetDefault("skills.merge-policy", string(so.MergePolicy))
	v.SetDefault("skills.max-candidates", so.MaxCandidates)
	v.SetDefault("rules.managerial-penalty", rc.ManagerialPenalty)
	v.SetDefault("rules.entry-penalty", rc.EntryPenalty)
	v.SetDefault("rules.managerial-seniority", rc.ManagerialSeniority)
	v.SetDefault("rules.managerial-keywords", rc.ManagerialKeywords)
	v.SetDefault("rules.entry-keywords", rc.EntryKeywords)
	v.SetDefault("rules.families", rc.Families)
	v.SetDefault("batch.workers", 4)
	v.SetDefault("batch.batch-size", 50)
	v.SetDefault("batch.flush-interval", 100*time.Millisecond)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.subject", "postings.normalized")
	v.SetDefault("nats.result-subject", "postings.matched")
	v.SetDefault("nats.queue", App)
	v.SetDefault("nats.timeout", 5*time.Second)
	v.SetDefault("telemetry.collector-url", "")
	v.SetDefault("eval.gold-set", "gold/gold_set.json")
}

// BindEnv makes every key readable from OCCUMATCH_* variables, e.g.
// OCCUMATCH_WEIGHTS_TEXT_OVERLAP.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(strings.ToUpper(App))
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
}

// Load applies defaults, decodes v and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, matcherr.Config("decode configuration", err)
	}
	if cfg.Matching.Version == "" {
		cfg.Matching.Version = cfg.Matching.Strategy
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func unit(name string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s must be in [0,1], got %v", name, v)
	}
	return nil
}

// Validate checks every calibration value. Failures are Config errors.
func (c *Config) Validate() error {
	var problems []string
	add := func(err error) {
		if err != nil {
			problems = append(problems, err.Error())
		}
	}

	p := c.Params()
	add(p.Weights.Validate())
	add(unit("thresholds.floor", c.Thresholds.Floor))
	add(unit("thresholds.confirm", c.Thresholds.Confirm))
	add(unit("thresholds.skill-similarity", c.Thresholds.SkillSimilarity))
	add(p.Thresholds.Validate())
	add(unit("rules.managerial-penalty", c.Rules.ManagerialPenalty))
	add(unit("rules.entry-penalty", c.Rules.EntryPenalty))
	for _, f := range c.Rules.Families {
		add(f.Validate())
	}
	if c.Semantic.TopK < 1 {
		problems = append(problems, "semantic.top-k must be at least 1")
	}
	if c.Semantic.Dims < 1 {
		problems = append(problems, "semantic.dims must be at least 1")
	}
	if c.Skills.EssentialWeight <= c.Skills.OptionalWeight || c.Skills.OptionalWeight < 0 {
		problems = append(problems, "skills.essential-weight must exceed a non-negative skills.optional-weight")
	}
	if _, err := skills.ParseMergePolicy(c.Skills.MergePolicy); err != nil {
		add(err)
	}
	if !matcher.DefaultRegistry().Has(c.Matching.Strategy) {
		problems = append(problems, fmt.Sprintf("unknown matching.strategy %q", c.Matching.Strategy))
	}
	if c.ReferenceSource != SourceFile && c.ReferenceSource != SourceDB {
		problems = append(problems, fmt.Sprintf("reference-source must be %q or %q", SourceFile, SourceDB))
	}
	if c.Batch.Workers < 1 || c.Batch.BatchSize < 1 {
		problems = append(problems, "batch.workers and batch.batch-size must be positive")
	}

	if len(problems) > 0 {
		return matcherr.Config("invalid configuration: "+strings.Join(problems, "; "), nil)
	}
	return nil
}

// Params returns the strategy calibration.
func (c *Config) Params() matcher.Params {
	return matcher.Params{
		Version:        c.Matching.Version,
		Weights:        fusion.Weights{Skills: c.Weights.Skills, Semantic: c.Weights.Semantic, TextOverlap: c.Weights.TextOverlap},
		Thresholds:     fusion.Thresholds{Floor: c.Thresholds.Floor, Confirm: c.Thresholds.Confirm},
		TopK:           c.Semantic.TopK,
		UseDescription: c.Semantic.UseDescription,
		ExcerptChars:   c.Semantic.ExcerptChars,
		Rules: fusion.RuleConfig{
			ManagerialPenalty:   c.Rules.ManagerialPenalty,
			EntryPenalty:        c.Rules.EntryPenalty,
			ManagerialSeniority: c.Rules.ManagerialSeniority,
			ManagerialKeywords:  c.Rules.ManagerialKeywords,
			EntryKeywords:       c.Rules.EntryKeywords,
			Families:            c.Rules.Families,
		},
	}
}

// SkillOptions returns the skill matcher settings. The merge policy must
// have been validated.
func (c *Config) SkillOptions() skills.Options {
	policy, _ := skills.ParseMergePolicy(c.Skills.MergePolicy)
	return skills.Options{
		Threshold:       c.Thresholds.SkillSimilarity,
		MergePolicy:     policy,
		EssentialWeight: c.Skills.EssentialWeight,
		OptionalWeight:  c.Skills.OptionalWeight,
		MaxCandidates:   c.Skills.MaxCandidates,
	}
}

// Events returns the NATS listener settings.
func (c *Config) Events() events.Config {
	return events.Config{
		URL:           c.NATS.URL,
		Subject:       c.NATS.Subject,
		ResultSubject: c.NATS.ResultSubject,
		Queue:         c.NATS.Queue,
		Timeout:       c.NATS.Timeout,
	}
}

var fingerprintSpace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/japaniel/occumatch/config"))

// Fingerprint identifies the matching-relevant part of the configuration.
// Equal calibrations give equal fingerprints.
func (c *Config) Fingerprint() string {
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return uuid.NewSHA1(fingerprintSpace, data).String()
}
