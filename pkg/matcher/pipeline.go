// Package matcher runs the dictionary, skill and semantic signals over a
// posting and turns them into one auditable result.
package matcher

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/japaniel/occumatch/pkg/dictionary"
	"github.com/japaniel/occumatch/pkg/fusion"
	"github.com/japaniel/occumatch/pkg/logger"
	"github.com/japaniel/occumatch/pkg/matcherr"
	"github.com/japaniel/occumatch/pkg/posting"
	"github.com/japaniel/occumatch/pkg/skills"
	"github.com/japaniel/occumatch/pkg/telemetry"
)

const maxAlternatives = 3

var tracer = telemetry.Tracer("github.com/japaniel/occumatch/pkg/matcher")

// Pipeline is the dictionary → skills → semantic → fusion strategy. The
// rule set is what distinguishes one version from another.
type Pipeline struct {
	name   string
	res    Resources
	params Params
	rules  []fusion.Rule
	log    *zap.Logger
}

// NewPipeline validates the parameters and builds a pipeline.
func NewPipeline(name string, res Resources, p Params, rules []fusion.Rule, log *zap.Logger) (*Pipeline, error) {
	if res.Snapshot == nil || res.Dictionary == nil || res.Skills == nil {
		return nil, matcherr.Config("pipeline needs a snapshot, a dictionary and a skill matcher", nil)
	}
	if err := p.Weights.Validate(); err != nil {
		return nil, matcherr.Config("weights", err)
	}
	if err := p.Thresholds.Validate(); err != nil {
		return nil, matcherr.Config("thresholds", err)
	}
	if p.TopK < 1 {
		p.TopK = 1
	}
	if p.Version == "" {
		p.Version = name
	}
	pl := &Pipeline{name: name, res: res, params: p, rules: rules, log: logger.OrNop(log)}
	pl.log.Debug("strategy built", zap.String("strategy", name), zap.String("matching_version", p.Version),
		zap.String("rules", fusion.RuleNames(rules)))
	return pl, nil
}

func (p *Pipeline) Name() string { return p.name }

// Version returns the persisted matching version.
func (p *Pipeline) Version() string { return p.params.Version }

// signals are the per-posting intermediate results shared by every path.
type signals struct {
	title   string
	attrs   posting.Attributes
	skills  []skills.Match
	profile skills.Profile
	query   []float32
	ranked  []fusion.Candidate
}

// Match runs every signal over rec and decides the result. It never fails:
// problems are reported through State and ErrorKind.
func (p *Pipeline) Match(ctx context.Context, rec posting.Record) Result {
	_, span := tracer.Start(ctx, "matcher.match")
	defer span.End()

	rec = posting.Sanitize(rec)
	res := Result{
		PostingID:       rec.Posting.ID,
		MatchingVersion: p.params.Version,
		Strategy:        p.name,
		Trace:           []fusion.State{fusion.StatePending},
	}
	if err := posting.Validate(rec); err != nil {
		res = p.fail(res, err, fusion.StateNeedsReview, fusion.MethodNone)
		p.annotate(span, res)
		return res
	}

	hit, bypass, dictErr := p.res.Dictionary.Match(rec.Title())
	sig := p.collect(rec)

	switch {
	case dictErr != nil:
		res = p.fail(res, dictErr, fusion.StateNeedsReview, fusion.MethodDictionary)
		res.Alternatives = top(sig.ranked, "", maxAlternatives)
		res.Skills = p.res.Skills.Classify(sig.skills, "")
	case bypass:
		res = p.bypass(res, hit, sig)
	default:
		res = p.score(res, sig)
	}
	p.annotate(span, res)
	return res
}

func (p *Pipeline) annotate(span trace.Span, res Result) {
	span.SetAttributes(
		attribute.String("posting.id", res.PostingID),
		attribute.String("match.state", string(res.State)),
		attribute.String("match.code", res.OccupationCode),
		attribute.String("match.method", res.Method),
		attribute.Float64("match.final_score", res.FinalScore),
	)
}

func (p *Pipeline) fail(res Result, err error, state fusion.State, method string) Result {
	res.ErrorKind = matcherr.KindOf(err)
	res.Message = err.Error()
	res.Method = method
	res.State = state
	res.RequiresReview = state == fusion.StateNeedsReview
	res.Trace = append(res.Trace, state)
	p.log.Info("posting not resolved", append(logger.Posting(res.PostingID, res.MatchingVersion),
		zap.String("state", string(state)), zap.String("err", string(res.ErrorKind)))...)
	return res
}

// collect runs the skill and semantic signals and ranks their union.
func (p *Pipeline) collect(rec posting.Record) signals {
	attrs := rec.Attrs()
	sig := signals{title: rec.Title(), attrs: attrs}
	sig.skills = p.res.Skills.Extract(sig.title, attrs.Tasks, attrs.TechnicalSkills, attrs.SoftSkills)
	sig.profile = skills.NewProfile(sig.skills)

	codes := map[string]bool{}
	var order []string
	addCode := func(code string) {
		if !codes[code] {
			codes[code] = true
			order = append(order, code)
		}
	}
	for _, c := range p.res.Skills.Candidates(sig.profile) {
		addCode(c.Code)
	}
	if p.res.Index != nil {
		if q, ok := p.res.Index.QueryVector(p.queryText(rec), attrs.TitleEmbedding); ok {
			sig.query = q
			for _, c := range p.res.Index.TopK(q, p.params.TopK) {
				addCode(c.Code)
			}
		}
	}

	for _, code := range order {
		sig.ranked = append(sig.ranked, p.candidate(sig, code))
	}
	fusion.Sort(sig.ranked)
	return sig
}

func (p *Pipeline) queryText(rec posting.Record) string {
	title := rec.Title()
	if !p.params.UseDescription || rec.Posting.Description == "" {
		return title
	}
	excerpt := posting.Excerpt(posting.PlainText(rec.Posting.Description), p.params.ExcerptChars)
	if excerpt == "" {
		return title
	}
	return strings.TrimSpace(title + " " + excerpt)
}

func (p *Pipeline) candidate(sig signals, code string) fusion.Candidate {
	occ, _ := p.res.Snapshot.Occupation(code)
	c := fusion.Candidate{
		Code:        code,
		Label:       occ.Label,
		Skills:      p.res.Skills.Score(sig.profile, code),
		TextOverlap: fusion.TextOverlap(sig.title, occ),
	}
	if sig.query != nil {
		c.Semantic = p.res.Index.Score(sig.query, code)
	}
	c.Fused = p.params.Weights.Fuse(c.Skills, c.Semantic, c.TextOverlap)
	return c
}

func (p *Pipeline) ruleContext(sig signals) fusion.Context {
	return fusion.Context{
		Title:           sig.title,
		Seniority:       sig.attrs.Seniority,
		HasSubordinates: sig.attrs.Subordinates(),
		FunctionalArea:  sig.attrs.FunctionalArea,
		Sector:          sig.attrs.Sector,
	}
}

// bypass accepts the dictionary code. Rules may only ask for review.
func (p *Pipeline) bypass(res Result, hit dictionary.Match, sig signals) Result {
	res.Trace = append(res.Trace, fusion.StateBypassed)
	c := p.candidate(sig, hit.Code)
	c.Fused = hit.Confidence

	d := &fusion.Decision{Candidates: []fusion.Candidate{c}, Locked: true}
	fusion.Apply(p.rules, p.ruleContext(sig), d)

	res.OccupationCode = hit.Code
	res.OccupationLabel = hit.Label
	res.Scores = Scores{Dictionary: hit.Confidence, Skills: c.Skills, Semantic: c.Semantic, TextOverlap: c.TextOverlap}
	res.FinalScore = hit.Confidence
	res.Method = fusion.MethodDictionary
	version := hit.Entry.Version
	if version == 0 {
		version = p.res.DictionaryVersion
	}
	res.Dictionary = &DictionaryHit{EntryID: hit.Entry.ID, Pattern: hit.Pattern, Version: version, Confidence: hit.Confidence}
	res.Rules = d.Applied
	res.RequiresReview = d.RequiresReview
	res.Alternatives = top(sig.ranked, hit.Code, maxAlternatives)
	res.Skills = p.res.Skills.Classify(sig.skills, hit.Code)
	if d.RequiresReview {
		res.State = fusion.StateNeedsReview
	} else {
		res.State = fusion.StateConfirmed
		res.Confirmed = true
	}
	res.Trace = append(res.Trace, res.State)
	p.logResult(res)
	return res
}

// score fuses the candidates, applies the rules and the thresholds.
func (p *Pipeline) score(res Result, sig signals) Result {
	res.Trace = append(res.Trace, fusion.StateScored)
	if len(sig.ranked) == 0 {
		res = p.fail(res, matcherr.NoCandidate("no skill or semantic candidate for "+sig.title), fusion.StateUnmatched, fusion.MethodNone)
		res.Skills = p.res.Skills.Classify(sig.skills, "")
		return res
	}

	d := &fusion.Decision{Candidates: append([]fusion.Candidate(nil), sig.ranked...)}
	fusion.Apply(p.rules, p.ruleContext(sig), d)
	win, _ := d.Winner()

	res.Scores = Scores{Skills: win.Skills, Semantic: win.Semantic, TextOverlap: win.TextOverlap}
	res.FinalScore = win.Fused
	res.Method = win.Method()
	res.Rules = d.Applied
	res.RequiresReview = d.RequiresReview
	res.Alternatives = top(d.Candidates, win.Code, maxAlternatives)
	res.State = p.params.Thresholds.State(win.Fused, d.RequiresReview)
	switch res.State {
	case fusion.StateUnmatched:
		res.Skills = p.res.Skills.Classify(sig.skills, "")
		res.Message = "best candidate " + win.Code + " below floor"
	default:
		res.OccupationCode = win.Code
		res.OccupationLabel = win.Label
		res.Confirmed = res.State == fusion.StateConfirmed
		res.RequiresReview = res.RequiresReview || res.State == fusion.StateNeedsReview
		res.Skills = p.res.Skills.Classify(sig.skills, win.Code)
	}
	res.Trace = append(res.Trace, res.State)
	p.logResult(res)
	return res
}

func (p *Pipeline) logResult(res Result) {
	p.log.Debug("posting matched", append(logger.Posting(res.PostingID, res.MatchingVersion),
		zap.String("state", string(res.State)), zap.String("code", res.OccupationCode),
		zap.String("method", res.Method), zap.Float64("final_score", res.FinalScore))...)
}

// top returns up to n candidates other than exclude, keeping their order.
func top(cands []fusion.Candidate, exclude string, n int) []fusion.Candidate {
	var out []fusion.Candidate
	for _, c := range cands {
		if c.Code == exclude {
			continue
		}
		out = append(out, c)
		if len(out) == n {
			break
		}
	}
	return out
}
