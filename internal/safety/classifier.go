// Package safety provides real-time crisis detection for companion
// chat messages and the crisis-resource directory.
package safety

import (
	"context"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/everkeep/companion-platform/pkg/logging"
)

var classifierTracer = otel.Tracer("companion/crisis-classifier")

// CrisisTier is the severity bucket assigned to a single message.
type CrisisTier int

const (
	TierNone        CrisisTier = 0
	TierImmediate   CrisisTier = 1
	TierHighConcern CrisisTier = 2
	TierMonitor     CrisisTier = 3
)

// CrisisAction is the recommended caller action for a classification.
type CrisisAction string

const (
	ActionNone           CrisisAction = "none"
	ActionLog            CrisisAction = "log"
	ActionOfferResources CrisisAction = "offer_resources"
	ActionShowResources  CrisisAction = "show_resources"
)

// CrisisResult is the immutable outcome of classifying one message.
type CrisisResult struct {
	Tier              CrisisTier   `json:"tier"`
	MatchedRuleIDs    []string     `json:"matched_rule_ids,omitempty"`
	Action            CrisisAction `json:"action"`
	SuggestedResponse string       `json:"suggested_response,omitempty"`
}

// IsCrisis reports whether the message counts as a crisis event
// (tier 1 or 2). Tier 3 is monitoring-only.
func (r CrisisResult) IsCrisis() bool {
	return r.Tier == TierImmediate || r.Tier == TierHighConcern
}

// RuleInfo describes one declared rule, for coverage auditing.
type RuleInfo struct {
	ID   string     `json:"id"`
	Tier CrisisTier `json:"tier"`
}

type crisisRule struct {
	id      string
	pattern string
	regex   *regexp.Regexp
}

// tierSpec declares a tier's rule list and its matching behavior.
// Rule order within a tier is the priority order. Tiers 1-2 stop at
// the first hit; tier 3 collects every matching rule so downstream
// analysis sees the full evidence set.
type tierSpec struct {
	tier     CrisisTier
	matchAll bool
	rules    []crisisRule
}

// Rule table. Strictly ordered: tier 1 is evaluated first, and within
// a tier the list order decides which rule wins a simultaneous match.
var ruleTable = []struct {
	tier     CrisisTier
	matchAll bool
	rules    []struct{ id, pattern string }
}{
	{
		tier: TierImmediate,
		rules: []struct{ id, pattern string }{
			{"t1_suicide", `(?i)\b(suicide|suicidal)\b`},
			{"t1_kill_myself", `(?i)\bkill(ing)?\s+myself\b`},
			{"t1_want_to_die", `(?i)\b(want|wish|wanna)\s+to\s+(die|be\s+dead)\b`},
			{"t1_wish_dead", `(?i)\bwish\s+i\s+(was|were)\s+dead\b`},
			{"t1_end_it_all", `(?i)\bend\s+(it\s+all|my\s+life)\b`},
			{"t1_self_harm", `(?i)\b(hurt(ing)?|harm(ing)?|cut(ting)?)\s+myself\b`},
			{"t1_no_reason_to_live", `(?i)\bno\s+reason\s+to\s+(live|keep\s+going)\b`},
			{"t1_better_off_dead", `(?i)\bbetter\s+off\s+(dead|without\s+me)\b`},
		},
	},
	{
		tier: TierHighConcern,
		rules: []struct{ id, pattern string }{
			{"t2_nothing_matters", `(?i)\bnothing\s+matters\b`},
			{"t2_whats_the_point", `(?i)\bwhat'?s\s+the\s+point\b`},
			{"t2_cant_go_on", `(?i)\bcan'?t\s+(go\s+on|do\s+this\s+anymore|take\s+(it|this)\s+anymore)\b`},
			{"t2_hopeless", `(?i)\b(hopeless|no\s+hope)\b`},
			{"t2_giving_up", `(?i)\bgiv(e|ing)\s+up\s+on\s+(life|everything)\b`},
			{"t2_no_point", `(?i)\bno\s+point\s+(in\s+)?(anything|living|anymore)\b`},
			{"t2_cant_live_without", `(?i)\bcan'?t\s+live\s+without\b`},
		},
	},
	{
		tier:     TierMonitor,
		matchAll: true,
		rules: []struct{ id, pattern string }{
			{"t3_lonely", `(?i)\b(lonely|loneliness|so\s+alone)\b`},
			{"t3_nobody_understands", `(?i)\b(nobody|no\s+one)\s+(understands|cares|listens)\b`},
			{"t3_miss_so_much", `(?i)\bmiss\s+(him|her|them|you)\s+so\s+much\b`},
			{"t3_feel_empty", `(?i)\bfeel(ing)?\s+(so\s+)?(empty|numb|lost)\b`},
			{"t3_cant_sleep", `(?i)\bcan'?t\s+(sleep|eat|stop\s+crying)\b`},
			{"t3_crying", `(?i)\bcry(ing)?\s+(all|every)\s+(day|night|the\s+time)\b`},
			{"t3_overwhelmed", `(?i)\b(overwhelmed|can'?t\s+cope)\b`},
		},
	},
}

var dismissalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bjust\s+(kidding|joking|a\s+joke)\b`),
	regexp.MustCompile(`(?i)\bi'?m\s+(fine|ok(ay)?)\b`),
	regexp.MustCompile(`(?i)\bdidn'?t\s+mean\s+(it|that)\b`),
	regexp.MustCompile(`(?i)\bnot\s+(being\s+)?serious\b`),
	regexp.MustCompile(`(?i)\bforget\s+(i|what\s+i)\s+said\b`),
}

const (
	immediateResponse = "I'm really concerned about what you just shared. You don't have to face this alone - there are people who want to help right now. Would it be okay if I showed you some support resources? If you're in immediate danger, please call or text 988."

	highConcernResponse = "It sounds like you're carrying something very heavy right now. Those feelings are real, and you deserve support with them. I can share some resources with people who are good at listening, if you'd like."
)

// Classifier scans user messages against the tiered crisis rule table.
// It is stateless; Classify is pure aside from tracing and logging.
type Classifier struct {
	logger *logging.Logger
	tiers  []tierSpec
}

// NewClassifier compiles the rule table into a classifier.
func NewClassifier(logger *logging.Logger) *Classifier {
	if logger == nil {
		logger = logging.Default()
	}

	c := &Classifier{logger: logger.Component("crisis-classifier")}
	for _, t := range ruleTable {
		spec := tierSpec{tier: t.tier, matchAll: t.matchAll}
		for _, r := range t.rules {
			spec.rules = append(spec.rules, crisisRule{
				id:      r.id,
				pattern: r.pattern,
				regex:   regexp.MustCompile(r.pattern),
			})
		}
		c.tiers = append(c.tiers, spec)
	}
	return c
}

// Classify assigns a crisis tier to a single user message. It is
// total: empty or unmatched input returns tier 0, never an error.
func (c *Classifier) Classify(ctx context.Context, message string) CrisisResult {
	_, span := classifierTracer.Start(ctx, "safety.classify")
	defer span.End()

	message = strings.TrimSpace(message)
	if message == "" {
		return CrisisResult{Tier: TierNone, Action: ActionNone}
	}

	for _, tier := range c.tiers {
		var matched []string
		for _, rule := range tier.rules {
			if rule.regex.MatchString(message) {
				matched = append(matched, rule.id)
				if !tier.matchAll {
					break
				}
			}
		}
		if len(matched) == 0 {
			continue
		}

		result := CrisisResult{
			Tier:              tier.tier,
			MatchedRuleIDs:    matched,
			Action:            actionForTier(tier.tier),
			SuggestedResponse: responseForTier(tier.tier),
		}

		span.SetAttributes(
			attribute.Int("crisis.tier", int(result.Tier)),
			attribute.String("crisis.action", string(result.Action)),
			attribute.StringSlice("crisis.rule_ids", result.MatchedRuleIDs),
		)

		// Rule ids only. Message content never reaches logs.
		c.logger.Info("crisis indicators detected",
			"tier", int(result.Tier),
			"action", result.Action,
			"rule_ids", result.MatchedRuleIDs,
		)

		return result
	}

	return CrisisResult{Tier: TierNone, Action: ActionNone}
}

// IsDismissingCrisis detects retraction phrasing after a crisis
// response ("just kidding", "I'm fine"). Callers may soften their
// follow-up, but recorded crisis results are never downgraded.
func (c *Classifier) IsDismissingCrisis(message string) bool {
	message = strings.TrimSpace(message)
	if message == "" {
		return false
	}
	for _, p := range dismissalPatterns {
		if p.MatchString(message) {
			return true
		}
	}
	return false
}

// Rules returns the declared rule table in evaluation order.
func (c *Classifier) Rules() []RuleInfo {
	var out []RuleInfo
	for _, tier := range c.tiers {
		for _, rule := range tier.rules {
			out = append(out, RuleInfo{ID: rule.id, Tier: tier.tier})
		}
	}
	return out
}

func actionForTier(tier CrisisTier) CrisisAction {
	switch tier {
	case TierImmediate:
		return ActionShowResources
	case TierHighConcern:
		return ActionOfferResources
	case TierMonitor:
		return ActionLog
	default:
		return ActionNone
	}
}

func responseForTier(tier CrisisTier) string {
	switch tier {
	case TierImmediate:
		return immediateResponse
	case TierHighConcern:
		return highConcernResponse
	default:
		return ""
	}
}
