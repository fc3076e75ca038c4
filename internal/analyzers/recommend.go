package analyzers

import (
	"errors"
	"log/slog"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/nestling/internal/models"
)

// RecommendationTable maps pattern types to the advice attached to a result.
type RecommendationTable struct {
	rules  map[models.PatternType]Rule
	logger *slog.Logger
}

// Rule represents a single pattern-to-recommendation entry.
type Rule struct {
	Pattern    models.PatternType `yaml:"pattern"`
	Category   string             `yaml:"category"`
	Suggestion string             `yaml:"suggestion"`
	Priority   int                `yaml:"priority"`
}

// RuleConfigFile is the YAML root structure.
type RuleConfigFile struct {
	Rules []Rule `yaml:"rules"`
}

var keepHabits = models.Recommendation{
	Category:   "general",
	Suggestion: "Current habits look healthy; keep the existing routine going.",
	Priority:   3,
}

func defaultRules() []Rule {
	return []Rule{
		{Pattern: models.PatternShortNightSleep, Category: "sleep_duration", Suggestion: "Night sleep is shorter than recommended; try moving bedtime 15-30 minutes earlier.", Priority: 1},
		{Pattern: models.PatternLongNightSleep, Category: "sleep_duration", Suggestion: "Night sleep is unusually long; mention it at the next pediatric check-up if it persists.", Priority: 2},
		{Pattern: models.PatternFrequentInterruptions, Category: "sleep_environment", Suggestion: "Frequent night wakings; check room temperature, noise and light, and review late feedings.", Priority: 1},
		{Pattern: models.PatternIrregularSleepSchedule, Category: "schedule", Suggestion: "Sleep start times vary a lot; a consistent bedtime ritual helps settle the schedule.", Priority: 2},
		{Pattern: models.PatternIrregularFeeding, Category: "feeding", Suggestion: "Feeding times are irregular; try offering feeds at more predictable intervals.", Priority: 2},
		{Pattern: models.PatternInsufficient, Category: "data", Suggestion: "Keep logging sleep, feeding and activities so clearer patterns can emerge.", Priority: 3},
	}
}

// DefaultRecommendationTable returns the built-in table.
func DefaultRecommendationTable() *RecommendationTable {
	t := &RecommendationTable{rules: make(map[models.PatternType]Rule), logger: slog.Default()}
	for _, r := range defaultRules() {
		t.rules[r.Pattern] = r
	}
	return t
}

// LoadRecommendationTable layers rules from the YAML file at path over the defaults.
// An empty path or a missing file yields the defaults.
func LoadRecommendationTable(path string, logger *slog.Logger) (*RecommendationTable, error) {
	table := DefaultRecommendationTable()
	if logger != nil {
		table.logger = logger
	}
	if path == "" {
		return table, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return table, nil
		}
		return nil, err
	}
	var cfg RuleConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	for _, rule := range cfg.Rules {
		if rule.Pattern == "" || rule.Suggestion == "" {
			table.logger.Warn("skipping incomplete recommendation rule", slog.String("pattern", string(rule.Pattern)))
			continue
		}
		table.rules[rule.Pattern] = rule
	}
	return table, nil
}

// Recommend looks up advice for the given patterns, ordered by priority.
// When no pattern maps to a rule a single generic recommendation is returned.
func (t *RecommendationTable) Recommend(patterns []models.Pattern) []models.Recommendation {
	if t == nil {
		t = DefaultRecommendationTable()
	}

	matched := make([]models.Recommendation, 0, len(patterns))
	seen := make(map[models.PatternType]struct{}, len(patterns))
	for _, p := range patterns {
		if _, ok := seen[p.Type]; ok {
			continue
		}
		seen[p.Type] = struct{}{}
		rule, ok := t.rules[p.Type]
		if !ok {
			continue
		}
		matched = append(matched, models.Recommendation{
			Category:   rule.Category,
			Suggestion: rule.Suggestion,
			Priority:   rule.Priority,
		})
	}
	if len(matched) == 0 {
		return []models.Recommendation{keepHabits}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority < matched[j].Priority
	})
	return matched
}
