// Package persona picks a narration persona from the text of a job.
package persona

import (
	"regexp"
	"strings"
)

// Persona ids. They double as caption style keys.
const (
	Energetic    = "energetic"
	Calm         = "calm"
	Storyteller  = "storyteller"
	Casual       = "casual"
	Professional = "professional"
)

// Rule maps a keyword pattern onto a persona. Rules are checked in order and the
// first match wins.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Persona string
}

func words(list ...string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(list, "|") + `)\b`)
}

// DefaultRules is the built-in classification table.
var DefaultRules = []Rule{
	{
		Name:    "energetic",
		Pattern: words("hype", "workout", "fitness", "gym", "challenge", "extreme", "fast", "epic", "insane", "crazy", "energy", "sports?", "hacks?", "viral"),
		Persona: Energetic,
	},
	{
		Name:    "calm",
		Pattern: words("calm", "relax(?:ing)?", "meditation", "sleep", "mindful(?:ness)?", "yoga", "peaceful", "slow", "asmr", "morning routine", "cozy"),
		Persona: Calm,
	},
	{
		Name:    "storyteller",
		Pattern: words("story", "stories", "legend", "history", "once upon", "tale", "myth", "journey", "mystery"),
		Persona: Storyteller,
	},
	{
		Name:    "investigative",
		Pattern: words("investigat(?:e|ion|ive)", "true crime", "unsolved", "exposed?", "secret", "truth", "documentary"),
		Persona: Calm,
	},
	{
		Name:    "casual",
		Pattern: words("vlog", "day in (?:the|my) life", "funny", "my", "friends?", "chill", "tips", "things i"),
		Persona: Casual,
	},
}

// Selector classifies text with an ordered rule table.
type Selector struct {
	rules    []Rule
	fallback string
}

// NewSelector returns a selector over rules; nil means DefaultRules.
func NewSelector(rules []Rule) *Selector {
	if rules == nil {
		rules = DefaultRules
	}
	return &Selector{rules: rules, fallback: Professional}
}

// Select returns the persona for the joined texts and the name of the rule that matched
// ("" for the fallback).
func (s *Selector) Select(texts ...string) (persona string, rule string) {
	joined := strings.Join(texts, "\n")
	for _, r := range s.rules {
		if r.Pattern.MatchString(joined) {
			return r.Persona, r.Name
		}
	}
	return s.fallback, ""
}
