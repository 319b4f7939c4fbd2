package validation

import (
	"regexp"
	"strings"
)

// Reason explains a classification outcome. Values are stable metric labels.
type Reason string

const (
	ReasonOk               Reason = "ok"
	ReasonMathExpression   Reason = "math_expression"
	ReasonNoWeatherKeyword Reason = "no_weather_keyword"
	ReasonNoCityMention    Reason = "no_city_mention"
)

// ClassificationResult is the outcome of classifying one query.
// CityHint is a best-effort city phrase seen in the text; it never affects Accepted.
type ClassificationResult struct {
	Accepted bool   `json:"accepted"`
	Reason   Reason `json:"reason"`
	CityHint string `json:"cityHint,omitempty"`
}

// DefaultKeywords is the weather vocabulary matched as case-insensitive substrings.
var DefaultKeywords = []string{
	"weather", "temperature", "temp", "condition", "humidity", "wind",
	"rain", "snow", "sunny", "cloudy", "forecast", "hot", "cold",
	"climate", "degrees", "fahrenheit", "celsius", "precipitation",
	"how is it", "what's it like", "how is the weather", "tell me about",
}

// DefaultKnownCities are multi-word cities recognised regardless of capitalisation.
var DefaultKnownCities = []string{"new york", "los angeles", "san francisco", "san diego"}

// Policy configures the city and keyword heuristics.
type Policy struct {
	Keywords    []string
	KnownCities []string
	// PrepositionCities accepts any word following "in" or "about" as a city candidate.
	PrepositionCities bool
}

// DefaultPolicy returns the capitalised-word + known-city policy.
func DefaultPolicy() Policy {
	return Policy{
		Keywords:    DefaultKeywords,
		KnownCities: DefaultKnownCities,
	}
}

// LenientPolicy additionally accepts lowercase words after "in"/"about".
func LenientPolicy() Policy {
	p := DefaultPolicy()
	p.PrepositionCities = true
	return p
}

var (
	mathExprPattern       = regexp.MustCompile(`^[0-9\s+\-*/()]+$`)
	capitalizedPattern    = regexp.MustCompile(`\b[A-Z][a-z]+\b`)
	prepositionPattern    = regexp.MustCompile(`(?i)\b(?:in|about)\s+([a-z]+)`)
	hintPrepPattern       = regexp.MustCompile(`\b(?:[Ii]n|[Ff]or|[Aa]bout|[Aa]t)\s+`)
	hintPhrasePattern     = regexp.MustCompile(`^[A-Za-z][A-Za-z.'-]*(?:[ \t]+[A-Za-z][A-Za-z.'-]*)*`)
	capitalizedRunPattern = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)*\b`)
)

// hintStopWords are capitalised words that commonly open a question rather than name a place.
var hintStopWords = map[string]struct{}{
	"what": {}, "what's": {}, "whats": {}, "how": {}, "how's": {}, "hows": {}, "is": {}, "tell": {},
	"the": {}, "will": {}, "does": {}, "do": {}, "can": {}, "could": {}, "please": {},
	"give": {}, "show": {}, "weather": {}, "temperature": {}, "today": {}, "tomorrow": {},
	"hi": {}, "hello": {}, "hey": {}, "any": {}, "current": {}, "forecast": {},
}

// hintBreakWords end a city phrase: time words, prepositions and common filler.
var hintBreakWords = map[string]struct{}{
	"today": {}, "tomorrow": {}, "tonight": {}, "now": {}, "right": {}, "currently": {}, "later": {},
	"this": {}, "next": {}, "weekend": {}, "morning": {}, "afternoon": {}, "evening": {},
	"like": {}, "and": {}, "or": {}, "is": {}, "be": {}, "going": {}, "will": {}, "please": {},
	"in": {}, "for": {}, "about": {}, "at": {}, "on": {},
}

var hintArticles = map[string]struct{}{"the": {}, "a": {}, "an": {}}

// Classifier decides whether free text is an in-scope weather query.
// It is stateless and safe for concurrent use.
type Classifier struct {
	keywords    []string
	knownCities []string
	preposition bool
}

// NewClassifier returns a Classifier for the given policy. Empty lists fall back to defaults.
func NewClassifier(p Policy) *Classifier {
	c := &Classifier{preposition: p.PrepositionCities}
	c.keywords = lowerAll(p.Keywords)
	if len(c.keywords) == 0 {
		c.keywords = lowerAll(DefaultKeywords)
	}
	c.knownCities = lowerAll(p.KnownCities)
	if len(c.knownCities) == 0 {
		c.knownCities = lowerAll(DefaultKnownCities)
	}
	return c
}

var defaultClassifier = NewClassifier(DefaultPolicy())

// Classify classifies text with the default policy.
func Classify(text string) ClassificationResult {
	return defaultClassifier.Classify(text)
}

// Classify applies, in order: math-expression rejection, weather-keyword check, city check.
func (c *Classifier) Classify(text string) ClassificationResult {
	if isMathExpression(text) {
		return ClassificationResult{Reason: ReasonMathExpression}
	}
	lower := strings.ToLower(text)
	if !c.hasKeyword(lower) {
		return ClassificationResult{Reason: ReasonNoWeatherKeyword}
	}
	if !c.hasCity(text, lower) {
		return ClassificationResult{Reason: ReasonNoCityMention}
	}
	return ClassificationResult{Accepted: true, Reason: ReasonOk, CityHint: c.cityHint(text, lower)}
}

func isMathExpression(text string) bool {
	s := strings.TrimSpace(text)
	s = strings.TrimSpace(strings.TrimSuffix(s, "?"))
	return s != "" && mathExprPattern.MatchString(s)
}

func (c *Classifier) hasKeyword(lower string) bool {
	for _, kw := range c.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func (c *Classifier) hasCity(text, lower string) bool {
	if capitalizedPattern.MatchString(text) {
		return true
	}
	if c.knownCity(lower) != "" {
		return true
	}
	return c.preposition && prepositionPattern.MatchString(text)
}

func (c *Classifier) knownCity(lower string) string {
	for _, city := range c.knownCities {
		if strings.Contains(lower, city) {
			return city
		}
	}
	return ""
}

// cityHint picks a known city first, then the phrase after a preposition,
// then the last capitalised run that is not a question word.
func (c *Classifier) cityHint(text, lower string) string {
	if city := c.knownCity(lower); city != "" {
		return titleCase(city)
	}
	preps := hintPrepPattern.FindAllStringIndex(text, -1)
	for i := len(preps) - 1; i >= 0; i-- {
		if hint := phraseHint(text[preps[i][1]:]); hint != "" {
			return hint
		}
	}
	runs := capitalizedRunPattern.FindAllString(text, -1)
	for i := len(runs) - 1; i >= 0; i-- {
		words := strings.Fields(runs[i])
		for len(words) > 0 {
			if _, stop := hintStopWords[strings.ToLower(words[0])]; !stop {
				break
			}
			words = words[1:]
		}
		if len(words) > 0 {
			return strings.Join(words, " ")
		}
	}
	return ""
}

// phraseHint takes the place name at the start of rest. Leading articles are dropped and
// the name continues while words keep the case of its first word.
func phraseHint(rest string) string {
	words := strings.Fields(hintPhrasePattern.FindString(rest))
	for len(words) > 0 {
		if _, ok := hintArticles[strings.ToLower(words[0])]; !ok {
			break
		}
		words = words[1:]
	}
	if len(words) == 0 {
		return ""
	}
	if _, stop := hintStopWords[strings.ToLower(words[0])]; stop {
		return ""
	}
	if _, stop := hintBreakWords[strings.ToLower(words[0])]; stop {
		return ""
	}
	capital := isUpperInitial(words[0])
	n := 1
	for ; n < len(words); n++ {
		w := words[n]
		if _, stop := hintBreakWords[strings.ToLower(w)]; stop || isUpperInitial(w) != capital {
			break
		}
	}
	return strings.Trim(strings.Join(words[:n], " "), ".'-")
}

func isUpperInitial(w string) bool {
	return w[0] >= 'A' && w[0] <= 'Z'
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
