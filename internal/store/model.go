package store

import (
	"path/filepath"
	"regexp"
	"strings"
)

// PatternKind classifies a model-map or allowed-models key the way §9
// describes: syntactic, decided once at compile time, never re-sniffed per
// request.
type PatternKind int

const (
	PatternLiteral PatternKind = iota
	PatternWildcard
	PatternRegex
)

// Pattern is a compiled model-pattern key: a literal string, a shell-style
// wildcard, or an anchored regular expression. Exactly one of the three
// representations is populated, per Kind.
type Pattern struct {
	Kind    PatternKind
	Raw     string
	literal string
	wild    string
	re      *regexp.Regexp
}

// looksLikeRegex reports whether raw contains the metacharacter sequences
// that mark it as a regex rather than a literal or single-wildcard pattern:
// ".*", ".+", or an alternation group "(...|...)".
func looksLikeRegex(raw string) bool {
	if strings.Contains(raw, ".*") || strings.Contains(raw, ".+") {
		return true
	}
	if i := strings.Index(raw, "("); i >= 0 {
		if j := strings.Index(raw[i:], ")"); j >= 0 && strings.Contains(raw[i:i+j], "|") {
			return true
		}
	}
	return false
}

// CompilePattern classifies and compiles a single model-map/allowed-model
// key. Compilation happens once, at snapshot construction — never per
// request.
func CompilePattern(raw string) (Pattern, error) {
	switch {
	case looksLikeRegex(raw):
		anchored := raw
		if !strings.HasPrefix(anchored, "^") {
			anchored = "^" + anchored
		}
		if !strings.HasSuffix(anchored, "$") {
			anchored = anchored + "$"
		}
		re, err := regexp.Compile(anchored)
		if err != nil {
			return Pattern{}, err
		}
		return Pattern{Kind: PatternRegex, Raw: raw, re: re}, nil
	case strings.Contains(raw, "*"):
		return Pattern{Kind: PatternWildcard, Raw: raw, wild: raw}, nil
	default:
		return Pattern{Kind: PatternLiteral, Raw: raw, literal: raw}, nil
	}
}

// Match reports whether name matches this pattern under the pattern's own
// semantics (exact equality, shell-glob, or anchored full regex match).
func (p Pattern) Match(name string) bool {
	switch p.Kind {
	case PatternLiteral:
		return p.literal == name
	case PatternWildcard:
		ok, err := filepath.Match(p.wild, name)
		return err == nil && ok
	case PatternRegex:
		return p.re.MatchString(name)
	default:
		return false
	}
}

// ModelMapEntry is one ordered entry in a Provider's model map: a compiled
// client-facing pattern plus the upstream model name it maps to.
type ModelMapEntry struct {
	Pattern      Pattern
	UpstreamName string
}

// ModelMap is the ordered, compiled form of Provider.model_map. Lookup
// follows invariant 2: an exact (literal) match wins outright; otherwise
// the first pattern entry (wildcard or regex) in declaration order that
// matches wins.
type ModelMap struct {
	entries []ModelMapEntry
}

// NewModelMap compiles raw (pattern -> upstream name) pairs, preserving
// declaration order.
func NewModelMap(raw []struct{ Pattern, Upstream string }) (ModelMap, error) {
	mm := ModelMap{entries: make([]ModelMapEntry, 0, len(raw))}
	for _, r := range raw {
		p, err := CompilePattern(r.Pattern)
		if err != nil {
			return ModelMap{}, err
		}
		mm.entries = append(mm.entries, ModelMapEntry{Pattern: p, UpstreamName: r.Upstream})
	}
	return mm, nil
}

// Resolve implements invariant 2 / §4.3 step 4: exact match first, then the
// first matching pattern in declaration order. ok is false if nothing
// matches.
func (mm ModelMap) Resolve(name string) (upstream string, ok bool) {
	for _, e := range mm.entries {
		if e.Pattern.Kind == PatternLiteral && e.Pattern.literal == name {
			return e.UpstreamName, true
		}
	}
	for _, e := range mm.entries {
		if e.Pattern.Kind != PatternLiteral && e.Pattern.Match(name) {
			return e.UpstreamName, true
		}
	}
	return "", false
}

// Matches reports whether name matches any entry, without returning the
// mapped value — used by the Selector's eligibility filter.
func (mm ModelMap) Matches(name string) bool {
	_, ok := mm.Resolve(name)
	return ok
}

// ExactKeys returns the literal (non-pattern) keys only, in declaration
// order — used by all_models() per the Open Question decision to list
// exact keys only (§9, DESIGN.md).
func (mm ModelMap) ExactKeys() []string {
	var out []string
	for _, e := range mm.entries {
		if e.Pattern.Kind == PatternLiteral {
			out = append(out, e.Pattern.literal)
		}
	}
	return out
}

// Protocol is the wire protocol a Provider speaks.
type Protocol string

const (
	ProtocolOpenAI             Protocol = "openai"
	ProtocolAnthropic          Protocol = "anthropic"
	ProtocolGCPVertexAnthropic Protocol = "gcp-vertex-anthropic"
	ProtocolResponseAPI        Protocol = "response-api"
)

// VertexParams holds the GCP-Vertex-specific addressing fields a Provider
// needs when its Protocol is ProtocolGCPVertexAnthropic.
type VertexParams struct {
	Project   string
	Location  string
	Publisher string
}

// Provider is an upstream endpoint, per §3.
type Provider struct {
	ID       string
	Name     string
	Protocol Protocol
	BaseURL  string
	APIKey   string
	Weight   int
	Enabled  bool
	ModelMap ModelMap

	AnthropicVersion string // optional, Anthropic/Vertex only
	Vertex           VertexParams
}

// RateLimit is a credential's optional rate-limit spec.
type RateLimit struct {
	RequestsPerSecond int
	BurstSize         int
}

// Credential is a client-facing API key, per §3. RawKey is never persisted
// or compared directly — only KeyHash (SHA-256 hex) is stored and matched.
type Credential struct {
	ID            string
	Name          string
	KeyHash       string
	AllowedModels []Pattern
	RateLimit     *RateLimit
	Enabled       bool
}

// AllowsModel implements §4.2 step 5: empty allow-list means all models are
// permitted; otherwise exact-pattern match (literal equality counts as a
// pattern match here too) against any entry, anchored full match for
// regex/wildcard entries.
func (c Credential) AllowsModel(model string) bool {
	if len(c.AllowedModels) == 0 {
		return true
	}
	for _, p := range c.AllowedModels {
		if p.Kind == PatternLiteral && p.literal == model {
			return true
		}
	}
	for _, p := range c.AllowedModels {
		if p.Kind != PatternLiteral && p.Match(model) {
			return true
		}
	}
	return false
}
