package llmstream

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed config/profiles/default.yaml
var defaultProfileYAML []byte

// SanitizerProfile configures tool-name sanitization: the canonical verb
// list and namespace-marker conventions used to disambiguate colon-separated
// names across providers.
//
// The embedded defaults cover the providers seen in practice. Library users
// can override them by loading a custom YAML file with
// LoadSanitizerProfileFromFile or by passing a profile built in code to
// WithSanitizerProfile.
type SanitizerProfile struct {
	Version     string `yaml:"version"`
	LastUpdated string `yaml:"last_updated"`

	// CanonicalVerbs are provider-agnostic tool verbs; a colon-separated
	// name ending in one of these is namespace-prefixed.
	CanonicalVerbs []string `yaml:"canonical_verbs"`

	// NamespaceNames are literal first segments that mark API namespaces.
	NamespaceNames []string `yaml:"namespace_names"`

	// NamespaceSuffixes mark API namespaces by first-segment suffix.
	NamespaceSuffixes []string `yaml:"namespace_suffixes"`

	// ToolPrefixes identify a segment as the true tool name outright.
	ToolPrefixes []string `yaml:"tool_prefixes"`

	verbSet  map[string]struct{}
	nameSet  map[string]struct{}
	initOnce sync.Once
}

var (
	defaultProfile     *SanitizerProfile
	defaultProfileOnce sync.Once
)

// DefaultSanitizerProfile returns the embedded sanitizer profile.
func DefaultSanitizerProfile() *SanitizerProfile {
	defaultProfileOnce.Do(func() {
		profile, err := parseSanitizerProfile(defaultProfileYAML)
		if err != nil {
			// The embedded profile is validated by tests; an unparseable
			// embed would be a packaging bug. Fall back to an empty profile
			// rather than panicking in library code.
			profile = &SanitizerProfile{}
		}
		defaultProfile = profile
	})
	return defaultProfile
}

// LoadSanitizerProfileFromFile loads a custom sanitizer profile from YAML.
func LoadSanitizerProfileFromFile(path string) (*SanitizerProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sanitizer profile: %w", err)
	}
	return parseSanitizerProfile(data)
}

func parseSanitizerProfile(data []byte) (*SanitizerProfile, error) {
	var profile SanitizerProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse sanitizer profile YAML: %w", err)
	}
	return &profile, nil
}

func (p *SanitizerProfile) init() {
	p.initOnce.Do(func() {
		p.verbSet = make(map[string]struct{}, len(p.CanonicalVerbs))
		for _, v := range p.CanonicalVerbs {
			p.verbSet[v] = struct{}{}
		}
		p.nameSet = make(map[string]struct{}, len(p.NamespaceNames))
		for _, n := range p.NamespaceNames {
			p.nameSet[n] = struct{}{}
		}
	})
}

// functionsPrefix is stripped from raw tool names any number of times.
const functionsPrefix = "functions."

// suffixAnnotation matches provider-appended suffix segments: digits
// followed by a separator, e.g. "1_foo".
var suffixAnnotation = regexp.MustCompile(`^[0-9]+[_-]`)

// genericWordPair matches a generic word_word segment shape.
var genericWordPair = regexp.MustCompile(`^[A-Za-z0-9]+_[A-Za-z0-9]+$`)

// SanitizeToolName normalizes a raw tool name across provider prefixing and
// suffixing conventions. Providers disagree on what a colon means, so
// colon-separated names go through a disambiguation heuristic; names not
// covered by the known conventions keep their first segment. Formats outside
// those seen in practice are undefined behavior.
func (p *SanitizerProfile) SanitizeToolName(name string) string {
	p.init()

	for strings.HasPrefix(name, functionsPrefix) {
		name = strings.TrimPrefix(name, functionsPrefix)
	}

	if !strings.Contains(name, ":") {
		return name
	}

	segments := strings.Split(name, ":")

	// A segment carrying a known tool prefix is the true tool name; the
	// provider namespace-prefixed it (e.g. "default_api:mcp-filesystem_read").
	for _, segment := range segments {
		for _, prefix := range p.ToolPrefixes {
			if strings.HasPrefix(segment, prefix) {
				return segment
			}
		}
	}

	first := segments[0]
	last := segments[len(segments)-1]

	// Namespace-prefixed: keep the verb.
	if p.isCanonicalVerb(last) || p.isNamespaceMarker(first) {
		return last
	}

	// Suffix-annotated: the colon separates a provider-appended suffix.
	if suffixAnnotation.MatchString(last) || genericWordPair.MatchString(last) {
		return first
	}

	return first
}

func (p *SanitizerProfile) isCanonicalVerb(segment string) bool {
	_, ok := p.verbSet[segment]
	return ok
}

func (p *SanitizerProfile) isNamespaceMarker(segment string) bool {
	if _, ok := p.nameSet[segment]; ok {
		return true
	}
	for _, suffix := range p.NamespaceSuffixes {
		if strings.HasSuffix(segment, suffix) {
			return true
		}
	}
	return false
}
