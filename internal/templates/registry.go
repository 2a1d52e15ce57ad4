// Package templates holds the per-bank notification templates consulted by the
// field extractor before any generic strategy runs.
//
// Templates are data. They are loaded from YAML, either the set embedded in the
// binary or operator supplied files, and compiled once. A Registry is read-only
// after construction and is injected wherever it is needed, so tests build their
// own registry from literal Template values.
//
// Lookup matches the sender identity against each template's aliases:
//
//   - an alias containing "@" must equal the sender address
//   - an alias containing "." must equal the address domain or be a parent of it
//   - any other alias is searched for in the display name and the domain
//
// All comparisons are case-insensitive. When several templates match, the one
// with the highest priority wins and equal priorities are ordered by bank name.
package templates

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"golang-payment-matcher/pkg/errors"
)

//go:embed banks.yaml
var defaultTemplates []byte

// DefaultSource names the embedded template set in error messages
const DefaultSource = "embedded:banks.yaml"

// Rules describes where a bank puts each field
type Rules struct {
	AmountLabels    []string `yaml:"amount_labels" json:"amount_labels,omitempty"`
	NameLabels      []string `yaml:"name_labels" json:"name_labels,omitempty"`
	AccountLabels   []string `yaml:"account_labels" json:"account_labels,omitempty"`
	AmountPatterns  []string `yaml:"amount_patterns" json:"amount_patterns,omitempty"`
	NamePatterns    []string `yaml:"name_patterns" json:"name_patterns,omitempty"`
	AccountPatterns []string `yaml:"account_patterns" json:"account_patterns,omitempty"`
}

// Template is one bank's notification layout
type Template struct {
	Bank     string   `yaml:"bank" json:"bank"`
	Aliases  []string `yaml:"aliases" json:"aliases"`
	Priority int      `yaml:"priority" json:"priority"`
	Active   *bool    `yaml:"active" json:"active,omitempty"`
	Rules    Rules    `yaml:"rules" json:"rules"`

	amount  []*regexp.Regexp
	name    []*regexp.Regexp
	account []*regexp.Regexp
}

// IsActive reports whether the template takes part in lookups; templates are
// active unless explicitly disabled
func (t *Template) IsActive() bool {
	return t.Active == nil || *t.Active
}

// AmountPatterns returns the compiled amount patterns
func (t *Template) AmountPatterns() []*regexp.Regexp { return t.amount }

// NamePatterns returns the compiled name patterns
func (t *Template) NamePatterns() []*regexp.Regexp { return t.name }

// AccountPatterns returns the compiled account patterns
func (t *Template) AccountPatterns() []*regexp.Regexp { return t.account }

type file struct {
	Templates []Template `yaml:"templates"`
}

// Registry is an immutable, priority ordered set of compiled templates
type Registry struct {
	templates []*Template
}

// New compiles and validates the given templates. Every invalid template is
// reported in one invalid_template error wrapping an *errors.ErrorSummary.
func New(templates []Template) (*Registry, error) {
	return build(templates, "")
}

// Default returns the registry built from the embedded template set
func Default() (*Registry, error) {
	return Parse(defaultTemplates, DefaultSource)
}

// Parse builds a registry from YAML content; source is used in error locations
func Parse(data []byte, source string) (*Registry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.NewTemplateError(&errors.TemplateContext{File: source}, "cannot decode template file", err)
	}
	return build(f.Templates, source)
}

// Load reads one or more YAML files and builds a single registry from all of
// their templates. With includeDefaults the embedded set is loaded first.
func Load(includeDefaults bool, paths ...string) (*Registry, error) {
	var all []Template
	var sources []string

	add := func(data []byte, source string) error {
		var f file
		if err := yaml.Unmarshal(data, &f); err != nil {
			return errors.NewTemplateError(&errors.TemplateContext{File: source}, "cannot decode template file", err)
		}
		for range f.Templates {
			sources = append(sources, source)
		}
		all = append(all, f.Templates...)
		return nil
	}

	if includeDefaults {
		if err := add(defaultTemplates, DefaultSource); err != nil {
			return nil, err
		}
	}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.InputError(errors.CodeUnreadableFile, path, err)
		}
		if err := add(data, path); err != nil {
			return nil, err
		}
	}

	return buildWithSources(all, sources)
}

func build(templates []Template, source string) (*Registry, error) {
	sources := make([]string, len(templates))
	for i := range sources {
		sources[i] = source
	}
	return buildWithSources(templates, sources)
}

func buildWithSources(templates []Template, sources []string) (*Registry, error) {
	collector := errors.NewTemplateErrorCollector()
	reg := &Registry{}

	for i := range templates {
		t := templates[i]
		loc := func() *errors.TemplateContext {
			return &errors.TemplateContext{File: sources[i], Template: t.Bank, Index: i}
		}

		if strings.TrimSpace(t.Bank) == "" {
			ctx := loc()
			ctx.Field = "bank"
			collector.Add(errors.NewTemplateError(ctx, "template has no bank name", nil))
			continue
		}
		if len(nonEmpty(t.Aliases)) == 0 {
			collector.Add(errors.MissingAliasesError(loc()))
			continue
		}
		if len(nonEmpty(t.Rules.AmountLabels)) == 0 && len(nonEmpty(t.Rules.AmountPatterns)) == 0 {
			collector.Add(errors.EmptyRulesError(loc()))
			continue
		}

		t.Aliases = lowerAll(t.Aliases)
		t.Rules.AmountLabels = lowerAll(t.Rules.AmountLabels)
		t.Rules.NameLabels = lowerAll(t.Rules.NameLabels)
		t.Rules.AccountLabels = lowerAll(t.Rules.AccountLabels)

		ok := true
		t.amount, ok = compileAll(t.Rules.AmountPatterns, "amount_patterns", loc, collector, ok)
		t.name, ok = compileAll(t.Rules.NamePatterns, "name_patterns", loc, collector, ok)
		t.account, ok = compileAll(t.Rules.AccountPatterns, "account_patterns", loc, collector, ok)
		if !ok {
			continue
		}

		reg.templates = append(reg.templates, &t)
	}

	if err := collector.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(reg.templates, func(i, j int) bool {
		a, b := reg.templates[i], reg.templates[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return strings.ToLower(a.Bank) < strings.ToLower(b.Bank)
	})

	return reg, nil
}

func compileAll(patterns []string, field string, loc func() *errors.TemplateContext, collector *errors.TemplateErrorCollector, ok bool) ([]*regexp.Regexp, bool) {
	var compiled []*regexp.Regexp
	for _, p := range nonEmpty(patterns) {
		re, err := regexp.Compile(p)
		if err == nil && re.NumSubexp() != 1 {
			err = fmt.Errorf("pattern has %d capture groups", re.NumSubexp())
		}
		if err != nil {
			ctx := loc()
			ctx.Field = field
			ctx.Value = p
			collector.Add(errors.InvalidPatternError(ctx, err))
			ok = false
			continue
		}
		compiled = append(compiled, re)
	}
	return compiled, ok
}

// Lookup returns the highest priority active template matching the sender
func (r *Registry) Lookup(senderAddress, displayName string) (*Template, bool) {
	if r == nil {
		return nil, false
	}

	address := strings.ToLower(strings.Trim(strings.TrimSpace(senderAddress), "<>"))
	domain := ""
	if i := strings.LastIndex(address, "@"); i >= 0 {
		domain = address[i+1:]
	}
	display := strings.ToLower(strings.TrimSpace(displayName))

	for _, t := range r.templates {
		if !t.IsActive() {
			continue
		}
		for _, alias := range t.Aliases {
			if aliasMatches(alias, address, domain, display) {
				return t, true
			}
		}
	}
	return nil, false
}

func aliasMatches(alias, address, domain, display string) bool {
	alias = strings.TrimPrefix(alias, "@")
	switch {
	case alias == "":
		return false
	case strings.Contains(alias, "@"):
		return address != "" && alias == address
	case strings.Contains(alias, "."):
		return domain != "" && (domain == alias || strings.HasSuffix(domain, "."+alias))
	default:
		return (display != "" && strings.Contains(display, alias)) ||
			(domain != "" && strings.Contains(domain, alias))
	}
}

// Templates returns the templates in lookup order
func (r *Registry) Templates() []*Template {
	if r == nil {
		return nil
	}
	out := make([]*Template, len(r.templates))
	copy(out, r.templates)
	return out
}

// Len returns the number of templates in the registry
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.templates)
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range nonEmpty(values) {
		out = append(out, strings.ToLower(strings.TrimSpace(v)))
	}
	return out
}
