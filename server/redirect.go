package server

import (
	"net/http"
	"regexp"

	"github.com/pkg/errors"
)

// RedirectRule is a single regex -> template rewrite from the site
// config. From is matched against the full site-relative path; To may
// reference capture groups as $1..$9.
type RedirectRule struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

type compiledRedirect struct {
	from *regexp.Regexp
	to   string
}

// RedirectEngine applies an ordered list of rewrites to a path. Rules
// are folded left to right and each one sees the output of the rule
// before it, so a second rule may further transform the first rule's
// result.
type RedirectEngine struct {
	rules []compiledRedirect
}

// NewRedirectEngine compiles the configured rules. Each From pattern is
// anchored at both ends before compiling.
func NewRedirectEngine(rules []RedirectRule) (*RedirectEngine, error) {
	compiled := make([]compiledRedirect, 0, len(rules))
	for _, rule := range rules {
		re, err := regexp.Compile("^(?:" + rule.From + ")$")
		if err != nil {
			return nil, errors.Wrapf(err, "invalid redirect pattern %q", rule.From)
		}
		compiled = append(compiled, compiledRedirect{from: re, to: rule.To})
	}
	return &RedirectEngine{rules: compiled}, nil
}

// Rewrite folds the rule list over path and returns the final result.
// With no matching rules (or no rules at all) the path comes back
// unchanged.
func (e *RedirectEngine) Rewrite(path string) string {
	current := path
	for _, rule := range e.rules {
		if rule.from.MatchString(current) {
			current = rule.from.ReplaceAllString(current, rule.to)
		}
	}
	return current
}

// TryRedirect issues a 301 to the prefix-rejoined rewrite of path if
// any rule changed it. Returns true when a redirect was written.
func (e *RedirectEngine) TryRedirect(w http.ResponseWriter, r *http.Request, prefixer RoutePrefixer, path string) bool {
	rewritten := e.Rewrite(path)
	if rewritten == path {
		return false
	}
	http.Redirect(w, r, prefixer.Join(rewritten), http.StatusMovedPermanently)
	return true
}
