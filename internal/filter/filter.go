// Package filter decides whether a decoded server response counts as a match.
package filter

import (
	"fmt"
	"strings"
	"time"

	"github.com/dlclark/regexp2"

	qerrors "github.com/anstrom/qubo/internal/errors"
	"github.com/anstrom/qubo/internal/probe"
)

// defaultMatchTimeout bounds a single pattern evaluation.
const defaultMatchTimeout = 100 * time.Millisecond

// Criteria lists the conditions a response must satisfy. Zero values are
// unset and impose no condition.
type Criteria struct {
	// DescriptionPattern is matched against the colour-stripped description.
	DescriptionPattern string `yaml:"description" json:"description,omitempty"`
	// VersionPattern is matched against the reported version name.
	VersionPattern string `yaml:"version" json:"version,omitempty"`
	// MinPlayers is the lowest accepted number of online players.
	MinPlayers int `yaml:"min_players" json:"min_players,omitempty" validate:"gte=0"`
	// MaxPlayers is the highest accepted number of online players.
	MaxPlayers int `yaml:"max_players" json:"max_players,omitempty" validate:"gte=0"`
	// ProtocolVersion requires an exact protocol number.
	ProtocolVersion int `yaml:"protocol_version" json:"protocol_version,omitempty"`
	RequireFavicon  bool `yaml:"require_favicon" json:"require_favicon,omitempty"`
	IgnoreCase      bool `yaml:"ignore_case" json:"ignore_case,omitempty"`
}

// IsEmpty reports whether no condition is set.
func (c Criteria) IsEmpty() bool {
	return c == Criteria{} || c == Criteria{IgnoreCase: true}
}

// Filter is a compiled Criteria. It is immutable and safe for concurrent use.
type Filter struct {
	criteria    Criteria
	description *regexp2.Regexp
	version     *regexp2.Regexp
}

// New compiles criteria. Invalid patterns or bounds yield a ConfigurationError.
func New(criteria Criteria) (*Filter, error) {
	if criteria.MinPlayers < 0 {
		return nil, qerrors.ErrConfigInvalid("filter.min_players", criteria.MinPlayers)
	}
	if criteria.MaxPlayers < 0 {
		return nil, qerrors.ErrConfigInvalid("filter.max_players", criteria.MaxPlayers)
	}
	if criteria.MaxPlayers > 0 && criteria.MinPlayers > criteria.MaxPlayers {
		return nil, qerrors.NewConfigFieldError(qerrors.CodeValidation,
			"min_players exceeds max_players", "filter.min_players", criteria.MinPlayers)
	}

	f := &Filter{criteria: criteria}
	var err error
	if f.description, err = compile("filter.description", criteria.DescriptionPattern, criteria.IgnoreCase); err != nil {
		return nil, err
	}
	if f.version, err = compile("filter.version", criteria.VersionPattern, criteria.IgnoreCase); err != nil {
		return nil, err
	}
	return f, nil
}

// MustNew is like New but panics on invalid criteria.
func MustNew(criteria Criteria) *Filter {
	f, err := New(criteria)
	if err != nil {
		panic(err)
	}
	return f
}

func compile(field, pattern string, ignoreCase bool) (*regexp2.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	opts := regexp2.None
	if ignoreCase {
		opts |= regexp2.IgnoreCase
	}
	re, err := regexp2.Compile(pattern, opts)
	if err != nil {
		return nil, qerrors.WrapConfigurationError(qerrors.CodeValidation, "invalid filter pattern", err).
			WithField(field, pattern)
	}
	re.MatchTimeout = defaultMatchTimeout
	return re, nil
}

// Criteria returns the criteria the filter was built from.
func (f *Filter) Criteria() Criteria {
	return f.criteria
}

// Match reports whether resp satisfies every configured criterion. A nil
// response never matches; a pattern that fails to evaluate counts as a miss.
func (f *Filter) Match(resp *probe.Response) bool {
	if resp == nil {
		return false
	}
	c := f.criteria
	if c.MinPlayers > 0 && resp.PlayersOnline < c.MinPlayers {
		return false
	}
	if c.MaxPlayers > 0 && resp.PlayersOnline > c.MaxPlayers {
		return false
	}
	if c.ProtocolVersion != 0 && resp.ProtocolVersion != c.ProtocolVersion {
		return false
	}
	if c.RequireFavicon && !resp.HasFavicon {
		return false
	}
	if !matches(f.version, resp.VersionName) {
		return false
	}
	return matches(f.description, resp.CleanDescription)
}

func matches(re *regexp2.Regexp, s string) bool {
	if re == nil {
		return true
	}
	ok, err := re.MatchString(s)
	return err == nil && ok
}

// Describe renders the criteria for the startup log line.
func (f *Filter) Describe() string {
	c := f.criteria
	var parts []string
	if c.DescriptionPattern != "" {
		parts = append(parts, fmt.Sprintf("description=~%q", c.DescriptionPattern))
	}
	if c.VersionPattern != "" {
		parts = append(parts, fmt.Sprintf("version=~%q", c.VersionPattern))
	}
	if c.MinPlayers > 0 {
		parts = append(parts, fmt.Sprintf("players>=%d", c.MinPlayers))
	}
	if c.MaxPlayers > 0 {
		parts = append(parts, fmt.Sprintf("players<=%d", c.MaxPlayers))
	}
	if c.ProtocolVersion != 0 {
		parts = append(parts, fmt.Sprintf("protocol=%d", c.ProtocolVersion))
	}
	if c.RequireFavicon {
		parts = append(parts, "favicon")
	}
	if len(parts) == 0 {
		return "any"
	}
	if c.IgnoreCase {
		parts = append(parts, "ignore-case")
	}
	return strings.Join(parts, " ")
}
