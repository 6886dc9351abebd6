// Package questions holds the per-clip question catalogue and validates
// participant answers against it.
package questions

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// ErrInvalidAnswer is wrapped by every answer validation failure.
var ErrInvalidAnswer = errors.New("invalid answer")

// Follow-up kinds
const (
	KindChoice = "choice"
	KindText   = "text"
)

const maxTextAnswer = 2000

// RatingQuestion is a scale question asked for every clip.
type RatingQuestion struct {
	ID       string `yaml:"id" json:"id"`
	Prompt   string `yaml:"prompt" json:"prompt"`
	Min      int    `yaml:"min" json:"min"`
	Max      int    `yaml:"max" json:"max"`
	MinLabel string `yaml:"minLabel" json:"minLabel,omitempty"`
	MaxLabel string `yaml:"maxLabel" json:"maxLabel,omitempty"`
}

// Feature is a voice property participants rank by influence.
type Feature struct {
	ID    string `yaml:"id" json:"id"`
	Label string `yaml:"label" json:"label"`
}

// FollowUp is asked after the ranking. A follow-up bound to a feature is only
// asked when that feature was ranked first.
type FollowUp struct {
	ID       string   `yaml:"id" json:"id"`
	Feature  string   `yaml:"feature" json:"feature,omitempty"`
	Prompt   string   `yaml:"prompt" json:"prompt"`
	Kind     string   `yaml:"kind" json:"kind"`
	Options  []string `yaml:"options" json:"options,omitempty"`
	Optional bool     `yaml:"optional" json:"optional,omitempty"`
}

// Catalogue is the full question set.
type Catalogue struct {
	Ratings   []RatingQuestion `yaml:"ratings" json:"ratings"`
	Features  []Feature        `yaml:"features" json:"features"`
	FollowUps []FollowUp       `yaml:"followups" json:"followUps"`
	Languages []string         `yaml:"languages" json:"languages"`
}

// Default returns the embedded catalogue.
func Default() *Catalogue {
	c, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded question catalogue: %v", err))
	}
	return c
}

// Load reads a catalogue file, or the embedded default when path is empty.
func Load(path string) (*Catalogue, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read question catalogue: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalogue.
func Parse(data []byte) (*Catalogue, error) {
	var c Catalogue
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse question catalogue: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the catalogue itself for consistency.
func (c *Catalogue) Validate() error {
	if len(c.Ratings) == 0 {
		return fmt.Errorf("question catalogue has no rating questions")
	}
	if len(c.Features) == 0 {
		return fmt.Errorf("question catalogue has no ranking features")
	}
	ids := make(map[string]bool)
	for _, r := range c.Ratings {
		if r.ID == "" || ids[r.ID] {
			return fmt.Errorf("rating question id %q is empty or duplicated", r.ID)
		}
		if r.Min >= r.Max {
			return fmt.Errorf("rating question %s: min %d must be below max %d", r.ID, r.Min, r.Max)
		}
		ids[r.ID] = true
	}
	features := make(map[string]bool)
	for _, f := range c.Features {
		if f.ID == "" || features[f.ID] {
			return fmt.Errorf("feature id %q is empty or duplicated", f.ID)
		}
		features[f.ID] = true
	}
	for _, q := range c.FollowUps {
		if q.ID == "" || ids[q.ID] {
			return fmt.Errorf("follow-up id %q is empty or duplicated", q.ID)
		}
		ids[q.ID] = true
		if q.Feature != "" && !features[q.Feature] {
			return fmt.Errorf("follow-up %s refers to unknown feature %q", q.ID, q.Feature)
		}
		switch q.Kind {
		case KindChoice:
			if len(q.Options) == 0 {
				return fmt.Errorf("choice follow-up %s has no options", q.ID)
			}
		case KindText:
		default:
			return fmt.Errorf("follow-up %s has unknown kind %q", q.ID, q.Kind)
		}
	}
	return nil
}

// RatingIDs returns rating question ids in catalogue order.
func (c *Catalogue) RatingIDs() []string {
	out := make([]string, len(c.Ratings))
	for i, r := range c.Ratings {
		out[i] = r.ID
	}
	return out
}

// FeatureIDs returns feature ids in catalogue order.
func (c *Catalogue) FeatureIDs() []string {
	out := make([]string, len(c.Features))
	for i, f := range c.Features {
		out[i] = f.ID
	}
	return out
}

// FollowUpIDs returns follow-up ids in catalogue order.
func (c *Catalogue) FollowUpIDs() []string {
	out := make([]string, len(c.FollowUps))
	for i, q := range c.FollowUps {
		out[i] = q.ID
	}
	return out
}

// AskedFollowUps returns the follow-ups shown for a given ranking.
func (c *Catalogue) AskedFollowUps(ranking []string) []FollowUp {
	top := ""
	if len(ranking) > 0 {
		top = ranking[0]
	}
	var out []FollowUp
	for _, q := range c.FollowUps {
		if q.Feature == "" || q.Feature == top {
			out = append(out, q)
		}
	}
	return out
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidAnswer, fmt.Sprintf(format, args...))
}

// ValidateRatings requires exactly one in-range value per rating question.
func (c *Catalogue) ValidateRatings(ratings map[string]int) error {
	for _, r := range c.Ratings {
		v, ok := ratings[r.ID]
		if !ok {
			return invalid("missing rating %s", r.ID)
		}
		if v < r.Min || v > r.Max {
			return invalid("rating %s = %d outside %d..%d", r.ID, v, r.Min, r.Max)
		}
	}
	if len(ratings) != len(c.Ratings) {
		for id := range ratings {
			if !slices.ContainsFunc(c.Ratings, func(r RatingQuestion) bool { return r.ID == id }) {
				return invalid("unknown rating question %s", id)
			}
		}
	}
	return nil
}

// ValidateRanking requires a permutation of every feature.
func (c *Catalogue) ValidateRanking(ranking []string) error {
	if len(ranking) != len(c.Features) {
		return invalid("ranking must list all %d features, got %d", len(c.Features), len(ranking))
	}
	seen := make(map[string]bool, len(ranking))
	for _, id := range ranking {
		if !slices.ContainsFunc(c.Features, func(f Feature) bool { return f.ID == id }) {
			return invalid("unknown feature %s", id)
		}
		if seen[id] {
			return invalid("feature %s ranked twice", id)
		}
		seen[id] = true
	}
	return nil
}

// ValidateFollowUps checks answers against the follow-ups asked for ranking.
// ranking must already be valid.
func (c *Catalogue) ValidateFollowUps(ranking []string, answers map[string]string) error {
	asked := c.AskedFollowUps(ranking)
	byID := make(map[string]FollowUp, len(asked))
	for _, q := range asked {
		byID[q.ID] = q
		a := strings.TrimSpace(answers[q.ID])
		if a == "" {
			if q.Optional {
				continue
			}
			return invalid("missing follow-up %s", q.ID)
		}
		switch q.Kind {
		case KindChoice:
			if !slices.Contains(q.Options, a) {
				return invalid("follow-up %s: %q is not an option", q.ID, a)
			}
		case KindText:
			if len(a) > maxTextAnswer {
				return invalid("follow-up %s longer than %d bytes", q.ID, maxTextAnswer)
			}
		}
	}
	for id := range answers {
		if _, ok := byID[id]; !ok {
			return invalid("follow-up %s was not asked", id)
		}
	}
	return nil
}

// ValidateClip runs every per-clip check.
func (c *Catalogue) ValidateClip(ratings map[string]int, ranking []string, followUps map[string]string) error {
	if err := c.ValidateRatings(ratings); err != nil {
		return err
	}
	if err := c.ValidateRanking(ranking); err != nil {
		return err
	}
	return c.ValidateFollowUps(ranking, followUps)
}
