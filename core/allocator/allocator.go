// Package allocator picks the clips a participant will rate.
//
// Each pool (the general pool and, when the participant's language resolves to
// a catalogue bucket, that language's pool) is handled independently:
// speed variants of one recording are collapsed to a single random pick, the
// draw is balanced between news_clip and news_real recordings, shortfalls are
// topped up from whichever category is behind and then from "other" files, and
// the pool's selection is shuffled. General clips come first in the result.
package allocator

import (
	"math/rand/v2"
	"strings"

	"LnSPoll/model"

	"golang.org/x/text/cases"
)

// Source is the randomness the allocator needs. *rand.Rand satisfies it.
type Source interface {
	IntN(n int) int
	Shuffle(n int, swap func(i, j int))
}

// globalSource uses the goroutine-safe top-level functions of math/rand/v2.
type globalSource struct{}

func (globalSource) IntN(n int) int                     { return rand.IntN(n) }
func (globalSource) Shuffle(n int, swap func(i, j int)) { rand.Shuffle(n, swap) }

// SplitPolicy divides target between the news_clip and news_real categories
// given how many candidates each has.
type SplitPolicy func(clipAvail, realAvail, target int) (clipQuota, realQuota int)

// FavorLargerClipPool gives news_clip target/2 and news_real the rest, except
// that an odd remainder goes to news_clip when its pool is strictly larger.
func FavorLargerClipPool(clipAvail, realAvail, target int) (int, int) {
	base := target / 2
	remainder := target - base
	if target%2 == 1 && clipAvail > realAvail {
		return remainder, base
	}
	return base, remainder
}

// RemainderToReal always gives the odd remainder to news_real.
func RemainderToReal(_, _, target int) (int, int) {
	base := target / 2
	return base, target - base
}

// Allocator is safe for concurrent use when built with the default source.
// A caller-supplied *rand.Rand is not goroutine-safe and must not be shared.
type Allocator struct {
	src   Source
	split SplitPolicy
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithSource replaces the random source, mainly for tests.
func WithSource(src Source) Option {
	return func(a *Allocator) { a.src = src }
}

// WithSplitPolicy replaces the odd-quota tie-break.
func WithSplitPolicy(p SplitPolicy) Option {
	return func(a *Allocator) { a.split = p }
}

// New returns an allocator using unseeded global randomness.
func New(opts ...Option) *Allocator {
	a := &Allocator{src: globalSource{}, split: FavorLargerClipPool}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Allocate uses a default allocator.
func Allocate(cat *model.Catalogue, profile model.ParticipantProfile, n, m int) model.ClipAssignment {
	return New().Allocate(cat, profile, n, m)
}

// Allocate builds the participant's assignment. It never fails: missing
// pools and small pools simply produce fewer clips.
func (a *Allocator) Allocate(cat *model.Catalogue, profile model.ParticipantProfile, n, m int) model.ClipAssignment {
	var out model.ClipAssignment
	if cat == nil {
		return out
	}

	general := a.SelectFromPool(cat.General, n)
	files := general

	if lang, ok := ResolveLanguage(cat, profile); ok {
		out.Language = lang
		files = append(files, a.SelectFromPool(excludeBases(cat.ByLanguage[lang], general), m)...)
	}

	out.GeneralCount = len(general)
	out.Clips = make([]model.Clip, len(files))
	for i, f := range files {
		out.Clips[i] = model.Clip{ClipID: i + 1, File: f}
	}
	return out
}

// SelectFromPool runs dedup, balanced draw, top-up and shuffle on one pool.
func (a *Allocator) SelectFromPool(pool []model.AudioFile, target int) []model.AudioFile {
	if target <= 0 || len(pool) == 0 {
		return nil
	}

	var newsClip, newsReal, other []model.AudioFile
	for _, f := range a.dedupe(pool) {
		switch f.Category {
		case model.CategoryNewsClip:
			newsClip = append(newsClip, f)
		case model.CategoryNewsReal:
			newsReal = append(newsReal, f)
		default:
			other = append(other, f)
		}
	}

	clipQuota, realQuota := a.split(len(newsClip), len(newsReal), target)

	clipDrawn, clipRest := a.sample(newsClip, clipQuota)
	realDrawn, realRest := a.sample(newsReal, realQuota)

	selected := make([]model.AudioFile, 0, target)
	selected = append(selected, clipDrawn...)
	selected = append(selected, realDrawn...)
	nClip, nReal := len(clipDrawn), len(realDrawn)

	for len(selected) < target {
		switch {
		case len(clipRest) > 0 && (len(realRest) == 0 || nClip <= nReal):
			var f model.AudioFile
			f, clipRest = a.take(clipRest)
			selected = append(selected, f)
			nClip++
		case len(realRest) > 0:
			var f model.AudioFile
			f, realRest = a.take(realRest)
			selected = append(selected, f)
			nReal++
		case len(other) > 0:
			var f model.AudioFile
			f, other = a.take(other)
			selected = append(selected, f)
		default:
			// every pool exhausted; under-fill
			a.shuffle(selected)
			return selected
		}
	}

	a.shuffle(selected)
	return selected
}

// excludeBases drops pool files whose base name was already chosen, so a
// language recording never repeats a general one.
func excludeBases(pool, chosen []model.AudioFile) []model.AudioFile {
	if len(chosen) == 0 {
		return pool
	}
	taken := make(map[string]bool, len(chosen))
	for _, f := range chosen {
		taken[f.BaseName] = true
	}
	out := make([]model.AudioFile, 0, len(pool))
	for _, f := range pool {
		if !taken[f.BaseName] {
			out = append(out, f)
		}
	}
	return out
}

// dedupe keeps one uniformly chosen file per base name, in first-seen order.
func (a *Allocator) dedupe(pool []model.AudioFile) []model.AudioFile {
	groups := make(map[string][]model.AudioFile, len(pool))
	order := make([]string, 0, len(pool))
	for _, f := range pool {
		if _, seen := groups[f.BaseName]; !seen {
			order = append(order, f.BaseName)
		}
		groups[f.BaseName] = append(groups[f.BaseName], f)
	}

	out := make([]model.AudioFile, 0, len(order))
	for _, name := range order {
		g := groups[name]
		if len(g) == 1 {
			out = append(out, g[0])
			continue
		}
		out = append(out, g[a.src.IntN(len(g))])
	}
	return out
}

// sample draws min(k, len(files)) items uniformly without replacement and
// returns them together with the unclaimed remainder. files is not modified.
func (a *Allocator) sample(files []model.AudioFile, k int) (drawn, rest []model.AudioFile) {
	buf := make([]model.AudioFile, len(files))
	copy(buf, files)
	if k > len(buf) {
		k = len(buf)
	}
	if k < 0 {
		k = 0
	}
	// partial Fisher-Yates
	for i := 0; i < k; i++ {
		j := i + a.src.IntN(len(buf)-i)
		buf[i], buf[j] = buf[j], buf[i]
	}
	return buf[:k], buf[k:]
}

// take removes and returns a uniformly chosen element. files is reused.
func (a *Allocator) take(files []model.AudioFile) (model.AudioFile, []model.AudioFile) {
	i := a.src.IntN(len(files))
	f := files[i]
	last := len(files) - 1
	files[i] = files[last]
	return f, files[:last]
}

func (a *Allocator) shuffle(files []model.AudioFile) {
	a.src.Shuffle(len(files), func(i, j int) { files[i], files[j] = files[j], files[i] })
}

// sentinel answers of the competence question that mean "no language given"
var sentinels = map[string]bool{
	"":               true,
	"none":           true,
	"unselected":     true,
	"not selected":   true,
	"not applicable": true,
	"n/a":            true,
	"na":             true,
	"-":              true,
}

// IsSentinel reports whether a competence answer carries no language.
func IsSentinel(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	if sentinels[v] {
		return true
	}
	// dropdown placeholders such as "Select..." or "-- select --"
	return strings.Contains(v, "select")
}

// ResolveLanguage picks the catalogue bucket for a profile. A non-sentinel
// competence language wins over the mother tongue; if it has no bucket the
// mother tongue is tried. Matching is case-insensitive.
func ResolveLanguage(cat *model.Catalogue, profile model.ParticipantProfile) (string, bool) {
	if cat == nil || len(cat.ByLanguage) == 0 {
		return "", false
	}
	var candidates []string
	if !IsSentinel(profile.LanguageCompetence) {
		candidates = append(candidates, profile.LanguageCompetence)
	}
	if !IsSentinel(profile.MotherTongue) {
		candidates = append(candidates, profile.MotherTongue)
	}
	for _, c := range candidates {
		if key, ok := lookupBucket(cat, c); ok {
			return key, true
		}
	}
	return "", false
}

func lookupBucket(cat *model.Catalogue, name string) (string, bool) {
	folder := cases.Fold()
	want := folder.String(strings.TrimSpace(name))
	if want == "" {
		return "", false
	}
	if _, ok := cat.ByLanguage[want]; ok {
		return want, true
	}
	for key := range cat.ByLanguage {
		if folder.String(key) == want {
			return key, true
		}
	}
	return "", false
}
