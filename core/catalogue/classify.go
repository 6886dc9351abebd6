// Package catalogue turns a directory of audio recordings into a model.Catalogue.
package catalogue

import (
	"context"
	"path"
	"regexp"
	"strings"

	"LnSPoll/model"
)

// Provider scans an audio source. Implementations are read-only and may be
// called once per allocation.
type Provider interface {
	Scan(ctx context.Context) (*model.Catalogue, error)
}

// 支持的音频扩展名
var audioExtensions = map[string]bool{
	".mp3":  true,
	".wav":  true,
	".ogg":  true,
	".m4a":  true,
	".flac": true,
	".aac":  true,
	".webm": true,
}

// speedMarker matches a whole playback-speed suffix, e.g. _spedup, _speed125, _2x, _1_5x.
var speedMarker = regexp.MustCompile(`(?i)^_(spedup|sped_up|fast|slow|speed\d+|\d+x|\d+_\d+x)$`)

var clipNumber = regexp.MustCompile(`_\d+$`)

// IsAudio reports whether name has a recognised audio extension.
func IsAudio(name string) bool {
	return audioExtensions[strings.ToLower(path.Ext(name))]
}

// SplitSpeedMarker returns the stem without its speed marker and whether one was present.
// The shortest marker wins, except that a decimal marker such as _1_5x is
// taken whole when the remaining stem still ends in a clip number.
func SplitSpeedMarker(stem string) (string, bool) {
	base, found := stem, false
	for i := len(stem) - 1; i > 0; i-- {
		if stem[i] != '_' || !speedMarker.MatchString(stem[i:]) {
			continue
		}
		if !found {
			base, found = stem[:i], true
			continue
		}
		if clipNumber.MatchString(stem[:i]) {
			base = stem[:i]
		}
		break
	}
	return base, found
}

// CategoryOf classifies a base name by its prefix.
func CategoryOf(baseName string) model.Category {
	lower := strings.ToLower(baseName)
	switch {
	case strings.HasPrefix(lower, "news_clip_"):
		return model.CategoryNewsClip
	case strings.HasPrefix(lower, "news_real_"):
		return model.CategoryNewsReal
	default:
		return model.CategoryOther
	}
}

// Classify builds the AudioFile for a slash-separated path relative to the
// catalogue root. language is empty for files in the general pool.
func Classify(relPath, language string) model.AudioFile {
	name := path.Base(relPath)
	stem := strings.TrimSuffix(name, path.Ext(name))
	base, variant := SplitSpeedMarker(stem)
	return model.AudioFile{
		Path:           relPath,
		BaseName:       base,
		Category:       CategoryOf(base),
		Language:       language,
		IsSpeedVariant: variant,
	}
}

// IsHidden reports dot-files and dot-folders, which the scan skips.
func IsHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// builder accumulates a catalogue from relative paths of any depth; only the
// root and its direct subfolders are considered.
type builder struct {
	cat *model.Catalogue
}

func newBuilder() *builder {
	return &builder{cat: model.NewCatalogue()}
}

func (b *builder) add(relPath string) {
	parts := strings.Split(relPath, "/")
	for _, p := range parts {
		if p == "" || IsHidden(p) {
			return
		}
	}
	if !IsAudio(parts[len(parts)-1]) {
		return
	}
	switch len(parts) {
	case 1:
		b.cat.General = append(b.cat.General, Classify(relPath, ""))
	case 2:
		lang := strings.ToLower(parts[0])
		b.cat.ByLanguage[lang] = append(b.cat.ByLanguage[lang], Classify(relPath, lang))
	}
}
