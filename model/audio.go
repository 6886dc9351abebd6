package model

// Category 音频内容类别，由文件名前缀推断
type Category string

const (
	CategoryNewsClip Category = "news_clip"
	CategoryNewsReal Category = "news_real"
	CategoryOther    Category = "other"
)

// AudioFile is one playable recording found in the catalogue.
type AudioFile struct {
	Path           string   `json:"path"`     // Path relative to the catalogue root, slash separated
	BaseName       string   `json:"baseName"` // File stem with any speed marker stripped
	Category       Category `json:"category"`
	Language       string   `json:"language,omitempty"` // Set only for files in a language subfolder
	IsSpeedVariant bool     `json:"isSpeedVariant"`
}

// FileName returns the last path element, which is what responses are keyed by.
func (f AudioFile) FileName() string {
	for i := len(f.Path) - 1; i >= 0; i-- {
		if f.Path[i] == '/' {
			return f.Path[i+1:]
		}
	}
	return f.Path
}

// Catalogue is a snapshot of the audio directory.
type Catalogue struct {
	General    []AudioFile            `json:"general"`
	ByLanguage map[string][]AudioFile `json:"byLanguage"`
}

// NewCatalogue returns an empty catalogue.
func NewCatalogue() *Catalogue {
	return &Catalogue{ByLanguage: make(map[string][]AudioFile)}
}

// Size 返回目录中的文件总数
func (c *Catalogue) Size() int {
	if c == nil {
		return 0
	}
	n := len(c.General)
	for _, files := range c.ByLanguage {
		n += len(files)
	}
	return n
}

// ParticipantProfile carries the language answers from the intake form.
type ParticipantProfile struct {
	MotherTongue       string `json:"motherTongue"`
	LanguageCompetence string `json:"languageCompetence,omitempty"`
}

// Clip is one entry of a participant's assignment.
type Clip struct {
	ClipID int       `json:"clipId"` // 1-based, in presentation order
	File   AudioFile `json:"file"`
}

// ClipAssignment is the ordered clip list for one participant.
type ClipAssignment struct {
	Clips []Clip `json:"clips"`
	// Number of leading clips drawn from the general pool; the rest came from the language pool.
	GeneralCount int    `json:"generalCount"`
	Language     string `json:"language,omitempty"`
}

// Len returns the number of assigned clips.
func (a ClipAssignment) Len() int {
	return len(a.Clips)
}

// Clip looks up a clip by its ordinal id.
func (a ClipAssignment) Clip(id int) (Clip, bool) {
	if id < 1 || id > len(a.Clips) {
		return Clip{}, false
	}
	return a.Clips[id-1], true
}
