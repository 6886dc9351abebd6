// Package report computes the admin dashboard aggregates over stored responses.
package report

import (
	"sort"
	"time"

	"LnSPoll/core/questions"
	"LnSPoll/model"
)

const dateLayout = "2006-01-02"

// maxAnswerValues caps how many distinct answers are listed per follow-up.
const maxAnswerValues = 10

// DateRange is an inclusive range of calendar days in UTC. Zero ends are open.
type DateRange struct {
	From time.Time
	To   time.Time
}

// ParseDateRange parses YYYY-MM-DD bounds; empty strings leave that end open.
func ParseDateRange(from, to string) (DateRange, error) {
	var r DateRange
	var err error
	if from != "" {
		if r.From, err = time.Parse(dateLayout, from); err != nil {
			return r, err
		}
	}
	if to != "" {
		if r.To, err = time.Parse(dateLayout, to); err != nil {
			return r, err
		}
	}
	return r, nil
}

// Contains reports whether t falls on a day inside the range.
func (r DateRange) Contains(t time.Time) bool {
	day := t.UTC().Format(dateLayout)
	if !r.From.IsZero() && day < r.From.Format(dateLayout) {
		return false
	}
	if !r.To.IsZero() && day > r.To.Format(dateLayout) {
		return false
	}
	return true
}

// Filter keeps the responses submitted inside r.
func Filter(responses []*model.Response, r DateRange) []*model.Response {
	out := make([]*model.Response, 0, len(responses))
	for _, resp := range responses {
		if r.Contains(resp.SubmittedAt) {
			out = append(out, resp)
		}
	}
	return out
}

// Count is a labelled tally.
type Count struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Summary is the headline block of the dashboard.
type Summary struct {
	Total         int     `json:"total"`
	AverageAge    float64 `json:"averageAge"`
	Languages     int     `json:"languages"`
	Today         int     `json:"today"`
	Daily         []Count `json:"daily"`
	AgeHistogram  []Count `json:"ageHistogram"`
	MotherTongues []Count `json:"motherTongues"`
}

var ageBuckets = []struct {
	label    string
	min, max int
}{
	{"13-17", 13, 17},
	{"18-24", 18, 24},
	{"25-34", 25, 34},
	{"35-44", 35, 44},
	{"45-54", 45, 54},
	{"55-64", 55, 64},
	{"65+", 65, 1 << 30},
}

// Summarize builds the summary block. now decides what "today" is.
func Summarize(responses []*model.Response, now time.Time) Summary {
	s := Summary{Total: len(responses)}
	today := now.UTC().Format(dateLayout)

	daily := make(map[string]int)
	tongues := make(map[string]int)
	ages := make([]int, len(ageBuckets))
	ageSum, ageN := 0, 0

	for _, r := range responses {
		day := r.SubmittedAt.UTC().Format(dateLayout)
		daily[day]++
		if day == today {
			s.Today++
		}
		if r.Intake.MotherTongue != "" {
			tongues[r.Intake.MotherTongue]++
		}
		if r.Intake.Age > 0 {
			ageSum += r.Intake.Age
			ageN++
			for i, b := range ageBuckets {
				if r.Intake.Age >= b.min && r.Intake.Age <= b.max {
					ages[i]++
					break
				}
			}
		}
	}

	if ageN > 0 {
		s.AverageAge = float64(ageSum) / float64(ageN)
	}
	s.Languages = len(tongues)

	s.Daily = sortedByLabel(daily)
	s.MotherTongues = sortedByCount(tongues)
	s.AgeHistogram = make([]Count, len(ageBuckets))
	for i, b := range ageBuckets {
		s.AgeHistogram[i] = Count{Label: b.label, Count: ages[i]}
	}
	return s
}

// ClipStat is the rating picture for one audio file.
type ClipStat struct {
	FileName  string             `json:"fileName"`
	Category  model.Category     `json:"category"`
	Language  string             `json:"language,omitempty"`
	Responses int                `json:"responses"`
	Averages  map[string]float64 `json:"averages"`
	// Distribution maps a question id to counts per scale value.
	Distribution map[string]map[int]int `json:"distribution"`
}

// ClipStats averages ratings per file and question, ordered by file name.
func ClipStats(responses []*model.Response) []ClipStat {
	type acc struct {
		stat ClipStat
		sums map[string]int
		ns   map[string]int
	}
	byFile := make(map[string]*acc)

	for _, r := range responses {
		for _, c := range r.Clips {
			key := c.Language + "/" + c.FileName
			a, ok := byFile[key]
			if !ok {
				a = &acc{
					stat: ClipStat{
						FileName:     c.FileName,
						Category:     c.Category,
						Language:     c.Language,
						Averages:     make(map[string]float64),
						Distribution: make(map[string]map[int]int),
					},
					sums: make(map[string]int),
					ns:   make(map[string]int),
				}
				byFile[key] = a
			}
			a.stat.Responses++
			for q, v := range c.Ratings {
				a.sums[q] += v
				a.ns[q]++
				if a.stat.Distribution[q] == nil {
					a.stat.Distribution[q] = make(map[int]int)
				}
				a.stat.Distribution[q][v]++
			}
		}
	}

	out := make([]ClipStat, 0, len(byFile))
	for _, a := range byFile {
		for q, sum := range a.sums {
			a.stat.Averages[q] = float64(sum) / float64(a.ns[q])
		}
		out = append(out, a.stat)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Language != out[j].Language {
			return out[i].Language < out[j].Language
		}
		return out[i].FileName < out[j].FileName
	})
	return out
}

// FeatureRank summarises how a feature was ranked across all clips.
type FeatureRank struct {
	Feature     string  `json:"feature"`
	AverageRank float64 `json:"averageRank"`
	Rankings    int     `json:"rankings"`
	// Frequency[i] counts how often the feature was ranked at position i+1.
	Frequency []int `json:"frequency"`
}

// Rankings returns features ordered by average rank, most influential first.
func Rankings(responses []*model.Response, features []string) []FeatureRank {
	out := make([]FeatureRank, len(features))
	index := make(map[string]int, len(features))
	sums := make([]int, len(features))
	for i, f := range features {
		out[i] = FeatureRank{Feature: f, Frequency: make([]int, len(features))}
		index[f] = i
	}

	for _, r := range responses {
		for _, c := range r.Clips {
			for pos, f := range c.Ranking {
				i, ok := index[f]
				if !ok || pos >= len(features) {
					continue
				}
				out[i].Rankings++
				out[i].Frequency[pos]++
				sums[i] += pos + 1
			}
		}
	}

	for i := range out {
		if out[i].Rankings > 0 {
			out[i].AverageRank = float64(sums[i]) / float64(out[i].Rankings)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if (a.Rankings == 0) != (b.Rankings == 0) {
			return b.Rankings == 0
		}
		return a.AverageRank < b.AverageRank
	})
	return out
}

// FollowUpStat tallies the answers to one follow-up question.
type FollowUpStat struct {
	QuestionID string  `json:"questionId"`
	Prompt     string  `json:"prompt"`
	Kind       string  `json:"kind"`
	Answered   int     `json:"answered"`
	Answers    []Count `json:"answers,omitempty"`
}

// FollowUps tallies answers in catalogue order. Free-text questions only
// report how many participants answered.
func FollowUps(responses []*model.Response, q *questions.Catalogue) []FollowUpStat {
	counts := make(map[string]map[string]int)
	for _, r := range responses {
		for _, c := range r.Clips {
			for id, a := range c.FollowUps {
				if counts[id] == nil {
					counts[id] = make(map[string]int)
				}
				counts[id][a]++
			}
		}
	}

	out := make([]FollowUpStat, 0, len(q.FollowUps))
	for _, fq := range q.FollowUps {
		st := FollowUpStat{QuestionID: fq.ID, Prompt: fq.Prompt, Kind: fq.Kind}
		for _, n := range counts[fq.ID] {
			st.Answered += n
		}
		if fq.Kind == questions.KindChoice {
			st.Answers = sortedByCount(counts[fq.ID])
			if len(st.Answers) > maxAnswerValues {
				st.Answers = st.Answers[:maxAnswerValues]
			}
		}
		out = append(out, st)
	}
	return out
}

func sortedByLabel(m map[string]int) []Count {
	out := make([]Count, 0, len(m))
	for k, v := range m {
		out = append(out, Count{Label: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

func sortedByCount(m map[string]int) []Count {
	out := make([]Count, 0, len(m))
	for k, v := range m {
		out = append(out, Count{Label: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}
