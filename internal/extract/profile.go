package extract

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// DatePolicy decides what happens to a record whose birth date is missing or
// fails normalization.
type DatePolicy string

const (
	// DatePolicyWarn keeps the record with a null birth date and counts a warning.
	DatePolicyWarn DatePolicy = "warn"
	// DatePolicyReject drops the record.
	DatePolicyReject DatePolicy = "reject"
)

// DefaultMinLineLength is the trimmed rune count a line must exceed to be mined.
const DefaultMinLineLength = 10

// Defaults are the fallback values applied when a field cannot be recovered.
type Defaults struct {
	Category  string `yaml:"category" json:"category"`
	Region    string `yaml:"region" json:"region"`
	YearLevel string `yaml:"year_level" json:"year_level"`
}

// Profile is the dataset-specific vocabulary of the engine. Keyword sets,
// blocklists and noise lists are tuning data for a given legacy corpus, so they
// live here instead of in code.
type Profile struct {
	Categories    []string `yaml:"categories" json:"categories"`
	Regions       []string `yaml:"regions" json:"regions"`
	NameBlocklist []string `yaml:"name_blocklist" json:"name_blocklist"`
	// NoiseWords are literal substrings removed before name resolution.
	NoiseWords []string `yaml:"noise_words" json:"noise_words"`
	// NoisePatterns are regular expressions removed after NoiseWords.
	NoisePatterns []string `yaml:"noise_patterns" json:"noise_patterns"`

	Defaults      Defaults   `yaml:"defaults" json:"defaults"`
	Columns       Columns    `yaml:"columns" json:"columns"`
	FreeTextDates DatePolicy `yaml:"free_text_dates" json:"free_text_dates"`
	ColumnarDates DatePolicy `yaml:"columnar_dates" json:"columnar_dates"`
	MinLineLength int        `yaml:"min_line_length" json:"min_line_length"`
}

// DefaultProfile returns the vocabulary of the successor-farmer education export.
func DefaultProfile() Profile {
	regions := []string{
		"서울", "경기", "인천", "강원", "충북", "충남", "대전", "경북",
		"경남", "대구", "부산", "울산", "전북", "전남", "광주", "제주", "세종",
	}

	blocklist := []string{"권역", "구분", "연번", "성명", "지역", "페이지", "청년", "후계", "우수", "예비", "일반"}
	blocklist = append(blocklist, regions...)

	return Profile{
		Categories:    []string{"청년농업인", "일반후계농", "후계농업인", "우수후계농업인", "예비농업인"},
		Regions:       regions,
		NameBlocklist: blocklist,
		NoiseWords: []string{
			"충북/충남/대전", "경북/대구", "전북/전남/광주",
			"권역", "구분", "연번", "성명", "생년월일", "전화번호", "지역", "페이지", "내국인",
		},
		NoisePatterns: []string{
			`[0-9-]+`,
			`(^|[^가-힣])[남여]([^가-힣]|$)`,
		},
		Defaults: Defaults{
			Category:  "청년농업인",
			Region:    "전국",
			YearLevel: "1년차",
		},
		Columns:       DefaultColumns(),
		FreeTextDates: DatePolicyWarn,
		ColumnarDates: DatePolicyReject,
		MinLineLength: DefaultMinLineLength,
	}
}

// Validate reports profile values the pipeline cannot run with.
func (p Profile) Validate() error {
	for _, policy := range []DatePolicy{p.FreeTextDates, p.ColumnarDates} {
		switch policy {
		case DatePolicyWarn, DatePolicyReject:
		default:
			return fmt.Errorf("invalid date policy %q (want warn or reject)", policy)
		}
	}
	if p.MinLineLength < 0 {
		return fmt.Errorf("min_line_length must be >= 0, got %d", p.MinLineLength)
	}
	if p.Columns.HeaderRows < 0 {
		return fmt.Errorf("columns.header_rows must be >= 0, got %d", p.Columns.HeaderRows)
	}
	if p.Columns.Name < 0 {
		return fmt.Errorf("columns.name is required for columnar mode")
	}
	return nil
}

// datePolicy returns the policy for mode.
func (p Profile) datePolicy(mode Mode) DatePolicy {
	if mode == ModeColumnar {
		return p.ColumnarDates
	}
	return p.FreeTextDates
}

// ruleSet holds the regexes compiled from a Profile.
type ruleSet struct {
	category  *regexp.Regexp
	region    *regexp.Regexp
	noise     []*regexp.Regexp
	blocklist map[string]struct{}
}

func compileProfile(p Profile) (*ruleSet, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	rs := &ruleSet{
		category:  keywordPattern(p.Categories),
		region:    keywordPattern(p.Regions),
		blocklist: make(map[string]struct{}, len(p.NameBlocklist)),
	}
	for _, w := range p.NameBlocklist {
		if w = strings.TrimSpace(w); w != "" {
			rs.blocklist[w] = struct{}{}
		}
	}
	for _, w := range p.NoiseWords {
		if w == "" {
			continue
		}
		rs.noise = append(rs.noise, regexp.MustCompile(regexp.QuoteMeta(w)))
	}
	for _, src := range p.NoisePatterns {
		re, err := regexp.Compile(src)
		if err != nil {
			return nil, fmt.Errorf("compiling noise pattern %q: %w", src, err)
		}
		rs.noise = append(rs.noise, re)
	}
	return rs, nil
}

// keywordPattern builds an alternation over a closed vocabulary. Longer
// keywords come first so a keyword is never shadowed by its own prefix.
func keywordPattern(words []string) *regexp.Regexp {
	seen := make(map[string]struct{}, len(words))
	uniq := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		uniq = append(uniq, w)
	}
	if len(uniq) == 0 {
		return nil
	}
	sort.SliceStable(uniq, func(i, j int) bool {
		return utf8.RuneCountInString(uniq[i]) > utf8.RuneCountInString(uniq[j])
	})
	quoted := make([]string, len(uniq))
	for i, w := range uniq {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(strings.Join(quoted, "|"))
}
