package extract

import (
	"regexp"
	"strings"
)

var (
	// dateTokenRE is the anchor: a birth-date-shaped token.
	dateTokenRE = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

	// phoneRE matches Korean mobile numbers: 010 1234 5678 with optional dash or space separators.
	phoneRE = regexp.MustCompile(`010[-\s]?\d{3,4}[-\s]?\d{4}`)

	emailRE = regexp.MustCompile(`[a-zA-Z0-9._+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

	nonDigitRE = regexp.MustCompile(`\D+`)
)

// Tokens are the structured fields recognized in one line. Every field holds
// the exact matched text, or is empty when nothing matched.
type Tokens struct {
	Dates    []string
	Phone    string
	Email    string
	Category string
	Region   string
}

// BirthDate returns the first date token.
func (t Tokens) BirthDate() string {
	if len(t.Dates) > 0 {
		return t.Dates[0]
	}
	return ""
}

// CreatedDate returns the second date token.
func (t Tokens) CreatedDate() string {
	if len(t.Dates) > 1 {
		return t.Dates[1]
	}
	return ""
}

// matched lists the token texts stripped before name resolution, in strip order.
func (t Tokens) matched() []string {
	return []string{t.BirthDate(), t.CreatedDate(), t.Phone, t.Email, t.Category, t.Region}
}

// Tokenize runs every recognizer against the original line. Recognizers are
// independent of each other.
func (p *Pipeline) Tokenize(line string) Tokens {
	return Tokens{
		Dates:    ExtractDates(line),
		Phone:    ExtractPhone(line),
		Email:    ExtractEmail(line),
		Category: firstMatch(p.rules.category, line),
		Region:   firstMatch(p.rules.region, line),
	}
}

// ExtractDates returns every date token in left-to-right order.
func ExtractDates(line string) []string {
	return dateTokenRE.FindAllString(line, -1)
}

// ExtractPhone returns the first mobile number in line, as written.
func ExtractPhone(line string) string {
	return phoneRE.FindString(line)
}

// ExtractEmail returns the first email address in line.
func ExtractEmail(line string) string {
	return emailRE.FindString(line)
}

// NormalizePhone strips every non-digit so numbers compare by identity.
func NormalizePhone(phone string) string {
	return nonDigitRE.ReplaceAllString(phone, "")
}

func firstMatch(re *regexp.Regexp, s string) string {
	if re == nil {
		return ""
	}
	return re.FindString(s)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
