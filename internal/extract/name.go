package extract

import (
	"regexp"
	"strings"
)

// nameRunRE matches a run of 2-4 Hangul syllables, the shape of a Korean name.
var nameRunRE = regexp.MustCompile(`[가-힣]{2,4}`)

// ResolveName recovers the person's name from a line once every recognized
// token and known noise has been stripped out.
//
//  1. Remove the first occurrence of each matched token.
//  2. Remove noise words and noise patterns (table-header fragments that leak
//     into data rows, bare digits, standalone gender markers).
//  3. Return the first 2-4 syllable Hangul run that is not blocklisted.
//
// Falls back to UnknownName. False positives are expected on messy input.
func (p *Pipeline) ResolveName(line string, tok Tokens) string {
	clean := line
	for _, t := range tok.matched() {
		if t != "" {
			clean = strings.Replace(clean, t, " ", 1)
		}
	}
	clean = p.stripNoise(clean)

	for _, run := range nameRunRE.FindAllString(clean, -1) {
		if _, blocked := p.rules.blocklist[run]; blocked {
			continue
		}
		return run
	}
	return UnknownName
}

// stripNoise blanks every noise word and pattern in s. Patterns that consume
// their surrounding separators skip the neighbouring match ("남 여"), so each
// one is applied until the text stops changing. The pass cap guards user
// patterns that match their own replacement.
func (p *Pipeline) stripNoise(s string) string {
	const maxPasses = 8
	for _, re := range p.rules.noise {
		for i := 0; i < maxPasses; i++ {
			next := re.ReplaceAllString(s, " ")
			if next == s {
				break
			}
			s = next
		}
	}
	return s
}
