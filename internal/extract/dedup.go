package extract

import "strings"

// IdentityKey is the duplicate-detection key of a record: the normalized phone
// when there is one, otherwise name and birth date. A birth date that failed
// normalization contributes its raw text, so corrupted dates stay distinct.
func IdentityKey(r Record) string {
	if r.Phone != "" {
		return r.Phone
	}
	birth := string(r.BirthDate)
	if birth == "" {
		birth = "raw:" + strings.TrimSpace(r.BirthDateRaw)
	}
	return r.Name + "|" + birth
}

// Deduper accepts the first record seen for each identity key and counts the
// rest. One Deduper belongs to one run.
type Deduper struct {
	seen       map[string]struct{}
	duplicates int
}

// NewDeduper returns an empty Deduper.
func NewDeduper() *Deduper {
	return &Deduper{seen: make(map[string]struct{})}
}

// Accept reports whether r is the first record with its identity key.
func (d *Deduper) Accept(r Record) bool {
	key := IdentityKey(r)
	if _, ok := d.seen[key]; ok {
		d.duplicates++
		return false
	}
	d.seen[key] = struct{}{}
	return true
}

// Duplicates returns how many records were rejected.
func (d *Deduper) Duplicates() int {
	return d.duplicates
}

// Seen returns how many distinct identity keys were accepted.
func (d *Deduper) Seen() int {
	return len(d.seen)
}

// Reset clears the Deduper for an independent run.
func (d *Deduper) Reset() {
	d.seen = make(map[string]struct{})
	d.duplicates = 0
}
