package extract

// lineReport is the outcome of assembling one line or row.
type lineReport struct {
	record      Record
	skip        bool
	dateWarning bool
	warnings    []Warning
}

// assembleLine builds the record for one free-text line. The line is skipped
// when it has no date token at all.
func (p *Pipeline) assembleLine(line Line, runAt string) lineReport {
	tok := p.Tokenize(line.Text)
	rawBirth := tok.BirthDate()
	if rawBirth == "" {
		return lineReport{skip: true}
	}

	var rep lineReport
	birth, ok := NormalizeDate(rawBirth)
	if !ok {
		rep.dateWarning = true
		rep.warnings = append(rep.warnings, Warning{
			Line: line.Num, Field: "birth_date", Raw: rawBirth, Reason: "unparseable or out-of-range date",
		})
		if p.profile.datePolicy(ModeFreeText) == DatePolicyReject {
			rep.skip = true
			return rep
		}
	}

	created := runAt
	if rawCreated := tok.CreatedDate(); rawCreated != "" {
		if d, ok := NormalizeDate(rawCreated); ok {
			created = d.String()
		} else {
			rep.warnings = append(rep.warnings, Warning{
				Line: line.Num, Field: "created_at", Raw: rawCreated, Reason: "unparseable or out-of-range date",
			})
		}
	}

	d := p.profile.Defaults
	rep.record = Record{
		Name:         p.ResolveName(line.Text, tok),
		BirthDate:    birth,
		BirthDateRaw: rawBirth,
		Phone:        NormalizePhone(tok.Phone),
		PhoneDisplay: tok.Phone,
		Region:       firstNonEmpty(tok.Region, d.Region),
		Category:     firstNonEmpty(tok.Category, d.Category),
		YearLevel:    d.YearLevel,
		Email:        tok.Email,
		CreatedAt:    created,
		SourceLine:   line.Num,
	}
	return rep
}

// assembleRow builds the record for one spreadsheet row. Recognizers run on
// the cells they apply to instead of on the whole line.
func (p *Pipeline) assembleRow(num int, row []string, cols Columns, runAt string) lineReport {
	name := cell(row, cols.Name)
	if name == "" {
		return lineReport{skip: true}
	}

	var rep lineReport
	rawBirth := cell(row, cols.BirthDate)
	birth, ok := NormalizeDate(rawBirth)
	if !ok {
		if rawBirth != "" {
			rep.dateWarning = true
			rep.warnings = append(rep.warnings, Warning{
				Line: num, Field: "birth_date", Raw: rawBirth, Reason: "unparseable or out-of-range date",
			})
		}
		if p.profile.datePolicy(ModeColumnar) == DatePolicyReject {
			rep.skip = true
			return rep
		}
	}

	created := runAt
	if rawCreated := cell(row, cols.CreatedAt); rawCreated != "" {
		if d, ok := NormalizeDate(rawCreated); ok {
			created = d.String()
		} else {
			rep.warnings = append(rep.warnings, Warning{
				Line: num, Field: "created_at", Raw: rawCreated, Reason: "unparseable or out-of-range date",
			})
		}
	}

	phone := cell(row, cols.Phone)
	d := p.profile.Defaults
	rep.record = Record{
		Name:            name,
		BirthDate:       birth,
		BirthDateRaw:    rawBirth,
		Phone:           NormalizePhone(phone),
		PhoneDisplay:    phone,
		Region:          firstNonEmpty(firstMatch(p.rules.region, cell(row, cols.Region)), d.Region),
		Category:        firstNonEmpty(firstMatch(p.rules.category, cell(row, cols.Category)), d.Category),
		YearLevel:       firstNonEmpty(cell(row, cols.YearLevel), d.YearLevel),
		Email:           ExtractEmail(cell(row, cols.Email)),
		CreatedAt:       created,
		SourceLine:      num,
		StudentCategory: cell(row, cols.StudentCategory),
		Gender:          cell(row, cols.Gender),
		PostalCode:      cell(row, cols.PostalCode),
		Address:         cell(row, cols.Address),
		DetailedAddress: cell(row, cols.DetailedAddress),
		Foreigner:       cell(row, cols.Foreigner),
		MainCrop:        cell(row, cols.MainCrop),
		SelectionInfo:   cell(row, cols.SelectionInfo),
		PrivacyConsent:  cell(row, cols.PrivacyConsent),
	}
	return rep
}
