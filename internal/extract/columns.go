package extract

import "strings"

// Columns maps record fields onto cell indices for strict-columnar mode.
// A negative index means the column is absent.
type Columns struct {
	HeaderRows    int  `yaml:"header_rows" json:"header_rows"`
	ResolveHeader bool `yaml:"resolve_header" json:"resolve_header"`

	Category        int `yaml:"category" json:"category"`
	Region          int `yaml:"region" json:"region"`
	YearLevel       int `yaml:"year_level" json:"year_level"`
	StudentCategory int `yaml:"student_category" json:"student_category"`
	Name            int `yaml:"name" json:"name"`
	Phone           int `yaml:"phone" json:"phone"`
	Gender          int `yaml:"gender" json:"gender"`
	PostalCode      int `yaml:"postal_code" json:"postal_code"`
	Address         int `yaml:"address" json:"address"`
	DetailedAddress int `yaml:"detailed_address" json:"detailed_address"`
	Email           int `yaml:"email" json:"email"`
	BirthDate       int `yaml:"birth_date" json:"birth_date"`
	Foreigner       int `yaml:"foreigner" json:"foreigner"`
	MainCrop        int `yaml:"main_crop" json:"main_crop"`
	SelectionInfo   int `yaml:"selection_info" json:"selection_info"`
	PrivacyConsent  int `yaml:"privacy_consent" json:"privacy_consent"`
	CreatedAt       int `yaml:"created_at" json:"created_at"`
}

// DefaultColumns is the layout of the education application spreadsheet export.
func DefaultColumns() Columns {
	return Columns{
		HeaderRows:      1,
		ResolveHeader:   true,
		Category:        0,
		Region:          1,
		YearLevel:       2,
		StudentCategory: 3,
		Name:            4,
		Phone:           5,
		Gender:          6,
		PostalCode:      7,
		Address:         8,
		DetailedAddress: 9,
		Email:           10,
		BirthDate:       11,
		Foreigner:       12,
		MainCrop:        13,
		SelectionInfo:   14,
		PrivacyConsent:  15,
		CreatedAt:       16,
	}
}

// headerAliases lists header labels per field, checked with substring match.
var headerAliases = []struct {
	labels []string
	field  func(*Columns) *int
}{
	{[]string{"성명", "이름"}, func(c *Columns) *int { return &c.Name }},
	{[]string{"생년월일"}, func(c *Columns) *int { return &c.BirthDate }},
	{[]string{"전화", "핸드폰", "휴대폰", "연락처"}, func(c *Columns) *int { return &c.Phone }},
	{[]string{"교육생"}, func(c *Columns) *int { return &c.StudentCategory }},
	{[]string{"구분", "유형"}, func(c *Columns) *int { return &c.Category }},
	{[]string{"권역", "지역"}, func(c *Columns) *int { return &c.Region }},
	{[]string{"연차"}, func(c *Columns) *int { return &c.YearLevel }},
	{[]string{"이메일", "email", "e-mail"}, func(c *Columns) *int { return &c.Email }},
	{[]string{"성별"}, func(c *Columns) *int { return &c.Gender }},
	{[]string{"우편번호"}, func(c *Columns) *int { return &c.PostalCode }},
	{[]string{"상세주소"}, func(c *Columns) *int { return &c.DetailedAddress }},
	{[]string{"주소"}, func(c *Columns) *int { return &c.Address }},
	{[]string{"주작목", "작목"}, func(c *Columns) *int { return &c.MainCrop }},
	{[]string{"외국인"}, func(c *Columns) *int { return &c.Foreigner }},
	{[]string{"선정"}, func(c *Columns) *int { return &c.SelectionInfo }},
	{[]string{"개인정보", "동의"}, func(c *Columns) *int { return &c.PrivacyConsent }},
	{[]string{"신청일", "등록일", "접수일"}, func(c *Columns) *int { return &c.CreatedAt }},
}

// ResolveColumns maps a header row onto a layout. Fields without a matching
// header are marked absent. A row without a name header is not a header row,
// so fallback is returned unchanged.
func ResolveColumns(header []string, fallback Columns) Columns {
	out := absentColumns()
	out.HeaderRows = fallback.HeaderRows
	out.ResolveHeader = fallback.ResolveHeader

	claimed := make(map[int]bool)
	for _, alias := range headerAliases {
		for i, h := range header {
			if claimed[i] || !headerMatches(h, alias.labels) {
				continue
			}
			*alias.field(&out) = i
			claimed[i] = true
			break
		}
	}
	if out.Name < 0 {
		return fallback
	}
	return out
}

func absentColumns() Columns {
	return Columns{
		Category: -1, Region: -1, YearLevel: -1, StudentCategory: -1,
		Name: -1, Phone: -1, Gender: -1, PostalCode: -1, Address: -1,
		DetailedAddress: -1, Email: -1, BirthDate: -1, Foreigner: -1,
		MainCrop: -1, SelectionInfo: -1, PrivacyConsent: -1, CreatedAt: -1,
	}
}

func headerMatches(h string, labels []string) bool {
	h = strings.ToLower(strings.TrimSpace(h))
	if h == "" {
		return false
	}
	for _, l := range labels {
		if strings.Contains(h, l) {
			return true
		}
	}
	return false
}

// cell returns the trimmed value at idx, or "" when the column is absent.
func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
