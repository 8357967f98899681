package models

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	dErrors "relief/pkg/domain-errors"
	pstrings "relief/pkg/platform/strings"
)

// Clock returns "now" for the before-today rules. Tests pin it.
var Clock = time.Now

const maxHouseholdMembers = 20

// CreateRequest is the flat intake payload used by both the online form and the
// offline sync endpoint.
type CreateRequest struct {
	Province      string `json:"province"`
	Municipality  string `json:"municipality"`
	Barangay      string `json:"barangay"`
	Purok         string `json:"purok"`
	LastName      string `json:"last_name"`
	FirstName     string `json:"first_name"`
	MiddleName    string `json:"middle_name"`
	ExtensionName string `json:"extension_name"`
	Sex           string `json:"sex"`
	BirthDate     string `json:"birth_date"`

	DamageClassification  string   `json:"classify_extent_of_damaged_house"`
	PovertyClassification string   `json:"nhts_pr_classification"`
	Sectors               []string `json:"applicable_sector"`
	CivilStatus           string   `json:"civil_status"`

	LivingWithFather    bool   `json:"living_with_father"`
	FatherLastName      string `json:"father_last_name"`
	FatherFirstName     string `json:"father_first_name"`
	FatherMiddleName    string `json:"father_middle_name"`
	FatherExtensionName string `json:"father_extension_name"`
	FatherBirthDate     string `json:"father_birth_date"`

	LivingWithMother bool   `json:"living_with_mother"`
	MotherLastName   string `json:"mother_last_name"`
	MotherFirstName  string `json:"mother_first_name"`
	MotherMiddleName string `json:"mother_middle_name"`
	MotherBirthDate  string `json:"mother_birth_date"`

	LivingWithSiblings bool            `json:"living_with_siblings"`
	SiblingsCount      *int            `json:"siblings_count"`
	Siblings           []MemberRequest `json:"siblings"`

	LivingWithSpouse    bool   `json:"living_with_spouse"`
	SpouseLastName      string `json:"spouse_last_name"`
	SpouseFirstName     string `json:"spouse_first_name"`
	SpouseMiddleName    string `json:"spouse_middle_name"`
	SpouseExtensionName string `json:"spouse_extension_name"`
	SpouseBirthDate     string `json:"spouse_birth_date"`

	LivingWithChildren bool            `json:"living_with_children"`
	ChildrenCount      *int            `json:"children_count"`
	Children           []MemberRequest `json:"children"`

	LivingWithRelatives bool            `json:"living_with_relatives"`
	RelativesCount      *int            `json:"relatives_count"`
	Relatives           []MemberRequest `json:"relatives"`
}

// MemberRequest is one sibling, child or relative row.
type MemberRequest struct {
	LastName     string `json:"last_name"`
	FirstName    string `json:"first_name"`
	MiddleName   string `json:"middle_name"`
	BirthDate    string `json:"birth_date"`
	Relationship string `json:"relationship,omitempty"`
}

// Normalize trims every string and cleans the sector list.
func (r *CreateRequest) Normalize() {
	for _, p := range []*string{
		&r.Province, &r.Municipality, &r.Barangay, &r.Purok,
		&r.LastName, &r.FirstName, &r.MiddleName, &r.ExtensionName,
		&r.Sex, &r.BirthDate, &r.DamageClassification, &r.PovertyClassification, &r.CivilStatus,
		&r.FatherLastName, &r.FatherFirstName, &r.FatherMiddleName, &r.FatherExtensionName, &r.FatherBirthDate,
		&r.MotherLastName, &r.MotherFirstName, &r.MotherMiddleName, &r.MotherBirthDate,
		&r.SpouseLastName, &r.SpouseFirstName, &r.SpouseMiddleName, &r.SpouseExtensionName, &r.SpouseBirthDate,
	} {
		*p = strings.TrimSpace(*p)
	}
	r.Sectors = pstrings.DedupeAndTrim(r.Sectors)
	for _, members := range [][]MemberRequest{r.Siblings, r.Children, r.Relatives} {
		for i := range members {
			m := &members[i]
			m.LastName = strings.TrimSpace(m.LastName)
			m.FirstName = strings.TrimSpace(m.FirstName)
			m.MiddleName = strings.TrimSpace(m.MiddleName)
			m.BirthDate = strings.TrimSpace(m.BirthDate)
			m.Relationship = strings.TrimSpace(m.Relationship)
		}
	}
}

// Validate applies the intake rules in a fixed order and reports every failing
// field, first failure per field.
func (r *CreateRequest) Validate() error {
	v := newRuleSet(DateOf(Clock()))

	v.requiredString("province", r.Province, 255)
	v.requiredString("municipality", r.Municipality, 255)
	v.requiredString("barangay", r.Barangay, 255)
	v.requiredString("purok", r.Purok, 255)
	v.requiredString("last_name", r.LastName, 255)
	v.requiredString("first_name", r.FirstName, 255)
	v.optionalString("middle_name", r.MiddleName, 255)
	v.optionalString("extension_name", r.ExtensionName, 50)
	v.requiredIn("sex", r.Sex, Sexes)
	v.requiredPastDate("birth_date", r.BirthDate, "")
	v.requiredIn("classify_extent_of_damaged_house", r.DamageClassification, DamageClassifications)
	v.optionalIn("nhts_pr_classification", r.PovertyClassification, PovertyClassification)
	for i, sector := range r.Sectors {
		v.optionalString("applicable_sector."+strconv.Itoa(i), sector, 255)
	}
	v.requiredIn("civil_status", r.CivilStatus, CivilStatuses)

	v.counterpart("father", r.LivingWithFather, r.FatherLastName, r.FatherFirstName, r.FatherMiddleName, r.FatherBirthDate)
	v.optionalString("father_extension_name", r.FatherExtensionName, 50)
	v.counterpart("mother", r.LivingWithMother, r.MotherLastName, r.MotherFirstName, r.MotherMiddleName, r.MotherBirthDate)

	v.household("siblings", "siblings", "Number of siblings", "Sibling details", r.LivingWithSiblings, r.SiblingsCount, r.Siblings, false)

	v.counterpart("spouse", r.LivingWithSpouse, r.SpouseLastName, r.SpouseFirstName, r.SpouseMiddleName, r.SpouseBirthDate)
	v.optionalString("spouse_extension_name", r.SpouseExtensionName, 50)

	v.household("children", "children", "Number of children", "Children details", r.LivingWithChildren, r.ChildrenCount, r.Children, false)
	v.household("relatives", "other relatives", "Number of relatives", "Relative details", r.LivingWithRelatives, r.RelativesCount, r.Relatives, true)

	return dErrors.Validation(&v.errs)
}

// ToBeneficiary builds the record to persist. Counterparts are kept only when the
// matching living-with flag is set. Call after Validate.
func (r *CreateRequest) ToBeneficiary(now time.Time) *Beneficiary {
	b := &Beneficiary{
		Timestamp:             DateOf(now),
		Province:              r.Province,
		Municipality:          r.Municipality,
		Barangay:              r.Barangay,
		Purok:                 r.Purok,
		LastName:              r.LastName,
		FirstName:             r.FirstName,
		MiddleName:            r.MiddleName,
		ExtensionName:         r.ExtensionName,
		Sex:                   r.Sex,
		BirthDate:             mustDate(r.BirthDate),
		DamageClassification:  r.DamageClassification,
		PovertyClassification: r.PovertyClassification,
		Sectors:               r.Sectors,
		CivilStatus:           r.CivilStatus,
		LivingWithFather:      r.LivingWithFather,
		LivingWithMother:      r.LivingWithMother,
		LivingWithSpouse:      r.LivingWithSpouse,
		LivingWithSiblings:    r.LivingWithSiblings,
		LivingWithChildren:    r.LivingWithChildren,
		LivingWithRelatives:   r.LivingWithRelatives,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if b.Sectors == nil {
		b.Sectors = []string{}
	}
	if r.LivingWithFather {
		b.Father = Counterpart{LastName: r.FatherLastName, FirstName: r.FatherFirstName, MiddleName: r.FatherMiddleName,
			ExtensionName: r.FatherExtensionName, BirthDate: mustDate(r.FatherBirthDate)}
	}
	if r.LivingWithMother {
		b.Mother = Counterpart{LastName: r.MotherLastName, FirstName: r.MotherFirstName, MiddleName: r.MotherMiddleName,
			BirthDate: mustDate(r.MotherBirthDate)}
	}
	if r.LivingWithSpouse {
		b.Spouse = Counterpart{LastName: r.SpouseLastName, FirstName: r.SpouseFirstName, MiddleName: r.SpouseMiddleName,
			ExtensionName: r.SpouseExtensionName, BirthDate: mustDate(r.SpouseBirthDate)}
	}
	for _, m := range r.Siblings {
		b.Siblings = append(b.Siblings, m.person())
	}
	for _, m := range r.Children {
		b.Children = append(b.Children, m.person())
	}
	for _, m := range r.Relatives {
		b.Relatives = append(b.Relatives, Relative{Person: m.person(), Relationship: m.Relationship})
	}
	return b
}

func (m MemberRequest) person() Person {
	return Person{LastName: m.LastName, FirstName: m.FirstName, MiddleName: m.MiddleName, BirthDate: mustDate(m.BirthDate)}
}

func mustDate(s string) Date {
	d, _ := ParseDate(s)
	return d
}

type ruleSet struct {
	errs  dErrors.FieldErrors
	today Date
}

func newRuleSet(today Date) *ruleSet {
	return &ruleSet{today: today}
}

func label(field string) string {
	return strings.ReplaceAll(field, "_", " ")
}

func (v *ruleSet) fail(field, msg string) {
	v.errs.Add(field, msg)
}

func (v *ruleSet) requiredString(field, value string, max int) bool {
	if value == "" {
		v.fail(field, fmt.Sprintf("The %s field is required.", label(field)))
		return false
	}
	return v.optionalString(field, value, max)
}

func (v *ruleSet) optionalString(field, value string, max int) bool {
	if utf8.RuneCountInString(value) > max {
		v.fail(field, fmt.Sprintf("The %s field must not be greater than %d characters.", label(field), max))
		return false
	}
	return true
}

func (v *ruleSet) requiredIn(field, value string, allowed []string) {
	if value == "" {
		v.fail(field, fmt.Sprintf("The %s field is required.", label(field)))
		return
	}
	v.optionalIn(field, value, allowed)
}

func (v *ruleSet) optionalIn(field, value string, allowed []string) {
	if value != "" && !slices.Contains(allowed, value) {
		v.fail(field, fmt.Sprintf("The selected %s is invalid.", label(field)))
	}
}

// requiredPastDate checks presence, format and before-today. requiredMsg overrides
// the generic required message when set.
func (v *ruleSet) requiredPastDate(field, value, requiredMsg string) {
	if value == "" {
		if requiredMsg == "" {
			requiredMsg = fmt.Sprintf("The %s field is required.", label(field))
		}
		v.fail(field, requiredMsg)
		return
	}
	v.optionalPastDate(field, value)
}

func (v *ruleSet) optionalPastDate(field, value string) {
	if value == "" {
		return
	}
	d, err := ParseDate(value)
	if err != nil {
		v.fail(field, fmt.Sprintf("The %s field must be a valid date.", label(field)))
		return
	}
	if !d.Before(v.today) {
		v.fail(field, fmt.Sprintf("The %s field must be a date before today.", label(field)))
	}
}

func (v *ruleSet) requiredIf(cond bool, field, value, msg string, max int) {
	if cond && value == "" {
		v.fail(field, msg)
		return
	}
	v.optionalString(field, value, max)
}

// counterpart validates the father/mother/spouse block.
func (v *ruleSet) counterpart(who string, living bool, last, first, middle, birth string) {
	title := strings.ToUpper(who[:1]) + who[1:]
	v.requiredIf(living, who+"_last_name", last, fmt.Sprintf("%s's last name is required when living with %s.", title, who), 255)
	v.requiredIf(living, who+"_first_name", first, fmt.Sprintf("%s's first name is required when living with %s.", title, who), 255)
	v.optionalString(who+"_middle_name", middle, 255)
	if living {
		v.requiredPastDate(who+"_birth_date", birth, fmt.Sprintf("%s's birth date is required when living with %s.", title, who))
	} else {
		v.optionalPastDate(who+"_birth_date", birth)
	}
}

// household validates the count and member list of siblings, children or relatives.
func (v *ruleSet) household(field, phrase, countLabel, listLabel string, living bool, count *int, members []MemberRequest, relatives bool) {
	countField := field + "_count"
	switch {
	case count == nil && living:
		v.fail(countField, fmt.Sprintf("%s is required when living with %s.", countLabel, phrase))
	case count != nil && *count > maxHouseholdMembers:
		v.fail(countField, fmt.Sprintf("The %s field must not be greater than %d.", label(countField), maxHouseholdMembers))
	case count != nil && living && *count < 1:
		v.fail(countField, fmt.Sprintf("The %s field must be at least 1.", label(countField)))
	case count != nil && *count < 0:
		v.fail(countField, fmt.Sprintf("The %s field must be at least 0.", label(countField)))
	}

	if living && len(members) == 0 {
		v.fail(field, fmt.Sprintf("%s are required when living with %s.", listLabel, phrase))
	}

	for i, m := range members {
		prefix := field + "." + strconv.Itoa(i) + "."
		v.requiredString(prefix+"last_name", m.LastName, 255)
		v.requiredString(prefix+"first_name", m.FirstName, 255)
		v.optionalString(prefix+"middle_name", m.MiddleName, 255)
		v.requiredPastDate(prefix+"birth_date", m.BirthDate, "")
		if relatives {
			v.requiredString(prefix+"relationship", m.Relationship, 255)
		}
	}
}
