package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	dErrors "relief/pkg/domain-errors"
)

type CreateRequestSuite struct {
	suite.Suite
	restore func() time.Time
}

func TestCreateRequestSuite(t *testing.T) {
	suite.Run(t, new(CreateRequestSuite))
}

func (s *CreateRequestSuite) SetupTest() {
	s.restore = Clock
	Clock = func() time.Time { return time.Date(2025, 11, 10, 9, 0, 0, 0, time.UTC) }
}

func (s *CreateRequestSuite) TearDownTest() {
	Clock = s.restore
}

func validRequest() CreateRequest {
	return CreateRequest{
		Province:             "Surigao del Norte",
		Municipality:         "Dapa",
		Barangay:             "Osmeña",
		Purok:                "Purok 3",
		LastName:             "Dela Cruz",
		FirstName:            "Arvin",
		MiddleName:           "Santos",
		Sex:                  SexMale,
		BirthDate:            "1990-01-01",
		DamageClassification: DamageTotally,
		CivilStatus:          "Single",
	}
}

func fieldsOf(err error) *dErrors.FieldErrors {
	var ve *dErrors.ValidationError
	if errors.As(err, &ve) {
		return ve.Fields
	}
	return nil
}

func (s *CreateRequestSuite) TestValidRequestPasses() {
	req := validRequest()
	s.NoError(req.Validate())
}

func (s *CreateRequestSuite) TestRequiredFieldsInRuleOrder() {
	req := CreateRequest{}
	err := req.Validate()
	s.Require().Error(err)

	fields := fieldsOf(err)
	s.Require().NotNil(fields)
	s.Equal([]string{
		"province", "municipality", "barangay", "purok", "last_name", "first_name",
		"sex", "birth_date", "classify_extent_of_damaged_house", "civil_status",
	}, fields.Fields())
	s.Equal("The province field is required.", err.Error())
}

func (s *CreateRequestSuite) TestBirthDateRules() {
	s.Run("future date", func() {
		req := validRequest()
		req.BirthDate = "2030-01-01"
		s.Equal([]string{"The birth date field must be a date before today."}, fieldsOf(req.Validate()).Get("birth_date"))
	})
	s.Run("today is not before today", func() {
		req := validRequest()
		req.BirthDate = "2025-11-10"
		s.Error(req.Validate())
	})
	s.Run("garbage", func() {
		req := validRequest()
		req.BirthDate = "01/02/1990x"
		s.Equal([]string{"The birth date field must be a valid date."}, fieldsOf(req.Validate()).Get("birth_date"))
	})
}

func (s *CreateRequestSuite) TestEnumRules() {
	req := validRequest()
	req.Sex = "Other"
	req.PovertyClassification = "Rich"
	req.CivilStatus = "Complicated"

	fields := fieldsOf(req.Validate())
	s.Equal([]string{"sex", "nhts_pr_classification", "civil_status"}, fields.Fields())
	s.Equal([]string{"The selected sex is invalid."}, fields.Get("sex"))
}

func (s *CreateRequestSuite) TestLivingWithFatherRequiresDetails() {
	req := validRequest()
	req.LivingWithFather = true

	fields := fieldsOf(req.Validate())
	s.Equal([]string{"Father's last name is required when living with father."}, fields.Get("father_last_name"))
	s.Equal([]string{"Father's first name is required when living with father."}, fields.Get("father_first_name"))
	s.Equal([]string{"Father's birth date is required when living with father."}, fields.Get("father_birth_date"))
}

func (s *CreateRequestSuite) TestHouseholdRules() {
	s.Run("count and details required when living with siblings", func() {
		req := validRequest()
		req.LivingWithSiblings = true
		fields := fieldsOf(req.Validate())
		s.Equal([]string{"Number of siblings is required when living with siblings."}, fields.Get("siblings_count"))
		s.Equal([]string{"Sibling details are required when living with siblings."}, fields.Get("siblings"))
	})

	s.Run("count bounds", func() {
		zero, many := 0, 21
		req := validRequest()
		req.LivingWithChildren = true
		req.ChildrenCount = &zero
		req.Children = []MemberRequest{{LastName: "Dela Cruz", FirstName: "Ana", BirthDate: "2010-05-05"}}
		req.RelativesCount = &many
		fields := fieldsOf(req.Validate())
		s.Equal([]string{"The children count field must be at least 1."}, fields.Get("children_count"))
		s.Equal([]string{"The relatives count field must not be greater than 20."}, fields.Get("relatives_count"))
	})

	s.Run("relatives need a relationship", func() {
		one := 1
		req := validRequest()
		req.LivingWithRelatives = true
		req.RelativesCount = &one
		req.Relatives = []MemberRequest{{LastName: "Santos", FirstName: "Lito", BirthDate: "1970-02-02"}}
		fields := fieldsOf(req.Validate())
		s.Equal([]string{"The relatives.0.relationship field is required."}, fields.Get("relatives.0.relationship"))
	})
}

func TestNormalize(t *testing.T) {
	req := CreateRequest{
		FirstName: "  Arvin ",
		Sectors:   []string{" PWD", "PWD", "", "Senior Citizen"},
		Siblings:  []MemberRequest{{FirstName: " Ana "}},
	}
	req.Normalize()
	assert.Equal(t, "Arvin", req.FirstName)
	assert.Equal(t, []string{"PWD", "Senior Citizen"}, req.Sectors)
	assert.Equal(t, "Ana", req.Siblings[0].FirstName)
}

func TestToBeneficiary(t *testing.T) {
	now := time.Date(2025, 11, 10, 9, 0, 0, 0, time.UTC)
	one := 1
	req := validRequest()
	req.FatherLastName = "ignored because not living with father"
	req.LivingWithSpouse = true
	req.SpouseLastName, req.SpouseFirstName, req.SpouseBirthDate = "Dela Cruz", "Maria", "1991-03-04"
	req.LivingWithRelatives = true
	req.RelativesCount = &one
	req.Relatives = []MemberRequest{{LastName: "Santos", FirstName: "Lito", BirthDate: "1970-02-02", Relationship: "Uncle"}}

	b := req.ToBeneficiary(now)
	require.NotNil(t, b)
	assert.Equal(t, NewDate(1990, time.January, 1), b.BirthDate)
	assert.Equal(t, NewDate(2025, time.November, 10), b.Timestamp)
	assert.Empty(t, b.Father.LastName)
	assert.Equal(t, "Dela Cruz, Maria", b.Spouse.FullName())
	require.Len(t, b.Relatives, 1)
	assert.Equal(t, "Uncle", b.Relatives[0].Relationship)
	assert.Equal(t, []string{}, b.Sectors)
}
