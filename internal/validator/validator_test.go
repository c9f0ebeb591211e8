package validator

import (
	"strings"
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harbrdata/harbr-serv-exten-lnrs-xml-transform/internal/schema"
)

const personXSD = `<xs:schema xmlns:xs="http://www.w3.org/2001/XMLSchema">
  <xs:element name="Person">
    <xs:complexType>
      <xs:sequence>
        <xs:element name="Name" type="xs:string" minOccurs="1" maxOccurs="1"/>
        <xs:element name="Age" type="xs:int" minOccurs="1" maxOccurs="1"/>
      </xs:sequence>
    </xs:complexType>
  </xs:element>
</xs:schema>`

func loadModel(t *testing.T, xsd string) *schema.Model {
	t.Helper()
	model, err := schema.Load(strings.NewReader(xsd))
	require.NoError(t, err)
	return model
}

func parseDoc(t *testing.T, xml string) *etree.Document {
	t.Helper()
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(xml))
	return doc
}

func TestValidateOK(t *testing.T) {
	model := loadModel(t, personXSD)
	doc := parseDoc(t, `<Person><Name>Ada</Name><Age>30</Age></Person>`)

	res := Validate(doc, model)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Violations)
}

func TestValidateMissingRequiredElement(t *testing.T) {
	model := loadModel(t, personXSD)
	doc := parseDoc(t, `<Person><Name>Ada</Name></Person>`)

	res := Validate(doc, model)
	require.False(t, res.Valid)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, "/Person/Age", res.Violations[0].Path)
	assert.Contains(t, res.Violations[0].Message, "minOccurs")
}

func TestValidateOrder(t *testing.T) {
	model := loadModel(t, personXSD)
	doc := parseDoc(t, `<Person><Age>30</Age><Name>Ada</Name></Person>`)

	res := Validate(doc, model)
	require.False(t, res.Valid)
	found := false
	for _, v := range res.Violations {
		if strings.Contains(v.Message, "order") {
			found = true
		}
	}
	assert.True(t, found, "expected an ordering violation, got %v", res.Violations)
}

func TestValidateScalarKinds(t *testing.T) {
	model := loadModel(t, personXSD)
	doc := parseDoc(t, `<Person><Name>Ada</Name><Age>not-a-number</Age></Person>`)

	res := Validate(doc, model)
	require.False(t, res.Valid)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, "/Person/Age", res.Violations[0].Path)
	assert.Contains(t, res.Violations[0].Message, "integer")
}

func TestValidateUndeclaredElement(t *testing.T) {
	model := loadModel(t, personXSD)
	doc := parseDoc(t, `<Person><Name>Ada</Name><Age>30</Age><Shoe>blue</Shoe></Person>`)

	res := Validate(doc, model)
	require.False(t, res.Valid)
	assert.Equal(t, "/Person/Shoe", res.Violations[0].Path)
}

func TestValidateCardinalityAndRepeats(t *testing.T) {
	const xsd = `<xs:schema xmlns:xs="http://www.w3.org/2001/XMLSchema">
  <xs:element name="R">
    <xs:complexType>
      <xs:sequence>
        <xs:element name="V" type="xs:string" minOccurs="1" maxOccurs="2"/>
      </xs:sequence>
    </xs:complexType>
  </xs:element>
</xs:schema>`
	model := loadModel(t, xsd)

	res := Validate(parseDoc(t, `<R><V>a</V><V>b</V></R>`), model)
	assert.True(t, res.Valid)

	res = Validate(parseDoc(t, `<R></R>`), model)
	require.False(t, res.Valid)
	assert.Contains(t, res.Violations[0].Message, "minOccurs")

	res = Validate(parseDoc(t, `<R><V>a</V><V>b</V><V>c</V></R>`), model)
	require.False(t, res.Valid)
	assert.Contains(t, res.Violations[0].Message, "maxOccurs")
}

func TestValidateAttributes(t *testing.T) {
	const xsd = `<xs:schema xmlns:xs="http://www.w3.org/2001/XMLSchema">
  <xs:element name="Segment" type="SegmentType"/>
  <xs:complexType name="SegmentType">
    <xs:sequence>
      <xs:element name="LastUpdated" type="xs:string" minOccurs="0" maxOccurs="1"/>
    </xs:sequence>
    <xs:attribute name="Type" type="xs:string" use="required"/>
  </xs:complexType>
</xs:schema>`
	model := loadModel(t, xsd)

	res := Validate(parseDoc(t, `<Segment Type="UAE MSB"/>`), model)
	assert.True(t, res.Valid)

	res = Validate(parseDoc(t, `<Segment/>`), model)
	require.False(t, res.Valid)
	assert.Contains(t, res.Violations[0].Message, "required attribute")
}

func TestValidateWrongRoot(t *testing.T) {
	model := loadModel(t, personXSD)
	res := Validate(parseDoc(t, `<Human/>`), model)
	require.False(t, res.Valid)
	assert.Contains(t, res.Violations[0].Message, "root element")
}

func TestValidateRecursiveSchemaBounded(t *testing.T) {
	const xsd = `<xs:schema xmlns:xs="http://www.w3.org/2001/XMLSchema">
  <xs:element name="Org" type="OrgType"/>
  <xs:complexType name="OrgType">
    <xs:sequence>
      <xs:element name="Name" type="xs:string" minOccurs="1" maxOccurs="1"/>
      <xs:element name="Parent" type="OrgType" minOccurs="0" maxOccurs="1"/>
    </xs:sequence>
  </xs:complexType>
</xs:schema>`
	model := loadModel(t, xsd)
	doc := parseDoc(t, `<Org><Name>A</Name><Parent><Name>B</Name></Parent></Org>`)

	res := Validate(doc, model)
	assert.True(t, res.Valid, "violations: %v", res.Violations)

	bad := parseDoc(t, `<Org><Name>A</Name><Parent></Parent></Org>`)
	res = Validate(bad, model)
	require.False(t, res.Valid)
	assert.Equal(t, "/Org/Parent/Name", res.Violations[0].Path)
}
