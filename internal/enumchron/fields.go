// Package enumchron derives serial enumeration (volume, issue, part) and
// chronology (year, month or season, day) from free-text item descriptions.
//
// Descriptions are matched against a prioritized cascade of rules. The first
// rule that matches the whole normalized description wins; a description that
// no rule matches yields no fields at all.
package enumchron

// Alma item_data element names for the enumeration and chronology fields.
const (
	FieldEnumerationA = "enumeration_a"
	FieldEnumerationB = "enumeration_b"
	FieldEnumerationC = "enumeration_c"
	FieldChronologyI  = "chronology_i"
	FieldChronologyJ  = "chronology_j"
	FieldChronologyK  = "chronology_k"
)

// ItemDataFields lists the Alma element names in the order they are written.
var ItemDataFields = []string{
	FieldEnumerationA,
	FieldEnumerationB,
	FieldEnumerationC,
	FieldChronologyI,
	FieldChronologyJ,
	FieldChronologyK,
}

// Columns lists the CSV column names used for derived fields, in the same
// order as ItemDataFields.
var Columns = []string{"Enum_A", "Enum_B", "Enum_C", "Chron_I", "Chron_J", "Chron_K"}

// Fields holds derived enumeration/chronology values. Empty means not derived.
type Fields struct {
	EnumA  string `json:"enum_a,omitempty"`  // volume
	EnumB  string `json:"enum_b,omitempty"`  // issue or number
	EnumC  string `json:"enum_c,omitempty"`  // part
	ChronI string `json:"chron_i,omitempty"` // year or year range
	ChronJ string `json:"chron_j,omitempty"` // month/season code or range
	ChronK string `json:"chron_k,omitempty"` // day
}

// IsZero reports whether no field is set.
func (f Fields) IsZero() bool {
	return f == Fields{}
}

// Values returns the field values in ItemDataFields order.
func (f Fields) Values() []string {
	return []string{f.EnumA, f.EnumB, f.EnumC, f.ChronI, f.ChronJ, f.ChronK}
}

// Map returns the values keyed by Alma element name, including empty ones.
func (f Fields) Map() map[string]string {
	m := make(map[string]string, len(ItemDataFields))
	for i, v := range f.Values() {
		m[ItemDataFields[i]] = v
	}
	return m
}

// FieldsFromMap is the inverse of Map. Unknown keys are ignored.
func FieldsFromMap(m map[string]string) Fields {
	return Fields{
		EnumA:  m[FieldEnumerationA],
		EnumB:  m[FieldEnumerationB],
		EnumC:  m[FieldEnumerationC],
		ChronI: m[FieldChronologyI],
		ChronJ: m[FieldChronologyJ],
		ChronK: m[FieldChronologyK],
	}
}
