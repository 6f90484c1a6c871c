package internal

// Category is the interned code of a categorical value.
type Category uint32

// Missing is the code of the empty value. It is reserved so that "no value"
// never collides with a real category.
const Missing Category = 0

// Dictionary interns identifiers and low-cardinality text so that tables hold
// small fixed-size codes instead of repeated strings. One dictionary is shared
// by all tables of a run, which makes equal keys equal codes across tables.
type Dictionary struct {
	codes  map[string]Category
	values []string
}

func NewDictionary() *Dictionary {
	return &Dictionary{
		codes:  map[string]Category{"": Missing},
		values: []string{""},
	}
}

// Intern returns the code of value, assigning a new one on first sight.
func (d *Dictionary) Intern(value string) Category {
	if code, ok := d.codes[value]; ok {
		return code
	}
	code := Category(len(d.values))
	d.codes[value] = code
	d.values = append(d.values, value)
	return code
}

// Lookup returns the code of value without interning it.
func (d *Dictionary) Lookup(value string) (Category, bool) {
	code, ok := d.codes[value]
	return code, ok
}

// Value returns the text of code. Unknown codes return "".
func (d *Dictionary) Value(code Category) string {
	if int(code) >= len(d.values) {
		return ""
	}
	return d.values[code]
}

// Len returns the number of distinct values, the empty value included.
func (d *Dictionary) Len() int {
	return len(d.values)
}
