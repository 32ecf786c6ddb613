package receipt

import (
	"fmt"
	"sort"
	"strings"
)

// VocabularyName identifies one of the three classification vocabularies
type VocabularyName string

const (
	VocabCategories VocabularyName = "categories"
	VocabAccounts   VocabularyName = "accounts"
	VocabPaidBy     VocabularyName = "paid_by"
)

// Default vocabulary seeds, offered on first run.
var (
	defaultCategories = []string{
		"Furniture",
		"Meal",
		"Traffic",
		"Grocery",
		"Electricity",
		"Telecom",
		"Clothing",
		"Personal Care",
		"Cigarette",
		"Water Fee",
		"Air Ticket",
		"Entertainment",
		"Mobile",
	}
	defaultAccounts = []string{
		"BKK Bank",
		"Cash",
		"Helen B Citi Card",
		"HSBC HK",
		"HSBC World Debit Card",
		"K Bank",
		"Line Pay Wallet",
		"Mox Bank",
		"Rabbit",
		"Wise Virtual Card",
		"ZA Bank",
	}
	defaultPaidBy = []string{
		"Helen",
		"Tony",
	}
)

// DuplicateValueError reports a vocabulary insertion that collides with an
// existing value. The vocabulary is left unchanged.
type DuplicateValueError struct {
	List  VocabularyName
	Value string
}

func (e *DuplicateValueError) Error() string {
	return fmt.Sprintf("%q already exists in %s", e.Value, e.List)
}

// Vocabulary is a user-extensible set of unique classification values.
// Category and account vocabularies compare case-insensitively and stay
// alphabetically sorted; the paid-by vocabulary compares exactly and keeps
// insertion order. A Vocabulary is not safe for concurrent use; the manager
// serializes access.
type Vocabulary struct {
	name            VocabularyName
	caseInsensitive bool
	sorted          bool
	values          []string
}

// NewVocabulary creates a vocabulary seeded with the given values. Sorted
// vocabularies are sorted on creation as well as after every insertion.
func NewVocabulary(name VocabularyName, seed []string, caseInsensitive, sorted bool) *Vocabulary {
	v := &Vocabulary{
		name:            name,
		caseInsensitive: caseInsensitive,
		sorted:          sorted,
		values:          append([]string(nil), seed...),
	}
	if v.sorted {
		sort.Strings(v.values)
	}
	return v
}

// Add inserts a new value, failing with *DuplicateValueError when an equal
// value already exists.
func (v *Vocabulary) Add(value string) error {
	for _, existing := range v.values {
		if v.equal(existing, value) {
			return &DuplicateValueError{List: v.name, Value: value}
		}
	}
	v.values = append(v.values, value)
	if v.sorted {
		sort.Strings(v.values)
	}
	return nil
}

// Contains reports whether an equal value exists
func (v *Vocabulary) Contains(value string) bool {
	for _, existing := range v.values {
		if v.equal(existing, value) {
			return true
		}
	}
	return false
}

// Values returns a copy of the vocabulary's values
func (v *Vocabulary) Values() []string {
	return append([]string(nil), v.values...)
}

func (v *Vocabulary) equal(a, b string) bool {
	if v.caseInsensitive {
		return strings.EqualFold(a, b)
	}
	return a == b
}
