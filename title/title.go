// Package title turns free-form Korean search phrases into short overlay
// labels.
package title

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// Placeholder is returned when nothing is left after cleanup.
	Placeholder = "맞춤 설계안 예시"
	// MaxRunes is the longest label body kept without truncation.
	MaxRunes = 20
	// ellipsis replaces the tail of a truncated label.
	ellipsis = ".."
)

// strip lists the phrase fragments removed before a keyword becomes a
// label: purpose particles, request endings, politeness and question
// endings, and document-type words the overlay already implies. Order
// matters, longer request forms are removed before their suffixes.
var strip = []*regexp.Regexp{
	regexp.MustCompile(`을 위한|를 위한|에 대한|에 관한`),
	regexp.MustCompile(`추천해줘|추천해주세요|알려줘|알려주세요|보여줘|보여주세요`),
	regexp.MustCompile(`해줘|해주세요|줘|주세요`),
	regexp.MustCompile(`좀|좀요|요|있을까요|있나요|할까요|할까`),
	regexp.MustCompile(`설계안|설계서|보장분석표|가입설계서`),
}

var spaces = regexp.MustCompile(`\s+`)

// Summarize derives an overlay label from a search keyword.
//
//	Summarize("30대 암보험 추천해줘") // "[30대 암보험 맞춤안]"
//	Summarize("설계안 보여줘")         // "맞춤 설계안 예시"
func Summarize(keyword string) string {
	s := keyword
	for _, re := range strip {
		s = re.ReplaceAllString(s, " ")
	}
	s = strings.TrimSpace(spaces.ReplaceAllString(s, " "))

	if utf8.RuneCountInString(s) > MaxRunes {
		r := []rune(s)
		s = string(r[:MaxRunes-1]) + ellipsis
	}
	if s == "" {
		return Placeholder
	}
	return "[" + s + " 맞춤안]"
}

// Category groups insurers by licence.
type Category string

const (
	CategoryLife    Category = "LIFE"
	CategoryNonLife Category = "NON_LIFE"
)

// productLabels maps the product stems found in keywords and sample
// product types to their display label.
var productLabels = map[string]string{
	"종합":  "종합보험",
	"암":   "암보험",
	"종신":  "종신보험",
	"정기":  "정기보험",
	"어린이": "어린이보험",
	"운전자": "운전자보험",
	"연금":  "연금보험",
	"건강":  "건강보험",
	"상해":  "상해보험",
	"실손":  "실손보험",
	"저축":  "저축보험",
	"변액":  "변액보험",
	"화재":  "화재보험",
	"치아":  "치아보험",
	"태아":  "태아보험",
}

// DefaultProductLabel is used for products without a label of their own.
const DefaultProductLabel = "맞춤보험"

// ProductLabel returns the display label for a product stem such as "암".
func ProductLabel(product string) string {
	if label, ok := productLabels[product]; ok {
		return label
	}
	return DefaultProductLabel
}

// CompanyProduct builds the title used when no keyword label is wanted,
// e.g. "[삼성생명 암보험 설계안]" for product "암".
func CompanyProduct(companyName, product string) string {
	return "[" + companyName + " " + ProductLabel(product) + " 설계안]"
}

// Valid reports whether t can be rendered as an overlay: 3 to 50 runes and
// no markup or quoting characters.
func Valid(t string) bool {
	n := utf8.RuneCountInString(t)
	if n < 3 || n > 50 {
		return false
	}
	return !strings.ContainsAny(t, "<>'\"`")
}
