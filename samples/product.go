package samples

import "strings"

type productPattern struct {
	product  string
	keywords []string
}

// productPatterns is checked in order; the first product with a matching
// keyword wins.
var productPatterns = []productPattern{
	{"종신", []string{"종신", "종신보험", "universal", "whole"}},
	{"암", []string{"암", "암보험", "cancer"}},
	{"어린이", []string{"어린이", "자녀", "아이", "태아", "child", "kids"}},
	{"운전자", []string{"운전자", "운전", "driver"}},
	{"연금", []string{"연금", "pension", "annuity"}},
	{"건강", []string{"건강", "health"}},
	{"상해", []string{"상해", "injury"}},
	{"화재", []string{"화재", "fire"}},
	{"실손", []string{"실손", "실비", "real"}},
	{"치아", []string{"치아", "dental"}},
	{"변액", []string{"변액", "variable"}},
	{"정기", []string{"정기", "term life"}},
	{"저축", []string{"저축", "savings"}},
	{"종합", []string{"종합"}},
}

// ExtractProductType finds the product line a search keyword refers to,
// e.g. "30대 암보험 추천" is "암". It returns "" when nothing matches.
func ExtractProductType(keyword string) string {
	k := strings.ToLower(keyword)
	for _, p := range productPatterns {
		for _, kw := range p.keywords {
			if strings.Contains(k, kw) {
				return p.product
			}
		}
	}
	return ""
}

// Select picks the company's sample for product, falling back to the
// first sample. ok is false when the company has no samples.
func (c Company) Select(product string) (Sample, bool) {
	if len(c.Samples) == 0 {
		return Sample{}, false
	}
	if product != "" {
		for _, s := range c.Samples {
			if strings.Contains(s.ProductType, product) || strings.Contains(product, s.ProductType) {
				return s, true
			}
		}
	}
	return c.Samples[0], true
}
