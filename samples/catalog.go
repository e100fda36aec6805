// Package samples holds the curated insurer sample catalog used when no
// source image can be obtained for a request.
//
// Each insurer has one or more verified benefit-document samples stored in
// the sample bucket under samples/{life|nonlife}/<insurer>/<product>.png.
// The catalog is static and read-only.
package samples

import (
	"fmt"

	"github.com/benbjohnson/immutable"

	"github.com/xivix/xiim/title"
)

// Sample is one stored benefit document.
type Sample struct {
	Key         string `json:"key"`
	ProductType string `json:"product_type"`
}

// Company is an insurer and its samples. The first sample is the default.
type Company struct {
	Code     string         `json:"code"`
	NameKo   string         `json:"name_ko"`
	Category title.Category `json:"category"`
	Samples  []Sample       `json:"samples"`
}

func life(code, name string, samples ...Sample) Company {
	return Company{Code: code, NameKo: name, Category: title.CategoryLife, Samples: samples}
}

func nonLife(code, name string, samples ...Sample) Company {
	return Company{Code: code, NameKo: name, Category: title.CategoryNonLife, Samples: samples}
}

var companies = []Company{
	life("SAMSUNG_LIFE", "삼성생명",
		Sample{"samples/life/samsung/universal.png", "종신보험"},
		Sample{"samples/life/samsung/cancer.png", "암보험"}),
	life("HANWHA_LIFE", "한화생명", Sample{"samples/life/hanwha/universal.png", "종신보험"}),
	life("KYOBO_LIFE", "교보생명", Sample{"samples/life/kyobo/universal.png", "종신보험"}),
	life("NH_LIFE", "NH농협생명", Sample{"samples/life/nh/universal.png", "종신보험"}),
	life("SHINHAN_LIFE", "신한라이프", Sample{"samples/life/shinhan/universal.png", "종신보험"}),
	life("MIRAE_LIFE", "미래에셋생명", Sample{"samples/life/mirae/universal.png", "변액보험"}),
	life("KB_LIFE", "KB라이프생명", Sample{"samples/life/kb/universal.png", "종신보험"}),
	life("AIA", "AIA생명", Sample{"samples/life/aia/universal.png", "종신보험"}),
	life("METLIFE", "메트라이프생명", Sample{"samples/life/metlife/universal.png", "종신보험"}),
	life("PRUDENTIAL", "푸르덴셜생명", Sample{"samples/life/prudential/universal.png", "종신보험"}),
	life("LINA", "라이나생명", Sample{"samples/life/lina/cancer.png", "암보험"}),
	life("DB_LIFE", "DB생명", Sample{"samples/life/db/universal.png", "종신보험"}),
	life("DONGYANG_LIFE", "동양생명", Sample{"samples/life/dongyang/universal.png", "종신보험"}),
	life("ABL_LIFE", "ABL생명", Sample{"samples/life/abl/universal.png", "종신보험"}),
	life("CHUBB_LIFE", "처브라이프생명", Sample{"samples/life/chubb/universal.png", "종신보험"}),
	life("KDB_LIFE", "KDB생명", Sample{"samples/life/kdb/universal.png", "종신보험"}),
	life("IBK_LIFE", "IBK연금보험", Sample{"samples/life/ibk/pension.png", "연금보험"}),
	life("HANA_LIFE", "하나생명", Sample{"samples/life/hana/universal.png", "종신보험"}),
	life("HEUNGKUK_LIFE", "흥국생명", Sample{"samples/life/heungkuk/universal.png", "종신보험"}),

	nonLife("SAMSUNG_FIRE", "삼성화재",
		Sample{"samples/nonlife/samsung/driver.png", "운전자보험"},
		Sample{"samples/nonlife/samsung/child.png", "어린이보험"}),
	nonLife("HYUNDAI_MARINE", "현대해상",
		Sample{"samples/nonlife/hyundai/child.png", "어린이보험"},
		Sample{"samples/nonlife/hyundai/driver.png", "운전자보험"}),
	nonLife("DB_INSURANCE", "DB손해보험", Sample{"samples/nonlife/db/driver.png", "운전자보험"}),
	nonLife("KB_INSURANCE", "KB손해보험", Sample{"samples/nonlife/kb/child.png", "어린이보험"}),
	nonLife("MERITZ_FIRE", "메리츠화재", Sample{"samples/nonlife/meritz/driver.png", "운전자보험"}),
	nonLife("HANWHA_GENERAL", "한화손해보험", Sample{"samples/nonlife/hanwha/driver.png", "운전자보험"}),
	nonLife("NH_INSURANCE", "NH농협손해보험", Sample{"samples/nonlife/nh/driver.png", "운전자보험"}),
	nonLife("LOTTE_INSURANCE", "롯데손해보험", Sample{"samples/nonlife/lotte/driver.png", "운전자보험"}),
	nonLife("MG_INSURANCE", "MG손해보험", Sample{"samples/nonlife/mg/driver.png", "운전자보험"}),
	nonLife("HEUNGKUK_FIRE", "흥국화재", Sample{"samples/nonlife/heungkuk/driver.png", "운전자보험"}),
	nonLife("AXA_GENERAL", "AXA손해보험", Sample{"samples/nonlife/axa/driver.png", "운전자보험"}),
	nonLife("CHUBB_GENERAL", "처브손해보험", Sample{"samples/nonlife/chubb/driver.png", "운전자보험"}),
}

// Catalog is an immutable index of insurers by code.
type Catalog struct {
	byCode     *immutable.SortedMap[string, Company]
	categories map[title.Category]int
}

// NewCatalog indexes cs. Later entries replace earlier ones with the same code.
func NewCatalog(cs []Company) *Catalog {
	b := immutable.NewSortedMapBuilder[string, Company](nil)
	for _, c := range cs {
		b.Set(c.Code, c)
	}
	m := b.Map()

	counts := make(map[title.Category]int)
	itr := m.Iterator()
	for !itr.Done() {
		_, c, _ := itr.Next()
		counts[c.Category]++
	}
	return &Catalog{byCode: m, categories: counts}
}

var defaultCatalog = NewCatalog(companies)

// Default returns the built-in catalog.
func Default() *Catalog {
	return defaultCatalog
}

// Lookup returns the insurer registered under code.
func (c *Catalog) Lookup(code string) (Company, bool) {
	return c.byCode.Get(code)
}

// Len returns the number of insurers.
func (c *Catalog) Len() int {
	return c.byCode.Len()
}

// Companies returns every insurer ordered by code.
func (c *Catalog) Companies() []Company {
	out := make([]Company, 0, c.byCode.Len())
	itr := c.byCode.Iterator()
	for !itr.Done() {
		_, co, _ := itr.Next()
		out = append(out, co)
	}
	return out
}

// CompanyName returns the Korean name for code, or code itself when unknown.
func (c *Catalog) CompanyName(code string) string {
	if co, ok := c.Lookup(code); ok {
		return co.NameKo
	}
	return code
}

// InsuranceType labels the insurer's licence together with the size of its
// peer group, e.g. "LIFE_19". Unknown insurers return "".
func (c *Catalog) InsuranceType(code string) string {
	co, ok := c.Lookup(code)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s_%d", co.Category, c.categories[co.Category])
}
