package main

import (
	"testing"

	"github.com/xivix/xiim/s3"
	"github.com/xivix/xiim/samples"
	"github.com/xivix/xiim/title"
)

func testCatalog() *samples.Catalog {
	return samples.NewCatalog([]samples.Company{
		{Code: "A_LIFE", NameKo: "A생명", Category: title.CategoryLife, Samples: []samples.Sample{
			{Key: "samples/life/a/universal.png", ProductType: "종신보험"},
			{Key: "samples/life/a/cancer.png", ProductType: "암보험"},
		}},
		{Code: "B_FIRE", NameKo: "B화재", Category: title.CategoryNonLife, Samples: []samples.Sample{
			{Key: "samples/nonlife/b/car.png", ProductType: "자동차보험"},
		}},
	})
}

func TestAudit(t *testing.T) {
	objects := []s3.S3Object{
		{Key: "samples/"},
		{Key: "samples/life/a/universal.png", Size: 200 * 1024},
		{Key: "samples/life/a/cancer.png", Size: 2 * 1024},
		{Key: "samples/life/old/legacy.png", Size: 50 * 1024},
	}

	r := audit(testCatalog(), objects)

	if r.Companies != 2 || r.Samples != 3 || r.Objects != 3 {
		t.Fatalf("counts = %d/%d/%d", r.Companies, r.Samples, r.Objects)
	}
	if len(r.Missing) != 1 || r.Missing[0].Company != "B_FIRE" {
		t.Fatalf("missing = %+v", r.Missing)
	}
	if len(r.Orphans) != 1 || r.Orphans[0].Key != "samples/life/old/legacy.png" {
		t.Fatalf("orphans = %+v", r.Orphans)
	}
	if len(r.Undersized) != 1 || r.Undersized[0].Key != "samples/life/a/cancer.png" {
		t.Fatalf("undersized = %+v", r.Undersized)
	}
	if r.MinSize != 2*1024 || r.MaxSize != 200*1024 || r.TotalSize != 252*1024 {
		t.Fatalf("sizes min=%d max=%d total=%d", r.MinSize, r.MaxSize, r.TotalSize)
	}
}

func TestAudit_EmptyBucket(t *testing.T) {
	r := audit(testCatalog(), nil)
	if len(r.Missing) != 3 || len(r.Orphans) != 0 || r.TotalSize != 0 {
		t.Fatalf("report = %+v", r)
	}
}

func TestNearDuplicates(t *testing.T) {
	hashes := map[string]string{
		"samples/life/a/universal.png": "d:0000000000000000",
		"samples/life/b/universal.png": "d:0000000000000003",
		"samples/life/a/cancer.png":    "d:ffffffffffffffff",
		"samples/life/c/broken.png":    "",
		"samples/life/d/garbage.png":   "not-a-hash",
	}

	pairs := nearDuplicates(hashes, 4)
	if len(pairs) != 1 {
		t.Fatalf("pairs = %+v", pairs)
	}
	p := pairs[0]
	if p.A != "samples/life/a/universal.png" || p.B != "samples/life/b/universal.png" || p.Distance != 2 {
		t.Fatalf("pair = %+v", p)
	}

	if pairs := nearDuplicates(hashes, 1); len(pairs) != 0 {
		t.Fatalf("pairs at distance 1 = %+v", pairs)
	}
	if pairs := nearDuplicates(hashes, 64); len(pairs) != 3 {
		t.Fatalf("pairs at distance 64 = %+v", pairs)
	}
}

func TestPresentKeys(t *testing.T) {
	cat := testCatalog()
	r := audit(cat, []s3.S3Object{{Key: "samples/life/a/universal.png", Size: 200 * 1024}})
	keys := presentKeys(cat, r)
	if len(keys) != 1 || keys[0] != "samples/life/a/universal.png" {
		t.Fatalf("keys = %v", keys)
	}
}
