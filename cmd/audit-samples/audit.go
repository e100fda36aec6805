package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xivix/xiim/fetch"
	"github.com/xivix/xiim/s3"
	"github.com/xivix/xiim/samples"
)

// missingSample is a catalog entry with no object behind it.
type missingSample struct {
	Company string
	Key     string
}

type report struct {
	Companies int
	Samples   int
	Objects   int
	Missing   []missingSample
	Orphans   []s3.S3Object
	// Undersized lists referenced objects the downloader would reject as
	// too small to be a document.
	Undersized []s3.S3Object
	TotalSize  int64
	MinSize    int64
	MaxSize    int64
}

// audit compares the catalog with the listed objects. Directory markers are
// ignored.
func audit(cat *samples.Catalog, objects []s3.S3Object) report {
	byKey := make(map[string]s3.S3Object, len(objects))
	for _, o := range objects {
		if isDirectory(o.Key) {
			continue
		}
		byKey[o.Key] = o
	}

	r := report{Companies: cat.Len(), Objects: len(byKey)}
	referenced := make(map[string]bool)
	for _, c := range cat.Companies() {
		for _, s := range c.Samples {
			r.Samples++
			referenced[s.Key] = true
			o, ok := byKey[s.Key]
			if !ok {
				r.Missing = append(r.Missing, missingSample{Company: c.Code, Key: s.Key})
				continue
			}
			if o.Size < fetch.DefaultMinBytes {
				r.Undersized = append(r.Undersized, o)
			}
		}
	}

	for key, o := range byKey {
		if !referenced[key] {
			r.Orphans = append(r.Orphans, o)
		}
		r.TotalSize += o.Size
		if r.MinSize == 0 || o.Size < r.MinSize {
			r.MinSize = o.Size
		}
		if o.Size > r.MaxSize {
			r.MaxSize = o.Size
		}
	}
	sort.Slice(r.Orphans, func(i, j int) bool { return r.Orphans[i].Key < r.Orphans[j].Key })
	sort.Slice(r.Undersized, func(i, j int) bool { return r.Undersized[i].Key < r.Undersized[j].Key })
	return r
}

// similarPair is two sample objects whose perceptual hashes are within the
// audit threshold of each other.
type similarPair struct {
	A, B     string
	Distance int
}

// nearDuplicates compares every pair of hashes, keyed by object key, and
// returns the pairs at or below maxDistance ordered by key. Empty or
// malformed hashes are skipped.
func nearDuplicates(hashes map[string]string, maxDistance int) []similarPair {
	keys := make([]string, 0, len(hashes))
	for k, h := range hashes {
		if h != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var pairs []similarPair
	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			d, err := fetch.Distance(hashes[keys[i]], hashes[keys[j]])
			if err != nil {
				continue
			}
			if d <= maxDistance {
				pairs = append(pairs, similarPair{A: keys[i], B: keys[j], Distance: d})
			}
		}
	}
	return pairs
}

// presentKeys lists the catalog keys that exist in the bucket.
func presentKeys(cat *samples.Catalog, r report) []string {
	missing := make(map[string]bool, len(r.Missing))
	for _, m := range r.Missing {
		missing[m.Key] = true
	}
	var keys []string
	for _, c := range cat.Companies() {
		for _, s := range c.Samples {
			if !missing[s.Key] {
				keys = append(keys, s.Key)
			}
		}
	}
	return keys
}

func printSimilar(pairs []similarPair, maxDistance int) {
	fmt.Println()
	fmt.Printf("Near-duplicate samples (%d, distance <= %d)\n", len(pairs), maxDistance)
	fmt.Println(strings.Repeat("-", 60))
	for _, p := range pairs {
		fmt.Printf("%2d  %s\n    %s\n", p.Distance, p.A, p.B)
	}
}

func isDirectory(key string) bool {
	return strings.HasSuffix(key, "/")
}

func printReport(r report) {
	fmt.Println("Catalog")
	fmt.Println(strings.Repeat("-", 60))
	fmt.Printf("Insurers:         %d\n", r.Companies)
	fmt.Printf("Samples:          %d\n", r.Samples)
	fmt.Printf("Bucket objects:   %d\n", r.Objects)
	if r.Objects > 0 {
		fmt.Printf("Total size:       %s\n", s3.HumanBytes(r.TotalSize))
		fmt.Printf("Minimum size:     %s\n", s3.HumanBytes(r.MinSize))
		fmt.Printf("Maximum size:     %s\n", s3.HumanBytes(r.MaxSize))
		fmt.Printf("Average size:     %s\n", s3.HumanBytes(r.TotalSize/int64(r.Objects)))
	}
	fmt.Println()

	fmt.Printf("Missing samples (%d)\n", len(r.Missing))
	fmt.Println(strings.Repeat("-", 60))
	for _, m := range r.Missing {
		fmt.Printf("%-16s  %s\n", m.Company, m.Key)
	}
	fmt.Println()

	fmt.Printf("Undersized samples (%d, below %s)\n", len(r.Undersized), s3.HumanBytes(fetch.DefaultMinBytes))
	fmt.Println(strings.Repeat("-", 60))
	for _, o := range r.Undersized {
		fmt.Printf("%-12s  %s\n", s3.HumanBytes(o.Size), o.Key)
	}
	fmt.Println()

	fmt.Printf("Unreferenced objects (%d)\n", len(r.Orphans))
	fmt.Println(strings.Repeat("-", 60))
	for _, o := range r.Orphans {
		fmt.Printf("%-12s  %s\n", s3.HumanBytes(o.Size), o.Key)
	}
}
