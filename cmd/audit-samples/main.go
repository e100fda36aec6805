// Command audit-samples cross-checks the insurer sample catalog against the
// sample bucket: catalog keys missing from the bucket, bucket objects the
// catalog never references, and object size statistics. With --similar it
// also downloads the samples and lists near-identical images.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/xivix/xiim/fetch"
	"github.com/xivix/xiim/s3"
	"github.com/xivix/xiim/samples"
)

func main() {
	_ = godotenv.Load()

	bucket := flag.String("bucket", envOr("R2_SAMPLE_BUCKET", "xiim-samples"), "Sample bucket")
	prefix := flag.String("prefix", "samples/", "Prefix holding samples")
	endpoint := flag.String("endpoint", os.Getenv("R2_ENDPOINT"), "R2 endpoint")
	timeout := flag.Duration("timeout", time.Minute, "Listing timeout")
	similar := flag.Int("similar", -1, "Download samples and report pairs within this dHash distance (-1 disables)")
	flag.Parse()

	if *endpoint == "" {
		if id := os.Getenv("R2_ACCOUNT_ID"); id != "" {
			*endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", id)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	cfg := s3.DefaultConfig()
	cfg.Endpoint = *endpoint
	cfg.AccessKeyID = os.Getenv("R2_ACCESS_KEY_ID")
	cfg.SecretAccessKey = os.Getenv("R2_SECRET_ACCESS_KEY")
	client, err := s3.New(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to create R2 client: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("=== Sample Catalog Audit ===")
	fmt.Println()
	fmt.Printf("Bucket: r2://%s/%s\n", *bucket, *prefix)
	fmt.Println()

	objects, err := client.ListObjects(ctx, *bucket, *prefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to list objects: %v\n", err)
		os.Exit(1)
	}

	cat := samples.Default()
	r := audit(cat, objects)
	printReport(r)

	if *similar >= 0 {
		hashes := make(map[string]string)
		for _, key := range presentKeys(cat, r) {
			obj, err := client.GetObject(ctx, *bucket, key, 0)
			if err != nil {
				fmt.Fprintf(os.Stderr, "WARN: %s: %v\n", key, err)
				continue
			}
			info, err := fetch.Inspect(obj.Data)
			if err != nil {
				fmt.Fprintf(os.Stderr, "WARN: %s: %v\n", key, err)
				continue
			}
			hashes[key] = info.PerceptualHash
		}
		printSimilar(nearDuplicates(hashes, *similar), *similar)
	}

	if len(r.Missing) > 0 {
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
