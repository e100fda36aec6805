// Command check-r2-perms verifies that the configured R2 token can read the
// sample bucket and, optionally, write the raw archive bucket.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joho/godotenv"
)

type checkResult struct {
	Name   string
	Pass   bool
	Detail string
}

func main() {
	_ = godotenv.Load()

	bucket := flag.String("bucket", envOr("R2_SAMPLE_BUCKET", "xiim-samples"), "Sample bucket to check")
	prefix := flag.String("prefix", "samples/", "Prefix to list (minimal)")
	rawBucket := flag.String("raw-bucket", os.Getenv("R2_RAW_BUCKET"), "Raw archive bucket to probe for writes (skipped when empty)")
	endpoint := flag.String("endpoint", r2Endpoint(), "R2 endpoint (defaults from R2_ENDPOINT or R2_ACCOUNT_ID)")
	timeout := flag.Duration("timeout", 20*time.Second, "per-operation timeout")
	flag.Parse()

	ctx := context.Background()

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion("auto")}
	if id := os.Getenv("R2_ACCESS_KEY_ID"); id != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(id, os.Getenv("R2_SECRET_ACCESS_KEY"), ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		fmt.Printf("FATAL: failed to load R2 config: %v\n", err)
		os.Exit(2)
	}

	s3 := awss3.NewFromConfig(cfg, func(o *awss3.Options) {
		if *endpoint != "" {
			o.BaseEndpoint = aws.String(*endpoint)
		}
		o.UsePathStyle = true
	})

	var results []checkResult

	// REQUIRED: ListObjectsV2
	var firstKey string
	{
		ctxOp, cancel := context.WithTimeout(ctx, *timeout)
		defer cancel()
		out, err := s3.ListObjectsV2(ctxOp, &awss3.ListObjectsV2Input{Bucket: bucket, Prefix: prefix, MaxKeys: aws.Int32(1)})
		res := classify("s3:ListBucket", err)
		if err == nil {
			if len(out.Contents) > 0 && out.Contents[0].Key != nil {
				firstKey = *out.Contents[0].Key
				res.Detail = fmt.Sprintf("listed OK (sample key: %s)", firstKey)
			} else {
				res.Detail = "listed OK (no objects under prefix)"
			}
		}
		results = append(results, res)
	}

	// REQUIRED: HeadObject and GetObject
	if firstKey != "" {
		{
			ctxOp, cancel := context.WithTimeout(ctx, *timeout)
			defer cancel()
			_, err := s3.HeadObject(ctxOp, &awss3.HeadObjectInput{Bucket: bucket, Key: &firstKey})
			results = append(results, classify("s3:HeadObject", err))
		}
		{
			ctxOp, cancel := context.WithTimeout(ctx, *timeout)
			defer cancel()
			out, err := s3.GetObject(ctxOp, &awss3.GetObjectInput{Bucket: bucket, Key: &firstKey, Range: aws.String("bytes=0-0")})
			res := classify("s3:GetObject", err)
			if err == nil && out.Body != nil {
				_, _ = io.CopyN(io.Discard, out.Body, 1)
				out.Body.Close()
				res.Detail = "read 1 byte OK"
			}
			results = append(results, res)
		}
	}

	// OPTIONAL: PutObject + DeleteObject on the raw bucket
	if *rawBucket != "" {
		key := fmt.Sprintf("raw/.perm-check-%d", time.Now().UnixNano())
		ctxOp, cancel := context.WithTimeout(ctx, *timeout)
		defer cancel()
		_, err := s3.PutObject(ctxOp, &awss3.PutObjectInput{
			Bucket:      rawBucket,
			Key:         aws.String(key),
			Body:        bytes.NewReader([]byte("ok")),
			ContentType: aws.String("text/plain"),
		})
		results = append(results, classify("s3:PutObject", err))
		if err == nil {
			_, err := s3.DeleteObject(ctxOp, &awss3.DeleteObjectInput{Bucket: rawBucket, Key: aws.String(key)})
			results = append(results, classify("s3:DeleteObject", err))
		}
	}

	fmt.Println("R2 permission check summary:")
	missingRequired := 0
	for _, r := range results {
		status := "OK"
		if !r.Pass {
			if isRequired(r.Name) {
				status = "MISSING"
				missingRequired++
			} else {
				status = "OPTIONAL"
			}
		}
		if r.Detail != "" {
			fmt.Printf("- %-18s : %-8s : %s\n", r.Name, status, r.Detail)
		} else {
			fmt.Printf("- %-18s : %-8s\n", r.Name, status)
		}
	}

	if missingRequired > 0 {
		fmt.Printf("\nResult: %d required permission(s) missing.\n", missingRequired)
		os.Exit(1)
	}
	fmt.Println("\nResult: all required permissions present.")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func r2Endpoint() string {
	if v := os.Getenv("R2_ENDPOINT"); v != "" {
		return v
	}
	if id := os.Getenv("R2_ACCOUNT_ID"); id != "" {
		return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", id)
	}
	return ""
}

func classify(name string, err error) checkResult {
	if err == nil {
		return checkResult{Name: name, Pass: true}
	}
	return checkResult{Name: name, Pass: false, Detail: strings.TrimSpace(err.Error())}
}

// isRequired reports whether the pipeline cannot run without the permission.
// Raw archiving is best effort, so its write checks are optional.
func isRequired(name string) bool {
	switch name {
	case "s3:ListBucket", "s3:HeadObject", "s3:GetObject":
		return true
	default:
		return false
	}
}
