// Command estimate prices a single image from the command line.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/raine/local-market-estimator/internal/config"
	"github.com/raine/local-market-estimator/internal/estimate"
	"github.com/raine/local-market-estimator/internal/present"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "Usage: %s <image-path> <zip-code>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment variables:\n")
		fmt.Fprintf(os.Stderr, "  GEMINI_API_KEY - Required\n")
		fmt.Fprintf(os.Stderr, "  GEMINI_MODEL   - Optional, defaults to %s\n", estimate.DefaultModel)
		os.Exit(1)
	}

	imagePath := os.Args[1]
	postalCode := os.Args[2]

	imageData, err := os.ReadFile(imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read image: %v\n", err)
		os.Exit(1)
	}

	config.LoadEnvFiles()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	sub := estimate.Submission{
		Image: estimate.Image{
			Name:     filepath.Base(imagePath),
			MIMEType: estimate.DetectMIMEType("", imageData),
			Size:     int64(len(imageData)),
			Data:     imageData,
		},
		PostalCode: postalCode,
	}

	// Validate before requiring a key so input errors are reported first
	if err := estimate.NewValidator().Validate(sub); err != nil {
		fail(err)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.EstimateTimeout)
	defer cancel()

	client, err := estimate.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating Gemini client: %v\n", err)
		os.Exit(1)
	}

	result, err := client.Estimate(ctx, sub)
	if err != nil {
		fail(err)
	}

	fmt.Println(present.PlainText(present.Result(result)))
}

func fail(err error) {
	report := estimate.ReportFor(estimate.Classify(err))
	fmt.Fprintf(os.Stderr, "%s [%s]\n", report.Message, report.Kind)
	os.Exit(1)
}
