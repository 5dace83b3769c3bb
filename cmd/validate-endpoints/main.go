package main

import (
	"fmt"
	"os"

	"github.com/whereissam/walcache/upstream"
)

/* validate-endpoints - Standalone CLI tool to validate endpoints.yaml
 * Usage: go run cmd/validate-endpoints/main.go [endpoints.yaml]
 * Exit codes: 0 = valid, 1 = invalid
 */

func main() {
	// Get endpoints file path from args or use default
	endpointsFile := "endpoints.yaml"
	if len(os.Args) > 1 {
		endpointsFile = os.Args[1]
	}

	fmt.Printf("Validating endpoints file: %s\n\n", endpointsFile)

	// Create loader and attempt to load endpoints
	loader := upstream.NewLoader()
	if err := loader.Load(endpointsFile); err != nil {
		fmt.Fprintf(os.Stderr, "❌ VALIDATION FAILED\n\n")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ VALIDATION PASSED\n\n")

	for _, role := range []upstream.Role{upstream.Aggregator, upstream.Publisher} {
		endpoints := loader.Endpoints(role)
		fmt.Printf("%s endpoints (%d):\n", role, len(endpoints))
		for i, ep := range endpoints {
			fmt.Printf("  %d. %s\n", i+1, ep)
		}
		fmt.Printf("  default: %s\n\n", loader.Default(role))
	}

	fmt.Printf("✓ All endpoints are valid!\n")
	os.Exit(0)
}
