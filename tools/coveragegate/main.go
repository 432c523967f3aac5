// Package main checks a go coverage profile against per-file floors.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

type coverage struct {
	covered int
	total   int
}

// logicFiles hold the state-free parts of the client: codecs, error
// mapping, routing and completion sinks.
var logicFiles = []string{
	"eventstreamrpc/amendment.go",
	"eventstreamrpc/callback_context.go",
	"eventstreamrpc/errors.go",
	"eventstreamrpc/frame.go",
	"eventstreamrpc/handle.go",
	"eventstreamrpc/header.go",
	"eventstreamrpc/outcome.go",
	"eventstreamrpc/result.go",
	"eventstreamrpc/retry.go",
	"eventstreamrpc/routing.go",
	"eventstreamrpc/internal/eventloop/loop.go",
}

// stateFiles drive connections and streams across goroutines.
var stateFiles = []string{
	"eventstreamrpc/connection.go",
	"eventstreamrpc/continuation.go",
	"eventstreamrpc/operation.go",
	"eventstreamrpc/socket_engine.go",
	"eventstreamrpc/transport.go",
	"eventstreamrpc/echotest/server.go",
}

type thresholds struct {
	overall float64
	logic   float64
	state   float64
}

func parseProfile(reader io.Reader) (map[string]coverage, error) {
	result := map[string]coverage{}
	scanner := bufio.NewScanner(reader)
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if first {
			first = false
			if strings.HasPrefix(line, "mode:") {
				continue
			}
		}

		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}

		statements, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("invalid statement count in line %q: %w", line, err)
		}
		hitCount, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, fmt.Errorf("invalid hit count in line %q: %w", line, err)
		}

		fileName, _, found := strings.Cut(fields[0], ":")
		if !found {
			continue
		}
		entry := result[fileName]
		entry.total += statements
		if hitCount > 0 {
			entry.covered += statements
		}
		result[fileName] = entry
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func findCoverage(files map[string]coverage, suffix string) (coverage, bool) {
	for fileName, cov := range files {
		if strings.HasSuffix(fileName, "/"+suffix) || fileName == suffix {
			return cov, true
		}
	}
	return coverage{}, false
}

func pct(c coverage) float64 {
	if c.total == 0 {
		return 0
	}
	return (float64(c.covered) * 100.0) / float64(c.total)
}

func aggregate(files map[string]coverage) coverage {
	total := coverage{}
	for _, fileCov := range files {
		total.covered += fileCov.covered
		total.total += fileCov.total
	}
	return total
}

// evaluate returns the sorted list of floors the profile misses.
func evaluate(files map[string]coverage, limits thresholds) []string {
	failures := make([]string, 0)
	if overall := pct(aggregate(files)); overall+1e-9 < limits.overall {
		failures = append(failures, fmt.Sprintf("aggregate coverage %.1f%% is below %.1f%%", overall, limits.overall))
	}

	check := func(kind string, names []string, floor float64) {
		for _, fileName := range names {
			fileCov, ok := findCoverage(files, fileName)
			if !ok {
				failures = append(failures, fmt.Sprintf("%s file %s is missing from coverage profile", kind, fileName))
				continue
			}
			if filePct := pct(fileCov); filePct+1e-9 < floor {
				failures = append(failures, fmt.Sprintf("%s file %s is %.1f%% (required %.1f%%)", kind, fileName, filePct, floor))
			}
		}
	}
	check("logic", logicFiles, limits.logic)
	check("state", stateFiles, limits.state)

	sort.Strings(failures)
	return failures
}

func main() {
	profilePath := flag.String("profile", "coverage.out", "path to go coverage profile")
	overallThreshold := flag.Float64("overall", 85.0, "minimum aggregate coverage percentage")
	logicThreshold := flag.Float64("logic", 95.0, "minimum coverage percentage of logic files")
	stateThreshold := flag.Float64("state", 80.0, "minimum coverage percentage of connection and stream files")
	flag.Parse()

	file, err := os.Open(*profilePath) // #nosec G304 -- path is explicitly provided by local CI/operator input
	if err != nil {
		fmt.Fprintf(os.Stderr, "coverage gate failed reading profile: %v\n", err)
		os.Exit(1)
	}
	files, err := parseProfile(file)
	_ = file.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "coverage gate failed reading profile: %v\n", err)
		os.Exit(1)
	}

	total := aggregate(files)
	failures := evaluate(files, thresholds{overall: *overallThreshold, logic: *logicThreshold, state: *stateThreshold})

	fmt.Printf("aggregate: %.1f%% (%d/%d)\n", pct(total), total.covered, total.total)
	if len(failures) == 0 {
		fmt.Println("coverage gate: PASS")
		return
	}

	fmt.Println("coverage gate: FAIL")
	for _, failure := range failures {
		fmt.Printf("- %s\n", failure)
	}
	os.Exit(2)
}
