// Command perfgate runs the broker benchmarks and fails when any of them
// regresses past a baseline recorded on the same machine.
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

type benchmarkBaseline struct {
	NSOp     float64 `json:"ns_op"`
	AllocsOp float64 `json:"allocs_op"`
}

type baselineFile struct {
	Package    string                       `json:"package"`
	Benchmarks map[string]benchmarkBaseline `json:"benchmarks"`
}

func parseBenchOutput(output string) map[string]benchmarkBaseline {
	results := map[string]benchmarkBaseline{}
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		// BenchmarkName-8  N  ns/op  B/op  allocs/op
		if len(fields) < 5 || !strings.HasPrefix(fields[0], "Benchmark") {
			continue
		}
		name := fields[0]
		if dash := strings.LastIndex(name, "-"); dash > 0 {
			name = name[:dash]
		}

		var result benchmarkBaseline
		hasNSOp, hasAllocsOp := false, false
		for i := 0; i < len(fields)-1; i++ {
			value, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				continue
			}
			switch fields[i+1] {
			case "ns/op":
				result.NSOp, hasNSOp = value, true
			case "allocs/op":
				result.AllocsOp, hasAllocsOp = value, true
			}
		}
		if hasNSOp && hasAllocsOp && result.NSOp > 0 {
			results[name] = result
		}
	}
	return results
}

// compare returns one failure line per benchmark that is missing or slower
// than its baseline by more than maxRegression percent.
func compare(baseline map[string]benchmarkBaseline, results map[string]benchmarkBaseline, maxRegression float64) []string {
	factor := 1.0 + maxRegression/100.0
	failures := []string{}
	for name, expected := range baseline {
		actual, ok := results[name]
		if !ok {
			failures = append(failures, fmt.Sprintf("missing benchmark result: %s", name))
			continue
		}
		if maxNS := expected.NSOp * factor; actual.NSOp > maxNS {
			failures = append(failures, fmt.Sprintf("%s ns/op regression: baseline %.2f, actual %.2f, max %.2f", name, expected.NSOp, actual.NSOp, maxNS))
		}
		if maxAllocs := expected.AllocsOp * factor; actual.AllocsOp > maxAllocs {
			failures = append(failures, fmt.Sprintf("%s allocs/op regression: baseline %.2f, actual %.2f, max %.2f", name, expected.AllocsOp, actual.AllocsOp, maxAllocs))
		}
	}
	sort.Strings(failures)
	return failures
}

func benchPattern(baseline map[string]benchmarkBaseline) string {
	if len(baseline) == 0 {
		return "."
	}
	names := make([]string, 0, len(baseline))
	for name := range baseline {
		names = append(names, regexp.QuoteMeta(name))
	}
	sort.Strings(names)
	return "^(" + strings.Join(names, "|") + ")$"
}

func loadBaseline(path string) (baselineFile, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is explicitly provided by local CI/operator input
	if err != nil {
		return baselineFile{}, fmt.Errorf("perf baseline read failed: %w", err)
	}
	var baseline baselineFile
	if err := json.Unmarshal(data, &baseline); err != nil {
		return baselineFile{}, fmt.Errorf("perf baseline parse failed: %w", err)
	}
	if len(baseline.Benchmarks) == 0 {
		return baselineFile{}, errors.New("perf baseline is empty")
	}
	return baseline, nil
}

func runBenchmarks(packagePath, pattern, benchtime string) (string, error) {
	command := exec.Command("go", "test", packagePath, "-run", "^$", "-bench", pattern, "-benchmem", "-count=1", "-benchtime="+benchtime) // #nosec G204 -- arguments are passed without shell expansion
	output, err := command.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("benchmark command failed: %w", err)
	}
	return string(output), nil
}

func run(args []string, stdout, stderr io.Writer) int {
	flagSet := flag.NewFlagSet("perfgate", flag.ContinueOnError)
	flagSet.SetOutput(stderr)
	baselinePath := flagSet.String("baseline", "tools/perf_baseline.json", "path to benchmark baseline JSON")
	packagePath := flagSet.String("package", "./broker", "package path for benchmarks")
	benchtime := flagSet.String("benchtime", "1s", "go test benchmark duration")
	maxRegression := flagSet.Float64("max-regression", 10.0, "max allowed regression percentage")
	record := flagSet.Bool("record", false, "run every benchmark and write the results as the new baseline")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	if *record {
		output, err := runBenchmarks(*packagePath, ".", *benchtime)
		if err != nil {
			fmt.Fprintf(stderr, "%v\n%s", err, output)
			return 1
		}
		baseline := baselineFile{Package: *packagePath, Benchmarks: parseBenchOutput(output)}
		data, err := json.MarshalIndent(baseline, "", "  ")
		if err != nil {
			fmt.Fprintf(stderr, "perf baseline encode failed: %v\n", err)
			return 1
		}
		if err := os.WriteFile(*baselinePath, append(data, '\n'), 0o644); err != nil {
			fmt.Fprintf(stderr, "perf baseline write failed: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "perf gate: recorded %d benchmarks to %s\n", len(baseline.Benchmarks), *baselinePath)
		return 0
	}

	baseline, err := loadBaseline(*baselinePath)
	if err != nil {
		fmt.Fprintf(stderr, "%v (record one with -record)\n", err)
		return 1
	}
	output, err := runBenchmarks(*packagePath, benchPattern(baseline.Benchmarks), *benchtime)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n%s", err, output)
		return 1
	}

	failures := compare(baseline.Benchmarks, parseBenchOutput(output), *maxRegression)
	fmt.Fprint(stdout, output)
	if len(failures) == 0 {
		fmt.Fprintln(stdout, "perf gate: PASS")
		return 0
	}
	fmt.Fprintln(stdout, "perf gate: FAIL")
	for _, failure := range failures {
		fmt.Fprintf(stdout, "- %s\n", failure)
	}
	return 2
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
