// Command dnxanalyze runs one or more firmware/OS image files through
// internal/analyzer without ever opening a transport, and prints a
// human-readable or JSON report.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"dnx/internal/analyzer"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("dnxanalyze", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "print machine-readable JSON instead of a text report")
	concurrency := fs.Int("concurrency", 4, "number of files to analyze concurrently")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	paths := fs.Args()
	if len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "usage: dnxanalyze [-json] [-concurrency N] <file> [file...]")
		return 2
	}

	results := analyzer.AnalyzeAll(paths, *concurrency)

	exit := 0
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		for _, r := range results {
			if r.Err != nil {
				exit = 3
			}
			if err := enc.Encode(analyzeAllResultJSONFrom(r)); err != nil {
				fmt.Fprintf(os.Stderr, "dnxanalyze: encoding result for %s: %v\n", r.Path, err)
				exit = 3
			}
		}
		return exit
	}

	for _, r := range results {
		switch {
		case r.Firmware != nil:
			fmt.Print(r.Firmware.Report())
			if !r.Firmware.Valid() {
				exit = 3
			}
		case r.OsImage != nil:
			fmt.Print(r.OsImage.Report())
			if !r.OsImage.Valid() {
				exit = 3
			}
		default:
			fmt.Printf("%s: could not be read (%v)\n", r.Path, r.Err)
			exit = 3
		}
	}
	return exit
}

// analyzeAllResultJSON flattens analyzer.AnalyzeAllResult into a shape
// that serializes cleanly: exactly one of Firmware/OsImage/Error is set.
type analyzeAllResultJSON struct {
	Path     string                     `json:"path"`
	Firmware *analyzer.FirmwareAnalysis `json:"firmware,omitempty"`
	OsImage  *analyzer.OsImageAnalysis  `json:"os_image,omitempty"`
	Error    string                     `json:"error,omitempty"`
}

func analyzeAllResultJSONFrom(r analyzer.AnalyzeAllResult) analyzeAllResultJSON {
	out := analyzeAllResultJSON{Path: r.Path, Firmware: r.Firmware, OsImage: r.OsImage}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return out
}
