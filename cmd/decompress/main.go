// Command decompress inflates a saved iteration file into its raw snapshot
// buffer, optionally printing a summary of its contents.
//
// Usage: go run ./cmd/decompress -in results/iteration_12 [-out iteration_12.raw] [-info]
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/pthm-cable/gaden/codec"
	"github.com/pthm-cable/gaden/simulation"
)

func main() {
	in := flag.String("in", "", "Compressed iteration file")
	out := flag.String("out", "", "Raw output file (default <in>.raw)")
	info := flag.Bool("info", false, "Decode the snapshot and print a summary")
	flag.Parse()

	if *in == "" {
		log.Fatal("--in is required")
	}
	if *out == "" {
		*out = *in + ".raw"
	}

	raw, err := codec.NewCompressor(0).ReadFile(*in)
	if err != nil {
		log.Fatalf("failed to read %s: %v", *in, err)
	}
	if err := os.WriteFile(*out, raw, 0644); err != nil {
		log.Fatalf("failed to write %s: %v", *out, err)
	}
	fmt.Printf("%s: %d bytes -> %s\n", *in, len(raw), *out)

	if !*info {
		return
	}
	var snap simulation.Snapshot
	if err := simulation.DecodeSnapshot(raw, &snap); err != nil {
		log.Fatalf("failed to decode snapshot: %v", err)
	}
	fmt.Printf("version:     %s\n", snap.Version)
	fmt.Printf("grid:        %dx%dx%d cells of %g m\n",
		snap.Description.Dimensions.X, snap.Description.Dimensions.Y, snap.Description.Dimensions.Z,
		snap.Description.CellSize)
	fmt.Printf("gas:         %s\n", snap.Source.GasType)
	if snap.HasSource {
		fmt.Printf("source:      %s at %v\n", snap.Source.Kind, snap.Source.Position)
	}
	fmt.Printf("wind index:  %d\n", snap.WindIndex)
	switch snap.Mode {
	case simulation.ModeConcentrations:
		fmt.Printf("mode:        concentrations (%d cells)\n", len(snap.Concentrations))
	default:
		fmt.Printf("mode:        filaments (%d)\n", len(snap.Filaments))
	}
}
