//go:build ignore

// Generates a synthetic JSONL corpus for benchmarking.
// Usage: go run scripts/generate-corpus.go -docs 10000 -output corpus.jsonl
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"
)

var (
	numDocs = flag.Int("docs", 10000, "Number of documents to generate")
	output  = flag.String("output", "corpus.jsonl", "Output file")
	seed    = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var categories = []string{"audio", "video", "peripherals", "storage", "networking", "displays"}

var adjectives = []string{
	"wireless", "compact", "ergonomic", "mechanical", "portable",
	"rugged", "premium", "budget", "refurbished", "modular",
}

var nouns = []string{
	"headphones", "keyboard", "mouse", "webcam", "monitor", "router",
	"microphone", "speaker", "dock", "drive", "hub", "adapter",
}

var fillers = []string{
	"with low latency and long battery life",
	"designed for home office setups",
	"featuring a detachable cable and carrying case",
	"rated for continuous professional use",
	"compatible with most operating systems",
	"with customizable profiles and onboard memory",
}

type doc struct {
	ID        string                 `json:"id"`
	Text      string                 `json:"text"`
	SourceTag string                 `json:"source_tag"`
	Metadata  map[string]interface{} `json:"metadata"`
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	f, err := os.Create(*output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create output: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < *numDocs; i++ {
		adj := adjectives[rng.Intn(len(adjectives))]
		noun := nouns[rng.Intn(len(nouns))]
		d := doc{
			ID:        fmt.Sprintf("doc-%06d", i),
			Text:      fmt.Sprintf("%s %s %s", adj, noun, fillers[rng.Intn(len(fillers))]),
			SourceTag: "bench",
			Metadata: map[string]interface{}{
				"category":  categories[rng.Intn(len(categories))],
				"rating":    float64(rng.Intn(40)+10) / 10.0,
				"published": base.Add(time.Duration(rng.Intn(500*24)) * time.Hour).Format(time.RFC3339),
			},
		}
		if err := enc.Encode(d); err != nil {
			fmt.Fprintf(os.Stderr, "encode: %v\n", err)
			os.Exit(1)
		}
	}
	if err := w.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "flush: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %d documents to %s\n", *numDocs, *output)
}
