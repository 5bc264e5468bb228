package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/hervehildenbrand/origin-guard/pkg/detector"
	"github.com/hervehildenbrand/origin-guard/pkg/export"
	"github.com/hervehildenbrand/origin-guard/pkg/ingest"
	"github.com/hervehildenbrand/origin-guard/pkg/models"
)

type classifyCmd struct {
	Input  string `short:"i" long:"input" description:"JSON announcement list to classify, - for stdin"`
	Output string `short:"o" long:"output" description:"Write the report to this file instead of stdout"`
}

// announcementArgs turns PREFIX ORIGIN argument pairs into announcements.
func announcementArgs(args []string) ([]models.Announcement, error) {
	if len(args)%2 != 0 {
		return nil, fmt.Errorf("arguments must be PREFIX ORIGIN pairs")
	}
	anns := make([]models.Announcement, 0, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		origin, err := ingest.ParseASN(args[i+1])
		if err != nil {
			return nil, err
		}
		anns = append(anns, models.Announcement{Prefix: args[i], OriginASN: origin})
	}
	return anns, nil
}

func readInput(path string) ([]detector.Input, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	return export.ReadAnnouncements(r)
}

func (c *classifyCmd) Execute(args []string) error {
	ctx := shutdownListener()

	anns, err := announcementArgs(args)
	if err != nil {
		return err
	}
	inputs := detector.Inputs(anns)
	if c.Input != "" {
		more, err := readInput(c.Input)
		if err != nil {
			return err
		}
		inputs = append(inputs, more...)
	}
	if len(inputs) == 0 {
		return fmt.Errorf("nothing to classify: pass PREFIX ORIGIN pairs or --input")
	}

	trie, err := loadDecisionTrie(ctx)
	if err != nil {
		return err
	}
	report := detector.ClassifyInputs(trie, inputs)

	var w io.Writer = os.Stdout
	if c.Output != "" {
		f, err := os.Create(c.Output)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
