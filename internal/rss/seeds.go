package rss

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/deusflow/mynews/internal/models"
)

// SeedsConfig is the YAML structure used to populate a fresh file store:
//
//	sources:
//	  - name: Example
//	    url: https://example.com/rss
//	    deep: true
//	filter_words:
//	  - word: horoscope
//	    title_only: true
//	ai_instructions:
//	  - Horoscopes
type SeedsConfig struct {
	Sources        []SourceSeed `yaml:"sources"`
	FilterWords    []WordSeed   `yaml:"filter_words"`
	AIInstructions []string     `yaml:"ai_instructions"`
}

type SourceSeed struct {
	Name      string  `yaml:"name"`
	URL       string  `yaml:"url"`
	Deep      bool    `yaml:"deep"`
	Threshold float64 `yaml:"threshold"`
	Disabled  bool    `yaml:"disabled"`
}

type WordSeed struct {
	Word      string `yaml:"word"`
	TitleOnly bool   `yaml:"title_only"`
	Disabled  bool   `yaml:"disabled"`
}

// Seeds are the entities a SeedsConfig describes, with sequential IDs.
type Seeds struct {
	Sources        []models.Source
	FilterWords    []models.FilterWord
	AIInstructions []models.AIFilterInstruction
}

// LoadSeeds reads sources and filters from a YAML file.
func LoadSeeds(path string) (Seeds, error) {
	f, err := os.Open(path)
	if err != nil {
		return Seeds{}, err
	}
	defer f.Close()

	var cfg SeedsConfig
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return Seeds{}, fmt.Errorf("decode seeds %s: %w", path, err)
	}
	return cfg.Build()
}

func (c SeedsConfig) Build() (Seeds, error) {
	var s Seeds
	for i, src := range c.Sources {
		if src.URL == "" {
			return Seeds{}, fmt.Errorf("source %d (%q) has no url", i, src.Name)
		}
		s.Sources = append(s.Sources, models.Source{
			ID:                  int64(i + 1),
			Name:                src.Name,
			URL:                 src.URL,
			Active:              !src.Disabled,
			DeepExtraction:      src.Deep,
			SimilarityThreshold: src.Threshold,
		})
	}
	for i, w := range c.FilterWords {
		s.FilterWords = append(s.FilterWords, models.FilterWord{
			ID:        int64(i + 1),
			Word:      w.Word,
			Active:    !w.Disabled,
			TitleOnly: w.TitleOnly,
		})
	}
	for i, ins := range c.AIInstructions {
		s.AIInstructions = append(s.AIInstructions, models.AIFilterInstruction{
			ID:          int64(i + 1),
			Instruction: ins,
			Active:      true,
		})
	}
	return s, nil
}
