package providers

import (
	"github.com/samber/do/v2"

	"github.com/narrateapp/narrate-core/internal/config"
	"github.com/narrateapp/narrate-core/internal/extract"
	"github.com/narrateapp/narrate-core/internal/segment"
	"github.com/narrateapp/narrate-core/internal/speech"
	"github.com/narrateapp/narrate-core/internal/synth"
)

// ProvideSegmenter provides the chapter segmenter tuned from configuration.
func ProvideSegmenter(i do.Injector) (*segment.Segmenter, error) {
	cfg := do.MustInvoke[*config.Config](i)

	return segment.New(segment.Options{
		ShortTextWords:  cfg.Segment.ShortTextWords,
		TargetWords:     cfg.Segment.TargetWords,
		MinWords:        cfg.Segment.MinWords,
		MaxWords:        cfg.Segment.MaxWords,
		PrefaceMinWords: cfg.Segment.PrefaceMinWords,
		NoiseFloorWords: cfg.Segment.NoiseFloorWords,
	}), nil
}

// ProvideNormalizer provides the speech normalizer.
func ProvideNormalizer(i do.Injector) (*speech.Normalizer, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return speech.New(speech.ForeignMode(cfg.Speech.ForeignMode)), nil
}

// ProvideSynthesizer provides the guarded speech synthesizer. Hosts override
// this provider with a real TTS backend; the zero-value fake stands in for
// development and produces deterministic byte clips.
func ProvideSynthesizer(i do.Injector) (synth.Synthesizer, error) {
	return synth.Guard(&synth.Fake{}, synth.DefaultWordCeiling), nil
}

// ProvideExtractor provides the text extractor. Hosts override this provider
// with a real readability extractor; the static one serves development.
func ProvideExtractor(i do.Injector) (extract.Extractor, error) {
	return &extract.Static{}, nil
}
