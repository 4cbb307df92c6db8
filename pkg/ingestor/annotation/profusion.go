package annotation

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
)

// profusionCode maps Compumedics Profusion stage numbers, where 5 is REM and
// 4 is R&K stage 4.
func profusionCode(s string) Stage {
	switch strings.TrimSpace(s) {
	case "0":
		return StageWake
	case "1":
		return StageN1
	case "2":
		return StageN2
	case "3", "4":
		return StageN3
	case "5":
		return StageREM
	default:
		return StageUnknown
	}
}

type scoredEvent struct {
	EventType    string  `xml:"EventType"`
	EventConcept string  `xml:"EventConcept"`
	Start        float64 `xml:"Start"`
	Duration     float64 `xml:"Duration"`
}

type profusionDoc struct {
	EpochLength float64       `xml:"EpochLength"`
	SleepStages []string      `xml:"SleepStages>SleepStage"`
	Events      []scoredEvent `xml:"ScoredEvents>ScoredEvent"`
}

func decodeProfusion(path string) (*profusionDoc, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	var doc profusionDoc
	if err := xml.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: xml: %v", ErrMalformedAnnotation, err)
	}
	return &doc, nil
}

// parseProfusionXML reads the per-epoch <SleepStages> list. Files without it
// fall back to their scored stage events.
func parseProfusionXML(path string, epochSeconds float64, opts Options) (*Track, error) {
	doc, err := decodeProfusion(path)
	if err != nil {
		return nil, err
	}
	if doc.EpochLength > 0 {
		epochSeconds = doc.EpochLength
	}
	if len(doc.SleepStages) == 0 {
		return stageEvents(doc, epochSeconds, opts)
	}

	labels := make([]Stage, len(doc.SleepStages))
	for i, s := range doc.SleepStages {
		labels[i] = profusionCode(s)
	}
	return FromSequence(labels, epochSeconds)
}

// parseNSRRXML reads NSRR "Stages|..." scored events as intervals.
func parseNSRRXML(path string, epochSeconds float64, opts Options) (*Track, error) {
	doc, err := decodeProfusion(path)
	if err != nil {
		return nil, err
	}
	if doc.EpochLength > 0 {
		epochSeconds = doc.EpochLength
	}
	return stageEvents(doc, epochSeconds, opts)
}

func stageEvents(doc *profusionDoc, epochSeconds float64, opts Options) (*Track, error) {
	var ivs []Interval
	for _, ev := range doc.Events {
		if !strings.HasPrefix(strings.TrimSpace(ev.EventType), "Stages") {
			continue
		}
		// "Stage 2 sleep|2": the code after the bar is authoritative
		_, code, ok := strings.Cut(ev.EventConcept, "|")
		if !ok {
			code = ev.EventConcept
		}
		ivs = append(ivs, Interval{Onset: ev.Start, Duration: ev.Duration, Stage: profusionCode(code)})
	}
	if len(ivs) == 0 {
		return nil, fmt.Errorf("%w: no sleep stages", ErrMalformedAnnotation)
	}
	return Discretize(ivs, epochSeconds, opts)
}
