package psgtest

import (
	"fmt"
	"strings"
	"testing"
)

// ProfusionXML renders a Compumedics Profusion hypnogram with one
// <SleepStage> code per epoch.
func ProfusionXML(epochLength float64, codes []int) []byte {
	var b strings.Builder
	b.WriteString("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n<CMPStudyConfig>\n")
	fmt.Fprintf(&b, "<EpochLength>%g</EpochLength>\n<SleepStages>\n", epochLength)
	for _, c := range codes {
		fmt.Fprintf(&b, "<SleepStage>%d</SleepStage>\n", c)
	}
	b.WriteString("</SleepStages>\n</CMPStudyConfig>\n")
	return []byte(b.String())
}

// WriteProfusionXML writes a Profusion hypnogram to path.
func WriteProfusionXML(t testing.TB, path string, epochLength float64, codes []int) {
	t.Helper()
	WriteFile(t, path, ProfusionXML(epochLength, codes))
}

// Event is one NSRR scored event.
type Event struct {
	Type    string
	Concept string
	Start   float64
	Length  float64
}

// NSRRXML renders an NSRR <PSGAnnotation> document of scored events.
func NSRRXML(events []Event) []byte {
	var b strings.Builder
	b.WriteString("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n<PSGAnnotation>\n<EpochLength>30</EpochLength>\n<ScoredEvents>\n")
	for _, e := range events {
		fmt.Fprintf(&b, "<ScoredEvent><EventType>%s</EventType><EventConcept>%s</EventConcept><Start>%g</Start><Duration>%g</Duration></ScoredEvent>\n",
			e.Type, e.Concept, e.Start, e.Length)
	}
	b.WriteString("</ScoredEvents>\n</PSGAnnotation>\n")
	return []byte(b.String())
}
