package annotation

import (
	"fmt"
	"math"
	"sort"

	"github.com/unijord/sleepseq/pkg/ingestor/reader"
)

// PhyMATVariables are the variable names searched for a PHY hypnogram.
var PhyMATVariables = []string{"sleep_stages", "stages", "hypnogram"}

// HDF5HypnogramDataset is the DOD hypnogram dataset name.
const HDF5HypnogramDataset = "hypnogram"

// parseEDFPlus reads "Sleep stage X" TALs from an EDF+ hypnogram.
func parseEDFPlus(path string, epochSeconds float64, opts Options) (*Track, error) {
	anns, err := reader.ReadEDFAnnotations(path)
	if err != nil {
		return nil, err
	}

	var ivs []Interval
	for _, a := range anns {
		for _, text := range a.Texts {
			st, ok := stagePhrase(text)
			if !ok {
				continue
			}
			ivs = append(ivs, Interval{Onset: a.Onset, Duration: a.Duration, Stage: st})
		}
	}
	// TALs of different records and signals need not be in onset order.
	sort.SliceStable(ivs, func(i, j int) bool { return ivs[i].Onset < ivs[j].Onset })
	return Discretize(ivs, epochSeconds, opts)
}

// parseHDF5 reads the DOD per-epoch hypnogram, where -1 marks unscored epochs.
func parseHDF5(path string, epochSeconds float64, _ Options) (*Track, error) {
	codes, err := reader.ReadHDF5Vector(path, HDF5HypnogramDataset)
	if err != nil {
		return nil, err
	}
	return fromCodes(codes, epochSeconds)
}

// parsePhyMAT reads a per-epoch code vector from a PHY MAT file.
func parsePhyMAT(path string, epochSeconds float64, _ Options) (*Track, error) {
	codes, err := reader.ReadMATVector(path, PhyMATVariables...)
	if err != nil {
		return nil, err
	}
	return fromCodes(codes, epochSeconds)
}

func fromCodes(codes []float64, epochSeconds float64) (*Track, error) {
	labels := make([]Stage, len(codes))
	for i, c := range codes {
		if math.IsNaN(c) {
			labels[i] = StageUnknown
			continue
		}
		labels[i] = StageFromCode(c)
	}
	t, err := FromSequence(labels, epochSeconds)
	if err != nil {
		return nil, fmt.Errorf("hypnogram: %w", err)
	}
	return t, nil
}
