package dataset

import (
	"github.com/unijord/sleepseq/pkg/ingestor/annotation"
	"github.com/unijord/sleepseq/pkg/ingestor/channel"
	"github.com/unijord/sleepseq/pkg/ingestor/reader"
)

// DefaultLeads is the lead request of rules that do not set their own.
var DefaultLeads = []string{"C4", "E1", "EMG"}

var (
	edfExt = []string{".edf"}
	xmlExt = []string{".xml"}
)

var mncAliases = channel.AliasTable{
	"EMG":    {"cchin_l", "chin", "cchin"},
	"EMGref": {"rchin_c", "lchin"},
}

var hpapAliases = channel.AliasTable{
	"C3": {"C3-M2"},
	"C4": {"C4-M1"},
	"E1": {"E1-M2", "E-1", "L-EOG", "LOC", "E1-E2"},
	"E2": {"E2-M1", "E-2", "R-EOG", "ROC"},
	"M2": {"E2-M1"},
	"EMG": {"LCHIN", "CHIN", "CHIN1-CHIN2", "Lchin-Cchin",
		"EMG1", "L.", "Chin1", "Chin EMG"},
	"EMGref": {"CCHIN", "RCHIN", "EMG2", "C.", "Chin2"},
}

var mrosAliases = channel.AliasTable{
	"C4":     {"C4-A1"},
	"C3":     {"C3-A2"},
	"E1":     {"LOC"},
	"E2":     {"ROC"},
	"M1":     {"A1"},
	"M2":     {"A2"},
	"EMG":    {"LChin", "L Chin", "L Chin-R Chin"},
	"EMGref": {"RChin", "R Chin"},
}

func nsrr(id string, aliases channel.AliasTable) Rule {
	return Rule{
		ID:               id,
		Leads:            DefaultLeads,
		Aliases:          aliases,
		SignalFormat:     reader.FormatEDF,
		AnnotationFormat: annotation.FormatProfusionXML,
		SignalExt:        edfExt,
		AnnotationExt:    xmlExt,
		EpochSeconds:     30,
	}
}

func edfRule(id string, aliases channel.AliasTable, format annotation.Format, ext ...string) Rule {
	return Rule{
		ID:               id,
		Leads:            DefaultLeads,
		Aliases:          aliases,
		SignalFormat:     reader.FormatEDF,
		AnnotationFormat: format,
		SignalExt:        edfExt,
		AnnotationExt:    ext,
		EpochSeconds:     30,
	}
}

// BuiltinRules returns the rules of every supported public dataset.
func BuiltinRules() []Rule {
	rules := []Rule{
		nsrr("SHHS1", channel.AliasTable{
			"C4": {"EEG"},
			"C3": {"EEG(sec)", "EEG2", "EEG 2", "EEG(SEC)", "EEG sec"},
			"E1": {"EOG(L)"},
			"E2": {"EOG(R)"},
		}),
		nsrr("SHHS2", channel.AliasTable{
			"C4": {"EEG"},
			"C3": {"EEG(sec)", "EEG2"},
			"E1": {"EOG(L)"},
			"E2": {"EOG(R)"},
		}),
		nsrr("CCSHS", channel.AliasTable{
			"E1": {"LOC"}, "E2": {"ROC"},
			"M1": {"A1"}, "M2": {"A2"},
			"EMG": {"EMG1"}, "EMGref": {"EMG2"},
		}),
		nsrr("SOF", channel.AliasTable{
			"E1": {"LOC"}, "E2": {"ROC"},
			"M1": {"A1"}, "M2": {"A2"},
			"EMG":    {"L Chin", "EMG/L"},
			"EMGref": {"R Chin", "EMG/R"},
		}),
		nsrr("CFS", channel.AliasTable{
			"E1": {"LOC"}, "E2": {"ROC"},
			"EMG": {"EMG2"}, "EMGref": {"EMG1"},
		}),
		nsrr("MROS1", mrosAliases),
		nsrr("MROS2", mrosAliases),
		nsrr("MESA", channel.AliasTable{
			"F4": {"EEG1"}, "C4": {"EEG3"}, "O2": {"EEG2"},
			"E1": {"EOG-L"}, "E2": {"EOG-R"},
		}),
		nsrr("HPAP1", hpapAliases),
		nsrr("HPAP2", hpapAliases),
		nsrr("HomePAP", nil),
		nsrr("ABC", channel.AliasTable{
			"EMG": {"Chin2"}, "EMGref": {"Chin1"},
		}),

		edfRule("NCHSDB", channel.AliasTable{
			"F3":  {"EEG F3-M2", "EEG F3"},
			"F4":  {"EEG F4-M1", "EEG F4"},
			"C3":  {"EEG C3-M2", "EEG C3"},
			"C4":  {"EEG C4-M1", "EEG C4"},
			"O1":  {"EEG O1-M2", "EEG O1"},
			"O2":  {"EEG O2-M1", "EEG O2"},
			"E1":  {"EOG LOC-M2", "LOC", "EEG E1"},
			"E2":  {"EOG ROC-M1", "ROC", "EEG E2"},
			"EMG": {"EMG Chin1-Chin2", "EMG Chin2-Chin1", "EMG Chin1-Chin3", "EMG Chin3-Chin2", "EEG Chin1-Chin2", "Chin1", "EEG Chin1"},
			"EMGref": {"Chin2", "EEG Chin2"},
		}, annotation.FormatTSV, ".tsv"),

		edfRule("HMC", channel.AliasTable{
			"F4": {"EEG F4-M1"}, "C4": {"EEG C4-M1"}, "O2": {"EEG O2-M1"},
			"C3":  {"EEG C3-M2"},
			"EMG": {"EMG chin"},
			"E1":  {"EOG E1-M2"}, "E2": {"EOG E2-M2"},
		}, annotation.FormatHMCText, ".txt"),

		edfRule("MNC", mncAliases, annotation.FormatEAnnot, ".eannot"),
		edfRule("SSC", mncAliases, annotation.FormatEAnnot, ".eannot"),
		edfRule("CNC", mncAliases, annotation.FormatEAnnot, ".eannot"),
		edfRule("DHC", mncAliases, annotation.FormatEAnnot, ".eannot"),

		edfRule("MASS13", channel.AliasTable{
			"F3":  {"EEG F3-CLE", "EEG F3-LER"},
			"F4":  {"EEG F4-CLE", "EEG F4-LER"},
			"C3":  {"EEG C3-CLE", "EEG C3-LER"},
			"C4":  {"EEG C4-CLE", "EEG C4-LER"},
			"O1":  {"EEG O1-CLE", "EEG O1-LER"},
			"O2":  {"EEG O2-CLE", "EEG O2-LER"},
			"E1":  {"EOG Left Horiz"},
			"E2":  {"EOG Right Horiz"},
			"M1":  {"EEG A1-CLE"},
			"M2":  {"EEG A2-CLE"},
			"EMG": {"EMG Chin1"}, "EMGref": {"EMG Chin2"},
		}, annotation.FormatMASSText, ".txt"),

		edfRule("WSC", channel.AliasTable{
			"F3":  {"F3_M2", "F3_M1", "F3_AVG"},
			"C3":  {"C3_M2", "C3_M1"},
			"O1":  {"O1_M2", "O1_M1", "O1_AVG"},
			"F4":  {"F4_M1"},
			"C4":  {"C4_M1", "C4_AVG"},
			"O2":  {"O2_M1"},
			"EMG": {"chin", "cchin_l", "rchin_l"}, "EMGref": {"cchin_r"},
		}, annotation.FormatWSCText, ".txt"),

		edfRule("ISRC", channel.AliasTable{
			"C3": {"C3-A2"}, "C4": {"C4-A1", "C4-A2"},
			"O1": {"O1-A2"}, "O2": {"O2-A1", "O2-A2"},
			"E1": {"LOC-A2"}, "E2": {"ROC-A1", "ROC-A2"},
			"EMG": {"EMG1-EMG2"},
		}, annotation.FormatISRUCText, ".txt"),
	}

	dcsm := edfRule("DCSM", channel.AliasTable{
		"F3": {"F3-M2"}, "F4": {"F4-M1"},
		"C3": {"C3-M2"}, "C4": {"C4-M1"},
		"O1": {"O1-M2"}, "O2": {"O2-M1"},
		"E1": {"E1-M2"}, "E2": {"E2-M2"},
		"EMG": {"CHIN"},
	}, annotation.FormatDCSM, ".ids")
	dcsm.SubjectFromDir = true

	stages := edfRule("STAGES", nil, annotation.FormatStagesCSV, ".csv")
	stages.AutoInfer = true

	phy := Rule{
		ID:               "PHY",
		Leads:            DefaultLeads,
		SignalFormat:     reader.FormatMAT,
		AnnotationFormat: annotation.FormatPhyMAT,
		SignalExt:        []string{".mat"},
		AnnotationExt:    []string{".mat"},
		AnnotationSuffix: "-arousal",
		EpochSeconds:     30,
		SampleRate:       200,
		SignalLabels:     []string{"F3-M2", "F4-M1", "C3-M2", "C4-M1", "O1-M2", "O2-M1", "E1-M2", "Chin1-Chin2"},
		SignalVariable:   reader.DefaultMATVariable,
	}

	dod := Rule{
		ID:               "DOD",
		Leads:            DefaultLeads,
		SignalFormat:     reader.FormatHDF5,
		AnnotationFormat: annotation.FormatHDF5,
		SignalExt:        []string{".h5"},
		AnnotationExt:    []string{".h5"},
		EpochSeconds:     30,
		SampleRate:       250,
		SignalGroups:     reader.DefaultHDF5Groups,
	}

	return append(rules, dcsm, stages, phy, dod)
}

// Builtin returns a registry preloaded with BuiltinRules.
func Builtin() *Registry {
	r := NewRegistry()
	for _, rule := range BuiltinRules() {
		if err := r.Register(rule); err != nil {
			panic("builtin dataset rule: " + err.Error())
		}
	}
	return r
}
