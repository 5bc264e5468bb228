package detector

import (
	"time"

	"github.com/hervehildenbrand/origin-guard/pkg/metrics"
	"github.com/hervehildenbrand/origin-guard/pkg/models"
)

// Result is the classification of one announcement.
type Result struct {
	Prefix       string         `json:"prefix"`
	Origin       uint32         `json:"origin"`
	Verdict      models.Verdict `json:"verdict,omitempty"`
	LegalOrigins []uint32       `json:"legal_origins,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// Report is the outcome of a batch classification.  Results holds one entry
// per input in input order.
type Report struct {
	Results []Result `json:"results"`
	Hijacks int      `json:"hijacks"`
	Legit   int      `json:"legit"`
	Unknown int      `json:"unknown_prefix"`
	Errors  int      `json:"errors"`
}

// Input is one announcement offered to ClassifyInputs.  An input with Err
// set was rejected while decoding and is reported without being classified.
type Input struct {
	Announcement models.Announcement
	Err          error
}

// Inputs wraps announcements that decoded cleanly.
func Inputs(announcements []models.Announcement) []Input {
	inputs := make([]Input, len(announcements))
	for i, a := range announcements {
		inputs[i] = Input{Announcement: a}
	}
	return inputs
}

// ClassifyBatch classifies every announcement.  An announcement that cannot
// be classified keeps its slot with the error recorded.
func ClassifyBatch(c Classifier, announcements []models.Announcement) Report {
	return ClassifyInputs(c, Inputs(announcements))
}

// ClassifyInputs is ClassifyBatch over inputs that may already carry a
// decoding error.  Rejected and unclassifiable inputs both count in
// Report.Errors.
func ClassifyInputs(c Classifier, inputs []Input) Report {
	report := Report{Results: make([]Result, 0, len(inputs))}
	for _, in := range inputs {
		a := in.Announcement
		res := Result{Prefix: a.Prefix, Origin: a.OriginASN}
		if in.Err != nil {
			res.Error = in.Err.Error()
			report.Errors++
			report.Results = append(report.Results, res)
			continue
		}

		start := time.Now()
		verdict, legal, err := c.Classify(a.Prefix, a.OriginASN)
		metrics.ClassifyDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			res.Error = err.Error()
			report.Errors++
			report.Results = append(report.Results, res)
			continue
		}

		res.Verdict = verdict
		res.LegalOrigins = legal
		metrics.Verdicts.WithLabelValues(verdict.String()).Inc()
		switch verdict {
		case models.VerdictHijack:
			report.Hijacks++
		case models.VerdictLegit:
			report.Legit++
		case models.VerdictUnknownPrefix:
			report.Unknown++
		}
		report.Results = append(report.Results, res)
	}
	log.Infof("Classified %d announcements: %d legit, %d hijack, %d unknown, %d errors",
		len(inputs), report.Legit, report.Hijacks, report.Unknown, report.Errors)
	return report
}
