// Package report writes the human-readable summary of a processing run:
// timings, input parameters and evaluation metrics.
package report

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ParcelEval holds the parcel extraction metrics for one run.
type ParcelEval struct {
	IoUThreshold     float64
	TotalGroundtruth int
	TotalExtracted   int
	TruePositive     int
	FalsePositive    int
	Precision        float64
	Recall           float64
}

// DigitEval holds the digit localization and recognition metrics.
type DigitEval struct {
	IoUThreshold        float64
	TotalGroundtruth    int
	TotalPredicted      int
	TruePositiveBoxes   int
	FalsePositiveBoxes  int
	TruePositiveNumbers int
}

// Summary describes one run. Optional sections are pointers and are omitted
// from the output when nil; there is no loose option bag, every recognized
// field is listed here.
type Summary struct {
	RunID        string
	GeneratedAt  time.Time
	CadasterFile string
	ImageWidth   int
	ImageHeight  int
	Elapsed      time.Duration

	SuperpixelParams string
	FeatureSets      []string
	SimilarityMethod string
	StopCriterion    string
	ClassifierFile   string

	Parcels *ParcelEval
	Digits  *DigitEval

	CER         *float64
	DigitCounts map[int]int
}

// Write renders the summary to a new file at path, replacing any previous one.
func Write(path string, s Summary) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer f.Close()

	if _, err := s.WriteTo(f); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return f.Close()
}

// WriteTo renders the summary. It implements io.WriterTo.
func (s Summary) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder

	runID := s.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	at := s.GeneratedAt
	if at.IsZero() {
		at = time.Now()
	}

	hours := int(s.Elapsed.Hours())
	minutes := int(s.Elapsed.Minutes()) % 60
	seconds := int(s.Elapsed.Seconds()) % 60

	fmt.Fprintf(&b, "Run %s\n", runID)
	fmt.Fprintf(&b, "Date of log creation : %02d.%02d.%d at %02d:%02d\n",
		at.Day(), int(at.Month()), at.Year(), at.Hour(), at.Minute())
	fmt.Fprintf(&b, "Time elapsed to process image : %02d:%02d:%02d\n\n", hours, minutes, seconds)

	fmt.Fprintf(&b, "---- Image ----\n")
	fmt.Fprintf(&b, "Filename : %s, size : %dx%d\n", s.CadasterFile, s.ImageWidth, s.ImageHeight)
	fmt.Fprintf(&b, "---- Superpixels ----\n")
	fmt.Fprintf(&b, "Params : %s\n", s.SuperpixelParams)
	fmt.Fprintf(&b, "---- Features ----\n")
	fmt.Fprintf(&b, "%s\n", strings.Join(s.FeatureSets, ", "))
	fmt.Fprintf(&b, "---- Merging ----\n")
	fmt.Fprintf(&b, "Similarity method : %s\n", s.SimilarityMethod)
	fmt.Fprintf(&b, "Stop criterion : %s\n", s.StopCriterion)
	fmt.Fprintf(&b, "---- Classification ----\n")
	fmt.Fprintf(&b, "Classifier file : %s\n", s.ClassifierFile)

	if p := s.Parcels; p != nil {
		fmt.Fprintf(&b, "---- Evaluation parcels ----\n")
		fmt.Fprintf(&b, "IoU threshold : %g\n", p.IoUThreshold)
		fmt.Fprintf(&b, "Total parcels (groundtruth) : %d\n", p.TotalGroundtruth)
		fmt.Fprintf(&b, "Total extracted parcels : %d\n", p.TotalExtracted)
		fmt.Fprintf(&b, "True positives parcels : %d/%d  /  Precision : %.2f\n",
			p.TruePositive, p.TotalGroundtruth, p.Precision)
		fmt.Fprintf(&b, "False positives parcels : %d/%d  /  Recall : %.2f\n",
			p.FalsePositive, p.TotalExtracted, p.Recall)
	}

	if d := s.Digits; d != nil {
		fmt.Fprintf(&b, "---- Evaluation digits ----\n")
		fmt.Fprintf(&b, "** Localization\n")
		fmt.Fprintf(&b, "IoU threshold : %g\n", d.IoUThreshold)
		fmt.Fprintf(&b, "Total labels (groundtruth) : %d\n", d.TotalGroundtruth)
		fmt.Fprintf(&b, "Total extracted boxes : %d\n", d.TotalPredicted)
		fmt.Fprintf(&b, "True positive boxes : %d/%d\n", d.TruePositiveBoxes, d.TotalGroundtruth)
		fmt.Fprintf(&b, "False positive boxes : %d/%d\n", d.FalsePositiveBoxes, d.TotalPredicted)
		fmt.Fprintf(&b, "** Recognition\n")
		if d.TruePositiveBoxes > 0 {
			fmt.Fprintf(&b, "Correct recognized numbers : %d/%d (%.2f)\n",
				d.TruePositiveNumbers, d.TruePositiveBoxes,
				float64(d.TruePositiveNumbers)/float64(d.TruePositiveBoxes))
		} else {
			fmt.Fprintf(&b, "Correct recognized numbers : %d/%d\n",
				d.TruePositiveNumbers, d.TruePositiveBoxes)
		}
	}

	if s.CER != nil && s.DigitCounts != nil {
		fmt.Fprintf(&b, "Character Error Rate (CER) : %.2f\n", *s.CER)
		total := 0
		for _, c := range s.DigitCounts {
			total += c
		}
		if s.Digits != nil && s.Digits.TotalGroundtruth > 0 {
			fmt.Fprintf(&b, "Partial retrieval %d/%d (%.2f)\n",
				total, s.Digits.TotalGroundtruth,
				float64(total)/float64(s.Digits.TotalGroundtruth))
		}
		b.WriteString(formatDigitCounts(s.DigitCounts))
	}

	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

// formatDigitCounts renders the per-length retrieval breakdown, longest
// numbers first.
func formatDigitCounts(counts map[int]int) string {
	total := 0
	lengths := make([]int, 0, len(counts))
	for l, c := range counts {
		lengths = append(lengths, l)
		total += c
	}
	if total == 0 {
		return ""
	}
	sort.Sort(sort.Reverse(sort.IntSlice(lengths)))

	var b strings.Builder
	for _, l := range lengths {
		fmt.Fprintf(&b, "\t%d digit(s) : %d/%d (%.2f)\n",
			l, counts[l], total, float64(counts[l])/float64(total))
	}
	return b.String()
}
