package models

import "encoding/json"

// JobResult is written once, on the transition into COMPLETED or FAILED.
// A completed job carries the classification payload; a failed one carries Error.
type JobResult struct {
	Classification       string          `json:"classification,omitempty"`
	PrimaryClass         string          `json:"primaryClass,omitempty"`
	PrimaryClassFullName string          `json:"primaryClassFullName,omitempty"`
	MalignancyPercentage float64         `json:"malignancyPercentage,omitempty"`
	MalignantCellCount   int             `json:"malignantCellCount,omitempty"`
	Confidence           float64         `json:"confidence,omitempty"`
	TopPredictions       []Prediction    `json:"topPredictions,omitempty"`
	TotalCellsAnalyzed   int             `json:"totalCellsAnalyzed,omitempty"`
	CellDistribution     json.RawMessage `json:"cellDistribution,omitempty"`
	IndividualResults    json.RawMessage `json:"individualResults,omitempty"`
	Error                string          `json:"error,omitempty"`
}

// Prediction is one ranked entry of the classifier output.
type Prediction struct {
	Class       string  `json:"class"`
	FullName    string  `json:"full_name,omitempty"`
	Probability float64 `json:"probability"`
	Count       int     `json:"count,omitempty"`
}
