package dataset

import (
	"fmt"
	"math"
	"strings"
)

// Issue is one rejected cell. Row is 1-based and does not count the header.
type Issue struct {
	Row     int    `json:"row"`
	Column  string `json:"column"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("row %d, %s: %s", i.Row, i.Column, i.Message)
}

// QualityError reports every issue found in a table.
type QualityError struct {
	Issues []Issue
}

func (e *QualityError) Error() string {
	const shown = 3
	parts := make([]string, 0, shown)
	for i, issue := range e.Issues {
		if i == shown {
			break
		}
		parts = append(parts, issue.String())
	}
	msg := fmt.Sprintf("dataset has %d invalid values: %s", len(e.Issues), strings.Join(parts, "; "))
	if len(e.Issues) > shown {
		msg += "; ..."
	}
	return msg
}

var columns = []string{
	"fixed acidity",
	"volatile acidity",
	"citric acid",
	"residual sugar",
	"chlorides",
	"free sulfur dioxide",
	"total sulfur dioxide",
	"density",
	"pH",
	"sulphates",
	"alcohol",
	"quality",
}

// Inspect checks that every measurement is finite and not negative.
func Inspect(samples []Sample) []Issue {
	var issues []Issue
	for i, s := range samples {
		values := append(s.Features(), s.Quality)
		for j, v := range values {
			switch {
			case math.IsNaN(v) || math.IsInf(v, 0):
				issues = append(issues, Issue{Row: i + 1, Column: columns[j], Message: "not a finite number"})
			case v < 0:
				issues = append(issues, Issue{Row: i + 1, Column: columns[j], Message: fmt.Sprintf("negative value %g", v)})
			}
		}
	}
	return issues
}
