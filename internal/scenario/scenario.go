// Package scenario maps free-text mortgage questions to a loan scenario label
// and decides whether a question warrants a generated workflow.
package scenario

import (
	"fmt"
	"strings"
)

// Label is a mortgage product category.
type Label string

const (
	FHA          Label = "FHA"
	Conventional Label = "CONVENTIONAL"
	VA           Label = "VA"
	Jumbo        Label = "JUMBO"
	CryptoBacked Label = "CRYPTO_BACKED"
)

// Default is returned by Classify when no keyword matches.
const Default = Conventional

type rule struct {
	keyword string
	label   Label
}

// Checked in order; the first hit wins. Matching is unanchored, so "va" also
// hits inside words like "available".
var rules = []rule{
	{"fha", FHA},
	{"conventional", Conventional},
	{"va", VA},
	{"jumbo", Jumbo},
	{"crypto", CryptoBacked},
}

var workflowKeywords = []string{"apply", "loan", "mortgage", "process"}

// Labels lists every label in classification order.
func Labels() []Label {
	out := make([]Label, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.label)
	}
	return out
}

// Classify returns the scenario label for text.
func Classify(text string) Label {
	lower := strings.ToLower(text)
	for _, r := range rules {
		if strings.Contains(lower, r.keyword) {
			return r.label
		}
	}
	return Default
}

// ShouldGenerateWorkflow reports whether text mentions any workflow keyword.
func ShouldGenerateWorkflow(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range workflowKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ParseLabel converts a label name or a form value such as "crypto_backed"
// into a Label.
func ParseLabel(s string) (Label, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "-", "_")
	for _, r := range rules {
		if string(r.label) == norm {
			return r.label, nil
		}
	}
	return "", fmt.Errorf("scenario: unknown label %q", s)
}
