package queue

import (
	"fmt"
	"strings"

	"github.com/codebuildervaibhav/interview-render/internal/types"
)

// MinInputs is the smallest submission that can be composed: an
// interviewer question and a candidate answer.
const MinInputs = 2

// validateSubmission normalizes a submission and rejects ones the
// pipeline could never complete
func validateSubmission(sub types.Submission, maxInputs int) (types.Submission, error) {
	sub.CandidateLabel = strings.TrimSpace(sub.CandidateLabel)
	sub.Process = strings.TrimSpace(sub.Process)
	sub.ExternalRef = strings.TrimSpace(sub.ExternalRef)

	refs := make([]string, 0, len(sub.InputRefs))
	var blank []string
	for i, ref := range sub.InputRefs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			blank = append(blank, fmt.Sprintf("input %d", i+1))
			continue
		}
		refs = append(refs, ref)
	}
	sub.InputRefs = refs

	switch {
	case len(blank) > 0:
		return sub, &types.ValidationError{Message: "input references must not be empty", Invalid: blank}
	case len(refs) < MinInputs:
		return sub, &types.ValidationError{Message: fmt.Sprintf("at least %d input references are required", MinInputs)}
	case maxInputs > 0 && len(refs) > maxInputs:
		return sub, &types.ValidationError{Message: fmt.Sprintf("at most %d input references are allowed", maxInputs)}
	case sub.CandidateLabel == "":
		return sub, &types.ValidationError{Message: "candidate label is required"}
	}
	return sub, nil
}

// newQueueEntry builds the admission record for a stored job
func newQueueEntry(id string, sub types.Submission) types.QueueEntry {
	return types.QueueEntry{
		JobID:          id,
		InputRefs:      append([]string(nil), sub.InputRefs...),
		CandidateLabel: sub.CandidateLabel,
		Process:        sub.Process,
		ExternalRef:    sub.ExternalRef,
	}
}
