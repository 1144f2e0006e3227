package syncer

import (
	"errors"
	"fmt"
)

// Report collects the outcome of one sync cycle. Failures of single items are
// recorded here and never stop the remaining items.
type Report struct {
	TokensChecked   int
	TokensFailed    int
	DatabasesSynced int
	Errors          []error
}

func (r *Report) add(err error) {
	if err != nil {
		r.Errors = append(r.Errors, err)
	}
}

// Summary renders the validation outcome for display, or "" when every credential passed
func (r *Report) Summary() string {
	if r.TokensFailed == 0 {
		return ""
	}
	return fmt.Sprintf("%d of %d credentials failed validation", r.TokensFailed, r.TokensChecked)
}

// Err joins every recorded failure
func (r *Report) Err() error {
	return errors.Join(r.Errors...)
}
