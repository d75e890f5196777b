package notify

import (
	"fmt"
	"strings"
	"time"

	"newapi-checkin/internal/checkin"
)

const Title = "Check-in Alert"

const separator = "-------------------------------"

// Render formats a summary as the plain-text body every channel sends.
func Render(s checkin.Summary, loc *time.Location) Message {
	if loc == nil {
		loc = time.Local
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Execution time: %s\n\n", s.FinishedAt.In(loc).Format(time.DateTime))

	for i, r := range s.Results {
		if i > 0 {
			b.WriteString(separator + "\n")
		}
		b.WriteString(AccountLine(r))
		b.WriteString("\n")
		fmt.Fprintf(&b, "    %s\n", r.Message)
		if r.Balance != nil {
			fmt.Fprintf(&b, "    %s\n", r.Balance.String())
		}
	}

	b.WriteString("\n" + separator + "\n")
	b.WriteString("Check-in result statistics:\n")
	fmt.Fprintf(&b, "Success: %d/%d\n", s.Succeeded, s.Total)
	fmt.Fprintf(&b, "Failed: %d/%d\n", s.Failed, s.Total)
	switch {
	case s.Total > 0 && s.Succeeded == s.Total:
		b.WriteString("All accounts check-in successful!")
	case s.Succeeded > 0:
		b.WriteString("Some accounts check-in successful")
	default:
		b.WriteString("All accounts check-in failed")
	}

	return Message{Title: Title, Text: b.String(), Summary: s}
}

// AccountLine is the one-line status of an account, also printed by the CLI.
func AccountLine(r checkin.Result) string {
	var b strings.Builder
	if r.Succeeded() {
		b.WriteString("[SUCCESS] ")
	} else {
		b.WriteString("[FAILED] ")
	}
	b.WriteString(r.AccountName)

	details := []string{r.Provider}
	if r.Method != "" {
		details = append(details, r.Method)
	}
	if r.Kind != "" {
		details = append(details, string(r.Kind))
	}
	fmt.Fprintf(&b, " (%s)", strings.Join(details, ", "))

	if r.AlreadyCheckedIn {
		b.WriteString(" already checked in")
	} else if r.QuotaAwarded != nil {
		fmt.Fprintf(&b, " +$%.2f", *r.QuotaAwarded)
	}
	return b.String()
}
