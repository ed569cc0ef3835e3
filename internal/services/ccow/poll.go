package ccow

import "context"

// PollState is what a context poll tells the browser.
type PollState int

const (
	// PollQuiescent means the vault agrees with the browser; nothing is shown.
	PollQuiescent PollState = iota
	// PollChanged means another application switched to a different patient.
	PollChanged
	// PollCleared means the context the browser was showing has been cleared.
	PollCleared
)

func (s PollState) String() string {
	switch s {
	case PollChanged:
		return "changed"
	case PollCleared:
		return "cleared"
	default:
		return "quiescent"
	}
}

// PollResult is the outcome of comparing the vault's context with the ICN the
// browser believes is active.
type PollResult struct {
	State PollState
	// NewICN is the vault's patient when State is PollChanged.
	NewICN string
	// EchoICN is sent back as the next poll's current_icn. It is always the
	// browser's belief, so a notification keeps showing until the user reloads.
	EchoICN string
}

// Evaluate decides what a poll shows. It keeps no state between polls, so the
// same inputs always give the same result.
func Evaluate(believedICN string, active *ContextInfo) PollResult {
	res := PollResult{State: PollQuiescent, EchoICN: believedICN}

	activeICN := ""
	if active != nil {
		activeICN = active.PatientID
	}

	switch {
	case activeICN == believedICN:
	case activeICN == "":
		res.State = PollCleared
	default:
		res.State = PollChanged
		res.NewICN = activeICN
	}
	return res
}

// Poll fetches the user's context and evaluates it against believedICN. When the
// vault does not answer there is nothing to report, so the poll is quiescent.
func (c *Client) Poll(ctx context.Context, sessionID, believedICN string) PollResult {
	active, reachable := c.FetchActivePatient(ctx, sessionID)
	if !reachable {
		return PollResult{State: PollQuiescent, EchoICN: believedICN}
	}
	return Evaluate(believedICN, active)
}
