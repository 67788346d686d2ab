// Package stuck flags entities that have sat in a non-terminal state far
// longer than expected, suggesting a missed or lost transition event. It is
// read-only: it reports candidates, it never mutates state.
package stuck

import (
	"time"

	"github.com/afyalink/afyalink-backend/internal/authority"
	"github.com/afyalink/afyalink-backend/internal/models"
)

type stateKey struct {
	entity authority.EntityType
	state  string
}

// expected time in each state before anyone should worry. An entity is
// stuck once elapsed exceeds twice this; the factor is uniform across all
// state machines so the policy stays auditable.
var expected = map[stateKey]time.Duration{
	{authority.EntityPayment, string(models.PaymentInitiated)}:  5 * time.Minute,
	{authority.EntityPayment, string(models.PaymentProcessing)}: 10 * time.Minute,

	{authority.EntitySession, string(models.SessionPendingApproval)}: 48 * time.Hour,
	{authority.EntitySession, string(models.SessionApproved)}:        24 * time.Hour,
	{authority.EntitySession, string(models.SessionInProgress)}:      2 * time.Hour,

	{authority.EntityVideoCall, string(models.VideoCallWaiting)}: 15 * time.Minute,
	{authority.EntityVideoCall, string(models.VideoCallActive)}:  3 * time.Hour,
}

type Verdict struct {
	IsStuck          bool          `json:"is_stuck"`
	ExpectedDuration time.Duration `json:"expected_duration"`
	Elapsed          time.Duration `json:"elapsed"`
}

// Check applies the 2x rule. The boundary is exclusive: exactly twice the
// expected duration is not yet stuck. States without an expected duration
// (terminal or unknown) are never stuck.
func Check(entity authority.EntityType, state string, enteredAt, now time.Time) Verdict {
	exp, ok := expected[stateKey{entity, state}]
	elapsed := now.Sub(enteredAt)
	if !ok {
		return Verdict{Elapsed: elapsed}
	}
	return Verdict{
		IsStuck:          elapsed > 2*exp,
		ExpectedDuration: exp,
		Elapsed:          elapsed,
	}
}

// Expected exposes the per-state budget.
func Expected(entity authority.EntityType, state string) (time.Duration, bool) {
	d, ok := expected[stateKey{entity, state}]
	return d, ok
}
