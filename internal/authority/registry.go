package authority

import "github.com/afyalink/afyalink-backend/internal/models"

// Subsystem identifies who is attempting a state change.
type Subsystem string

const (
	SubsystemPayment   Subsystem = "payment"
	SubsystemProvider  Subsystem = "provider"
	SubsystemClient    Subsystem = "client"
	SubsystemAdmin     Subsystem = "admin"
	SubsystemVideo     Subsystem = "video"
	SubsystemScheduler Subsystem = "scheduler"
)

type EntityType string

const (
	EntityPayment   EntityType = "payment"
	EntitySession   EntityType = "session"
	EntityVideoCall EntityType = "video_call"
)

type grantKey struct {
	entity  EntityType
	toState string
}

// grants is the single source of truth for who may move which entity into
// which state. Deny by default: anything absent here is forbidden.
var grants = map[grantKey][]Subsystem{
	// Payment lifecycle is driven by the payment subsystem; refunds and
	// manual failure need a human.
	{EntityPayment, string(models.PaymentInitiated)}:  {SubsystemPayment},
	{EntityPayment, string(models.PaymentProcessing)}: {SubsystemPayment},
	{EntityPayment, string(models.PaymentConfirmed)}:  {SubsystemPayment},
	{EntityPayment, string(models.PaymentFailed)}:     {SubsystemPayment, SubsystemAdmin},
	{EntityPayment, string(models.PaymentRefunded)}:   {SubsystemAdmin},

	// Only a provider decides on a booking; only the payment subsystem may
	// confirm it; cancellation is a human action.
	{EntitySession, string(models.SessionApproved)}:   {SubsystemProvider},
	{EntitySession, string(models.SessionDeclined)}:   {SubsystemProvider},
	{EntitySession, string(models.SessionCancelled)}:  {SubsystemClient, SubsystemProvider, SubsystemAdmin},
	{EntitySession, string(models.SessionConfirmed)}:  {SubsystemPayment},
	{EntitySession, string(models.SessionInProgress)}: {SubsystemProvider, SubsystemVideo},
	{EntitySession, string(models.SessionCompleted)}:  {SubsystemProvider, SubsystemVideo},

	{EntityVideoCall, string(models.VideoCallWaiting)}: {SubsystemVideo},
	{EntityVideoCall, string(models.VideoCallActive)}:  {SubsystemVideo},
	{EntityVideoCall, string(models.VideoCallEnded)}:   {SubsystemVideo, SubsystemScheduler},
}

// transitions lists the legal from->to edges per entity, independent of who
// is acting. Missing from-state means no outbound edges.
var transitions = map[EntityType]map[string][]string{
	EntityPayment: {
		string(models.PaymentNotStarted): {string(models.PaymentInitiated)},
		string(models.PaymentInitiated):  {string(models.PaymentProcessing), string(models.PaymentConfirmed), string(models.PaymentFailed)},
		string(models.PaymentProcessing): {string(models.PaymentConfirmed), string(models.PaymentFailed)},
		string(models.PaymentConfirmed):  {string(models.PaymentRefunded)},
	},
	EntitySession: {
		string(models.SessionPendingApproval): {string(models.SessionApproved), string(models.SessionDeclined), string(models.SessionCancelled)},
		string(models.SessionApproved):        {string(models.SessionConfirmed), string(models.SessionCancelled)},
		string(models.SessionConfirmed):       {string(models.SessionInProgress), string(models.SessionCancelled)},
		string(models.SessionInProgress):      {string(models.SessionCompleted)},
	},
	EntityVideoCall: {
		string(models.VideoCallWaiting): {string(models.VideoCallActive), string(models.VideoCallEnded)},
		string(models.VideoCallActive):  {string(models.VideoCallEnded)},
	},
}

// HasAuthority reports whether acting may move entity from fromState to
// toState. Pure lookup, no side effects.
func HasAuthority(acting Subsystem, entity EntityType, fromState, toState string) bool {
	if !legalTransition(entity, fromState, toState) {
		return false
	}
	for _, s := range grants[grantKey{entity, toState}] {
		if s == acting {
			return true
		}
	}
	return false
}

func legalTransition(entity EntityType, fromState, toState string) bool {
	for _, t := range transitions[entity][fromState] {
		if t == toState {
			return true
		}
	}
	return false
}
