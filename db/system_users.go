package db

// System actors recorded in completed_by / escalated_from fields for automated actions
const (
	// SystemActorDelayScanner represents the delay scan pass
	SystemActorDelayScanner = "system:delay-scanner"

	// SystemActorScheduler represents the scheduled worker triggering scans
	SystemActorScheduler = "system:scheduler"

	// SystemActorCLI represents operator actions from stagectl
	SystemActorCLI = "system:stagectl"

	// SystemActorAPI represents admin actions authenticated with the operator API key
	SystemActorAPI = "system:api-key"
)

// GetSystemActorBySource returns the system actor for a trigger source
func GetSystemActorBySource(source string) string {
	switch source {
	case "scheduler", "worker":
		return SystemActorScheduler
	case "cli":
		return SystemActorCLI
	case "api", "api_key":
		return SystemActorAPI
	default:
		return SystemActorDelayScanner
	}
}
