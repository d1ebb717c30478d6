package db

// DefaultStageCatalog is the seed input for StageCatalogService.InitializeDefaults.
// Runtime reads always go through the persisted catalog; this list only feeds seeding.
func DefaultStageCatalog() []StageDefinition {
	stage := func(code, label string, position, duration int, description string, subs ...SubStageDefinition) StageDefinition {
		for i := range subs {
			subs[i].StageCode = code
			subs[i].Position = i + 1
		}
		return StageDefinition{
			Code:                 code,
			Label:                label,
			Position:             position,
			ExpectedDurationDays: duration,
			WarningThresholdDays: 2,
			EscalationLevel1Days: 1,
			EscalationLevel2Days: 3,
			IsActive:             true,
			Description:          description,
			SubStages:            subs,
		}
	}
	sub := func(code, label string, duration int) SubStageDefinition {
		return SubStageDefinition{Code: code, Label: label, ExpectedDurationDays: duration}
	}

	return []StageDefinition{
		stage("request_submitted", "Request Submitted", 1, 2,
			"Request received and registered, awaiting intake checks"),
		stage("initial_review", "Initial Review", 2, 3,
			"Completeness and eligibility review of the submitted request",
			sub("documents_check", "Documents Check", 1),
			sub("eligibility_review", "Eligibility Review", 2),
		),
		stage("field_visit", "Field Visit", 3, 7,
			"Site visit to the mosque to assess the requested works",
			sub("schedule_visit", "Schedule Visit", 2),
			sub("conduct_visit", "Conduct Visit", 3),
			sub("submit_report", "Submit Visit Report", 2),
		),
		stage("technical_eval", "Technical Evaluation", 4, 5,
			"Engineering evaluation of scope, drawings and cost",
			sub("review_report", "Review Visit Report", 2),
			sub("cost_estimate", "Cost Estimate", 3),
		),
		stage("committee_approval", "Committee Approval", 5, 7,
			"Programs committee decision on the request",
			sub("prepare_agenda", "Prepare Agenda", 2),
			sub("committee_decision", "Committee Decision", 5),
		),
		stage("contracting", "Contracting", 6, 10,
			"Tendering and contractor agreement",
			sub("tendering", "Tendering", 5),
			sub("contract_signing", "Contract Signing", 5),
		),
		stage("execution", "Execution", 7, 0,
			"Construction or maintenance works; open-ended duration",
			sub("site_handover", "Site Handover to Contractor", 3),
			sub("progress_reporting", "Progress Reporting", 0),
		),
		stage("final_handover", "Final Handover", 8, 5,
			"Final inspection and handover of the completed works",
			sub("final_inspection", "Final Inspection", 3),
			sub("handover_minutes", "Handover Minutes", 2),
		),
		stage("closed", "Closed", 9, 0,
			"Request archived"),
	}
}
