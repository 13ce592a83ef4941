package hermes

import "time"

const (
	SubjectOptimizeCompleted   = "formulary.optimize.completed"
	SubjectSwapRepairCompleted = "formulary.swaprepair.completed"

	// SubjectModelActivatedAll matches activation of any model.
	SubjectModelActivatedAll = "formulary.model.*.activated"

	StreamName   = "FORMULARY_EVENTS"
	StreamMaxAge = 30 * 24 * time.Hour
)

var StreamSubjects = []string{"formulary.model.>", "formulary.optimize.>", "formulary.swaprepair.>", "formulary.sample.>"}

// Metric model subjects
func SubjectModelDefaulted(modelID string) string { return "formulary.model." + modelID + ".defaulted" }
func SubjectModelCreated(modelID string) string   { return "formulary.model." + modelID + ".created" }
func SubjectModelUpdated(modelID string) string   { return "formulary.model." + modelID + ".updated" }
func SubjectModelActivated(modelID string) string { return "formulary.model." + modelID + ".activated" }

// Sample subjects
func SubjectSampleRefreshed(sampleID string) string {
	return "formulary.sample." + sampleID + ".refreshed"
}
func SubjectSampleBOMActivated(sampleID string) string {
	return "formulary.sample." + sampleID + ".bom_activated"
}
