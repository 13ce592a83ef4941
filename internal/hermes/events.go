package hermes

import "time"

type ModelEvent struct {
	ModelID    string             `json:"model_id"`
	MaterialID string             `json:"material_id"`
	Metric     string             `json:"metric"`
	Version    string             `json:"version"`
	Expression string             `json:"expression,omitempty"`
	Params     map[string]float64 `json:"params,omitempty"`
}

type OptimizeCompletedEvent struct {
	MainMaterialID string    `json:"main_material_id"`
	Target         []float64 `json:"target"`
	Candidates     int       `json:"candidates"`
	BestDistance   float64   `json:"best_distance"`
	DurationMs     int64     `json:"duration_ms"`
}

type SwapRepairCompletedEvent struct {
	FromMaterialID string `json:"from_material_id"`
	ToMaterialID   string `json:"to_material_id"`
	Suggestions    int    `json:"suggestions"`
	Repaired       int    `json:"repaired"`
}

type SampleRefreshedEvent struct {
	SampleID  string    `json:"sample_id"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Z         float64   `json:"z"`
	Timestamp time.Time `json:"timestamp"`
}

type BOMActivatedEvent struct {
	SampleID string `json:"sample_id"`
	BOMID    string `json:"bom_id"`
	Version  string `json:"version"`
}
