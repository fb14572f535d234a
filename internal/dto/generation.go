package dto

import "time"

// GenerationRequest asks for lesson generation over a window.
type GenerationRequest struct {
	WindowStart  time.Time `json:"window_start" binding:"required" validate:"required"`
	WindowEnd    time.Time `json:"window_end" binding:"required" validate:"required"`
	SkipHolidays bool      `json:"skip_holidays"`
}

// GenerationResult reports one template's generation run.
type GenerationResult struct {
	TemplateID string `json:"template_id"`
	Created    int    `json:"created"`
	Skipped    int    `json:"skipped"`
	Holidays   int    `json:"holidays"`
}

// TemplateOutcome captures a per-template result inside a bulk run. Error is
// set when that template failed without aborting the rest of the batch.
type TemplateOutcome struct {
	TemplateID string            `json:"template_id"`
	Result     *GenerationResult `json:"result,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// BulkGenerationResult aggregates a bulk generation run.
type BulkGenerationResult struct {
	Processed int               `json:"processed"`
	Created   int               `json:"created"`
	Skipped   int               `json:"skipped"`
	Failed    int               `json:"failed"`
	Outcomes  []TemplateOutcome `json:"outcomes"`
	Duration  time.Duration     `json:"duration"`
}
