package models

import "errors"

var (
	// ErrInsufficientData is returned when there are no records to analyze.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrProcessing signals an internal inconsistency surfaced to the caller.
	ErrProcessing = errors.New("processing error")
	// ErrCloudAnalysisDisabled is used internally when the cloud policy is false.
	ErrCloudAnalysisDisabled = errors.New("cloud analysis disabled")
)
