package contract

import "errors"

var (
	ErrPlanning        = errors.New("planning failed")
	ErrExecutor        = errors.New("executor failed")
	ErrExecutorTimeout = errors.New("executor timed out")
	ErrUnknownExecutor = errors.New("unknown executor")
	ErrSynthesis       = errors.New("synthesis failed")
	ErrStreamClosed    = errors.New("event stream closed")
	ErrReconciliation  = errors.New("task reconciliation failed")
	ErrModelInvoke     = errors.New("model invoke failed")
	ErrSchemaViolation = errors.New("model response violates schema")
	ErrPromptMissing   = errors.New("required prompt is missing")
	ErrValidation      = errors.New("validation failed")
)
