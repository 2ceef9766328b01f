package infer

import "errors"

var (
	ErrEmptyInputSet       = errors.New("input data empty")
	ErrInputCountMismatch  = errors.New("input directories hold different file counts")
	ErrSlotCountMismatch   = errors.New("input directory count does not match model inputs")
	ErrInputNameMismatch   = errors.New("paired input files have different names")
	ErrDeriveInputDir      = errors.New("cannot derive sibling input directory")
	ErrFileReadError       = errors.New("read input file failed")
	ErrPayloadSizeMismatch = errors.New("payload size does not match declared tensor")
	ErrPredictionFailed    = errors.New("predict failed")
	ErrResultWriteFailed   = errors.New("write result failed")
	ErrResultNameCollision = errors.New("samples share a result file name")
)
