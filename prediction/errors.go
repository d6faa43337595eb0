package prediction

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures at the service boundary.
type ErrorKind int

const (
	// MissingInput 请求缺少 symptoms 字段
	MissingInput ErrorKind = iota + 1
	// InvalidInput symptoms 字段类型错误或请求体无法解析
	InvalidInput
	// ModelInferenceFailure 模型推理或标签解码失败
	ModelInferenceFailure
	// Canceled 请求在推理前已取消或超时
	Canceled
)

func (k ErrorKind) String() string {
	switch k {
	case MissingInput:
		return "missing_input"
	case InvalidInput:
		return "invalid_input"
	case ModelInferenceFailure:
		return "model_inference_failure"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrMissingInput is returned when the symptoms field is absent. An empty
// list is not an error.
var ErrMissingInput = &Error{Kind: MissingInput, Op: "predict", Err: errors.New("symptoms list required")}

// ErrServiceClosed is returned by Predict and Reload after Close.
var ErrServiceClosed = errors.New("prediction service closed")

func InvalidInputError(reason string) error {
	return &Error{Kind: InvalidInput, Op: "decode", Err: errors.New(reason)}
}

func canceledError(err error) error {
	return &Error{Kind: Canceled, Op: "predict", Err: err}
}

func inferenceError(op string, err error) error {
	return &Error{Kind: ModelInferenceFailure, Op: op, Err: err}
}

// KindOf returns the kind of err, or 0 if it is not a service error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
