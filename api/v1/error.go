package api_v1

import (
	"errors"
	"fmt"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	status "google.golang.org/grpc/status"
)

func localized(code codes.Code, msg string) *status.Status {
	st := status.New(code, msg)
	d := &errdetails.LocalizedMessage{
		Locale:  "en-US",
		Message: msg,
	}
	std, err := st.WithDetails(d)
	if err != nil {
		return st
	}
	return std
}

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) GRPCStatus() *status.Status {
	if e.Field == "" {
		return localized(codes.InvalidArgument, e.Message)
	}
	return localized(codes.InvalidArgument, fmt.Sprintf("invalid %s: %s", e.Field, e.Message))
}

func (e ValidationError) Error() string {
	return e.GRPCStatus().Err().Error()
}

type NotFoundError struct {
	Kind string
	Id   string
}

func (e NotFoundError) GRPCStatus() *status.Status {
	return localized(codes.NotFound, fmt.Sprintf("%s %s not found", e.Kind, e.Id))
}

func (e NotFoundError) Error() string {
	return e.GRPCStatus().Err().Error()
}

type ConflictError struct {
	Message string
}

func (e ConflictError) GRPCStatus() *status.Status {
	return localized(codes.FailedPrecondition, e.Message)
}

func (e ConflictError) Error() string {
	return e.GRPCStatus().Err().Error()
}

type StorageLayerError struct {
	Message string
}

func (e StorageLayerError) GRPCStatus() *status.Status {
	msg := "error in underline storage layer"
	if e.Message != "" {
		msg = msg + ": " + e.Message
	}
	return localized(codes.Internal, msg)
}

func (e StorageLayerError) Error() string {
	return e.GRPCStatus().Err().Error()
}

type CorruptPayloadError struct {
	JobId   string
	Message string
}

func (e CorruptPayloadError) GRPCStatus() *status.Status {
	return localized(codes.DataLoss, fmt.Sprintf("corrupt payload for job %s: %s", e.JobId, e.Message))
}

func (e CorruptPayloadError) Error() string {
	return e.GRPCStatus().Err().Error()
}

func IsNotFound(err error) bool {
	var e NotFoundError
	return errors.As(err, &e)
}

func IsConflict(err error) bool {
	var e ConflictError
	return errors.As(err, &e)
}

func IsValidation(err error) bool {
	var e ValidationError
	return errors.As(err, &e)
}

// Code returns the grpc code carried by err, codes.Unknown otherwise.
func Code(err error) codes.Code {
	var se interface{ GRPCStatus() *status.Status }
	if errors.As(err, &se) {
		return se.GRPCStatus().Code()
	}
	return codes.Unknown
}
