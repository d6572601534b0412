/*
Copyright The Verda Cloud Provider Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cloudprovider

import (
	"errors"
	"fmt"
)

// ErrorClass mirrors the autoscaler's instance error classes.
type ErrorClass int32

const (
	ErrorClassOutOfResources ErrorClass = 1
	ErrorClassOther          ErrorClass = 99
)

// NotFoundError is returned for unknown node groups, providerIDs and instance types
type NotFoundError struct {
	error
}

func NewNotFoundError(err error) *NotFoundError {
	return &NotFoundError{
		error: err,
	}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found, %s", e.error)
}

func (e *NotFoundError) Unwrap() error {
	return e.error
}

func IsNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	var nfErr *NotFoundError
	return errors.As(err, &nfErr)
}

func IgnoreNotFoundError(err error) error {
	if IsNotFoundError(err) {
		return nil
	}
	return err
}

// InvalidArgumentError is returned when a request would violate size bounds or carries a malformed argument
type InvalidArgumentError struct {
	error
}

func NewInvalidArgumentError(err error) *InvalidArgumentError {
	return &InvalidArgumentError{
		error: err,
	}
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument, %s", e.error)
}

func (e *InvalidArgumentError) Unwrap() error {
	return e.error
}

func IsInvalidArgumentError(err error) bool {
	if err == nil {
		return false
	}
	var iaErr *InvalidArgumentError
	return errors.As(err, &iaErr)
}

// CloudOperationFailedError wraps a failed gateway call together with the cloud's error code and
// the class the autoscaler should attribute it to.
type CloudOperationFailedError struct {
	error
	Code    string
	Message string
	Class   ErrorClass
}

func NewCloudOperationFailedError(err error, code, message string, class ErrorClass) *CloudOperationFailedError {
	return &CloudOperationFailedError{
		error:   err,
		Code:    code,
		Message: message,
		Class:   class,
	}
}

func (e *CloudOperationFailedError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("cloud operation failed, %s", e.error)
	}
	return fmt.Sprintf("cloud operation failed (%s), %s", e.Code, e.error)
}

func (e *CloudOperationFailedError) Unwrap() error {
	return e.error
}

func IsCloudOperationFailedError(err error) bool {
	if err == nil {
		return false
	}
	var cofErr *CloudOperationFailedError
	return errors.As(err, &cofErr)
}

// AsCloudOperationFailedError returns the first CloudOperationFailedError in the chain, or one
// classified as ErrorClassOther when the chain carries none.
func AsCloudOperationFailedError(err error) *CloudOperationFailedError {
	var cofErr *CloudOperationFailedError
	if errors.As(err, &cofErr) {
		return cofErr
	}
	return NewCloudOperationFailedError(err, "", err.Error(), ErrorClassOther)
}

// StaleError is returned when a caller gives up waiting on a refresh started by another caller.
type StaleError struct {
	error
}

func NewStaleError(err error) *StaleError {
	return &StaleError{
		error: err,
	}
}

func (e *StaleError) Error() string {
	return fmt.Sprintf("refresh in progress, %s", e.error)
}

func (e *StaleError) Unwrap() error {
	return e.error
}

func IsStaleError(err error) bool {
	if err == nil {
		return false
	}
	var sErr *StaleError
	return errors.As(err, &sErr)
}
