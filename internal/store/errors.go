/*
Copyright 2020 GramLabs, Inc.

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

package store

import "github.com/thestormforge/optimize-engine/internal/apperror"

// ErrNilStore is returned by CheckImplements when handed a nil Store.
var ErrNilStore = apperror.New(apperror.InvalidConfig, "no store backend configured")

// NotFoundf builds a NotFound apperror for a missing study or trial.
func NotFoundf(format string, args ...interface{}) error {
	return apperror.Newf(apperror.NotFound, format, args...)
}

// InvalidTransitionf builds an InvalidTransition apperror.
func InvalidTransitionf(format string, args ...interface{}) error {
	return apperror.Newf(apperror.InvalidTransition, format, args...)
}
