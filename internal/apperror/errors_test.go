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

package apperror_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thestormforge/optimize-engine/internal/apperror"
)

func TestIsMatchesWrappedKind(t *testing.T) {
	err := apperror.Wrap(apperror.StoreUnavailable, "writing trial", errors.New("connection reset"))
	assert.True(t, apperror.Is(err, apperror.StoreUnavailable))
	assert.False(t, apperror.Is(err, apperror.NotFound))
}

func TestKindOfReturnsEmptyForPlainErrors(t *testing.T) {
	assert.Equal(t, apperror.Kind(""), apperror.KindOf(errors.New("boring")))
	assert.Equal(t, apperror.InvalidConfig, apperror.KindOf(apperror.New(apperror.InvalidConfig, "bad")))
}

func TestWithFieldAndWithHintDoNotMutateOriginal(t *testing.T) {
	base := apperror.New(apperror.InvalidSearchSpace, "empty space")
	withField := base.WithField("low")
	assert.Empty(t, base.Field)
	assert.Equal(t, "low", withField.Field)

	withHint := base.WithHint("add at least one parameter")
	assert.Empty(t, base.Hint)
	assert.Equal(t, "add at least one parameter", withHint.Hint)
}

func TestErrorMessageIncludesFieldHintAndWrappedError(t *testing.T) {
	err := apperror.Wrap(apperror.InvalidConfig, "bad sampler", errors.New("unknown name")).
		WithField("sampler").
		WithHint("use one of: random, tpe")

	msg := err.Error()
	assert.Contains(t, msg, "sampler")
	assert.Contains(t, msg, "bad sampler")
	assert.Contains(t, msg, "use one of: random, tpe")
	assert.Contains(t, msg, "unknown name")
}
