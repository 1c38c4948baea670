// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package errutil_test

import (
	"errors"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"

	"github.com/keyward/keyward/pkg/errutil"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errutil.Kind
	}{
		{"nil", nil, ""},
		{"plain error", errors.New("boom"), errutil.KindInternal},
		{"oops without kind", oops.Code("X").Errorf("boom"), errutil.KindInternal},
		{
			"client error",
			errutil.Client(errutil.KindNotFound, "THING_NOT_FOUND", "Thing not found").Errorf("missing"),
			errutil.KindNotFound,
		},
		{
			"wrapped client error keeps kind",
			oops.With("operation", "lookup").Wrap(
				errutil.Client(errutil.KindConflict, "DUP", "already there").Errorf("dup"),
			),
			errutil.KindConflict,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errutil.KindOf(tt.err))
		})
	}
}

func TestPublicMessage(t *testing.T) {
	err := errutil.Client(errutil.KindInvalidInput, "BAD_SALT", "No salt value provided").
		With("field", "salt").
		Errorf("salt was empty")
	assert.Equal(t, "No salt value provided", errutil.PublicMessage(err))
	assert.True(t, errutil.IsKind(err, errutil.KindInvalidInput))

	internal := oops.Code("DB_DOWN").Errorf("connection refused to 10.0.0.3")
	assert.Equal(t, "Internal Server Error", errutil.PublicMessage(internal))
}
