// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package httpapi

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strconv"

	"github.com/keyward/keyward/pkg/errutil"
)

// Bytes is a protocol message on the wire. It decodes from either an array
// of numbers or a base64 string and always encodes as an array of numbers.
type Bytes []byte

// MarshalJSON implements json.Marshaler.
func (b Bytes) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.Grow(len(b)*4 + 2)
	buf.WriteByte('[')
	for i, v := range b {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Itoa(int(v)))
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *Bytes) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case bytes.Equal(trimmed, []byte("null")):
		*b = nil
		return nil
	case len(trimmed) > 0 && trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return invalidBytes(err)
		}
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return invalidBytes(err)
		}
		*b = decoded
		return nil
	}

	var nums []int
	if err := json.Unmarshal(trimmed, &nums); err != nil {
		return invalidBytes(err)
	}
	out := make([]byte, len(nums))
	for i, n := range nums {
		if n < 0 || n > 255 {
			return errutil.Client(errutil.KindInvalidInput, "BYTES_OUT_OF_RANGE", "Byte values must be between 0 and 255").
				With("index", i).
				Errorf("byte value %d out of range", n)
		}
		out[i] = byte(n)
	}
	*b = out
	return nil
}

func invalidBytes(err error) error {
	return errutil.Client(errutil.KindInvalidInput, "BYTES_INVALID", "Byte fields must be an array of numbers or a base64 string").
		Wrap(err)
}
