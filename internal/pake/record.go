// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package pake

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/cretz/gopaque/gopaque"
	"github.com/samber/oops"
	"go.dedis.ch/kyber/v3"
)

// recordVersion prefixes every encoded envelope.
const recordVersion byte = 1

// maxRecordField bounds a single length-prefixed field.
const maxRecordField = 64 << 10

// encodeRecord serializes a registration record without the server's
// private key, which is re-attached from configuration on load.
//
//	version(1) | uvarint len | user id | uvarint len | user public key |
//	uvarint len | envU | uvarint len | kU
func encodeRecord(rec *gopaque.ServerRegisterComplete) ([]byte, error) {
	pub, err := rec.UserPublicKey.MarshalBinary()
	if err != nil {
		return nil, oops.Code("ENVELOPE_ENCODE_FAILED").With("field", "user_public_key").Wrap(err)
	}
	ku, err := rec.KU.MarshalBinary()
	if err != nil {
		return nil, oops.Code("ENVELOPE_ENCODE_FAILED").With("field", "ku").Wrap(err)
	}

	var buf bytes.Buffer
	buf.WriteByte(recordVersion)
	for _, field := range [][]byte{rec.UserID, pub, rec.EnvU, ku} {
		var prefix [binary.MaxVarintLen64]byte
		n := binary.PutUvarint(prefix[:], uint64(len(field)))
		buf.Write(prefix[:n])
		buf.Write(field)
	}
	return buf.Bytes(), nil
}

// decodeRecord parses an envelope produced by encodeRecord.
func decodeRecord(c gopaque.Crypto, data []byte, serverKey kyber.Scalar) (*gopaque.ServerRegisterComplete, error) {
	if len(data) == 0 {
		return nil, oops.Code("ENVELOPE_CORRUPT").Errorf("envelope is empty")
	}
	if data[0] != recordVersion {
		return nil, oops.Code("ENVELOPE_CORRUPT").With("version", data[0]).Errorf("unsupported envelope version")
	}

	r := bytes.NewReader(data[1:])
	fields := make([][]byte, 4)
	for i := range fields {
		field, err := readField(r)
		if err != nil {
			return nil, oops.Code("ENVELOPE_CORRUPT").With("field", i).Wrap(err)
		}
		fields[i] = field
	}
	if r.Len() != 0 {
		return nil, oops.Code("ENVELOPE_CORRUPT").With("trailing", r.Len()).Errorf("trailing bytes in envelope")
	}

	pub := c.Point()
	if err := pub.UnmarshalBinary(fields[1]); err != nil {
		return nil, oops.Code("ENVELOPE_CORRUPT").With("field", "user_public_key").Wrap(err)
	}
	ku := c.Scalar()
	if err := ku.UnmarshalBinary(fields[3]); err != nil {
		return nil, oops.Code("ENVELOPE_CORRUPT").With("field", "ku").Wrap(err)
	}

	return &gopaque.ServerRegisterComplete{
		UserID:           fields[0],
		ServerPrivateKey: serverKey,
		UserPublicKey:    pub,
		EnvU:             fields[2],
		KU:               ku,
	}, nil
}

func readField(r *bytes.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if n > maxRecordField || n > uint64(r.Len()) {
		return nil, io.ErrUnexpectedEOF
	}
	field := make([]byte, n)
	if _, err := io.ReadFull(r, field); err != nil {
		return nil, err
	}
	return field, nil
}
