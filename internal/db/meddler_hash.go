package db

import (
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"
)

func init() {
	meddler.Register("hash", HashMeddler{})
}

// HashMeddler stores common.Hash fields as hex strings. A NULL column reads back as the zero hash.
type HashMeddler struct{}

func (HashMeddler) PreRead(any) (any, error) {
	return new(sql.NullString), nil
}

func (HashMeddler) PostRead(fieldAddr, scanTarget any) error {
	ns, ok := scanTarget.(*sql.NullString)
	if !ok {
		return fmt.Errorf("hash meddler: unexpected scan target %T", scanTarget)
	}
	field, ok := fieldAddr.(*common.Hash)
	if !ok {
		return fmt.Errorf("hash meddler: unsupported field %T", fieldAddr)
	}

	*field = common.Hash{}
	if ns.Valid {
		*field = common.HexToHash(ns.String)
	}
	return nil
}

func (HashMeddler) PreWrite(field any) (any, error) {
	hash, ok := field.(common.Hash)
	if !ok {
		return nil, fmt.Errorf("hash meddler: unsupported field %T", field)
	}
	return hash.Hex(), nil
}
