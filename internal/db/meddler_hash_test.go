package db

import (
	"database/sql"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestHashMeddler(t *testing.T) {
	m := HashMeddler{}
	hash := common.HexToHash("0xabc")

	saved, err := m.PreWrite(hash)
	require.NoError(t, err)
	require.Equal(t, hash.Hex(), saved)

	_, err = m.PreWrite("0xabc")
	require.Error(t, err)

	target, err := m.PreRead(nil)
	require.NoError(t, err)
	*target.(*sql.NullString) = sql.NullString{String: hash.Hex(), Valid: true}

	var read common.Hash
	require.NoError(t, m.PostRead(&read, target))
	require.Equal(t, hash, read)

	read = hash
	require.NoError(t, m.PostRead(&read, &sql.NullString{}))
	require.Equal(t, common.Hash{}, read, "NULL reads back as the zero hash")

	var wrong string
	require.Error(t, m.PostRead(&wrong, &sql.NullString{}))
}
