package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAtomicAmount(t *testing.T) {
	n, err := ParseAtomicAmount("1000000")
	require.NoError(t, err)
	assert.Equal(t, "1000000", n.String())

	_, err = ParseAtomicAmount("")
	assert.Error(t, err)

	_, err = ParseAtomicAmount("-5")
	assert.Error(t, err)

	_, err = ParseAtomicAmount("+5")
	assert.Error(t, err)

	_, err = ParseAtomicAmount("1.5")
	assert.Error(t, err)

	_, err = ParseAtomicAmount("0xff")
	assert.Error(t, err)
}

func TestAtomicFromDecimal(t *testing.T) {
	got, err := AtomicFromDecimal("0.10", 6)
	require.NoError(t, err)
	assert.Equal(t, "100000", got)

	got, err = AtomicFromDecimal("1", 6)
	require.NoError(t, err)
	assert.Equal(t, "1000000", got)

	// more fractional digits than the token supports
	_, err = AtomicFromDecimal("0.0000001", 6)
	assert.Error(t, err)

	_, err = AtomicFromDecimal("-1", 6)
	assert.Error(t, err)
}

func TestDecimalFromAtomic(t *testing.T) {
	got, err := DecimalFromAtomic("1000000", 6)
	require.NoError(t, err)
	assert.Equal(t, "1", got)

	got, err = DecimalFromAtomic("123456", 6)
	require.NoError(t, err)
	assert.Equal(t, "0.123456", got)
}

func TestParseNonce(t *testing.T) {
	nonce, err := ParseNonce("0x" + "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff")
	require.NoError(t, err)
	assert.Equal(t, byte(0x00), nonce[0])
	assert.Equal(t, byte(0xff), nonce[31])

	_, err = ParseNonce("0x1234")
	assert.Error(t, err)

	_, err = ParseNonce("not-hex")
	assert.Error(t, err)
}
