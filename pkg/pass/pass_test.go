package pass

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewAndHalves(t *testing.T) {
	preimage := bytes.Repeat([]byte{0x11}, PreimageLength)
	sig := bytes.Repeat([]byte{0x22}, SignatureLength)

	p, err := New(preimage, sig)
	require.NoError(t, err)
	require.Equal(t, preimage, p.Preimage())
	require.Equal(t, sig, p.Signature())
	require.Len(t, p.Bytes(), Length)
}

func TestNewRejectsBadLengths(t *testing.T) {
	_, err := New(make([]byte, PreimageLength-1), make([]byte, SignatureLength))
	require.Error(t, err)

	_, err = New(make([]byte, PreimageLength), make([]byte, SignatureLength+1))
	require.Error(t, err)
}

func TestDecodeRoundTrip(t *testing.T) {
	preimage := bytes.Repeat([]byte{0x33}, PreimageLength)
	sig := bytes.Repeat([]byte{0x44}, SignatureLength)
	p, err := New(preimage, sig)
	require.NoError(t, err)

	decoded, err := Decode(p.Bytes())
	require.NoError(t, err)
	require.Equal(t, p, decoded)
}

func TestDecodeRejectsWrongLength(t *testing.T) {
	_, err := Decode(make([]byte, Length-1))
	require.Error(t, err)
	_, err = Decode(make([]byte, Length+1))
	require.Error(t, err)
}

func TestTextRoundTrip(t *testing.T) {
	preimage := bytes.Repeat([]byte{0x55}, PreimageLength)
	sig := bytes.Repeat([]byte{0x66}, SignatureLength)
	p, err := New(preimage, sig)
	require.NoError(t, err)

	back, err := FromText(p.Text())
	require.NoError(t, err)
	require.Equal(t, p, back)
}

func TestFromTextRejectsGarbage(t *testing.T) {
	_, err := FromText("not valid base64!!")
	require.Error(t, err)
}
