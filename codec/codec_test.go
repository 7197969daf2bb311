package codec

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"aggtree/models"
)

func TestOperationRoundTrip(t *testing.T) {
	cases := []models.Operation{
		models.ConnectToParent("branch-01"),
		models.Submit(0),
		models.Submit(math.MaxUint64),
		models.Flush(),
	}
	for i, op := range cases {
		t.Run(fmt.Sprintf("%02d", i+1), func(t *testing.T) {
			data, err := EncodeOperation(op)
			require.NoError(t, err)
			got, err := DecodeOperation(data)
			require.NoError(t, err)
			require.Equal(t, op, got)
		})
	}
}

func TestMessageRoundTrip(t *testing.T) {
	msg := models.Message{From: "edge-00-01", To: "branch-00", Seq: 3, Value: 1 << 63}
	data, err := EncodeMessage(msg)
	require.NoError(t, err)
	got, err := DecodeMessage(data)
	require.NoError(t, err)
	require.Equal(t, msg, got)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := DecodeMessage([]byte{1, 2})
	require.Error(t, err)

	data, err := EncodeOperation(models.Flush())
	require.NoError(t, err)
	_, err = DecodeOperation(append(data, 0, 0, 0, 0))
	require.ErrorIs(t, err, ErrTrailingData)
}
