package handlers

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"aggtree/models"
)

func TestBuildSubmit(t *testing.T) {
	cases := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{in: "", want: 0},
		{in: "0", want: 0},
		{in: " 42 ", want: 42},
		{in: "18446744073709551615", want: 18446744073709551615},
		{in: "18446744073709551616", wantErr: true},
		{in: "-3", wantErr: true},
		{in: "0x10", wantErr: true},
	}
	for i, tc := range cases {
		t.Run(fmt.Sprintf("%02d", i+1), func(t *testing.T) {
			op, err := BuildSubmit(tc.in)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidArgument)
				return
			}
			require.NoError(t, err)
			require.Equal(t, models.Submit(tc.want), op)
		})
	}
}

func TestBuildConnectToParent(t *testing.T) {
	op, err := BuildConnectToParent(" root ")
	require.NoError(t, err)
	require.Equal(t, models.ConnectToParent("root"), op)

	_, err = BuildConnectToParent("")
	require.ErrorIs(t, err, ErrInvalidArgument)

	require.Equal(t, models.OpFlush, BuildFlush().Kind)
}
