package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulationErrorsMessage(t *testing.T) {
	feeErr := "fee recipient unavailable"

	tests := []struct {
		name    string
		errs    *SimulationErrors
		wantMsg bool
	}{
		{name: "nil report", errs: nil},
		{name: "zero report", errs: &SimulationErrors{}},
		{
			name: "empty containers",
			errs: &SimulationErrors{
				Markets:    map[string]string{},
				Users:      map[string]string{},
				Holdings:   map[string]string{},
				VaultUsers: map[string]string{},
			},
		},
		{
			name:    "fee recipient",
			errs:    &SimulationErrors{Global: GlobalSimulationErrors{FeeRecipient: &feeErr}},
			wantMsg: true,
		},
		{
			name:    "market error",
			errs:    &SimulationErrors{Markets: map[string]string{"0xabc": "execution reverted"}},
			wantMsg: true,
		},
		{
			name:    "vault user error",
			errs:    &SimulationErrors{VaultUsers: map[string]string{"0x1:0x2": "boom"}},
			wantMsg: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := tt.errs.Message()
			assert.Equal(t, tt.wantMsg, ok)
			if !tt.wantMsg {
				assert.Empty(t, msg)
				return
			}
			var decoded SimulationErrors
			require.NoError(t, json.Unmarshal([]byte(msg), &decoded))
			assert.True(t, decoded.HasErrors())
		})
	}
}

func TestEncodedBundleTransactionsOrder(t *testing.T) {
	b := EncodedBundle{
		Requirements: []EncodedTx{{Data: []byte{1}}, {Data: []byte{2}}},
		Tx:           EncodedTx{Data: []byte{3}},
	}
	txs := b.Transactions()
	require.Len(t, txs, 3)
	assert.Equal(t, []byte{1}, txs[0].Data)
	assert.Equal(t, []byte{2}, txs[1].Data)
	assert.Equal(t, []byte{3}, txs[2].Data)
}
