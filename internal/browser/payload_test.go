// internal/browser/payload_test.go
package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/pdp-injector/internal/mutation"
)

func TestDecodePayload(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    payload
		wantErr bool
	}{
		{
			name: "Mutations",
			raw:  `{"kind":"mutations","batch":{"seq":3,"records":[{"op":"childList","target":"DIV","added":2,"removed":0}],"timestamp":1700000000000}}`,
			want: payload{Kind: KindMutations, Batch: &mutation.Batch{
				Seq:       3,
				Records:   []mutation.Record{{Op: mutation.OpChildList, Target: "DIV", Added: 2}},
				Timestamp: 1700000000000,
			}},
		},
		{name: "Action", raw: `{"kind":"action","action":"open-main"}`, want: payload{Kind: KindAction, Action: "open-main"}},
		{name: "Ready", raw: `{"kind":"ready","doc":"abc"}`, want: payload{Kind: KindReady, Doc: "abc"}},
		{name: "MutationsWithoutBatch", raw: `{"kind":"mutations"}`, wantErr: true},
		{name: "ActionWithoutName", raw: `{"kind":"action"}`, wantErr: true},
		{name: "UnknownKind", raw: `{"kind":"scroll"}`, wantErr: true},
		{name: "Garbage", raw: `not json`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodePayload(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCallExpr(t *testing.T) {
	expr, err := callExpr("qs", `a[href="x"]`)
	require.NoError(t, err)
	assert.Equal(t, `JSON.stringify(window.__pdp.call("qs", ["a[href=\"x\"]"]))`, expr)

	expr, err = callExpr("head")
	require.NoError(t, err)
	assert.Equal(t, `JSON.stringify(window.__pdp.call("head", []))`, expr)

	var none *int64
	expr, err = callExpr("insertBefore", int64(1), int64(2), none)
	require.NoError(t, err)
	assert.Equal(t, `JSON.stringify(window.__pdp.call("insertBefore", [1,2,null]))`, expr)
}

func TestBridgeSourceEmbedded(t *testing.T) {
	assert.Contains(t, bridgeSource, BindingName)
	assert.Contains(t, bridgeSource, "close3DModal")
}
