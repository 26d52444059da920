package main

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auctionhouse/internal/chain"
	"auctionhouse/internal/service"
)

func TestSuiFormatting(t *testing.T) {
	assert.Equal(t, "1.5", sui(1_500_000_000))
	assert.Equal(t, "0.1", sui(100_000_000))
	assert.Equal(t, "0", sui(0))
}

func TestAddressCommandUsesEnvKey(t *testing.T) {
	seed := bytes.Repeat([]byte{7}, 32)
	kp, err := chain.KeypairFromSeed(seed)
	require.NoError(t, err)
	t.Setenv("AH_CHAIN_ADMIN_KEY", base64.StdEncoding.EncodeToString(append([]byte{0}, seed...)))

	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"address", "--env-only"})
	require.NoError(t, root.Execute())
	assert.Equal(t, kp.Address().String()+"\n", out.String())
}

func TestPrintOutcomeText(t *testing.T) {
	var out bytes.Buffer
	opts := &rootOptions{}
	require.NoError(t, printOutcome(opts, &out, &service.Outcome{Skipped: true, Divergent: true}))
	assert.Contains(t, out.String(), "skipped")
	assert.Contains(t, out.String(), "divergence recorded")

	out.Reset()
	opts.JSON = true
	require.NoError(t, printOutcome(opts, &out, &service.Outcome{Digest: "abc"}))
	assert.Contains(t, out.String(), `"digest": "abc"`)
}
