package rpcclient

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
)

func TestSubmitBlockRejectsInvalidHex(t *testing.T) {
	c := &Client{params: &chaincfg.MainNetParams}
	if err := c.SubmitBlock("not hex"); err == nil {
		t.Error("expected an error for non-hex input")
	}
}

func TestSubmitBlockRejectsTruncatedBlock(t *testing.T) {
	c := &Client{params: &chaincfg.MainNetParams}
	if err := c.SubmitBlock("deadbeef"); err == nil {
		t.Error("expected an error for a truncated block")
	}
}

func TestValidateAddressRejectsMalformedAddress(t *testing.T) {
	c := &Client{params: &chaincfg.MainNetParams}
	if _, err := c.ValidateAddress("not-a-real-address"); err == nil {
		t.Error("expected an error for a malformed address")
	}
}

func TestValidateAddressRejectsWrongNetwork(t *testing.T) {
	c := &Client{params: &chaincfg.TestNet3Params}
	// A well-formed mainnet address decoded against testnet params should
	// fail the network check.
	if _, err := c.ValidateAddress("1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2"); err == nil {
		t.Error("expected an error for a mainnet address under testnet params")
	}
}
