package eip2612gassponsor

import (
	"context"
	"testing"
)

func TestServerExtensionKey(t *testing.T) {
	ext := &ServerExtension{}
	if ext.Key() != EIP2612GasSponsoring {
		t.Fatalf("unexpected key: %s", ext.Key())
	}
}

func TestServerExtensionEnrichDeclaration(t *testing.T) {
	ext := &ServerExtension{}
	enriched := ext.EnrichDeclaration(map[string]interface{}{}, nil)
	decl, ok := enriched.(map[string]interface{})
	if !ok {
		t.Fatal("expected a map declaration")
	}
	if decl["info"] == nil || decl["schema"] == nil {
		t.Fatal("expected info and schema to be populated")
	}
}

func TestServerExtensionValidateRejectsMissingInfo(t *testing.T) {
	ext := &ServerExtension{}
	err := ext.Validate(context.Background(), map[string]interface{}{
		"info":   map[string]interface{}{"description": "test", "version": "1"},
		"schema": map[string]interface{}{},
	})
	if err == nil {
		t.Fatal("expected an error for incomplete permit info")
	}
}

func TestServerExtensionValidateAcceptsCompletePermit(t *testing.T) {
	ext := &ServerExtension{}
	err := ext.Validate(context.Background(), map[string]interface{}{
		"info": map[string]interface{}{
			"from":      "0x857b06519E91e3A54538791bDbb0E22373e36b66",
			"asset":     "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
			"spender":   "0x000000000022D473030F116dDEE9F6B43aC78BA3",
			"amount":    "115792089237316195423570985008687907853269984665640564039457584007913129639935",
			"nonce":     "0",
			"deadline":  "1740672154",
			"signature": "0x2d6a7588d6acca505cbf0d9a4a227e0c52c6c34008c8e8986a1283259764173608a2ce6496642e377d6da8dbbf5836e9bd15092f9ecab05ded3d6293af148b571c",
			"version":   "1",
		},
		"schema": map[string]interface{}{},
	})
	if err != nil {
		t.Fatalf("expected valid permit info, got: %v", err)
	}
}
