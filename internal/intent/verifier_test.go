package intent

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	xerrors "NeoGas-Relay/internal/errors"
)

// 私钥标量 1 对应的 N3 地址。
const signerAddress = "NXJaKph9Mq6bg8Gu1wa8cUUrmbLDiqThW7"

func signerKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	raw := make([]byte, 32)
	raw[31] = 0x01
	key, err := crypto.ToECDSA(raw)
	if err != nil {
		t.Fatalf("load key: %v", err)
	}
	return key
}

func signIntent(t *testing.T, it *TransferIntent, key *ecdsa.PrivateKey) {
	t.Helper()
	payload, err := CanonicalPayload(*it)
	if err != nil {
		t.Fatalf("canonical payload: %v", err)
	}
	digest := sha256.Sum256(payload)
	sig, err := crypto.Sign(digest[:], key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	it.Signature = hex.EncodeToString(sig)
}

func validIntent(t *testing.T) TransferIntent {
	t.Helper()
	it := TransferIntent{
		From:        signerAddress,
		To:          "0xd2a4cff31913016155e38e474a2c06d08be276cf",
		AssetHash:   "0xef4073a0f2b305a38ec4050e4d3d28bc40ea63f5",
		GrossAmount: 400_000_000,
		FeeInAsset:  341,
		IntentID:    "intent-1",
	}
	signIntent(t, &it, signerKey(t))
	return it
}

func TestCanonicalPayloadOrdering(t *testing.T) {
	payload, err := CanonicalPayload(TransferIntent{
		From:        "A",
		To:          "B",
		GrossAmount: 400000000,
		FeeInAsset:  341,
		IntentID:    "id-1",
	})
	if err != nil {
		t.Fatalf("canonical payload: %v", err)
	}
	want := `{"fee_in_asset":341,"from":"A","gross_amount":400000000,"intent_id":"id-1","to":"B"}`
	if string(payload) != want {
		t.Fatalf("payload mismatch:\n got %s\nwant %s", payload, want)
	}
}

func TestVerifyAcceptsValidIntent(t *testing.T) {
	verifier := NewVerifier()
	it := validIntent(t)
	if err := verifier.Verify(it); err != nil {
		t.Fatalf("expected valid intent to verify: %v", err)
	}
}

func TestVerifyAcceptsLegacyRecoveryID(t *testing.T) {
	verifier := NewVerifier()
	it := validIntent(t)

	sig, err := hex.DecodeString(it.Signature)
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	sig[64] += 27
	it.Signature = hex.EncodeToString(sig)

	if err := verifier.Verify(it); err != nil {
		t.Fatalf("27/28 recovery id should be accepted: %v", err)
	}
}

func TestVerifyAcceptsHexSender(t *testing.T) {
	verifier := NewVerifier()
	it := TransferIntent{
		From:        "0xe86abc9b2c03a6d8256493cfbb718de80edeef7c",
		To:          "0xd2a4cff31913016155e38e474a2c06d08be276cf",
		AssetHash:   "0xef4073a0f2b305a38ec4050e4d3d28bc40ea63f5",
		GrossAmount: 1000,
		FeeInAsset:  1,
		IntentID:    "intent-hex",
	}
	signIntent(t, &it, signerKey(t))

	if err := verifier.Verify(it); err != nil {
		t.Fatalf("hex spelled sender should verify: %v", err)
	}
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	verifier := NewVerifier()
	it := validIntent(t)

	sig, err := hex.DecodeString(it.Signature)
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	sig[10] ^= 0x01
	it.Signature = hex.EncodeToString(sig)

	err = verifier.Verify(it)
	if err == nil {
		t.Fatal("expected tampered signature to fail")
	}
	if xerrors.CodeOf(err) != CodeInvalidSignature {
		t.Fatalf("unexpected code: %s", xerrors.CodeOf(err))
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	verifier := NewVerifier()
	it := validIntent(t)
	it.GrossAmount++

	err := verifier.Verify(it)
	if err == nil {
		t.Fatal("expected tampered payload to fail")
	}
	if xerrors.CodeOf(err) != CodeInvalidSignature {
		t.Fatalf("unexpected code: %s", xerrors.CodeOf(err))
	}
}

func TestVerifyRejectsWrongSender(t *testing.T) {
	verifier := NewVerifier()
	it := validIntent(t)
	it.From = it.To

	err := verifier.Verify(it)
	if err == nil {
		t.Fatal("expected wrong sender to fail")
	}
	if xerrors.CodeOf(err) != CodeInvalidSignature {
		t.Fatalf("unexpected code: %s", xerrors.CodeOf(err))
	}

	// 改写 from 等于改写载荷, 恢复出的公钥不再对应任何一方。
	if err := verifier.Verify(validIntent(t)); err != nil {
		t.Fatalf("control intent should still verify: %v", err)
	}
}

func TestVerifyRejectsMalformedSignature(t *testing.T) {
	verifier := NewVerifier()

	short := validIntent(t)
	short.Signature = "abcd"
	if err := verifier.Verify(short); xerrors.CodeOf(err) != CodeInvalidSignature {
		t.Fatalf("short signature: unexpected code %s", xerrors.CodeOf(err))
	}

	garbage := validIntent(t)
	garbage.Signature = "zz" + garbage.Signature[2:]
	if err := verifier.Verify(garbage); xerrors.CodeOf(err) != CodeInvalidSignature {
		t.Fatalf("garbage signature: unexpected code %s", xerrors.CodeOf(err))
	}
}

func TestVerifyRejectsIncompleteIntent(t *testing.T) {
	verifier := NewVerifier()

	cases := []struct {
		name   string
		mutate func(*TransferIntent)
	}{
		{"missing from", func(it *TransferIntent) { it.From = "" }},
		{"missing to", func(it *TransferIntent) { it.To = "" }},
		{"missing asset", func(it *TransferIntent) { it.AssetHash = "" }},
		{"missing intent id", func(it *TransferIntent) { it.IntentID = "" }},
		{"missing signature", func(it *TransferIntent) { it.Signature = "" }},
		{"zero gross", func(it *TransferIntent) { it.GrossAmount = 0 }},
		{"negative fee", func(it *TransferIntent) { it.FeeInAsset = -1 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			it := validIntent(t)
			tc.mutate(&it)
			err := verifier.Verify(it)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
				t.Fatalf("unexpected code: %s", xerrors.CodeOf(err))
			}
		})
	}
}

func TestMemoryRegistryClaim(t *testing.T) {
	registry := NewMemoryRegistry()
	ctx := context.Background()

	ok, err := registry.Claim(ctx, "intent-1")
	if err != nil || !ok {
		t.Fatalf("first claim should succeed: %v %v", ok, err)
	}
	ok, err = registry.Claim(ctx, "intent-1")
	if err != nil || ok {
		t.Fatalf("second claim should fail: %v %v", ok, err)
	}

	if err := registry.Release(ctx, "intent-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = registry.Claim(ctx, "intent-1")
	if err != nil || !ok {
		t.Fatalf("claim after release should succeed: %v %v", ok, err)
	}
}

func TestMemoryRegistryConcurrentClaims(t *testing.T) {
	registry := NewMemoryRegistry()
	ctx := context.Background()

	var wg sync.WaitGroup
	var won atomic.Int64
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := registry.Claim(ctx, "contested")
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			if ok {
				won.Add(1)
			}
		}()
	}
	wg.Wait()

	if won.Load() != 1 {
		t.Fatalf("exactly one claim should win, got %d", won.Load())
	}
}
