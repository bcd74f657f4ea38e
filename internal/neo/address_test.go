package neo

import (
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcutil/base58"
)

const (
	testPubKeyHex = "0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"
	testAddress   = "NXJaKph9Mq6bg8Gu1wa8cUUrmbLDiqThW7"
	testHashBE    = "0xe86abc9b2c03a6d8256493cfbb718de80edeef7c"
)

func TestVerificationScript(t *testing.T) {
	pub, _ := hex.DecodeString(testPubKeyHex)
	script, err := VerificationScript(pub)
	if err != nil {
		t.Fatalf("build script: %v", err)
	}
	want := "0c21" + testPubKeyHex + "4156e7b327"
	if hex.EncodeToString(script) != want {
		t.Fatalf("unexpected script: %x", script)
	}
}

func TestVerificationScriptErrors(t *testing.T) {
	if _, err := VerificationScript(make([]byte, 32)); err == nil {
		t.Fatal("expected length error")
	}
	bad := make([]byte, CompressedPubKeySize)
	bad[0] = 0x04
	if _, err := VerificationScript(bad); err == nil {
		t.Fatal("expected prefix error")
	}
}

func TestAddressDerivation(t *testing.T) {
	pub, _ := hex.DecodeString(testPubKeyHex)
	hash, err := ScriptHashFromPubKey(pub)
	if err != nil {
		t.Fatalf("script hash: %v", err)
	}
	if hash.String() != testHashBE {
		t.Fatalf("unexpected script hash: %s", hash.String())
	}

	addr := AddressFromScriptHash(hash)
	if addr != testAddress {
		t.Fatalf("unexpected address: %s", addr)
	}

	back, err := ScriptHashFromAddress(addr)
	if err != nil {
		t.Fatalf("decode address: %v", err)
	}
	if back != hash {
		t.Fatal("address should decode back to the same hash")
	}
}

func TestScriptHashFromAddressErrors(t *testing.T) {
	if _, err := ScriptHashFromAddress("not-an-address"); err == nil {
		t.Fatal("expected decode error")
	}

	wrongVersion := base58.CheckEncode(make([]byte, UInt160Size), 0x17)
	if _, err := ScriptHashFromAddress(wrongVersion); err == nil {
		t.Fatal("expected version error")
	}

	shortPayload := base58.CheckEncode(make([]byte, 10), AddressVersion)
	if _, err := ScriptHashFromAddress(shortPayload); err == nil {
		t.Fatal("expected payload length error")
	}
}

func TestParseAccount(t *testing.T) {
	fromHex, err := ParseAccount(testHashBE)
	if err != nil {
		t.Fatalf("parse hex form: %v", err)
	}
	fromAddr, err := ParseAccount(testAddress)
	if err != nil {
		t.Fatalf("parse address form: %v", err)
	}
	if fromHex != fromAddr {
		t.Fatal("both spellings should resolve to the same hash")
	}

	fromBare, err := ParseAccount("e86abc9b2c03a6d8256493cfbb718de80edeef7c")
	if err != nil {
		t.Fatalf("parse bare hex form: %v", err)
	}
	if fromBare != fromHex {
		t.Fatal("bare hex should resolve to the same hash")
	}

	if _, err := ParseAccount(""); err == nil {
		t.Fatal("expected empty account error")
	}
	if _, err := ParseAccount("0xnothex"); err == nil {
		t.Fatal("expected hex error")
	}
	if _, err := ParseAccount("garbage"); err == nil {
		t.Fatal("expected address error")
	}
}
