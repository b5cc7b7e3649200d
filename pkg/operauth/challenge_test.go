package operauth

import (
	"bytes"
	"crypto/ecdh"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"slices"
	"testing"

	"code.kerpass.org/operchal/pkg/opercred"
)

func fixedSecret() []byte {
	secret := make([]byte, RSASecretSize)
	for i := range secret {
		secret[i] = byte(i)
	}
	return secret
}

func TestGenerateRSAChallengeFixedRNG(t *testing.T) {
	priv := rsaTestKey()
	secret := fixedSecret()

	artifact, err := GenerateRSAChallenge(bytes.NewReader(secret), &priv.PublicKey)
	if nil != err {
		t.Fatalf("failed GenerateRSAChallenge, got error %v", err)
	}

	digest := sha1.Sum(secret)
	if base64.StdEncoding.EncodeToString(digest[:]) != artifact.ExpectedResponse {
		t.Errorf("ExpectedResponse is not base64(SHA1(secret))")
	}

	ct, err := base64.StdEncoding.DecodeString(artifact.ChallengeText)
	if nil != err {
		t.Fatalf("ChallengeText is not base64, got error %v", err)
	}
	decrypted, err := rsa.DecryptOAEP(sha1.New(), nil, priv, ct, nil)
	if nil != err {
		t.Fatalf("failed DecryptOAEP, got error %v", err)
	}
	if !bytes.Equal(secret, decrypted) {
		t.Error("decrypted secret differs")
	}

	resp, err := RespondRSA(priv, artifact.ChallengeText)
	if nil != err {
		t.Fatalf("failed RespondRSA, got error %v", err)
	}
	if artifact.ExpectedResponse != resp {
		t.Errorf("RespondRSA result differs from ExpectedResponse")
	}
}

func TestGenerateRSAChallengeFail(t *testing.T) {
	smallKey, err := rsa.GenerateKey(rand.Reader, 1024)
	if nil != err {
		t.Fatalf("failed 1024 bits key generation, got error %v", err)
	}

	testcases := []struct {
		name string
		rnd  []byte
		pub  *rsa.PublicKey
	}{
		{name: "nil key", rnd: fixedSecret(), pub: nil},
		{name: "short rng", rnd: make([]byte, RSASecretSize-1), pub: &rsaTestKey().PublicKey},
		{name: "1024 bits key", rnd: fixedSecret(), pub: &smallKey.PublicKey},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			artifact, err := GenerateRSAChallenge(bytes.NewReader(tc.rnd), tc.pub)
			if !errors.Is(err, ErrCrypto) {
				t.Errorf("GenerateRSAChallenge did not fail with ErrCrypto, got error %v", err)
			}
			if (ChallengeArtifact{}) != artifact {
				t.Error("GenerateRSAChallenge returned a partial artifact")
			}
		})
	}
}

func TestGenerateX25519Challenge(t *testing.T) {
	peer := x25519TestKey(t)

	artifact, err := GenerateX25519Challenge(rand.Reader, X25519Token, peer.PublicKey())
	if nil != err {
		t.Fatalf("failed GenerateX25519Challenge, got error %v", err)
	}

	// derive the response with crypto/ecdh
	ephBytes, err := base64.StdEncoding.DecodeString(artifact.ChallengeText)
	if nil != err {
		t.Fatalf("ChallengeText is not base64, got error %v", err)
	}
	eph, err := ecdh.X25519().NewPublicKey(ephBytes)
	if nil != err {
		t.Fatalf("ChallengeText is not an X25519 key, got error %v", err)
	}
	shared, err := peer.ECDH(eph)
	if nil != err {
		t.Fatalf("failed ECDH, got error %v", err)
	}
	mac := hmac.New(sha256.New, shared)
	mac.Write([]byte("solanum-challenge v1-x25519-sha256"))
	if base64.StdEncoding.EncodeToString(mac.Sum(nil)) != artifact.ExpectedResponse {
		t.Error("ExpectedResponse is not base64(HMAC-SHA256(shared, token))")
	}

	// derive the response with x/crypto/curve25519
	resp, err := RespondX25519(peer.Bytes(), X25519Token, artifact.ChallengeText)
	if nil != err {
		t.Fatalf("failed RespondX25519, got error %v", err)
	}
	if artifact.ExpectedResponse != resp {
		t.Error("RespondX25519 result differs from ExpectedResponse")
	}

	// ephemeral keys are not reused
	other, err := GenerateX25519Challenge(rand.Reader, X25519Token, peer.PublicKey())
	if nil != err {
		t.Fatalf("failed GenerateX25519Challenge, got error %v", err)
	}
	if other.ChallengeText == artifact.ChallengeText {
		t.Error("ephemeral key reused")
	}
}

func TestGenerateX25519ChallengeLowOrder(t *testing.T) {
	lowOrder := [][]byte{
		make([]byte, 32),
		append([]byte{1}, make([]byte, 31)...),
	}
	for pos, raw := range lowOrder {
		peer, err := ecdh.X25519().NewPublicKey(raw)
		if nil != err {
			t.Fatalf("case #%d: failed NewPublicKey, got error %v", pos, err)
		}
		_, err = GenerateX25519Challenge(rand.Reader, X25519Token, peer)
		if !errors.Is(err, ErrCrypto) {
			t.Errorf("case #%d: low order key accepted, got error %v", pos, err)
		}

		_, err = RespondX25519(x25519TestKey(t).Bytes(), X25519Token, base64.StdEncoding.EncodeToString(raw))
		if !errors.Is(err, ErrCrypto) {
			t.Errorf("case #%d: RespondX25519 accepted low order key, got error %v", pos, err)
		}
	}

	_, err := GenerateX25519Challenge(rand.Reader, X25519Token, nil)
	if !errors.Is(err, ErrCrypto) {
		t.Errorf("nil key accepted, got error %v", err)
	}
}

func TestGenerateChallenge(t *testing.T) {
	if !slices.Equal([]string{"rsa", "x25519"}, ListSchemes()) {
		t.Errorf("unexpected ListSchemes result %v", ListSchemes())
	}

	keys := []opercred.KeyMaterial{
		opercred.RSAKey{PublicKey: &rsaTestKey().PublicKey},
		opercred.X25519Key{PublicKey: x25519TestKey(t).PublicKey()},
	}
	for _, key := range keys {
		artifact, err := GenerateChallenge(rand.Reader, key)
		if nil != err {
			t.Errorf("failed GenerateChallenge(%s), got error %v", key.Scheme(), err)
		}
		if "" == artifact.ChallengeText || "" == artifact.ExpectedResponse {
			t.Errorf("GenerateChallenge(%s) returned an empty artifact", key.Scheme())
		}
	}

	_, err := GenerateChallenge(rand.Reader, nil)
	if !errors.Is(err, ErrCrypto) {
		t.Errorf("nil key accepted, got error %v", err)
	}
}
