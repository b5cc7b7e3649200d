package operauth

import (
	"crypto/ecdh"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"slices"

	"code.kerpass.org/operchal/internal/utils"
	"code.kerpass.org/operchal/pkg/opercred"
)

const (
	// RSASecretSize is the size of the random secret encrypted to RSA operator keys.
	RSASecretSize = 128

	// X25519Token is the HMAC message of the X25519 scheme. The shared secret is the HMAC key.
	X25519Token = "solanum-challenge v1-x25519-sha256"
)

// ChallengeArtifact is the output of a challenge generator.
// ChallengeText is sent to the principal, ExpectedResponse is kept server side.
// Both are standard base64 encoded.
type ChallengeArtifact struct {
	ChallengeText    string
	ExpectedResponse string
}

// GenerateRSAChallenge draws a RSASecretSize secret from rnd and encrypts it to pub
// using RSA-OAEP with SHA1. The expected response is the SHA1 digest of the secret.
//
// It errors with ErrCrypto if pub is nil, rnd is exhausted or the encryption fails,
// which is the case for 1024 bits keys that are too small for a 128 bytes secret.
func GenerateRSAChallenge(rnd io.Reader, pub *rsa.PublicKey) (ChallengeArtifact, error) {
	if nil == pub {
		return ChallengeArtifact{}, newFlagError(ErrCrypto, "nil RSA public key")
	}

	secret := make([]byte, RSASecretSize)
	defer clear(secret)

	_, err := io.ReadFull(rnd, secret)
	if nil != err {
		return ChallengeArtifact{}, wrapFlagError(ErrCrypto, err, "failed reading secret")
	}

	ct, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, secret, nil)
	if nil != err {
		return ChallengeArtifact{}, wrapFlagError(ErrCrypto, err, "failed RSA-OAEP encryption")
	}

	digest := sha1.Sum(secret)
	defer clear(digest[:])

	return ChallengeArtifact{
		ChallengeText:    base64.StdEncoding.EncodeToString(ct),
		ExpectedResponse: base64.StdEncoding.EncodeToString(digest[:]),
	}, nil
}

// GenerateX25519Challenge generates an ephemeral X25519 key using rnd and agrees a
// shared secret with peer. The challenge text is the ephemeral public key and the
// expected response is HMAC-SHA256(shared, token).
//
// It errors with ErrCrypto if peer is nil, is not an X25519 key or is a low order
// point yielding an all zero shared secret.
func GenerateX25519Challenge(rnd io.Reader, token string, peer *ecdh.PublicKey) (ChallengeArtifact, error) {
	if nil == peer {
		return ChallengeArtifact{}, newFlagError(ErrCrypto, "nil X25519 public key")
	}
	if ecdh.X25519() != peer.Curve() {
		return ChallengeArtifact{}, newFlagError(ErrCrypto, "peer key is not an X25519 key")
	}

	eph, err := ecdh.X25519().GenerateKey(rnd)
	if nil != err {
		return ChallengeArtifact{}, wrapFlagError(ErrCrypto, err, "failed ephemeral key generation")
	}

	// crypto/ecdh rejects low order points
	shared, err := eph.ECDH(peer)
	if nil != err {
		return ChallengeArtifact{}, wrapFlagError(ErrCrypto, err, "failed X25519 agreement")
	}
	defer clear(shared)

	mac := hmac.New(sha256.New, shared)
	mac.Write([]byte(token))
	tag := mac.Sum(nil)
	defer clear(tag)

	return ChallengeArtifact{
		ChallengeText:    base64.StdEncoding.EncodeToString(eph.PublicKey().Bytes()),
		ExpectedResponse: base64.StdEncoding.EncodeToString(tag),
	}, nil
}

// ChallengeGenerator generates a ChallengeArtifact for an operator key.
type ChallengeGenerator func(rnd io.Reader, key opercred.KeyMaterial) (ChallengeArtifact, error)

var generators = utils.NewRegistry[opercred.KeyScheme, ChallengeGenerator]()

func init() {
	mustRegister(opercred.SchemeRSA, func(rnd io.Reader, key opercred.KeyMaterial) (ChallengeArtifact, error) {
		rsakey, ok := key.(opercred.RSAKey)
		if !ok {
			return ChallengeArtifact{}, newFlagError(ErrCrypto, "key is not an RSAKey")
		}
		return GenerateRSAChallenge(rnd, rsakey.PublicKey)
	})
	mustRegister(opercred.SchemeX25519, func(rnd io.Reader, key opercred.KeyMaterial) (ChallengeArtifact, error) {
		xkey, ok := key.(opercred.X25519Key)
		if !ok {
			return ChallengeArtifact{}, newFlagError(ErrCrypto, "key is not an X25519Key")
		}
		return GenerateX25519Challenge(rnd, X25519Token, xkey.PublicKey)
	})
}

func mustRegister(scheme opercred.KeyScheme, gen ChallengeGenerator) {
	err := utils.RegistrySet(generators, scheme, gen)
	if nil != err {
		panic(err)
	}
}

// GenerateChallenge generates a ChallengeArtifact with the generator matching key scheme.
func GenerateChallenge(rnd io.Reader, key opercred.KeyMaterial) (ChallengeArtifact, error) {
	if nil == key {
		return ChallengeArtifact{}, newFlagError(ErrCrypto, "nil key")
	}
	gen, found := utils.RegistryGet(generators, key.Scheme())
	if !found {
		return ChallengeArtifact{}, newFlagError(ErrCrypto, "no generator for scheme %s", key.Scheme())
	}
	return gen(rnd, key)
}

// ListSchemes returns the names of the supported challenge schemes.
func ListSchemes() []string {
	names := make([]string, 0, 2)
	for scheme := range utils.RegistryEntries(generators) {
		names = append(names, scheme.String())
	}
	slices.Sort(names)
	return names
}
