package operauth

import (
	"bytes"
	"crypto"
	"crypto/ecdh"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/ssh"
)

// RespondRSA decrypts challengeText with priv and returns the matching response.
func RespondRSA(priv *rsa.PrivateKey, challengeText string) (string, error) {
	if nil == priv {
		return "", newFlagError(ErrCrypto, "nil RSA private key")
	}
	ct, err := base64.StdEncoding.DecodeString(challengeText)
	if nil != err {
		return "", wrapFlagError(ErrCrypto, err, "invalid challenge encoding")
	}

	secret, err := rsa.DecryptOAEP(sha1.New(), nil, priv, ct, nil)
	if nil != err {
		return "", wrapFlagError(ErrCrypto, err, "failed RSA-OAEP decryption")
	}
	defer clear(secret)

	digest := sha1.Sum(secret)
	defer clear(digest[:])

	return base64.StdEncoding.EncodeToString(digest[:]), nil
}

// RespondX25519 agrees a shared secret between the priv scalar and the ephemeral
// key in challengeText and returns the matching response for token.
func RespondX25519(priv []byte, token string, challengeText string) (string, error) {
	eph, err := base64.StdEncoding.DecodeString(challengeText)
	if nil != err {
		return "", wrapFlagError(ErrCrypto, err, "invalid challenge encoding")
	}

	// curve25519.X25519 rejects low order points
	shared, err := curve25519.X25519(priv, eph)
	if nil != err {
		return "", wrapFlagError(ErrCrypto, err, "failed X25519 agreement")
	}
	defer clear(shared)

	mac := hmac.New(sha256.New, shared)
	mac.Write([]byte(token))

	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// Respond returns the response to challengeText for an *rsa.PrivateKey or an
// X25519 *ecdh.PrivateKey.
func Respond(priv crypto.PrivateKey, challengeText string) (string, error) {
	switch key := priv.(type) {
	case *rsa.PrivateKey:
		return RespondRSA(key, challengeText)
	case *ecdh.PrivateKey:
		if ecdh.X25519() != key.Curve() {
			return "", newFlagError(ErrCrypto, "ecdh key is not an X25519 key")
		}
		scalar := key.Bytes()
		defer clear(scalar)
		return RespondX25519(scalar, X25519Token, challengeText)
	default:
		return "", newFlagError(ErrCrypto, "unsupported private key type %T", priv)
	}
}

// ParsePrivateKey reads an operator private key.
// Accepted formats are PEM PKCS8 (RSA or X25519), PEM PKCS1 RSA, OpenSSH RSA
// private keys and standard base64 of a 32 bytes X25519 scalar.
func ParsePrivateKey(data []byte) (crypto.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if nil == block {
		raw, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(data)))
		if nil != err {
			return nil, newFlagError(ErrConfiguration, "neither PEM nor base64 data")
		}
		defer clear(raw)
		key, err := ecdh.X25519().NewPrivateKey(raw)
		if nil != err {
			return nil, wrapFlagError(ErrConfiguration, err, "invalid X25519 scalar")
		}
		return key, nil
	}

	if "PRIVATE KEY" == block.Type {
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if nil != err {
			return nil, wrapFlagError(ErrConfiguration, err, "failed PKCS8 parsing")
		}
		return key, nil
	}

	key, err := ssh.ParseRawPrivateKey(data)
	if nil != err {
		return nil, wrapFlagError(ErrConfiguration, err, "failed parsing %s block", block.Type)
	}
	if rsakey, ok := key.(*rsa.PrivateKey); ok {
		return rsakey, nil
	}

	return nil, newFlagError(ErrConfiguration, "unsupported private key type %T", key)
}
