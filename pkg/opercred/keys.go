package opercred

import (
	"bytes"
	"crypto/ecdh"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"

	"golang.org/x/crypto/ssh"
)

// KeyScheme tags the challenge scheme an operator public key is used with.
type KeyScheme byte

const (
	SchemeNone   = KeyScheme(0)
	SchemeRSA    = KeyScheme(1) // RSA-OAEP encrypted secret, SHA1 response
	SchemeX25519 = KeyScheme(2) // X25519 ephemeral agreement, HMAC-SHA256 response
)

// String returns the scheme name used in configuration & logs.
func (self KeyScheme) String() string {
	switch self {
	case SchemeRSA:
		return "rsa"
	case SchemeX25519:
		return "x25519"
	default:
		return "none"
	}
}

// KeyMaterial is a sealed interface holding an operator public key.
//
// Variants:
//   - [RSAKey]:    an RSA public key, used with the RSA scheme.
//   - [X25519Key]: an X25519 public key, used with the X25519 scheme.
type KeyMaterial interface {
	Scheme() KeyScheme
	isKeyMaterial()
}

// RSAKey holds an operator RSA public key.
type RSAKey struct {
	*rsa.PublicKey
}

// Scheme returns SchemeRSA.
func (self RSAKey) Scheme() KeyScheme {
	return SchemeRSA
}

// isKeyMaterial seals RSAKey as a variant of [KeyMaterial].
func (self RSAKey) isKeyMaterial() {}

// X25519Key holds an operator X25519 public key.
type X25519Key struct {
	*ecdh.PublicKey
}

// Scheme returns SchemeX25519.
func (self X25519Key) Scheme() KeyScheme {
	return SchemeX25519
}

// isKeyMaterial seals X25519Key as a variant of [KeyMaterial].
func (self X25519Key) isKeyMaterial() {}

// KeyHandle wraps a KeyMaterial to support CBOR/JSON marshal/unmarshal.
// A zero KeyHandle means that public key authentication is not enabled.
type KeyHandle struct {
	KeyMaterial
}

// IsZero returns true if the KeyHandle holds no usable key.
func (self KeyHandle) IsZero() bool {
	switch v := self.KeyMaterial.(type) {
	case RSAKey:
		return nil == v.PublicKey
	case X25519Key:
		return nil == v.PublicKey
	default:
		return true
	}
}

// MarshalBinary encodes the key as a scheme byte followed by the key bytes.
// RSA keys use PKIX DER, X25519 keys use their 32 bytes raw encoding.
func (self KeyHandle) MarshalBinary() ([]byte, error) {
	if self.IsZero() {
		return []byte{}, nil
	}
	var buf bytes.Buffer
	buf.WriteByte(byte(self.Scheme()))
	switch v := self.KeyMaterial.(type) {
	case RSAKey:
		der, err := x509.MarshalPKIXPublicKey(v.PublicKey)
		if nil != err {
			return nil, wrapError(err, "failed RSA PKIX encoding")
		}
		buf.Write(der)
	case X25519Key:
		buf.Write(v.Bytes())
	}
	return buf.Bytes(), nil
}

func (self KeyHandle) MarshalJSON() ([]byte, error) {
	kb, err := self.MarshalBinary()
	if nil != err {
		return nil, err
	}
	return json.Marshal(kb)
}

// UnmarshalBinary decodes data produced by MarshalBinary.
// Empty data decodes to a zero KeyHandle.
func (self *KeyHandle) UnmarshalBinary(data []byte) error {
	if 0 == len(data) {
		self.KeyMaterial = nil
		return nil
	}
	switch KeyScheme(data[0]) {
	case SchemeRSA:
		pub, err := x509.ParsePKIXPublicKey(data[1:])
		if nil != err {
			return wrapError(err, "failed RSA PKIX decoding")
		}
		rsapub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return newError("PKIX data does not hold an RSA key")
		}
		self.KeyMaterial = RSAKey{PublicKey: rsapub}
	case SchemeX25519:
		pub, err := ecdh.X25519().NewPublicKey(data[1:])
		if nil != err {
			return wrapError(err, "failed X25519 key decoding")
		}
		self.KeyMaterial = X25519Key{PublicKey: pub}
	default:
		return newError("unknown key scheme %d", data[0])
	}
	return nil
}

func (self *KeyHandle) UnmarshalJSON(data []byte) error {
	kb := []byte{}
	err := json.Unmarshal(data, &kb)
	if nil != err {
		return err
	}
	return self.UnmarshalBinary(kb)
}

// ParseRSAPublicKey reads an RSA public key.
// Accepted formats are PEM "PUBLIC KEY" (PKIX), PEM "RSA PUBLIC KEY" (PKCS1) and
// OpenSSH authorized_keys lines.
func ParseRSAPublicKey(data []byte) (RSAKey, error) {
	if block, _ := pem.Decode(data); nil != block {
		switch block.Type {
		case "PUBLIC KEY":
			pub, err := x509.ParsePKIXPublicKey(block.Bytes)
			if nil != err {
				return RSAKey{}, wrapError(err, "failed PKIX parsing")
			}
			rsapub, ok := pub.(*rsa.PublicKey)
			if !ok {
				return RSAKey{}, wrapError(ErrKeyFormat, "PEM block does not hold an RSA key")
			}
			return RSAKey{PublicKey: rsapub}, nil
		case "RSA PUBLIC KEY":
			rsapub, err := x509.ParsePKCS1PublicKey(block.Bytes)
			if nil != err {
				return RSAKey{}, wrapError(err, "failed PKCS1 parsing")
			}
			return RSAKey{PublicKey: rsapub}, nil
		default:
			return RSAKey{}, wrapError(ErrKeyFormat, "unsupported PEM block %s", block.Type)
		}
	}

	sshpub, _, _, _, err := ssh.ParseAuthorizedKey(data)
	if nil != err {
		return RSAKey{}, wrapError(ErrKeyFormat, "neither PEM nor authorized_keys data")
	}
	cpk, ok := sshpub.(ssh.CryptoPublicKey)
	if !ok {
		return RSAKey{}, wrapError(ErrKeyFormat, "ssh key does not expose a crypto key")
	}
	rsapub, ok := cpk.CryptoPublicKey().(*rsa.PublicKey)
	if !ok {
		return RSAKey{}, wrapError(ErrKeyFormat, "ssh key of type %s is not RSA", sshpub.Type())
	}

	return RSAKey{PublicKey: rsapub}, nil
}

// ParseX25519PublicKey reads an X25519 public key.
// Accepted formats are PEM "PUBLIC KEY" (PKIX) and standard base64 of the 32 raw bytes.
func ParseX25519PublicKey(data []byte) (X25519Key, error) {
	if block, _ := pem.Decode(data); nil != block {
		if "PUBLIC KEY" != block.Type {
			return X25519Key{}, wrapError(ErrKeyFormat, "unsupported PEM block %s", block.Type)
		}
		pub, err := x509.ParsePKIXPublicKey(block.Bytes)
		if nil != err {
			return X25519Key{}, wrapError(err, "failed PKIX parsing")
		}
		xpub, ok := pub.(*ecdh.PublicKey)
		if !ok || ecdh.X25519() != xpub.Curve() {
			return X25519Key{}, wrapError(ErrKeyFormat, "PEM block does not hold an X25519 key")
		}
		return X25519Key{PublicKey: xpub}, nil
	}

	raw, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(data)))
	if nil != err {
		return X25519Key{}, wrapError(ErrKeyFormat, "neither PEM nor base64 data")
	}
	xpub, err := ecdh.X25519().NewPublicKey(raw)
	if nil != err {
		return X25519Key{}, wrapError(err, "invalid X25519 raw key")
	}

	return X25519Key{PublicKey: xpub}, nil
}
