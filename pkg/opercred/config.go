package opercred

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"code.kerpass.org/operchal/internal/transport"
)

// FileConfig is the content of an operchal configuration file.
// Files with a .cbor extension are CBOR encoded, all others are JSON encoded.
type FileConfig struct {
	// SecureOnly refuses CHALLENGE on connections that are not using TLS.
	SecureOnly bool `json:"secure_only,omitempty" cbor:"1,keyasint,omitempty"`

	// FailureLimit is the number of consecutive failed responses after which
	// a session can not request new challenges. 0 disables the limit.
	FailureLimit int `json:"failure_limit,omitempty" cbor:"2,keyasint,omitempty"`

	Opers []OperEntry `json:"opers" cbor:"3,keyasint"`
}

// OperEntry is the configuration file form of an OperCredential.
// Key fields hold key data inline, the matching *File fields hold a path to the
// key data, relative paths being resolved from the configuration file directory.
// If both X25519 & RSA keys are configured the X25519 key is used.
type OperEntry struct {
	Name                string   `json:"name" cbor:"1,keyasint"`
	User                []string `json:"user" cbor:"2,keyasint"`
	RSAPublicKey        string   `json:"rsa_public_key,omitempty" cbor:"3,keyasint,omitempty"`
	RSAPublicKeyFile    string   `json:"rsa_public_key_file,omitempty" cbor:"4,keyasint,omitempty"`
	X25519PublicKey     string   `json:"x25519_public_key,omitempty" cbor:"5,keyasint,omitempty"`
	X25519PublicKeyFile string   `json:"x25519_public_key_file,omitempty" cbor:"6,keyasint,omitempty"`
	RequireTLS          bool     `json:"require_tls,omitempty" cbor:"7,keyasint,omitempty"`
	CertFP              string   `json:"certfp,omitempty" cbor:"8,keyasint,omitempty"`
}

// Credential converts the OperEntry in an OperCredential.
// baseDir is used to resolve relative key file paths.
func (self OperEntry) Credential(baseDir string) (OperCredential, error) {
	cred := OperCredential{
		Name:          self.Name,
		UserHosts:     self.User,
		RequireSecure: self.RequireTLS,
		CertFP:        self.CertFP,
	}

	x25519Data, err := keyData(self.X25519PublicKey, self.X25519PublicKeyFile, baseDir)
	if nil != err {
		return cred, wrapError(err, "failed reading x25519 key of oper %s", self.Name)
	}
	rsaData, err := keyData(self.RSAPublicKey, self.RSAPublicKeyFile, baseDir)
	if nil != err {
		return cred, wrapError(err, "failed reading rsa key of oper %s", self.Name)
	}

	switch {
	case len(x25519Data) > 0:
		key, err := ParseX25519PublicKey(x25519Data)
		if nil != err {
			return cred, wrapError(err, "invalid x25519 key for oper %s", self.Name)
		}
		cred.Key = KeyHandle{KeyMaterial: key}
	case len(rsaData) > 0:
		key, err := ParseRSAPublicKey(rsaData)
		if nil != err {
			return cred, wrapError(err, "invalid rsa key for oper %s", self.Name)
		}
		cred.Key = KeyHandle{KeyMaterial: key}
	}

	return cred, wrapError(cred.Check(), "invalid oper %s", self.Name) // nil if Check succeeds
}

func keyData(inline, path, baseDir string) ([]byte, error) {
	if "" != strings.TrimSpace(inline) {
		return []byte(inline), nil
	}
	if "" == path {
		return nil, nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	data, err := os.ReadFile(path)
	return data, wrapError(err, "failed reading %s", path) // nil if err is nil
}

// LoadConfig reads the configuration file at path.
func LoadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if nil != err {
		return nil, wrapError(err, "failed reading config")
	}

	var srz transport.Serializer = transport.JSONSerializer{}
	if ".cbor" == strings.ToLower(filepath.Ext(path)) {
		srz = transport.CBORSerializer{}
	}

	cfg := FileConfig{}
	err = transport.WrapInSafeSerializer(srz).Unmarshal(data, &cfg)
	if nil != err {
		return nil, wrapError(err, "failed decoding config %s", path)
	}

	return &cfg, nil
}

// Check returns an error if the FileConfig options are invalid.
// Oper entries are validated when converted by Credentials.
func (self *FileConfig) Check() error {
	if nil == self {
		return wrapError(ErrValidation, "nil FileConfig")
	}
	if self.FailureLimit < 0 {
		return wrapError(ErrValidation, "negative failure_limit")
	}
	for pos, entry := range self.Opers {
		if "" == strings.TrimSpace(entry.Name) {
			return wrapError(ErrValidation, "opers[%d] has no name", pos)
		}
	}
	return nil
}

// Credentials converts all the configured OperEntry, see OperEntry.Credential.
func (self *FileConfig) Credentials(baseDir string) ([]OperCredential, error) {
	creds := make([]OperCredential, 0, len(self.Opers))
	seen := make(map[string]bool, len(self.Opers))
	for pos, entry := range self.Opers {
		cred, err := entry.Credential(baseDir)
		if nil != err {
			return nil, wrapError(err, "invalid opers[%d]", pos)
		}
		if seen[operKey(cred.Name)] {
			return nil, wrapError(ErrValidation, "duplicated oper %s", cred.Name)
		}
		seen[operKey(cred.Name)] = true
		creds = append(creds, cred)
	}
	return creds, nil
}

// Populate saves all the configured OperCredential in store.
func (self *FileConfig) Populate(ctx context.Context, baseDir string, store Store) error {
	creds, err := self.Credentials(baseDir)
	if nil != err {
		return wrapError(err, "failed converting opers")
	}
	for _, cred := range creds {
		err = store.SaveOper(ctx, &cred)
		if nil != err {
			return wrapError(err, "failed saving oper %s", cred.Name)
		}
	}
	return nil
}

// LoadMemStore returns a MemStore populated from the configuration file at path.
func LoadMemStore(ctx context.Context, path string) (*MemStore, *FileConfig, error) {
	cfg, err := LoadConfig(path)
	if nil != err {
		return nil, nil, err
	}
	store := NewMemStore()
	err = cfg.Populate(ctx, filepath.Dir(path), store)
	if nil != err {
		return nil, nil, wrapError(err, "failed populating MemStore")
	}
	return store, cfg, nil
}
