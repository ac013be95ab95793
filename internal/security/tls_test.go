package security

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTLSMode(t *testing.T) {
	for in, want := range map[string]TLSMode{
		"":            TLSModeOff,
		"off":         TLSModeOff,
		"Custom":      TLSModeCustom,
		"file":        TLSModeCustom,
		"acme":        TLSModeACME,
		"letsencrypt": TLSModeACME,
	} {
		got, err := ParseTLSMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseTLSMode("selfsigned")
	assert.Error(t, err)
	assert.Equal(t, "acme", TLSModeACME.String())
}

func TestSetupTLSOff(t *testing.T) {
	res, err := SetupTLS(TLSOptions{Mode: TLSModeOff})
	require.NoError(t, err)
	assert.Nil(t, res.Config)
	assert.Nil(t, res.ACMEManager)
}

func TestSetupTLSCustomErrors(t *testing.T) {
	_, err := SetupTLS(TLSOptions{Mode: TLSModeCustom})
	assert.Error(t, err)

	dir := t.TempDir()
	cert := filepath.Join(dir, "cert.pem")
	key := filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(cert, []byte("not a cert"), 0o600))
	require.NoError(t, os.WriteFile(key, []byte("not a key"), 0o600))
	_, err = SetupTLS(TLSOptions{Mode: TLSModeCustom, CertFile: cert, KeyFile: key})
	assert.Error(t, err)
}

func TestSetupTLSACME(t *testing.T) {
	_, err := SetupTLS(TLSOptions{Mode: TLSModeACME, DataDir: t.TempDir()})
	assert.Error(t, err, "domains are required")

	dir := t.TempDir()
	res, err := SetupTLS(TLSOptions{Mode: TLSModeACME, DataDir: dir, Domains: []string{"gate.example.com"}})
	require.NoError(t, err)
	require.NotNil(t, res.ACMEManager)
	assert.Equal(t, uint16(tls.VersionTLS12), res.Config.MinVersion)
	assert.DirExists(t, filepath.Join(dir, "acme-certs"))
}
