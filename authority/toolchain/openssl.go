package toolchain

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/whitekid/goxp/fx"
	"github.com/whitekid/goxp/log"

	"capki/authority/tree"
	"capki/authority/types"
	"capki/pkg/helper"
)

const (
	envPassIn  = "CAPKI_PASSIN"
	envPassOut = "CAPKI_PASSOUT"
)

type opensslImpl struct {
	binary string
}

var _ Interface = (*opensslImpl)(nil)

// NewOpenSSL toolchain runs openssl binary; secrets are passed by environment, never by arguments
func NewOpenSSL(binary string) Interface {
	if binary == "" {
		binary = "openssl"
	}
	return &opensslImpl{binary: binary}
}

func (o *opensslImpl) run(ctx context.Context, op string, dir string, env []string, args ...string) (string, error) {
	exc := helper.Execute(append([]string{o.binary}, args...)...).Dir(dir).Env(env...)
	out, err := exc.Output(ctx)
	if err != nil {
		var execErr *helper.ExecError
		if errors.As(err, &execErr) {
			return string(out), &Error{Op: op, Command: exc.Command(), Output: string(execErr.Stderr), Err: execErr.Err}
		}
		return string(out), &Error{Op: op, Command: exc.Command(), Err: err}
	}

	return string(out), nil
}

func passIn(passphrase string) ([]string, []string) {
	if passphrase == "" {
		return nil, nil
	}
	return []string{"-passin", "env:" + envPassIn}, []string{envPassIn + "=" + passphrase}
}

func (o *opensslImpl) GenerateKey(ctx context.Context, name string, passphrase string, bits int, dir string) error {
	args := []string{"genrsa"}
	var env []string
	if passphrase != "" {
		args = append(args, "-aes256", "-passout", "env:"+envPassOut)
		env = []string{envPassOut + "=" + passphrase}
	}
	args = append(args, "-out", name+".key.pem", strconv.Itoa(bits))

	_, err := o.run(ctx, "genrsa", dir, env, args...)
	return err
}

func (o *opensslImpl) SelfSign(ctx context.Context, name string, days int, passphrase string, dir string) error {
	pass, env := passIn(passphrase)
	args := append([]string{"req", "-config", tree.ConfigFile, "-key", name + ".key.pem",
		"-new", "-x509", "-days", strconv.Itoa(days), "-sha256", "-extensions", types.ProfileRoot,
		"-out", name + ".cert.pem"}, pass...)

	_, err := o.run(ctx, "selfsign", dir, env, args...)
	return err
}

func (o *opensslImpl) CreateCSR(ctx context.Context, info *types.Info, name string, passphrase string, dir string) error {
	pass, env := passIn(passphrase)
	args := []string{"req", "-subj", info.Subject(), "-new", "-sha256", "-key", name + ".key.pem", "-out", name + ".csr.pem"}
	if san := subjectAltName(info); san != "" {
		args = append(args, "-addext", "subjectAltName="+san)
	}
	args = append(args, pass...)

	_, err := o.run(ctx, "csr", dir, env, args...)
	return err
}

func subjectAltName(info *types.Info) string {
	names := fx.Map(info.AltNames, func(x string) string { return "DNS:" + x })
	names = append(names, fx.Map(info.IPAddresses, func(x string) string { return "IP:" + x })...)
	if info.Email != "" {
		names = append(names, "email:"+info.Email)
	}
	return strings.Join(names, ",")
}

func (o *opensslImpl) Sign(ctx context.Context, req *SignRequest) error {
	pass, env := passIn(req.Passphrase)
	args := append([]string{"ca", "-config", req.ConfigPath, "-extensions", req.Profile,
		"-days", strconv.Itoa(req.Days), "-notext", "-md", "sha256",
		"-in", req.CSRName + ".csr.pem", "-out", req.CertName + ".cert.pem"}, pass...)
	args = append(args, "-batch")

	_, err := o.run(ctx, "sign", req.Dir, env, args...)
	return err
}

func (o *opensslImpl) Read(ctx context.Context, file string, dir string) (string, error) {
	return o.run(ctx, "read", dir, nil, "x509", "-text", "-noout", "-in", file)
}

func (o *opensslImpl) Verify(ctx context.Context, chainName string, candidate string, dir string) error {
	_, err := o.run(ctx, "verify", dir, nil, "verify", "-CAfile", chainName+".cert.pem", candidate)
	return err
}

func (o *opensslImpl) GenerateCRL(ctx context.Context, passphrase string, configPath string, dir string) (bool, error) {
	pass, env := passIn(passphrase)
	crlFile := filepath.Join(filepath.Dir(configPath), "crl", "crl.pem")
	args := append([]string{"ca", "-config", configPath, "-gencrl", "-out", crlFile}, pass...)

	if _, err := o.run(ctx, "gencrl", dir, env, args...); err != nil {
		return false, err
	}

	log.Debugf("CRL created: %s", crlFile)
	return true, nil
}

func (o *opensslImpl) Revoke(ctx context.Context, serial string, passphrase string, dir string) error {
	pass, env := passIn(passphrase)
	args := append([]string{"ca", "-config", tree.ConfigFile, "-revoke", filepath.Join(".", "certs", serial+".pem")}, pass...)

	_, err := o.run(ctx, "revoke", dir, env, args...)
	return err
}
