// Command tribes is a development CLI for the tribes service: it keeps a wallet key,
// signs in and drives the tribe and message RPCs with end-to-end encrypted bodies.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/teatribe/tribes/internal/crypto/clientcrypto"
)

// ---- state store ----

type sessionFile struct {
	AccountID     string    `json:"account_id"`
	WalletAddress string    `json:"wallet_address"`
	AccessToken   string    `json:"access_token"`
	RefreshToken  string    `json:"refresh_token"`
	ExpiresAt     time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "tribes")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "tribes")
}

func sessionPath() string  { return filepath.Join(cfgDir(), "session.json") }
func keystorePath() string { return filepath.Join(cfgDir(), "keystore.json") }

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func saveSession(s sessionFile) error { return writeJSON(sessionPath(), s) }

func loadSession() (sessionFile, error) {
	var s sessionFile
	if err := readJSON(sessionPath(), &s); err != nil {
		return s, errors.New("no session (login required)")
	}
	return s, nil
}

// accessToken returns the saved access token while it is still valid.
func accessToken() (string, error) {
	s, err := loadSession()
	if err != nil {
		return "", err
	}
	if s.AccessToken == "" || time.Now().After(s.ExpiresAt) {
		return "", errors.New("access token expired (run refresh or login)")
	}
	return s.AccessToken, nil
}

func saveKeystore(ks *clientcrypto.Keystore) error { return writeJSON(keystorePath(), ks) }

func loadKeystore() (*clientcrypto.Keystore, error) {
	var ks clientcrypto.Keystore
	if err := readJSON(keystorePath(), &ks); err != nil {
		return nil, errors.New("no keystore (run keygen)")
	}
	return &ks, nil
}

// ---- grpc dial ----

type bearerCreds struct {
	token  string
	secure bool
}

func (b bearerCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.token}, nil
}
func (b bearerCreds) RequireTransportSecurity() bool { return b.secure }

func loadTLS(caPath string, skipVerify bool) (credentials.TransportCredentials, error) {
	if skipVerify {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil //nolint:gosec // dev flag
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

type dialFunc func(bearer string) (*grpc.ClientConn, error)

func networkDialer(addr, caPath string, skipVerify, plaintext bool) dialFunc {
	return func(bearer string) (*grpc.ClientConn, error) {
		creds := insecure.NewCredentials()
		if !plaintext {
			var err error
			if creds, err = loadTLS(caPath, skipVerify); err != nil {
				return nil, err
			}
		}
		opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
		if bearer != "" {
			opts = append(opts, grpc.WithPerRPCCredentials(bearerCreds{token: bearer, secure: !plaintext}))
		}
		return grpc.NewClient(addr, opts...)
	}
}

// ---- utils ----

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func usage() {
	fmt.Fprintf(os.Stderr, `tribes CLI
Usage:
  tribes --addr HOST:PORT [--cacert file | --insecure | --plaintext] <cmd> [args]

Passphrase: --pass or TRIBES_PASSPHRASE.

Commands:
  version
  keygen                                   (new wallet key, saved encrypted)
  address
  register   --name <full name> --accept-terms [--photo url]
  exists     --wallet <address>
  login                                    (sign challenge, save session)
  refresh
  logout
  set-name   --name <full name>
  set-device --type apple|android --token <token>
  delete-account
  tribes
  create-tribe --name <name>
  invite     --tribe <id>                  (prints pin and code)
  join       --pin <pin> --code <code>
  leave      --tribe <id>
  remove     --tribe <id> --wallet <address>
  rename     --tribe <id> --name <name>
  post       --tribe <id> --text <text> [--caption c] [--tea] [--reply <message id>]
  read       --tribe <id>
  rm-msg     --id <message id>
  viewed     --id <message id>
  viewers    --id <message id>
  react      --id <message id> --content <emoji>
  tea                                      (tribes still accepting tea)
`)
	os.Exit(2)
}

func fail(err error) {
	if s, ok := status.FromError(err); ok {
		fmt.Fprintf(os.Stderr, "rpc error: code=%s msg=%s\n", s.Code(), s.Message())
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands and configures TLS/auth for RPC calls.
func main() {
	flags := pflag.NewFlagSet("tribes", pflag.ExitOnError)
	addr := flags.String("addr", "localhost:8081", "server addr")
	caPath := flags.String("cacert", "", "CA cert (PEM)")
	skipVerify := flags.Bool("insecure", false, "skip cert verify (dev)")
	plaintext := flags.Bool("plaintext", false, "no TLS (dev)")
	pass := flags.String("pass", os.Getenv("TRIBES_PASSPHRASE"), "keystore passphrase")
	flags.Usage = usage
	flags.SetInterspersed(false)
	_ = flags.Parse(os.Args[1:])

	if flags.NArg() < 1 {
		usage()
	}
	cmd, args := flags.Arg(0), flags.Args()[1:]
	if cmd == "version" {
		fmt.Printf("tribes %s (%s)\n", version, buildDate)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &app{dial: networkDialer(*addr, *caPath, *skipVerify, *plaintext), passphrase: *pass}
	run, ok := commands[cmd]
	if !ok {
		usage()
	}
	if err := run(ctx, a, args); err != nil {
		fail(err)
	}
}
