package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"io/ioutil"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/vucemtools/firmador/container"
	"github.com/vucemtools/firmador/credential"
	"github.com/vucemtools/firmador/formats"
	"github.com/vucemtools/firmador/pfxhost"
)

func TestLoadConfiguration(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "firmador.yaml")
	err := ioutil.WriteFile(path, []byte(`
portal:
    challengeurl: https://portal.example/challenge
    loginurl: https://portal.example/login
    siteid: vucem
    location: mx
    timeout: 45s
hosting:
    listen: 127.0.0.1:8913
    baseurl: http://127.0.0.1:8913
maxworkers: 2
clients:
    - usuario: prueba01
      password: hunter2
      cert: /etc/firmador/prueba01.cer
      key: /etc/firmador/prueba01.key
      keypassword: s3cret
    - usuario: prueba02
      password: hunter2
      pfx: /etc/firmador/prueba02.pfx
`), 0600)
	if err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	var conf configuration
	if err := conf.loadFromFile(path); err != nil {
		t.Fatalf("failed to load configuration: %v", err)
	}
	if conf.Portal.ChallengeURL != "https://portal.example/challenge" {
		t.Fatalf("unexpected challenge url %q", conf.Portal.ChallengeURL)
	}
	if conf.MaxWorkers != 2 {
		t.Fatalf("maxworkers is %d, expected 2", conf.MaxWorkers)
	}
	if len(conf.Clients) != 2 {
		t.Fatalf("expected 2 clients, got %d", len(conf.Clients))
	}
	if conf.Clients[0].KeyPassword != "s3cret" {
		t.Fatalf("unexpected key password %q", conf.Clients[0].KeyPassword)
	}
	if conf.Clients[1].PFX != "/etc/firmador/prueba02.pfx" {
		t.Fatalf("unexpected pfx reference %q", conf.Clients[1].PFX)
	}

	timeout, err := conf.portalTimeout()
	if err != nil {
		t.Fatalf("failed to parse portal timeout: %v", err)
	}
	if timeout != 45*time.Second {
		t.Fatalf("timeout is %s, expected 45s", timeout)
	}
}

func TestPortalTimeoutDefaultsToZero(t *testing.T) {
	t.Parallel()

	var conf configuration
	timeout, err := conf.portalTimeout()
	if err != nil {
		t.Fatalf("failed to parse empty timeout: %v", err)
	}
	if timeout != 0 {
		t.Fatalf("timeout is %s, expected 0", timeout)
	}
}

func TestByteSource(t *testing.T) {
	t.Parallel()

	if _, ok := byteSource("https://host/pfx/abc").(credential.HTTPSource); !ok {
		t.Fatal("expected an https reference to resolve to an HTTPSource")
	}
	if _, ok := byteSource("http://host/pfx/abc").(credential.HTTPSource); !ok {
		t.Fatal("expected an http reference to resolve to an HTTPSource")
	}
	if _, ok := byteSource("/etc/firmador/prueba.pfx").(credential.FileSource); !ok {
		t.Fatal("expected a path reference to resolve to a FileSource")
	}
}

func TestBatchRunLogsInConfiguredClients(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	pfxPath := filepath.Join(dir, "prueba01.pfx")
	if err := ioutil.WriteFile(pfxPath, makeTestContainer(t, "s3cret"), 0600); err != nil {
		t.Fatalf("failed to write container fixture: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/challenge", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("firma este reto"))
	})
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("idUsuario") == "rechazado" {
			w.Write([]byte("credenciales incorrectas"))
			return
		}
		w.Header().Set("Set-Cookie", "JSESSIONID=abc123; Path=/")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	var conf configuration
	conf.Portal.ChallengeURL = server.URL + "/challenge"
	conf.Portal.LoginURL = server.URL + "/login"
	conf.Portal.SiteID = "vucem"
	conf.Portal.Location = "mx"
	conf.MaxWorkers = 2

	runner := &batchRunner{
		conf:    conf,
		timeout: 5 * time.Second,
		store:   pfxhost.NewStore(""),
	}
	reports := runner.run(context.Background(), []formats.Client{
		{Usuario: "prueba01", Password: "hunter2", PFX: pfxPath, KeyPassword: "s3cret"},
		{Usuario: "rechazado", Password: "hunter2", PFX: pfxPath, KeyPassword: "s3cret"},
	})
	if len(reports) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(reports))
	}
	outcomes := make(map[string]formats.LoginReport)
	for _, report := range reports {
		outcomes[report.Usuario] = report
	}
	if !outcomes["prueba01"].Succeeded() {
		t.Fatalf("expected prueba01 to succeed, got %+v", outcomes["prueba01"])
	}
	if outcomes["rechazado"].Succeeded() {
		t.Fatalf("expected rechazado to fail, got %+v", outcomes["rechazado"])
	}
	if outcomes["rechazado"].Failure != "authentication-rejected" {
		t.Fatalf("expected an authentication-rejected failure, got %q", outcomes["rechazado"].Failure)
	}
}

func makeTestContainer(t *testing.T, password string) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(42),
		Subject: pkix.Name{
			CommonName:   "lote.vucem.gob.mx",
			SerialNumber: "LOPR920505EEE",
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}
	cert, err := credential.ParseCertificate(der)
	if err != nil {
		t.Fatalf("failed to parse generated certificate: %v", err)
	}
	data, err := container.Build(key, cert, password, container.CipherTripleDES)
	if err != nil {
		t.Fatalf("failed to build container: %v", err)
	}
	return data
}
