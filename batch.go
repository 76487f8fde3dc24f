package main

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	log "github.com/sirupsen/logrus"
	"github.com/pkg/errors"

	"github.com/vucemtools/firmador/container"
	"github.com/vucemtools/firmador/credential"
	"github.com/vucemtools/firmador/formats"
	"github.com/vucemtools/firmador/pfxhost"
	"github.com/vucemtools/firmador/session"
)

// defaultMaxWorkers bounds how many logins run at once when the
// configuration does not say otherwise.
const defaultMaxWorkers = 4

// batchRunner logs in every configured client through a bounded pool
// of workers. Sessions are never shared: each attempt gets a fresh one.
type batchRunner struct {
	conf    configuration
	timeout time.Duration
	store   *pfxhost.Store
	stats   *statsd.Client
}

// run fans the clients out to the workers and collects one report per
// client.
func (b *batchRunner) run(ctx context.Context, clients []formats.Client) []formats.LoginReport {
	maxWorkers := b.conf.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = defaultMaxWorkers
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		reports []formats.LoginReport
	)
	jobs := make(chan formats.Client)
	for i := 0; i < maxWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for client := range jobs {
				report := b.login(ctx, client)
				mu.Lock()
				reports = append(reports, report)
				mu.Unlock()
			}
		}()
	}
	for _, client := range clients {
		jobs <- client
	}
	close(jobs)
	wg.Wait()
	return reports
}

// login runs one full attempt for one client: resolve or build its
// container, then drive a fresh session through the handshake.
func (b *batchRunner) login(ctx context.Context, client formats.Client) formats.LoginReport {
	start := time.Now()
	report := formats.LoginReport{Usuario: client.Usuario}

	source, err := b.containerSource(ctx, client)
	if err != nil {
		log.WithFields(log.Fields{"usuario": client.Usuario}).Warnf("container preparation failed: %v", err)
		report.State = string(session.StateFailed)
		report.Failure = string(session.FailureCorruptContainer)
		report.Err = err.Error()
		report.Duration = time.Since(start)
		return report
	}

	sess, err := session.New(session.Config{
		ChallengeURL:      b.conf.Portal.ChallengeURL,
		LoginURL:          b.conf.Portal.LoginURL,
		SiteID:            b.conf.Portal.SiteID,
		Location:          b.conf.Portal.Location,
		Usuario:           client.Usuario,
		Password:          client.Password,
		Container:         source,
		ContainerPassword: client.KeyPassword,
		Timeout:           b.timeout,
		Stats:             b.stats,
	})
	if err != nil {
		report.State = string(session.StateFailed)
		report.Err = err.Error()
		report.Duration = time.Since(start)
		return report
	}

	if err := sess.Login(ctx); err != nil {
		report.Err = err.Error()
	}
	report.State = string(sess.State())
	report.Failure = string(sess.Failure())
	report.Duration = time.Since(start)
	return report
}

// containerSource resolves where a session reads its container from:
// a prebuilt PFX reference, or a container freshly built from the
// client's certificate and key and hosted at an ephemeral URL.
func (b *batchRunner) containerSource(ctx context.Context, client formats.Client) (credential.Source, error) {
	if client.PFX != "" {
		return byteSource(client.PFX), nil
	}
	certData, err := byteSource(client.Cert).Bytes(ctx)
	if err != nil {
		return nil, err
	}
	cert, err := credential.ParseCertificate(certData)
	if err != nil {
		return nil, err
	}
	keyData, err := byteSource(client.Key).Bytes(ctx)
	if err != nil {
		return nil, err
	}
	key, err := credential.ParsePrivateKey(keyData, client.KeyPassword)
	if err != nil {
		return nil, err
	}
	pfxData, err := container.Build(key, cert, client.KeyPassword, container.CipherTripleDES)
	if err != nil {
		return nil, err
	}
	if b.conf.Hosting.Listen == "" {
		// no hosting server running, hand the bytes over directly
		return credential.StaticSource(pfxData), nil
	}
	containerURL, err := b.store.Put(client.Usuario, pfxData)
	if err != nil {
		return nil, errors.Wrapf(err, "could not host container for %q", client.Usuario)
	}
	log.WithFields(log.Fields{"usuario": client.Usuario}).Debugf("hosted container at %s", containerURL)
	return credential.HTTPSource{URL: containerURL}, nil
}

// byteSource picks the right source implementation for a reference.
func byteSource(ref string) credential.Source {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return credential.HTTPSource{URL: ref}
	}
	return credential.FileSource(ref)
}
