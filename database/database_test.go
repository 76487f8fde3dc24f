package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/vucemtools/firmador/formats"
)

// The tests in this file need a live postgres instance, reachable via
// the FIRMADOR_DB_DSN environment variable, with the clients table
// created.
func connectForTest(t *testing.T) *Handler {
	t.Helper()
	if os.Getenv("FIRMADOR_DB_DSN") == "" {
		t.Skip("skipping database tests, FIRMADOR_DB_DSN is not set")
	}
	db, err := Connect(Config{})
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.CheckConnectionContext(ctx); err != nil {
		t.Fatalf("database connection check failed: %v", err)
	}
	return db
}

func TestClientLifecycle(t *testing.T) {
	db := connectForTest(t)
	defer db.Close()

	client := formats.Client{
		Usuario:     "prueba-ciclo",
		Password:    "hunter2",
		Cert:        "/etc/firmador/prueba.cer",
		Key:         "/etc/firmador/prueba.key",
		KeyPassword: "s3cret",
	}
	if err := db.InsertClient(client); err != nil {
		t.Fatalf("failed to insert client: %v", err)
	}
	defer db.Exec(`DELETE FROM clients WHERE usuario=$1`, client.Usuario)

	stored, err := db.GetClientByUsuario(client.Usuario)
	if err != nil {
		t.Fatalf("failed to select client: %v", err)
	}
	if stored != client {
		t.Fatalf("stored client %+v does not match inserted %+v", stored, client)
	}

	active, err := db.GetActiveClients()
	if err != nil {
		t.Fatalf("failed to select active clients: %v", err)
	}
	found := false
	for _, c := range active {
		if c.Usuario == client.Usuario {
			found = true
		}
	}
	if !found {
		t.Fatal("inserted client is missing from the active set")
	}

	if err := db.DisableClient(client.Usuario); err != nil {
		t.Fatalf("failed to disable client: %v", err)
	}
	active, err = db.GetActiveClients()
	if err != nil {
		t.Fatalf("failed to select active clients: %v", err)
	}
	for _, c := range active {
		if c.Usuario == client.Usuario {
			t.Fatal("disabled client still shows in the active set")
		}
	}
}

func TestGetClientByUsuarioNotFound(t *testing.T) {
	db := connectForTest(t)
	defer db.Close()

	_, err := db.GetClientByUsuario("no-such-usuario")
	if !errors.Is(err, ErrNoClientFound) {
		t.Fatalf("expected ErrNoClientFound, got %v", err)
	}
}

func TestDisableClientNotFound(t *testing.T) {
	db := connectForTest(t)
	defer db.Close()

	err := db.DisableClient("no-such-usuario")
	if !errors.Is(err, ErrNoClientFound) {
		t.Fatalf("expected ErrNoClientFound, got %v", err)
	}
}
