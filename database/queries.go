package database

import (
	"database/sql"

	"github.com/pkg/errors"

	"github.com/vucemtools/firmador/formats"
)

var (
	// ErrNoClientFound is returned when a lookup matches no client record
	ErrNoClientFound = errors.New("no client found in database")
)

const selectClients = `SELECT
usuario, password, cert, key, key_password, COALESCE(pfx, '')
FROM clients
WHERE is_active=TRUE
ORDER BY usuario`

// GetActiveClients returns every client record enabled for batch logins
func (db *Handler) GetActiveClients() (clients []formats.Client, err error) {
	rows, err := db.Query(selectClients)
	if err != nil {
		err = errors.Wrap(err, "Error selecting clients")
		return
	}
	defer rows.Close()
	for rows.Next() {
		var client formats.Client
		if err = rows.Scan(&client.Usuario, &client.Password, &client.Cert,
			&client.Key, &client.KeyPassword, &client.PFX); err != nil {
			err = errors.Wrap(err, "Error scanning client row")
			return
		}
		clients = append(clients, client)
	}
	if err = rows.Err(); err != nil {
		err = errors.Wrap(err, "Error after iterating over client rows")
		return
	}
	return
}

// GetClientByUsuario returns the client record for one portal account
func (db *Handler) GetClientByUsuario(usuario string) (client formats.Client, err error) {
	err = db.QueryRow(`SELECT usuario, password, cert, key, key_password, COALESCE(pfx, '')
				FROM clients WHERE usuario=$1`, usuario).
		Scan(&client.Usuario, &client.Password, &client.Cert,
			&client.Key, &client.KeyPassword, &client.PFX)
	if err == sql.ErrNoRows {
		return formats.Client{}, ErrNoClientFound
	}
	if err != nil {
		return formats.Client{}, errors.Wrapf(err, "failed to select client %q", usuario)
	}
	return
}

// InsertClient registers a client record for batch logins
func (db *Handler) InsertClient(client formats.Client) (err error) {
	_, err = db.Exec(`INSERT INTO clients(usuario, password, cert, key, key_password, pfx, is_active)
				VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), TRUE)`,
		client.Usuario, client.Password, client.Cert, client.Key, client.KeyPassword, client.PFX)
	if err != nil {
		return errors.Wrapf(err, "failed to insert client %q", client.Usuario)
	}
	return nil
}

// DisableClient removes a client from batch runs without deleting its record
func (db *Handler) DisableClient(usuario string) (err error) {
	res, err := db.Exec(`UPDATE clients SET is_active=FALSE WHERE usuario=$1`, usuario)
	if err != nil {
		return errors.Wrapf(err, "failed to disable client %q", usuario)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if count == 0 {
		return ErrNoClientFound
	}
	return nil
}
