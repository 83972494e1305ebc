package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/keyward/keyward/core"
	"github.com/keyward/keyward/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id           TEXT PRIMARY KEY,
	username     TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL,
	created_at   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS credentials (
	credential_id TEXT PRIMARY KEY,
	account_id    TEXT NOT NULL REFERENCES accounts(id),
	public_key    BLOB NOT NULL,
	sign_count    INTEGER NOT NULL DEFAULT 0,
	created_at    INTEGER NOT NULL,
	last_used_at  INTEGER
);
CREATE INDEX IF NOT EXISTS idx_credentials_account ON credentials(account_id);
CREATE TABLE IF NOT EXISTS devices (
	device_id            TEXT PRIMARY KEY,
	account_id           TEXT NOT NULL REFERENCES accounts(id),
	public_key           TEXT NOT NULL DEFAULT '',
	categories           TEXT NOT NULL DEFAULT '[]',
	signature            TEXT,
	signed_at            INTEGER,
	signer_credential_id TEXT,
	created_at           INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_devices_account ON devices(account_id);
CREATE TABLE IF NOT EXISTS install_keys (
	id         TEXT PRIMARY KEY,
	digest     TEXT NOT NULL UNIQUE,
	account_id TEXT NOT NULL REFERENCES accounts(id),
	device_id  TEXT NOT NULL,
	categories TEXT NOT NULL DEFAULT '[]',
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	used_at    INTEGER
);
`

// SQLiteStore implements the Registry interface over a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens the registry database and applies the schema.
func Open(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("registry path is required")
	}

	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open registry db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping registry db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply registry schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

var _ ports.Registry = (*SQLiteStore)(nil)

// Close releases the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// CreateAccount inserts a new account row.
func (s *SQLiteStore) CreateAccount(ctx context.Context, account core.Account) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, username, display_name, created_at) VALUES (?, ?, ?, ?)`,
		account.ID, account.Username, account.DisplayName, toMillis(account.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// GetAccount fetches an account by id.
func (s *SQLiteStore) GetAccount(ctx context.Context, accountID string) (core.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, display_name, created_at FROM accounts WHERE id = ?`, accountID)

	var account core.Account
	var createdAt int64
	if err := row.Scan(&account.ID, &account.Username, &account.DisplayName, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Account{}, core.ErrAccountNotFound
		}
		return core.Account{}, fmt.Errorf("select account: %w", err)
	}
	account.CreatedAt = fromMillis(createdAt)
	return account, nil
}

// SaveCredential upserts a credential row.
func (s *SQLiteStore) SaveCredential(ctx context.Context, credential core.Credential) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (credential_id, account_id, public_key, sign_count, created_at, last_used_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(credential_id) DO UPDATE SET
		 	public_key = excluded.public_key,
		 	sign_count = excluded.sign_count`,
		credential.ID, credential.AccountID, credential.PublicKey, credential.SignCount,
		toMillis(credential.CreatedAt), nullableMillis(credential.LastUsedAt))
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

// GetCredentialByID fetches a credential by its authenticator id.
func (s *SQLiteStore) GetCredentialByID(ctx context.Context, credentialID string) (core.Credential, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT credential_id, account_id, public_key, sign_count, created_at, last_used_at
		 FROM credentials WHERE credential_id = ?`, credentialID)

	credential, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Credential{}, core.ErrUnknownCredential
		}
		return core.Credential{}, fmt.Errorf("select credential: %w", err)
	}
	return credential, nil
}

// GetCredentialsByAccount lists every credential owned by an account.
func (s *SQLiteStore) GetCredentialsByAccount(ctx context.Context, accountID string) ([]core.Credential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT credential_id, account_id, public_key, sign_count, created_at, last_used_at
		 FROM credentials WHERE account_id = ? ORDER BY created_at`, accountID)
	if err != nil {
		return nil, fmt.Errorf("select credentials: %w", err)
	}
	defer rows.Close()

	var credentials []core.Credential
	for rows.Next() {
		credential, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		credentials = append(credentials, credential)
	}
	return credentials, rows.Err()
}

// UpdateCredentialSignCount persists the authenticator's new counter.
func (s *SQLiteStore) UpdateCredentialSignCount(ctx context.Context, credentialID string, signCount uint32, usedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE credentials SET sign_count = ?, last_used_at = ? WHERE credential_id = ?`,
		signCount, toMillis(usedAt), credentialID)
	if err != nil {
		return fmt.Errorf("update sign count: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update sign count: %w", err)
	}
	if affected == 0 {
		return core.ErrUnknownCredential
	}
	return nil
}

// CreateDevice inserts a new, unsigned device row.
func (s *SQLiteStore) CreateDevice(ctx context.Context, device core.Device) error {
	categories, err := json.Marshal(device.Categories)
	if err != nil {
		return fmt.Errorf("encode categories: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO devices (device_id, account_id, public_key, categories, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		device.DeviceID, device.AccountID, device.PublicKey, string(categories), toMillis(device.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert device: %w", err)
	}
	return nil
}

// GetDevice fetches a device by its caller-chosen id.
func (s *SQLiteStore) GetDevice(ctx context.Context, deviceID string) (core.Device, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT device_id, account_id, public_key, categories, signature, signed_at, signer_credential_id, created_at
		 FROM devices WHERE device_id = ?`, deviceID)

	var (
		device     core.Device
		categories string
		signature  sql.NullString
		signedAt   sql.NullInt64
		signer     sql.NullString
		createdAt  int64
	)
	err := row.Scan(&device.DeviceID, &device.AccountID, &device.PublicKey, &categories,
		&signature, &signedAt, &signer, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Device{}, core.ErrDeviceNotFound
		}
		return core.Device{}, fmt.Errorf("select device: %w", err)
	}

	if err := json.Unmarshal([]byte(categories), &device.Categories); err != nil {
		return core.Device{}, fmt.Errorf("decode categories: %w", err)
	}
	device.Signature = signature.String
	device.SignerCredentialID = signer.String
	device.CreatedAt = fromMillis(createdAt)
	if signedAt.Valid {
		at := fromMillis(signedAt.Int64)
		device.SignedAt = &at
	}
	return device, nil
}

// SetDevicePublicKey attaches the device's own public key after install-key
// redemption.
func (s *SQLiteStore) SetDevicePublicKey(ctx context.Context, deviceID, publicKey string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE devices SET public_key = ? WHERE device_id = ?`, publicKey, deviceID)
	if err != nil {
		return fmt.Errorf("set device public key: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set device public key: %w", err)
	}
	if affected == 0 {
		return core.ErrDeviceNotFound
	}
	return nil
}

// SaveDeviceSignature writes the passkey approval onto the device row.
func (s *SQLiteStore) SaveDeviceSignature(ctx context.Context, record core.SignatureRecord) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE devices SET signature = ?, signed_at = ?, signer_credential_id = ?
		 WHERE device_id = ? AND signature IS NULL`,
		record.Payload, toMillis(record.SignedAt), record.CredentialID, record.DeviceID)
	if err != nil {
		return fmt.Errorf("save device signature: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save device signature: %w", err)
	}
	if affected == 0 {
		return core.ErrDeviceAlreadySigned
	}
	return nil
}

// CreateInstallKey inserts an install-key row holding only the secret digest.
func (s *SQLiteStore) CreateInstallKey(ctx context.Context, key core.InstallKey) error {
	categories, err := json.Marshal(key.Categories)
	if err != nil {
		return fmt.Errorf("encode categories: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO install_keys (id, digest, account_id, device_id, categories, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		key.ID, key.Digest, key.AccountID, key.DeviceID, string(categories),
		toMillis(key.CreatedAt), toMillis(key.ExpiresAt))
	if err != nil {
		return fmt.Errorf("insert install key: %w", err)
	}
	return nil
}

// GetInstallKeyByDigest fetches an install key by the digest of its secret.
func (s *SQLiteStore) GetInstallKeyByDigest(ctx context.Context, digest string) (core.InstallKey, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, digest, account_id, device_id, categories, created_at, expires_at, used_at
		 FROM install_keys WHERE digest = ?`, digest)

	var (
		key        core.InstallKey
		categories string
		createdAt  int64
		expiresAt  int64
		usedAt     sql.NullInt64
	)
	err := row.Scan(&key.ID, &key.Digest, &key.AccountID, &key.DeviceID, &categories,
		&createdAt, &expiresAt, &usedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.InstallKey{}, core.ErrInstallKeyInvalid
		}
		return core.InstallKey{}, fmt.Errorf("select install key: %w", err)
	}

	if err := json.Unmarshal([]byte(categories), &key.Categories); err != nil {
		return core.InstallKey{}, fmt.Errorf("decode categories: %w", err)
	}
	key.CreatedAt = fromMillis(createdAt)
	key.ExpiresAt = fromMillis(expiresAt)
	if usedAt.Valid {
		at := fromMillis(usedAt.Int64)
		key.UsedAt = &at
	}
	return key, nil
}

// MarkInstallKeyUsed consumes an install key. Only an unused key can be
// marked, which makes redemption single-use under concurrent attempts.
func (s *SQLiteStore) MarkInstallKeyUsed(ctx context.Context, keyID string, usedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE install_keys SET used_at = ? WHERE id = ? AND used_at IS NULL`,
		toMillis(usedAt), keyID)
	if err != nil {
		return fmt.Errorf("mark install key used: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark install key used: %w", err)
	}
	if affected == 0 {
		return core.ErrInstallKeyInvalid
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (core.Credential, error) {
	var (
		credential core.Credential
		createdAt  int64
		lastUsed   sql.NullInt64
	)
	err := row.Scan(&credential.ID, &credential.AccountID, &credential.PublicKey,
		&credential.SignCount, &createdAt, &lastUsed)
	if err != nil {
		return core.Credential{}, err
	}
	credential.CreatedAt = fromMillis(createdAt)
	if lastUsed.Valid {
		credential.LastUsedAt = fromMillis(lastUsed.Int64)
	}
	return credential, nil
}

func nullableMillis(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return toMillis(value)
}
