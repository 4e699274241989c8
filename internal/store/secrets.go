package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Secret holds an encrypted runner credential. Value and Nonce are the
// AES-GCM ciphertext and nonce produced by the vault.
type Secret struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Value       []byte    `json:"-"`
	Nonce       []byte    `json:"-"`
	Global      bool      `json:"global"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (s *Store) SaveSecret(sec *Secret) error {
	_, err := s.db.Exec(`
		INSERT INTO secrets (id, name, description, value, nonce, global)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, description=excluded.description,
			value=excluded.value, nonce=excluded.nonce,
			global=excluded.global, updated_at=CURRENT_TIMESTAMP`,
		sec.ID, sec.Name, sec.Description, sec.Value, sec.Nonce, boolToInt(sec.Global))
	if err != nil {
		return fmt.Errorf("save secret: %w", err)
	}
	return nil
}

func (s *Store) GetSecret(id string) (*Secret, error) {
	row := s.db.QueryRow(`
		SELECT id, name, description, value, nonce, global, created_at, updated_at
		FROM secrets WHERE id = ?`, id)
	sec, err := scanSecret(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get secret: %w", err)
	}
	return sec, nil
}

func (s *Store) GetSecretByName(name string) (*Secret, error) {
	row := s.db.QueryRow(`
		SELECT id, name, description, value, nonce, global, created_at, updated_at
		FROM secrets WHERE name = ?`, name)
	sec, err := scanSecret(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get secret by name: %w", err)
	}
	return sec, nil
}

func (s *Store) ListSecrets() ([]Secret, error) {
	rows, err := s.db.Query(`
		SELECT id, name, description, global, created_at, updated_at
		FROM secrets ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list secrets: %w", err)
	}
	defer rows.Close()

	var secrets []Secret
	for rows.Next() {
		sec, err := scanSecretMeta(rows)
		if err != nil {
			return nil, fmt.Errorf("scan secret: %w", err)
		}
		secrets = append(secrets, *sec)
	}
	return secrets, rows.Err()
}

func (s *Store) DeleteSecret(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM secret_assignments WHERE secret_id = ?`, id); err != nil {
		return fmt.Errorf("delete assignments: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM secrets WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete secret: %w", err)
	}
	return tx.Commit()
}

// SecretsForType returns secrets visible to agents of the given type:
// globals plus explicit assignments.
func (s *Store) SecretsForType(agentType string) ([]Secret, error) {
	rows, err := s.db.Query(`
		SELECT id, name, description, value, nonce, global, created_at, updated_at
		FROM secrets
		WHERE global = 1
		   OR id IN (SELECT secret_id FROM secret_assignments WHERE agent_type = ?)
		ORDER BY name`, agentType)
	if err != nil {
		return nil, fmt.Errorf("secrets for type: %w", err)
	}
	defer rows.Close()

	var secrets []Secret
	for rows.Next() {
		sec, err := scanSecret(rows)
		if err != nil {
			return nil, fmt.Errorf("scan secret: %w", err)
		}
		secrets = append(secrets, *sec)
	}
	return secrets, rows.Err()
}

func (s *Store) AssignSecret(secretID, agentType string) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO secret_assignments (secret_id, agent_type) VALUES (?, ?)`,
		secretID, agentType)
	if err != nil {
		return fmt.Errorf("assign secret: %w", err)
	}
	return nil
}

func (s *Store) UnassignSecret(secretID, agentType string) error {
	_, err := s.db.Exec(`DELETE FROM secret_assignments WHERE secret_id = ? AND agent_type = ?`,
		secretID, agentType)
	if err != nil {
		return fmt.Errorf("unassign secret: %w", err)
	}
	return nil
}

func (s *Store) SetSecretGlobal(id string, global bool) error {
	_, err := s.db.Exec(`UPDATE secrets SET global = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		boolToInt(global), id)
	if err != nil {
		return fmt.Errorf("set secret global: %w", err)
	}
	return nil
}

func (s *Store) SecretAssignments(secretID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT agent_type FROM secret_assignments WHERE secret_id = ? ORDER BY agent_type`, secretID)
	if err != nil {
		return nil, fmt.Errorf("secret assignments: %w", err)
	}
	defer rows.Close()

	var types []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

func scanSecret(sc scanner) (*Secret, error) {
	sec := &Secret{}
	var description sql.NullString
	err := sc.Scan(&sec.ID, &sec.Name, &description, &sec.Value, &sec.Nonce,
		&sec.Global, &sec.CreatedAt, &sec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sec.Description = description.String
	return sec, nil
}

func scanSecretMeta(sc scanner) (*Secret, error) {
	sec := &Secret{}
	var description sql.NullString
	err := sc.Scan(&sec.ID, &sec.Name, &description, &sec.Global, &sec.CreatedAt, &sec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sec.Description = description.String
	return sec, nil
}

type scanner interface {
	Scan(dest ...any) error
}
