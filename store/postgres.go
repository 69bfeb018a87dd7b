package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/sweetpotato0/chatforge/errors"
	"github.com/sweetpotato0/chatforge/message"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DefaultPostgresConfig returns default PostgreSQL configuration.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		DBName:   "chatforge",
		SSLMode:  "disable",
	}
}

// NewPostgresStore connects to PostgreSQL and bootstraps the schema.
func NewPostgresStore(config *PostgresConfig) (*PostgresStore, error) {
	if config == nil {
		config = DefaultPostgresConfig()
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.createTables(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) createTables(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS personalities (
		id VARCHAR(64) PRIMARY KEY,
		name TEXT NOT NULL,
		hash VARCHAR(64) NOT NULL UNIQUE,
		prompt TEXT NOT NULL,
		spec JSONB NOT NULL,
		functions JSONB
	);
	CREATE TABLE IF NOT EXISTS conversations (
		id VARCHAR(64) PRIMARY KEY,
		secret VARCHAR(128) NOT NULL UNIQUE,
		persistence_token TEXT,
		busy BOOLEAN NOT NULL DEFAULT FALSE,
		personality_id VARCHAR(64) NOT NULL REFERENCES personalities(id)
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_token ON conversations(persistence_token);
	CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(128) PRIMARY KEY,
		name TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS conversation_users (
		conversation_id VARCHAR(64) NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		user_id VARCHAR(128) NOT NULL REFERENCES users(id),
		PRIMARY KEY (conversation_id, user_id)
	);
	CREATE TABLE IF NOT EXISTS messages (
		id BIGSERIAL PRIMARY KEY,
		conversation_id VARCHAR(64) NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		role VARCHAR(16) NOT NULL,
		content TEXT NOT NULL,
		sender_id VARCHAR(128),
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);
	CREATE TABLE IF NOT EXISTS message_context (
		id BIGSERIAL PRIMARY KEY,
		message_id BIGINT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		key TEXT NOT NULL,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

func (s *PostgresStore) CreateConversation(ctx context.Context, conv *Conversation, users []message.User) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversations (id, secret, persistence_token, busy, personality_id)
		 VALUES ($1, $2, NULLIF($3, ''), FALSE, $4)`,
		conv.ID, conv.Secret, conv.PersistenceToken, conv.PersonalityID)
	if err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}

	if err := replaceMembersTx(ctx, tx, conv.ID, users); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit conversation: %w", err)
	}
	return nil
}

func replaceMembersTx(ctx context.Context, tx *sql.Tx, conversationID string, users []message.User) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM conversation_users WHERE conversation_id = $1`, conversationID); err != nil {
		return fmt.Errorf("failed to clear members: %w", err)
	}
	for _, user := range users {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO users (id, name) VALUES ($1, $2)
			 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
			user.ID, user.Name); err != nil {
			return fmt.Errorf("failed to upsert user %s: %w", user.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversation_users (conversation_id, user_id) VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`,
			conversationID, user.ID); err != nil {
			return fmt.Errorf("failed to link user %s: %w", user.ID, err)
		}
	}
	return nil
}

func (s *PostgresStore) FindConversation(ctx context.Context, id string) (*Conversation, error) {
	return s.findConversation(ctx, `id = $1`, id)
}

func (s *PostgresStore) FindConversationBySecret(ctx context.Context, secret string) (*Conversation, error) {
	return s.findConversation(ctx, `secret = $1`, secret)
}

func (s *PostgresStore) findConversation(ctx context.Context, where string, arg any) (*Conversation, error) {
	conv := &Conversation{}
	var token sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, secret, persistence_token, busy, personality_id
		 FROM conversations WHERE `+where, arg).
		Scan(&conv.ID, &conv.Secret, &token, &conv.Busy, &conv.PersonalityID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("conversation: %w", errors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	conv.PersistenceToken = token.String
	return conv, nil
}

func (s *PostgresStore) FindConversationByToken(ctx context.Context, token string) (*Conversation, *Personality, error) {
	conv, err := s.findConversation(ctx, `persistence_token = $1`, token)
	if err != nil {
		return nil, nil, err
	}
	rec, err := s.loadPersonality(ctx, `id = $1`, conv.PersonalityID)
	if err != nil {
		return nil, nil, err
	}
	return conv, rec, nil
}

func (s *PostgresStore) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %s: %w", id, errors.ErrNotFound)
	}
	return nil
}

// AcquireBusy relies on a conditional UPDATE so two concurrent sends can
// never both observe busy=false.
func (s *PostgresStore) AcquireBusy(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET busy = TRUE WHERE id = $1 AND busy = FALSE`, id)
	if err != nil {
		return false, fmt.Errorf("failed to set busy: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check conversation: %w", err)
	}
	if !exists {
		return false, fmt.Errorf("conversation %s: %w", id, errors.ErrNotFound)
	}
	return false, nil
}

func (s *PostgresStore) ReleaseBusy(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET busy = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to reset busy: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %s: %w", id, errors.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ReplaceMembers(ctx context.Context, id string, users []message.User) error {
	conv, err := s.FindConversation(ctx, id)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	if err := replaceMembersTx(ctx, tx, conv.ID, users); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit members: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendMessages(ctx context.Context, conversationID string, msgs []Message) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var lastID int64
	for _, msg := range msgs {
		err := tx.QueryRowContext(ctx,
			`INSERT INTO messages (conversation_id, role, content, sender_id)
			 VALUES ($1, $2, $3, NULLIF($4, '')) RETURNING id`,
			conversationID, string(msg.Role), msg.Content, msg.SenderID).Scan(&lastID)
		if err != nil {
			return 0, fmt.Errorf("failed to insert message: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit messages: %w", err)
	}
	return lastID, nil
}

func (s *PostgresStore) AttachContext(ctx context.Context, messageID int64, entries []message.ContextEntry) error {
	for _, entry := range entries {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO message_context (message_id, key, value) VALUES ($1, $2, $3)`,
			messageID, entry.Key, entry.Value); err != nil {
			// A foreign key violation means the message row is gone, most
			// likely cascaded away by a concurrent conversation delete.
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23503" {
				return fmt.Errorf("message %d: %w", messageID, errors.ErrNotFound)
			}
			return fmt.Errorf("failed to insert context entry: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) FindPersonalityByHash(ctx context.Context, hash string) (*Personality, error) {
	return s.loadPersonality(ctx, `hash = $1`, hash)
}

func (s *PostgresStore) loadPersonality(ctx context.Context, where string, arg any) (*Personality, error) {
	rec := &Personality{}
	var specJSON, functionsJSON []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, hash, prompt, spec, functions FROM personalities WHERE `+where, arg).
		Scan(&rec.ID, &rec.Name, &rec.Hash, &rec.Prompt, &specJSON, &functionsJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("personality: %w", errors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load personality: %w", err)
	}
	if err := json.Unmarshal(specJSON, &rec.Spec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal personality spec: %w", err)
	}
	if len(functionsJSON) > 0 {
		if err := json.Unmarshal(functionsJSON, &rec.Functions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal functions: %w", err)
		}
	}
	return rec, nil
}

func (s *PostgresStore) CreatePersonality(ctx context.Context, p *Personality) error {
	specJSON, err := json.Marshal(p.Spec)
	if err != nil {
		return fmt.Errorf("failed to marshal personality spec: %w", err)
	}
	var functionsJSON []byte
	if p.Functions != nil {
		functionsJSON, err = json.Marshal(p.Functions)
		if err != nil {
			return fmt.Errorf("failed to marshal functions: %w", err)
		}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO personalities (id, name, hash, prompt, spec, functions)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.Name, p.Hash, p.Prompt, specJSON, functionsJSON)
	if err != nil {
		return fmt.Errorf("failed to insert personality: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadView(ctx context.Context, conversationID string) (*View, error) {
	conv, err := s.FindConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	rec, err := s.loadPersonality(ctx, `id = $1`, conv.PersonalityID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT u.id, u.name FROM users u
		 JOIN conversation_users cu ON cu.user_id = u.id
		 WHERE cu.conversation_id = $1`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load members: %w", err)
	}
	defer rows.Close()
	var users []message.User
	for rows.Next() {
		var user message.User
		if err := rows.Scan(&user.ID, &user.Name); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	msgRows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, COALESCE(sender_id, '') FROM messages
		 WHERE conversation_id = $1 ORDER BY id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer msgRows.Close()
	var msgs []Message
	for msgRows.Next() {
		msg := Message{ConversationID: conversationID}
		var role string
		if err := msgRows.Scan(&msg.ID, &role, &msg.Content, &msg.SenderID); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = message.Role(role)
		msgs = append(msgs, msg)
	}
	if err := msgRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return &View{
		Conversation: *conv,
		Users:        users,
		Messages:     msgs,
		Personality:  *rec,
	}, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ping checks if the database connection is alive.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
