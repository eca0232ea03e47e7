package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"vcr/internal/registry/models"
)

// Topics

func scanTopic(row rowScanner) (*models.Topic, error) {
	var t models.Topic
	if err := row.Scan(&t.ID, &t.SourceID, &t.Type, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetOrCreateTopic reports whether the topic was created by this call.
func (s *Postgres) GetOrCreateTopic(ctx context.Context, topic *models.Topic) (*models.Topic, bool, error) {
	b := psql.Insert("topics").
		Columns("id", "source_id", "type", "created_at", "updated_at").
		Values(topic.ID, topic.SourceID, topic.Type, topic.CreatedAt, topic.UpdatedAt).
		Suffix("ON CONFLICT (source_id, type) DO NOTHING RETURNING " + topicColumns)
	row, err := s.queryRow(ctx, b)
	if err != nil {
		return nil, false, err
	}
	out, err := scanTopic(row)
	if err == nil {
		return out, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("insert topic: %w", err)
	}
	out, err = s.FindTopic(ctx, topic.Type, topic.SourceID)
	if errors.Is(err, ErrNotFound) {
		return nil, false, fmt.Errorf("topic %s/%s: %w", topic.Type, topic.SourceID, ErrConflict)
	}
	return out, false, err
}

func (s *Postgres) GetTopic(ctx context.Context, id uuid.UUID) (*models.Topic, error) {
	row, err := s.queryRow(ctx, psql.Select(topicColumns).From("topics").Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	out, err := scanTopic(row)
	if err != nil {
		return nil, notFound(err, "topic "+id.String())
	}
	return out, nil
}

func (s *Postgres) FindTopic(ctx context.Context, topicType, sourceID string) (*models.Topic, error) {
	row, err := s.queryRow(ctx, psql.Select(topicColumns).From("topics").
		Where(sq.Eq{"type": topicType, "source_id": sourceID}))
	if err != nil {
		return nil, err
	}
	out, err := scanTopic(row)
	if err != nil {
		return nil, notFound(err, "topic "+topicType+"/"+sourceID)
	}
	return out, nil
}

// Credentials

func scanCredential(row rowScanner) (*models.Credential, error) {
	var (
		c          models.Credential
		raw        []byte
		attributes []byte
		names      []byte
	)
	err := row.Scan(&c.ID, &c.CredentialID, &c.CredentialTypeID, &c.TopicID, &c.Format, &raw,
		&c.EffectiveDate, &c.RevokedDate, &c.Revoked, &c.Inactive, &c.Latest, &c.CardinalityHash,
		&attributes, &names, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.RawData = raw
	if err := json.Unmarshal(attributes, &c.Attributes); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	if err := json.Unmarshal(names, &c.Names); err != nil {
		return nil, fmt.Errorf("decode names: %w", err)
	}
	return &c, nil
}

// UpsertCredential inserts or replaces the credential keyed by credential_id
// and reports whether a new row was inserted.
func (s *Postgres) UpsertCredential(ctx context.Context, cred *models.Credential) (*models.Credential, bool, error) {
	attributes, err := json.Marshal(nonNil(cred.Attributes))
	if err != nil {
		return nil, false, fmt.Errorf("encode attributes: %w", err)
	}
	names, err := json.Marshal(nonNil(cred.Names))
	if err != nil {
		return nil, false, fmt.Errorf("encode names: %w", err)
	}
	b := psql.Insert("credentials").
		Columns("id", "credential_id", "credential_type_id", "topic_id", "format", "raw_data", "effective_date",
			"revoked_date", "revoked", "inactive", "latest", "cardinality_hash", "attributes", "names", "created_at", "updated_at").
		Values(cred.ID, cred.CredentialID, cred.CredentialTypeID, cred.TopicID, cred.Format, []byte(cred.RawData),
			cred.EffectiveDate, cred.RevokedDate, cred.Revoked, cred.Inactive, cred.Latest, cred.CardinalityHash,
			attributes, names, cred.CreatedAt, cred.UpdatedAt).
		Suffix(`ON CONFLICT (credential_id) DO UPDATE SET
			credential_type_id = EXCLUDED.credential_type_id,
			topic_id = EXCLUDED.topic_id,
			format = EXCLUDED.format,
			raw_data = EXCLUDED.raw_data,
			effective_date = EXCLUDED.effective_date,
			revoked_date = EXCLUDED.revoked_date,
			revoked = EXCLUDED.revoked,
			inactive = EXCLUDED.inactive,
			latest = EXCLUDED.latest,
			cardinality_hash = EXCLUDED.cardinality_hash,
			attributes = EXCLUDED.attributes,
			names = EXCLUDED.names,
			updated_at = EXCLUDED.updated_at
			RETURNING ` + credentialColumns + `, (xmax = 0) AS inserted`)
	row, err := s.queryRow(ctx, b)
	if err != nil {
		return nil, false, err
	}
	var inserted bool
	out, err := scanCredential(insertedScanner{row: row, inserted: &inserted})
	if isUniqueViolation(err) {
		return nil, false, fmt.Errorf("credential %s latest: %w", cred.CredentialID, ErrConflict)
	}
	if err != nil {
		return nil, false, fmt.Errorf("upsert credential %s: %w", cred.CredentialID, err)
	}
	return out, inserted, nil
}

// insertedScanner appends the trailing `inserted` column to a credential scan.
type insertedScanner struct {
	row      rowScanner
	inserted *bool
}

func (s insertedScanner) Scan(dest ...any) error {
	return s.row.Scan(append(dest, s.inserted)...)
}

func (s *Postgres) GetCredential(ctx context.Context, credentialID string) (*models.Credential, error) {
	row, err := s.queryRow(ctx, psql.Select(credentialColumns).From("credentials").
		Where(sq.Eq{"credential_id": credentialID}))
	if err != nil {
		return nil, err
	}
	out, err := scanCredential(row)
	if err != nil {
		return nil, notFound(err, "credential "+credentialID)
	}
	return out, nil
}

func (key LatestKey) where() sq.Eq {
	return sq.Eq{
		"credential_type_id": key.CredentialTypeID,
		"topic_id":           key.TopicID,
		"cardinality_hash":   key.CardinalityHash,
	}
}

// FindNewestCredential locks every credential of the group and returns the one
// with the greatest effective date, ignoring excludeCredentialID.
func (s *Postgres) FindNewestCredential(ctx context.Context, key LatestKey, excludeCredentialID string) (*models.Credential, error) {
	b := psql.Select(credentialColumns).From("credentials").
		Where(key.where()).
		Where(sq.NotEq{"credential_id": excludeCredentialID}).
		OrderBy("effective_date DESC NULLS LAST", "updated_at DESC").
		Limit(1).
		Suffix("FOR UPDATE")
	row, err := s.queryRow(ctx, b)
	if err != nil {
		return nil, err
	}
	out, err := scanCredential(row)
	if err != nil {
		return nil, notFound(err, "newest credential")
	}
	return out, nil
}

// ClearLatest drops the latest flag from every credential of the group except
// excludeCredentialID.
func (s *Postgres) ClearLatest(ctx context.Context, key LatestKey, excludeCredentialID string) error {
	query, args, err := psql.Update("credentials").Set("latest", false).
		Where(key.where()).
		Where(sq.Eq{"latest": true}).
		Where(sq.NotEq{"credential_id": excludeCredentialID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := s.exec(ctx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("clear latest: %w", err)
	}
	return nil
}

func (s *Postgres) SetLatest(ctx context.Context, id uuid.UUID, latest bool) error {
	query, args, err := psql.Update("credentials").Set("latest", latest).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	res, err := s.exec(ctx).ExecContext(ctx, query, args...)
	if isUniqueViolation(err) {
		return fmt.Errorf("credential %s latest: %w", id, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("set latest: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("credential %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Postgres) ListTopicCredentials(ctx context.Context, topicID uuid.UUID, f CredentialFilter) ([]*models.Credential, error) {
	b := psql.Select(credentialColumns).From("credentials").
		Where(sq.Eq{"topic_id": topicID}).
		OrderBy("created_at")
	if f.Latest != nil {
		b = b.Where(sq.Eq{"latest": *f.Latest})
	}
	if f.Revoked != nil {
		b = b.Where(sq.Eq{"revoked": *f.Revoked})
	}
	if f.CredentialTypeID != nil {
		b = b.Where(sq.Eq{"credential_type_id": *f.CredentialTypeID})
	}
	rows, err := s.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()
	var out []*models.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// prefixed qualifies every column in a comma separated list with alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
