package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"vcr/internal/registry/models"
	"vcr/pkg/platform/tx"
)

// Postgres implements the registry store over database/sql and lib/pq.
// Statements join the transaction carried in ctx.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const (
	issuerColumns     = "id, did, name, abbreviation, email, url, endpoint, logo_b64, created_at, updated_at"
	schemaColumns     = "id, name, version, origin_did, publisher_id, created_at, updated_at"
	ctypeColumns      = "id, issuer_id, schema_id, description, processor_config, visible_fields, logo_b64, url, created_at, updated_at"
	topicColumns      = "id, source_id, type, created_at, updated_at"
	credentialColumns = "id, credential_id, credential_type_id, topic_id, format, raw_data, effective_date, revoked_date, " +
		"revoked, inactive, latest, cardinality_hash, attributes, names, created_at, updated_at"
)

func (s *Postgres) exec(ctx context.Context) tx.Executor {
	return tx.ExecutorFrom(ctx, s.db)
}

func (s *Postgres) queryRow(ctx context.Context, b sq.Sqlizer) (*sql.Row, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return s.exec(ctx).QueryRowContext(ctx, query, args...), nil
}

func (s *Postgres) query(ctx context.Context, b sq.Sqlizer) (*sql.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return s.exec(ctx).QueryContext(ctx, query, args...)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
}

// Issuers

func scanIssuer(row rowScanner) (*models.Issuer, error) {
	var i models.Issuer
	err := row.Scan(&i.ID, &i.DID, &i.Name, &i.Abbreviation, &i.Email, &i.URL, &i.Endpoint, &i.LogoB64, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

func (s *Postgres) UpsertIssuer(ctx context.Context, issuer *models.Issuer) (*models.Issuer, error) {
	b := psql.Insert("issuers").
		Columns("id", "did", "name", "abbreviation", "email", "url", "endpoint", "logo_b64", "created_at", "updated_at").
		Values(issuer.ID, issuer.DID, issuer.Name, issuer.Abbreviation, issuer.Email, issuer.URL,
			issuer.Endpoint, issuer.LogoB64, issuer.CreatedAt, issuer.UpdatedAt).
		Suffix(`ON CONFLICT (did) DO UPDATE SET
			name = EXCLUDED.name,
			abbreviation = EXCLUDED.abbreviation,
			email = EXCLUDED.email,
			url = EXCLUDED.url,
			endpoint = EXCLUDED.endpoint,
			logo_b64 = EXCLUDED.logo_b64,
			updated_at = EXCLUDED.updated_at
			RETURNING ` + issuerColumns)
	row, err := s.queryRow(ctx, b)
	if err != nil {
		return nil, err
	}
	out, err := scanIssuer(row)
	if err != nil {
		return nil, fmt.Errorf("upsert issuer %s: %w", issuer.DID, err)
	}
	return out, nil
}

func (s *Postgres) GetIssuer(ctx context.Context, id uuid.UUID) (*models.Issuer, error) {
	row, err := s.queryRow(ctx, psql.Select(issuerColumns).From("issuers").Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	out, err := scanIssuer(row)
	if err != nil {
		return nil, notFound(err, "issuer "+id.String())
	}
	return out, nil
}

func (s *Postgres) ListIssuers(ctx context.Context) ([]*models.Issuer, error) {
	rows, err := s.query(ctx, psql.Select(issuerColumns).From("issuers").OrderBy("name"))
	if err != nil {
		return nil, fmt.Errorf("list issuers: %w", err)
	}
	defer rows.Close()
	var out []*models.Issuer
	for rows.Next() {
		i, err := scanIssuer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issuer: %w", err)
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// Schemas

func scanSchema(row rowScanner) (*models.Schema, error) {
	var sc models.Schema
	if err := row.Scan(&sc.ID, &sc.Name, &sc.Version, &sc.OriginDID, &sc.PublisherID, &sc.CreatedAt, &sc.UpdatedAt); err != nil {
		return nil, err
	}
	return &sc, nil
}

// GetOrCreateSchema inserts schema unless its natural key exists, then
// returns the stored row.
func (s *Postgres) GetOrCreateSchema(ctx context.Context, schema *models.Schema) (*models.Schema, error) {
	b := psql.Insert("schemas").
		Columns("id", "name", "version", "origin_did", "publisher_id", "created_at", "updated_at").
		Values(schema.ID, schema.Name, schema.Version, schema.OriginDID, schema.PublisherID, schema.CreatedAt, schema.UpdatedAt).
		Suffix("ON CONFLICT (name, version, origin_did) DO NOTHING RETURNING " + schemaColumns)
	row, err := s.queryRow(ctx, b)
	if err != nil {
		return nil, err
	}
	out, err := scanSchema(row)
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("insert schema: %w", err)
	}
	out, err = s.FindSchema(ctx, schema.Key())
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("schema %s/%s: %w", schema.Name, schema.Version, ErrConflict)
	}
	return out, err
}

func (s *Postgres) GetSchema(ctx context.Context, id uuid.UUID) (*models.Schema, error) {
	row, err := s.queryRow(ctx, psql.Select(schemaColumns).From("schemas").Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	out, err := scanSchema(row)
	if err != nil {
		return nil, notFound(err, "schema "+id.String())
	}
	return out, nil
}

func (s *Postgres) FindSchema(ctx context.Context, key models.SchemaKey) (*models.Schema, error) {
	row, err := s.queryRow(ctx, psql.Select(schemaColumns).From("schemas").Where(sq.Eq{
		"name": key.Name, "version": key.Version, "origin_did": key.OriginDID,
	}))
	if err != nil {
		return nil, err
	}
	out, err := scanSchema(row)
	if err != nil {
		return nil, notFound(err, "schema "+key.Name+"/"+key.Version)
	}
	return out, nil
}

func (s *Postgres) ListSchemas(ctx context.Context, f SchemaFilter) ([]*models.Schema, error) {
	b := psql.Select(schemaColumns).From("schemas").OrderBy("name", "version")
	if f.Name != "" {
		b = b.Where(sq.Eq{"name": f.Name})
	}
	if f.Version != "" {
		b = b.Where(sq.Eq{"version": f.Version})
	}
	if f.OriginDID != "" {
		b = b.Where(sq.Eq{"origin_did": f.OriginDID})
	}
	rows, err := s.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("list schemas: %w", err)
	}
	defer rows.Close()
	var out []*models.Schema
	for rows.Next() {
		sc, err := scanSchema(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schema: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// Credential types

func scanCredentialType(row rowScanner) (*models.CredentialType, error) {
	var (
		ct      models.CredentialType
		config  []byte
		visible []byte
	)
	err := row.Scan(&ct.ID, &ct.IssuerID, &ct.SchemaID, &ct.Description, &config, &visible, &ct.LogoB64, &ct.URL, &ct.CreatedAt, &ct.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(config, &ct.ProcessorConfig); err != nil {
		return nil, fmt.Errorf("decode processor_config: %w", err)
	}
	if err := json.Unmarshal(visible, &ct.VisibleFields); err != nil {
		return nil, fmt.Errorf("decode visible_fields: %w", err)
	}
	return &ct, nil
}

// UpsertCredentialType creates the (issuer, schema) credential type or
// refreshes its configuration, keeping the original id.
func (s *Postgres) UpsertCredentialType(ctx context.Context, ct *models.CredentialType) (*models.CredentialType, error) {
	config, err := json.Marshal(ct.ProcessorConfig)
	if err != nil {
		return nil, fmt.Errorf("encode processor_config: %w", err)
	}
	visible, err := json.Marshal(nonNil(ct.VisibleFields))
	if err != nil {
		return nil, fmt.Errorf("encode visible_fields: %w", err)
	}
	b := psql.Insert("credential_types").
		Columns("id", "issuer_id", "schema_id", "description", "processor_config", "visible_fields", "logo_b64", "url", "created_at", "updated_at").
		Values(ct.ID, ct.IssuerID, ct.SchemaID, ct.Description, config, visible, ct.LogoB64, ct.URL, ct.CreatedAt, ct.UpdatedAt).
		Suffix(`ON CONFLICT (issuer_id, schema_id) DO UPDATE SET
			description = EXCLUDED.description,
			processor_config = EXCLUDED.processor_config,
			visible_fields = EXCLUDED.visible_fields,
			logo_b64 = EXCLUDED.logo_b64,
			url = EXCLUDED.url,
			updated_at = EXCLUDED.updated_at
			RETURNING ` + ctypeColumns)
	row, err := s.queryRow(ctx, b)
	if err != nil {
		return nil, err
	}
	out, err := scanCredentialType(row)
	if err != nil {
		return nil, fmt.Errorf("upsert credential type: %w", err)
	}
	return out, nil
}

func (s *Postgres) GetCredentialType(ctx context.Context, id uuid.UUID) (*models.CredentialType, error) {
	row, err := s.queryRow(ctx, psql.Select(ctypeColumns).From("credential_types").Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	out, err := scanCredentialType(row)
	if err != nil {
		return nil, notFound(err, "credential type "+id.String())
	}
	return out, nil
}

func (s *Postgres) FindCredentialTypeBySchema(ctx context.Context, key models.SchemaKey) (*models.CredentialType, error) {
	b := psql.Select(prefixed("ct", ctypeColumns)).
		From("credential_types ct").
		Join("schemas s ON s.id = ct.schema_id").
		Join("issuers i ON i.id = ct.issuer_id").
		Where(sq.Eq{"s.name": key.Name, "s.version": key.Version, "s.origin_did": key.OriginDID, "i.did": key.OriginDID})
	row, err := s.queryRow(ctx, b)
	if err != nil {
		return nil, err
	}
	out, err := scanCredentialType(row)
	if err != nil {
		return nil, notFound(err, "credential type for "+key.Name+"/"+key.Version)
	}
	return out, nil
}

func (s *Postgres) ListCredentialTypesByIssuer(ctx context.Context, issuerID uuid.UUID) ([]*models.CredentialType, error) {
	rows, err := s.query(ctx, psql.Select(ctypeColumns).From("credential_types").
		Where(sq.Eq{"issuer_id": issuerID}).OrderBy("created_at"))
	if err != nil {
		return nil, fmt.Errorf("list credential types: %w", err)
	}
	defer rows.Close()
	var out []*models.CredentialType
	for rows.Next() {
		ct, err := scanCredentialType(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential type: %w", err)
		}
		out = append(out, ct)
	}
	return out, rows.Err()
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
