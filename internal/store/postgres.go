package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the production Store implementation, reading the
// `providers`, `master_keys`, and `config_version` tables laid out in §6.
// Schema migrations are external to this package, per spec.md §1.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a connection pool against dsn (a
// postgresql://... URL, e.g. DB_URL).
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() { s.pool.Close() }

type modelMappingRow struct {
	Pattern  string `json:"pattern"`
	Upstream string `json:"upstream"`
}

func (s *PostgresStore) LoadEnabledProviders(ctx context.Context) ([]RawProvider, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, provider_type, api_base, api_key, weight,
		       model_mapping, anthropic_version, vertex_project,
		       vertex_location, vertex_publisher
		FROM providers
		WHERE is_enabled = true`)
	if err != nil {
		return nil, fmt.Errorf("load providers: %w", err)
	}
	defer rows.Close()

	var out []RawProvider
	for rows.Next() {
		var (
			p                                                  RawProvider
			mappingJSON                                        []byte
			anthropicVersion, vertexProject, vertexLoc, vertexPub *string
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Protocol, &p.BaseURL, &p.APIKey, &p.Weight,
			&mappingJSON, &anthropicVersion, &vertexProject, &vertexLoc, &vertexPub); err != nil {
			return nil, fmt.Errorf("scan provider row: %w", err)
		}
		p.Enabled = true
		if anthropicVersion != nil {
			p.AnthropicVersion = *anthropicVersion
		}
		if vertexProject != nil {
			p.Vertex.Project = *vertexProject
		}
		if vertexLoc != nil {
			p.Vertex.Location = *vertexLoc
		}
		if vertexPub != nil {
			p.Vertex.Publisher = *vertexPub
		}
		var mapping []modelMappingRow
		if len(mappingJSON) > 0 {
			if err := json.Unmarshal(mappingJSON, &mapping); err != nil {
				return nil, fmt.Errorf("unmarshal model_mapping for provider %s: %w", p.ID, err)
			}
		}
		for _, m := range mapping {
			p.ModelMap = append(p.ModelMap, RawModelMapEntry{Pattern: m.Pattern, Upstream: m.Upstream})
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) LoadEnabledCredentials(ctx context.Context) ([]RawCredential, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, key_hash, allowed_models, rate_limit_rps, rate_limit_burst
		FROM master_keys
		WHERE is_enabled = true`)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	defer rows.Close()

	var out []RawCredential
	for rows.Next() {
		var (
			c               RawCredential
			allowedJSON     []byte
			rps, burst      *int
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.KeyHash, &allowedJSON, &rps, &burst); err != nil {
			return nil, fmt.Errorf("scan credential row: %w", err)
		}
		c.Enabled = true
		if len(allowedJSON) > 0 {
			if err := json.Unmarshal(allowedJSON, &c.AllowedModels); err != nil {
				return nil, fmt.Errorf("unmarshal allowed_models for credential %s: %w", c.ID, err)
			}
		}
		if rps != nil {
			c.RequestsPerSecond = *rps
		}
		if burst != nil {
			c.BurstSize = *burst
		} else if rps != nil {
			c.BurstSize = *rps
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetConfigVersion(ctx context.Context) (int64, error) {
	var version int64
	err := s.pool.QueryRow(ctx, `SELECT version FROM config_version WHERE id = 1`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read config_version: %w", err)
	}
	return version, nil
}
