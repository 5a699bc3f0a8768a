package database

import "context"

const providerColumns = `id, provider_id, provider_name, host, port, system_id,
	password, system_type, priority, weight, enabled, max_connections, created_at, updated_at`

func scanProvider(row interface{ Scan(dest ...interface{}) error }) (Provider, error) {
	var p Provider
	err := row.Scan(
		&p.ID, &p.ProviderID, &p.ProviderName, &p.Host, &p.Port, &p.SystemID,
		&p.Password, &p.SystemType, &p.Priority, &p.Weight, &p.Enabled,
		&p.MaxConnections, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

func (q *Queries) GetProviderByID(ctx context.Context, providerID string) (Provider, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+providerColumns+` FROM providers WHERE provider_id = $1`,
		providerID,
	)
	return scanProvider(row)
}

// ListEnabledProviders returns enabled providers in failover order, lowest
// priority value first.
func (q *Queries) ListEnabledProviders(ctx context.Context) ([]Provider, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+providerColumns+` FROM providers
		WHERE enabled = true
		ORDER BY priority ASC, provider_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var providers []Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, rows.Err()
}
