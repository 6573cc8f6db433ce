package storage

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Watchlist entries of the form schema.table.field are references: the
// symbols are read from that column.
var pgSymbolRegex = regexp.MustCompile(`^(\w+)\.(\w+)\.(\w+)$`)

// IsSymbolRef reports whether a watchlist entry is a table reference.
func IsSymbolRef(entry string) bool {
	return pgSymbolRegex.MatchString(entry)
}

// -----------------------------------------------------------------------------

// ResolveWatchlist expands table references in a watchlist, records the
// result in watchlist_symbols and returns the plain symbol list.
func (d *PostgresDB) ResolveWatchlist(ctx context.Context, name string, entries []string) ([]string, error) {
	type row struct{ symbol, ref string }
	var resolved []row

	for _, entry := range entries {
		matches := pgSymbolRegex.FindStringSubmatch(entry)
		if len(matches) != 4 {
			resolved = append(resolved, row{symbol: strings.ToUpper(entry)})
			continue
		}
		loaded, err := d.GetSymbolsFromTable(ctx, matches[1], matches[2], matches[3])
		if err != nil {
			return nil, fmt.Errorf("failed to load symbols from %s: %w", entry, err)
		}
		for _, s := range loaded {
			resolved = append(resolved, row{symbol: strings.ToUpper(s), ref: entry})
		}
	}

	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE watchlist = $1`, d.table("watchlist_symbols")), name); err != nil {
		return nil, err
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (watchlist, symbol, ref, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (watchlist, symbol) DO UPDATE SET
			ref = EXCLUDED.ref,
			updated_at = EXCLUDED.updated_at
	`, d.table("watchlist_symbols")))
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	symbols := make([]string, 0, len(resolved))
	for _, r := range resolved {
		if _, err := stmt.ExecContext(ctx, name, r.symbol, r.ref, now); err != nil {
			return nil, err
		}
		symbols = append(symbols, r.symbol)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return symbols, nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) GetSymbolsFromTable(ctx context.Context, schema, table, field string) ([]string, error) {
	// Identifiers are \w+ only, so quoting is enough.
	query := fmt.Sprintf(`SELECT DISTINCT "%s" FROM "%s"."%s"`, field, schema, table)

	rows, err := d.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		if s != "" {
			symbols = append(symbols, s)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return symbols, nil
}
