package main

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
)

// OverrideRequest carries exactly one of its three forms: re-run the
// picker against the current catalog, an explicit list of five path keys,
// or five identities to resolve through the catalog (one per level, in
// level order).
type OverrideRequest struct {
	FromCatalog bool     `json:"fromCatalog,omitempty"`
	Keys        []string `json:"keys,omitempty"`
	Names       []string `json:"names,omitempty"`
}

func (r *OverrideRequest) validate() error {
	forms := 0
	if r.FromCatalog {
		forms++
	}
	if len(r.Keys) > 0 {
		forms++
	}
	if len(r.Names) > 0 {
		forms++
	}
	if forms != 1 {
		return errMalformedOverride
	}
	if len(r.Keys) > 0 && len(r.Keys) != levelCount {
		return fmt.Errorf("%w: keys must contain exactly %d entries", errMalformedOverride, levelCount)
	}
	if len(r.Names) > 0 && len(r.Names) != levelCount {
		return fmt.Errorf("%w: names must contain exactly %d entries", errMalformedOverride, levelCount)
	}
	return nil
}

// checkAdminToken compares a presented "Bearer <token>" header value
// against the configured secret in constant time. An empty configured
// secret disables the channel entirely.
func checkAdminToken(cfg *Config, header string) error {
	if cfg.adminToken == "" {
		return errOverridesDisabled
	}

	presented, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return errUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(cfg.adminToken)) != 1 {
		return errUnauthorized
	}

	return nil
}

// applyOverride resolves the request to five path keys and writes them
// unconditionally into the override slot for the date. Overwriting a
// prior override is intentional (operator correction is the purpose of
// this channel); the committed slot is never modified, so what was
// originally auto-picked remains on record.
func applyOverride(ctx context.Context, store *Store, catalog *Catalog, date string, req *OverrideRequest) ([]string, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	var keys []string
	switch {
	case req.FromCatalog:
		picked, err := pickKeys(catalog, date)
		if err != nil {
			return nil, err
		}
		if len(picked) != levelCount {
			return nil, fmt.Errorf("%w: catalog yields only %d of %d levels", errCatalogUnavailable, len(picked), levelCount)
		}
		keys = picked

	case len(req.Keys) > 0:
		keys = make([]string, levelCount)
		for i, k := range req.Keys {
			// Normalize through the codec so operator-entered keys
			// compare equal to catalog-derived ones.
			keys[i] = pathKey(strings.Split(k, pathKeySeparator))
		}

	default:
		keys = make([]string, levelCount)
		var unresolved []string
		for i, name := range req.Names {
			key, ok := catalog.ResolveIdentity(name, i+1)
			if !ok {
				unresolved = append(unresolved, name)
				continue
			}
			keys[i] = key
		}
		if len(unresolved) > 0 {
			return nil, fmt.Errorf("%w: %s", errUnresolvedOverride, strings.Join(unresolved, ", "))
		}
	}

	if err := store.OverridePuzzle(ctx, date, keys); err != nil {
		return nil, err
	}

	return keys, nil
}
