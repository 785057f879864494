package normalizer

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	DomainFractional          = "fractional"
	DomainAMM                 = "amm"
	DomainDistributionHandler = "distributionhandler"
)

// errInvalidPayload marks a decoded payload that a mapper cannot use.
var errInvalidPayload = errors.New("invalid payload")

// MapFunc turns a decoded payload into the normalized payload for one
// domain. It must be a pure function of its input.
type MapFunc func(event string, payload map[string]any) (map[string]any, error)

var domainMappers = map[string]MapFunc{
	DomainFractional:          mapFractional,
	DomainAMM:                 mapAMM,
	DomainDistributionHandler: mapDistribution,
}

var defaultContracts = map[string]string{
	"Fractional":          DomainFractional,
	"AMM":                 DomainAMM,
	"DistributionHandler": DomainDistributionHandler,
}

// Registry resolves a contract name to its domain and mapper.
type Registry struct {
	contracts map[string]string
}

// NewRegistry builds the default contract table plus overrides
// (contract name -> domain). Unknown domains are rejected.
func NewRegistry(overrides map[string]string) (*Registry, error) {
	contracts := make(map[string]string, len(defaultContracts)+len(overrides))
	for k, v := range defaultContracts {
		contracts[k] = v
	}
	for contract, domain := range overrides {
		contract = strings.TrimSpace(contract)
		domain = strings.ToLower(strings.TrimSpace(domain))
		if contract == "" {
			continue
		}
		if _, ok := domainMappers[domain]; !ok {
			return nil, fmt.Errorf("unknown domain %q for contract %s (known: %s)", domain, contract, strings.Join(Domains(), ", "))
		}
		contracts[contract] = domain
	}
	return &Registry{contracts: contracts}, nil
}

// Lookup returns the domain and mapper for contract.
func (r *Registry) Lookup(contract string) (string, MapFunc, bool) {
	domain, ok := r.contracts[contract]
	if !ok {
		return "", nil, false
	}
	return domain, domainMappers[domain], true
}

// Domains lists the known domains.
func Domains() []string {
	out := make([]string, 0, len(domainMappers))
	for d := range domainMappers {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func mapFractional(_ string, payload map[string]any) (map[string]any, error) {
	out := copyPayload(payload)
	if _, ok := coerceString(out["vaultId"]); !ok {
		return nil, fmt.Errorf("%w: vaultId missing", errInvalidPayload)
	}

	if raw, ok := out["mints"]; ok && raw != nil {
		list, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: mints is not a list", errInvalidPayload)
		}
		mints := make([]any, 0, len(list))
		for i, entry := range list {
			mint, ok := normalizeMint(entry)
			if !ok {
				return nil, fmt.Errorf("%w: mint %d lacks account or amount", errInvalidPayload, i)
			}
			mints = append(mints, mint)
		}
		out["mints"] = mints
	}
	return out, nil
}

func mapAMM(_ string, payload map[string]any) (map[string]any, error) {
	out := copyPayload(payload)
	if _, ok := coerceString(out["vaultId"]); !ok {
		poolID, ok := coerceString(out["poolId"])
		if !ok {
			return nil, fmt.Errorf("%w: vaultId and poolId missing", errInvalidPayload)
		}
		out["vaultId"] = poolID
	}
	return out, nil
}

func mapDistribution(_ string, payload map[string]any) (map[string]any, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", errInvalidPayload)
	}
	return copyPayload(payload), nil
}

// normalizeMint accepts a field-list struct, a flat object, or a
// positional pair and returns {account, amount}.
func normalizeMint(entry any) (map[string]any, bool) {
	var account, amount any
	switch t := flattenValue(entry).(type) {
	case map[string]any:
		account = firstPresent(t, "account", "0")
		amount = firstPresent(t, "amount", "1")
	case []any:
		if len(t) >= 2 {
			account, amount = t[0], t[1]
		}
	}

	a, ok := coerceString(account)
	if !ok {
		return nil, false
	}
	n, ok := coerceString(amount)
	if !ok {
		return nil, false
	}
	return map[string]any{"account": a, "amount": n}, true
}

func firstPresent(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func copyPayload(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	return out
}
