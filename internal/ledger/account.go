package ledger

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeCollateral AccountSubType = iota
	SubTypeDebt

	// System sub-types
	SubTypeSystemIssued

	// External sub-types
	SubTypeExternalDeposits
)

// AssetID maps asset strings to numeric IDs for compact keys
type AssetID uint16

// The asset registry is fixed at engine construction: the liability
// token gets ID 1, collateral assets follow in configuration order.
var (
	assetMu   sync.RWMutex
	assetToID = map[string]AssetID{}
	idToAsset = map[AssetID]string{}
)

// RegisterAssets installs the asset set. Called once at startup (and in
// test setup); replaces any previous registration.
func RegisterAssets(liability string, collateral []string) {
	assetMu.Lock()
	defer assetMu.Unlock()

	assetToID = make(map[string]AssetID, len(collateral)+1)
	idToAsset = make(map[AssetID]string, len(collateral)+1)

	assetToID[liability] = 1
	idToAsset[1] = liability
	for i, asset := range collateral {
		id := AssetID(i + 2)
		assetToID[asset] = id
		idToAsset[id] = asset
	}
}

func GetAssetID(asset string) (AssetID, bool) {
	assetMu.RLock()
	defer assetMu.RUnlock()
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	assetMu.RLock()
	defer assetMu.RUnlock()
	name, ok := idToAsset[id]
	return name, ok
}

// AccountKey is the in-memory key for balance tracking (20 bytes, cache-friendly)
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // UUID for users, zero for system/external accounts
	SubType  AccountSubType
	AssetID  AssetID
}

// NewUserAccountKey creates a key for user accounts
func NewUserAccountKey(userID uuid.UUID, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: userID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewSystemAccountKey creates a key for system accounts
func NewSystemAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		SubType: subType,
		AssetID: assetID,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeUser:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("user:%s:%s:%s", uid.String(), k.subTypeName(), assetName)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeCollateral:
		return "collateral"
	case SubTypeDebt:
		return "debt"
	case SubTypeSystemIssued:
		return "issued"
	case SubTypeExternalDeposits:
		return "deposits"
	default:
		return "unknown"
	}
}

func subTypeFromName(name string) (AccountSubType, bool) {
	switch name {
	case "collateral":
		return SubTypeCollateral, true
	case "debt":
		return SubTypeDebt, true
	case "issued":
		return SubTypeSystemIssued, true
	case "deposits":
		return SubTypeExternalDeposits, true
	}
	return 0, false
}

// ParseAccountPath is the inverse of AccountPath, used when restoring
// balances from a snapshot.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")

	switch {
	case len(parts) == 4 && parts[0] == "user":
		uid, err := uuid.Parse(parts[1])
		if err != nil {
			return AccountKey{}, fmt.Errorf("parse account path %q: %w", path, err)
		}
		sub, ok := subTypeFromName(parts[2])
		if !ok {
			return AccountKey{}, fmt.Errorf("parse account path %q: unknown sub-type", path)
		}
		assetID, ok := GetAssetID(parts[3])
		if !ok {
			return AccountKey{}, fmt.Errorf("parse account path %q: unknown asset", path)
		}
		return NewUserAccountKey(uid, sub, assetID), nil

	case len(parts) == 3 && (parts[0] == "system" || parts[0] == "external"):
		sub, ok := subTypeFromName(parts[1])
		if !ok {
			return AccountKey{}, fmt.Errorf("parse account path %q: unknown sub-type", path)
		}
		assetID, ok := GetAssetID(parts[2])
		if !ok {
			return AccountKey{}, fmt.Errorf("parse account path %q: unknown asset", path)
		}
		if parts[0] == "system" {
			return NewSystemAccountKey(sub, assetID), nil
		}
		return NewExternalAccountKey(sub, assetID), nil
	}

	return AccountKey{}, fmt.Errorf("parse account path %q: unrecognized shape", path)
}
