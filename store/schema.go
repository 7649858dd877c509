package store

import "fmt"

// DynamoDB schema constants for single-table design
const (
	// Table attributes
	AttrPK         = "PK"
	AttrSK         = "SK"
	AttrGSI1PK     = "GSI1PK"
	AttrGSI1SK     = "GSI1SK"
	AttrEntityType = "entity_type"
	AttrVersion    = "version"
	AttrData       = "data"
	AttrTTL        = "ttl"

	// Entity types
	EntityTypeCheckpoint = "Checkpoint"
	EntityTypeLatest     = "LatestCheckpoint"

	// Index names
	IndexStatusIndex = "GSI1"
)

// Key builders for single-table design

// Checkpoint version keys: PK=SESSION#{sessionID}, SK=V#{version:010d}
func sessionPK(sessionID string) string {
	return fmt.Sprintf("SESSION#%s", sessionID)
}

func versionSK(version int) string {
	return fmt.Sprintf("%s%010d", versionSKPrefix(), version)
}

// Latest pointer key: PK=SESSION#{sessionID}, SK=LATEST
func latestSK() string {
	return "LATEST"
}

// Latest pointers are indexed by status: GSI1PK=STATUS#{status}, GSI1SK={updatedAt}
func statusGSI1PK(status string) string {
	return fmt.Sprintf("STATUS#%s", status)
}

// Prefix for range queries
func versionSKPrefix() string {
	return "V#"
}
