package instances

import "time"

// Instance identifies one record of an asset.
type Instance struct {
	ID        int64     `json:"id"`
	AssetID   int64     `json:"asset_id"`
	RecordID  string    `json:"record_id"`
	CreatedAt time.Time `json:"created_at"`
}
