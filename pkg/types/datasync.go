package types

import "time"

// DataSync maps an external source onto a synchronized table.
type DataSync struct {
	ID        int64             `json:"id"`
	TableID   int64             `json:"table_id"`
	Type      string            `json:"type"`
	Params    map[string]string `json:"params"`
	LastSync  *time.Time        `json:"last_sync"`
	LastError *string           `json:"last_error"`
	CreatedOn time.Time         `json:"created_on"`
}

// DataSyncProperty is a visible property of a data sync, bound to a field.
type DataSyncProperty struct {
	ID         int64  `json:"id"`
	DataSyncID int64  `json:"data_sync_id"`
	FieldID    int64  `json:"field_id"`
	Key        string `json:"key"`
}

// UserFile is an uploaded blob referenced by file field values.
type UserFile struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	OriginalName string    `json:"original_name"`
	Size         int64     `json:"size"`
	MimeType     string    `json:"mime_type"`
	UploadedBy   UserID    `json:"uploaded_by"`
	UploadedAt   time.Time `json:"uploaded_at"`
}
