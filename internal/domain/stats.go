package domain

// IngestStats summarises one ingestion run.
type IngestStats struct {
	Parsed      int `json:"parsed"`
	Inserted    int `json:"inserted"`
	Scanned     int `json:"scanned"`
	Obligations int `json:"obligations"`
	Errors      int `json:"errors"`
}

// DispatchStats summarises one dispatch run.
type DispatchStats struct {
	Attempted   int `json:"attempted"`
	Sent        int `json:"sent"`
	Failed      int `json:"failed"`
	Deactivated int `json:"deactivated"`
	Errors      int `json:"errors"`
}
