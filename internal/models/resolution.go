package models

// Resolution is the canonical storage location a model reference maps to.
type Resolution struct {
	Name          string `json:"name"`
	GroupName     string `json:"group_name"`
	Variant       string `json:"variant"`
	Version       int    `json:"version"`
	StoragePrefix string `json:"storage_prefix"`
	Endpoint      string `json:"endpoint"`
	DisplayName   string `json:"display_name"`
}
