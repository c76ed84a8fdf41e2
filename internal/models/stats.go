package models

import "time"

// GroupCount is a group name with its number of versions.
type GroupCount struct {
	GroupName    string `db:"group_name" json:"group_name"`
	VersionCount int    `db:"version_count" json:"version_count"`
}

// RecentVersion is a version joined with its model's name.
type RecentVersion struct {
	ModelName string        `db:"model_name" json:"model_name"`
	Version   int           `db:"version" json:"version"`
	Status    VersionStatus `db:"status" json:"status"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
}

// DashboardStats summarizes the registry contents.
type DashboardStats struct {
	TotalModels    int              `json:"total_models"`
	TotalGroups    int              `json:"total_groups"`
	TotalVersions  int              `json:"total_versions"`
	TotalAliases   int              `json:"total_aliases"`
	RecentModels   int              `json:"recent_models"`
	RecentVersions int              `json:"recent_versions"`
	TopGroups      []GroupCount     `json:"top_groups"`
	LatestModels   []*Model         `json:"latest_models"`
	LatestVersions []*RecentVersion `json:"latest_versions"`
}
