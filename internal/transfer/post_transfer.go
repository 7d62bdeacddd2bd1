package transfer

// PostRegistration is the payload the client sends shortly after publishing
// a promotional post.
type PostRegistration struct {
	AccountID          string `json:"account_id"`
	MediaID            string `json:"media_id"`
	MediaType          string `json:"media_type"`
	CampaignID         string `json:"campaign_id"`
	CampaignName       string `json:"campaign_name"`
	Permalink          string `json:"permalink"`
	ThumbnailSourceURL string `json:"thumbnail_source_url"`
	PostedAt           string `json:"posted_at"` // RFC 3339
}

// TrackedPostInfo is the read-side projection; metric fields stay null until
// the post has been measured.
type TrackedPostInfo struct {
	ID               int64  `json:"id"`
	AccountID        string `json:"account_id"`
	MediaID          string `json:"media_id"`
	CampaignID       string `json:"campaign_id"`
	CampaignName     string `json:"campaign_name"`
	MediaType        string `json:"media_type"`
	Permalink        string `json:"permalink"`
	ThumbnailURL     string `json:"thumbnail_url"`
	PostedAt         string `json:"posted_at"`
	MeasurementDueAt string `json:"measurement_due_at"`
	Status           string `json:"status"`
	DataFetchedAt    *string `json:"data_fetched_at,omitempty"`
	Views            *int64  `json:"views,omitempty"`
	Reach            *int64  `json:"reach,omitempty"`
	Saved            *int64  `json:"saved,omitempty"`
	Shares           *int64  `json:"shares,omitempty"`
	Likes            *int64  `json:"likes,omitempty"`
	Comments         *int64  `json:"comments,omitempty"`
	AvgWatchTimeMs   *int64  `json:"avg_watch_time_ms,omitempty"`
	TotalWatchTimeMs *int64  `json:"total_watch_time_ms,omitempty"`
}
