package transfer

import "time"

type InstagramToken struct {
	UserID      int       `json:"user_id"`
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type InstagramUserInfo struct {
	UserID         string `json:"id"`
	Username       string `json:"username"`
	Name           string `json:"name"`
	AccountType    string `json:"account_type"`
	ProfilePicture string `json:"profile_picture_url"`
}

// InstagramMedia is one entry of the provider media-listing endpoint.
type InstagramMedia struct {
	ID           string `json:"id"`
	Caption      string `json:"caption"`
	MediaType    string `json:"media_type"`
	Permalink    string `json:"permalink"`
	MediaURL     string `json:"media_url"`
	ThumbnailURL string `json:"thumbnail_url"`
	Timestamp    string `json:"timestamp"`
}

type InstagramMediaList struct {
	Data   []InstagramMedia `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

// InstagramInsights mirrors the per-media insights endpoint response.
type InstagramInsights struct {
	Data []struct {
		Name   string `json:"name"`
		Period string `json:"period"`
		Values []struct {
			Value int64 `json:"value"`
		} `json:"values"`
	} `json:"data"`
}

// InstagramAPIError is the error envelope Graph-style endpoints return.
type InstagramAPIError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}
