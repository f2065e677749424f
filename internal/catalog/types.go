package catalog

import (
	"strings"

	"github.com/MarcoPoloResearchLab/waxlog/internal/albums"
)

// Album is a catalog search result.
type Album struct {
	CatalogID   string   `json:"id"`
	Name        string   `json:"name"`
	Artist      string   `json:"artist"`
	ImageURL    string   `json:"image_url"`
	ReleaseDate string   `json:"release_date"`
	ExternalURL string   `json:"external_url"`
	TotalTracks int      `json:"total_tracks"`
	Genres      []string `json:"genres"`
}

// Track is one track of a catalog album.
type Track struct {
	CatalogID   string `json:"id"`
	Name        string `json:"name"`
	TrackNumber int    `json:"track_number"`
	DurationMS  int    `json:"duration_ms"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type searchResponse struct {
	Albums struct {
		Items []*albumItem `json:"items"`
	} `json:"albums"`
}

type albumItem struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	ReleaseDate string   `json:"release_date"`
	TotalTracks int      `json:"total_tracks"`
	Genres      []string `json:"genres"`
	Artists     []struct {
		Name string `json:"name"`
	} `json:"artists"`
	Images []struct {
		URL string `json:"url"`
	} `json:"images"`
	ExternalURLs struct {
		Spotify string `json:"spotify"`
	} `json:"external_urls"`
}

func (item *albumItem) toAlbum() Album {
	album := Album{
		CatalogID:   item.ID,
		Name:        strings.TrimSpace(item.Name),
		ReleaseDate: albums.NormalizeReleaseDate(item.ReleaseDate),
		ExternalURL: item.ExternalURLs.Spotify,
		TotalTracks: item.TotalTracks,
		Genres:      albums.SplitGenres(strings.Join(item.Genres, ",")),
	}
	if len(item.Artists) > 0 {
		album.Artist = item.Artists[0].Name
	}
	if len(item.Images) > 0 {
		album.ImageURL = item.Images[0].URL
	}
	return album
}

type tracksResponse struct {
	Items []trackItem `json:"items"`
}

type trackItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	TrackNumber int    `json:"track_number"`
	DurationMS  int    `json:"duration_ms"`
}

func (item trackItem) toTrack() Track {
	return Track{
		CatalogID:   item.ID,
		Name:        item.Name,
		TrackNumber: item.TrackNumber,
		DurationMS:  item.DurationMS,
	}
}
