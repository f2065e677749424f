package server

import (
	"github.com/MarcoPoloResearchLab/waxlog/internal/albums"
	"github.com/MarcoPoloResearchLab/waxlog/internal/favorites"
	"github.com/MarcoPoloResearchLab/waxlog/internal/lists"
	"github.com/MarcoPoloResearchLab/waxlog/internal/ratings"
	"github.com/MarcoPoloResearchLab/waxlog/internal/stats"
	"github.com/MarcoPoloResearchLab/waxlog/internal/users"
)

type credentialsRequestPayload struct {
	Username string `json:"username" validate:"required,max=150"`
	Password string `json:"password" validate:"required,max=72"`
}

type tokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

type profileUpdatePayload struct {
	DisplayName *string `json:"display_name" validate:"omitempty,max=150"`
	Bio         *string `json:"bio" validate:"omitempty,max=2000"`
	AvatarURL   *string `json:"avatar_url" validate:"omitempty,max=1024"`
}

type userResponsePayload struct {
	ID               string `json:"id"`
	Username         string `json:"username"`
	DisplayName      string `json:"display_name"`
	Bio              string `json:"bio"`
	AvatarURL        string `json:"avatar_url"`
	CreatedAtSeconds int64  `json:"created_at_s"`
}

func toUserPayload(user users.User) userResponsePayload {
	return userResponsePayload{
		ID:               user.UserID,
		Username:         user.Username,
		DisplayName:      user.DisplayName,
		Bio:              user.Bio,
		AvatarURL:        user.AvatarURL,
		CreatedAtSeconds: user.CreatedAtSeconds,
	}
}

// albumRequestPayload carries what a client learned about an album from the catalog.
type albumRequestPayload struct {
	ID          string   `json:"id" validate:"required,max=190"`
	Name        string   `json:"name" validate:"required,max=512"`
	Artist      string   `json:"artist" validate:"max=512"`
	ImageURL    string   `json:"image_url" validate:"omitempty,url,max=1024"`
	ReleaseDate string   `json:"release_date" validate:"max=10"`
	ExternalURL string   `json:"external_url" validate:"omitempty,url,max=1024"`
	Genres      []string `json:"genres" validate:"max=20,dive,max=255"`
}

func (p albumRequestPayload) input() albums.Input {
	return albums.Input{
		CatalogID:   albums.CatalogID(p.ID),
		Name:        p.Name,
		Artist:      p.Artist,
		ImageURL:    p.ImageURL,
		ReleaseDate: p.ReleaseDate,
		ExternalURL: p.ExternalURL,
		Genres:      p.Genres,
	}
}

type albumResponsePayload struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Artist        string   `json:"artist"`
	ImageURL      string   `json:"image_url"`
	ReleaseDate   string   `json:"release_date"`
	ExternalURL   string   `json:"external_url"`
	Genres        []string `json:"genres"`
	AverageRating float64  `json:"average_rating"`
	TotalLogs     int64    `json:"total_logs"`
}

func toAlbumPayload(album albums.Album) albumResponsePayload {
	genres := albums.SplitGenres(album.Genres)
	if genres == nil {
		genres = []string{}
	}
	return albumResponsePayload{
		ID:            album.CatalogID,
		Name:          album.Name,
		Artist:        album.Artist,
		ImageURL:      album.ImageURL,
		ReleaseDate:   album.ReleaseDate,
		ExternalURL:   album.ExternalURL,
		Genres:        genres,
		AverageRating: album.AverageRating,
		TotalLogs:     album.TotalLogs,
	}
}

// logCreatePayload submits a rating. Album is optional: when present the album is
// created first, otherwise AlbumID must name a known album.
type logCreatePayload struct {
	AlbumID       string               `json:"album_id" validate:"required_without=Album,max=190"`
	Album         *albumRequestPayload `json:"album" validate:"omitempty"`
	Rating        int                  `json:"rating" validate:"required,gte=1,lte=5"`
	Review        string               `json:"review" validate:"max=10000"`
	ListenDate    string               `json:"listen_date" validate:"omitempty,datetime=2006-01-02"`
	FavoriteTrack string               `json:"favorite_track" validate:"max=512"`
	Relisten      bool                 `json:"relisten"`
}

type logUpdatePayload struct {
	Rating        *int    `json:"rating" validate:"omitempty,gte=1,lte=5"`
	Review        *string `json:"review" validate:"omitempty,max=10000"`
	ListenDate    *string `json:"listen_date"`
	FavoriteTrack *string `json:"favorite_track" validate:"omitempty,max=512"`
	Relisten      *bool   `json:"relisten"`
}

func (p logUpdatePayload) changes() ratings.Changes {
	return ratings.Changes{
		Rating:        p.Rating,
		Review:        p.Review,
		ListenDate:    p.ListenDate,
		FavoriteTrack: p.FavoriteTrack,
		Relisten:      p.Relisten,
	}
}

type logResponsePayload struct {
	ID               string               `json:"id"`
	Rating           int                  `json:"rating"`
	Review           string               `json:"review"`
	ListenDate       string               `json:"listen_date"`
	FavoriteTrack    string               `json:"favorite_track"`
	Relisten         bool                 `json:"relisten"`
	CreatedAtSeconds int64                `json:"created_at_s"`
	UpdatedAtSeconds int64                `json:"updated_at_s"`
	Album            albumResponsePayload `json:"album"`
}

func toLogPayload(view ratings.LogView) logResponsePayload {
	return logResponsePayload{
		ID:               view.Log.LogID,
		Rating:           view.Log.Rating,
		Review:           view.Log.Review,
		ListenDate:       view.Log.ListenDate,
		FavoriteTrack:    view.Log.FavoriteTrack,
		Relisten:         view.Log.Relisten,
		CreatedAtSeconds: view.Log.CreatedAtSeconds,
		UpdatedAtSeconds: view.Log.UpdatedAtSeconds,
		Album:            toAlbumPayload(view.Album),
	}
}

type favoriteResponsePayload struct {
	AddedAtSeconds int64                `json:"added_at_s"`
	Album          albumResponsePayload `json:"album"`
}

func toFavoritePayload(view favorites.View) favoriteResponsePayload {
	return favoriteResponsePayload{
		AddedAtSeconds: view.Favorite.AddedAtSeconds,
		Album:          toAlbumPayload(view.Album),
	}
}

type listCreatePayload struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"max=5000"`
}

type listUpdatePayload struct {
	Title       *string `json:"title" validate:"omitempty,max=200"`
	Description *string `json:"description" validate:"omitempty,max=5000"`
}

type rankPayload struct {
	ID   string `json:"id"`
	Rank int    `json:"rank"`
}

type listResponsePayload struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	Description      string `json:"description"`
	EntryCount       int64  `json:"entry_count"`
	CreatedAtSeconds int64  `json:"created_at_s"`
	UpdatedAtSeconds int64  `json:"updated_at_s"`
}

type listDetailResponsePayload struct {
	listResponsePayload
	Entries []entryResponsePayload `json:"entries"`
}

type entryResponsePayload struct {
	ID               string `json:"id"`
	AlbumID          string `json:"album_id"`
	Name             string `json:"name"`
	Artist           string `json:"artist"`
	ImageURL         string `json:"image_url"`
	ReleaseDate      string `json:"release_date"`
	ExternalURL      string `json:"external_url"`
	Genre            string `json:"genre"`
	Rank             int    `json:"rank"`
	CreatedAtSeconds int64  `json:"created_at_s"`
	AlreadyPresent   bool   `json:"already_present,omitempty"`
}

func toListPayload(list lists.List, entryCount int64) listResponsePayload {
	return listResponsePayload{
		ID:               list.ListID,
		Title:            list.Title,
		Description:      list.Description,
		EntryCount:       entryCount,
		CreatedAtSeconds: list.CreatedAtSeconds,
		UpdatedAtSeconds: list.UpdatedAtSeconds,
	}
}

func toListDetailPayload(detail lists.Detail) listDetailResponsePayload {
	return listDetailResponsePayload{
		listResponsePayload: toListPayload(detail.List, int64(len(detail.Entries))),
		Entries:             toEntryPayloads(detail.Entries),
	}
}

func toEntryPayload(entry lists.Entry) entryResponsePayload {
	return entryResponsePayload{
		ID:               entry.EntryID,
		AlbumID:          entry.CatalogID,
		Name:             entry.Name,
		Artist:           entry.Artist,
		ImageURL:         entry.ImageURL,
		ReleaseDate:      entry.ReleaseDate,
		ExternalURL:      entry.ExternalURL,
		Genre:            entry.Genre,
		Rank:             entry.Rank,
		CreatedAtSeconds: entry.CreatedAtSeconds,
	}
}

func toEntryPayloads(entries []lists.Entry) []entryResponsePayload {
	payloads := make([]entryResponsePayload, 0, len(entries))
	for _, entry := range entries {
		payloads = append(payloads, toEntryPayload(entry))
	}
	return payloads
}

type statsResponsePayload struct {
	TotalAlbums         int64         `json:"total_albums"`
	AverageRating       float64       `json:"average_rating"`
	TotalRelistens      int64         `json:"total_relistens"`
	RatingsDistribution map[int]int64 `json:"ratings_distribution"`
	Last30Days          int64         `json:"last_30_days"`
	TopArtist           string        `json:"top_artist"`
	TopGenre            string        `json:"top_genre"`
}

func toStatsPayload(report stats.Report) statsResponsePayload {
	return statsResponsePayload{
		TotalAlbums:         report.TotalAlbums,
		AverageRating:       report.AverageRating,
		TotalRelistens:      report.TotalRelistens,
		RatingsDistribution: report.RatingsDistribution,
		Last30Days:          report.Last30Days,
		TopArtist:           report.TopArtist,
		TopGenre:            report.TopGenre,
	}
}
