package deezer

// apiError is Deezer's in-band error object. The API reports failures with
// HTTP 200 and this object in place of the payload.
type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// Deezer error codes.
const (
	codeQuotaExceeded = 4
	codeNoData        = 800
)

// searchResponse is the JSON response from the Deezer track search endpoint.
type searchResponse struct {
	Error *apiError     `json:"error,omitempty"`
	Data  []trackResult `json:"data"`
	Total int           `json:"total"`
	Next  string        `json:"next,omitempty"`
}

// trackResult is a track entry from the ISRC, album, or search endpoints.
// Durations are in seconds.
type trackResult struct {
	Error          *apiError   `json:"error,omitempty"`
	ID             int         `json:"id"`
	Title          string      `json:"title"`
	Link           string      `json:"link"`
	ISRC           string      `json:"isrc"`
	Duration       int         `json:"duration"`
	Rank           int         `json:"rank"`
	ExplicitLyrics bool        `json:"explicit_lyrics"`
	TrackPosition  int         `json:"track_position"`
	DiskNumber     int         `json:"disk_number"`
	Artist         artistBrief `json:"artist"`
	Album          albumBrief  `json:"album"`
}

// artistBrief is the artist stub embedded in track payloads.
type artistBrief struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Link      string `json:"link"`
	PictureXL string `json:"picture_xl"`
}

// albumBrief is the album stub embedded in track payloads.
type albumBrief struct {
	ID      int    `json:"id"`
	Title   string `json:"title"`
	Link    string `json:"link"`
	CoverXL string `json:"cover_xl"`
}

// artistResult is a full artist entry from the artist endpoint.
type artistResult struct {
	Error      *apiError `json:"error,omitempty"`
	ID         int       `json:"id"`
	Name       string    `json:"name"`
	Link       string    `json:"link"`
	Picture    string    `json:"picture"`
	PictureBig string    `json:"picture_big"`
	PictureXL  string    `json:"picture_xl"`
	NbAlbum    int       `json:"nb_album"`
	NbFan      int       `json:"nb_fan"`
	Type       string    `json:"type"`
}

// albumListResponse is the artist discography listing. Entries carry no UPC
// and no tracks; those require a follow-up album fetch.
type albumListResponse struct {
	Error *apiError        `json:"error,omitempty"`
	Data  []albumListEntry `json:"data"`
	Total int              `json:"total"`
	Next  string           `json:"next,omitempty"`
}

type albumListEntry struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Link        string `json:"link"`
	CoverXL     string `json:"cover_xl"`
	ReleaseDate string `json:"release_date"`
	RecordType  string `json:"record_type"`
}

// albumResult is a full album payload with its embedded track listing.
type albumResult struct {
	Error       *apiError `json:"error,omitempty"`
	ID          int       `json:"id"`
	Title       string    `json:"title"`
	UPC         string    `json:"upc"`
	Link        string    `json:"link"`
	CoverXL     string    `json:"cover_xl"`
	ReleaseDate string    `json:"release_date"`
	RecordType  string    `json:"record_type"`
	Tracks      struct {
		Data []trackResult `json:"data"`
	} `json:"tracks"`
}
