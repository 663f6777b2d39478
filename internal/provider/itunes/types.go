package itunes

// Wrapper and kind discriminators used by the iTunes Search API.
const (
	wrapperArtist     = "artist"
	wrapperCollection = "collection"
	wrapperTrack      = "track"
	kindSong          = "song"
)

// lookupResponse is the envelope shared by the search and lookup endpoints.
// A miss is resultCount 0, never an HTTP error.
type lookupResponse struct {
	ResultCount int            `json:"resultCount"`
	Results     []lookupResult `json:"results"`
}

// lookupResult is one entry in a lookup or search response. Artists, albums,
// and songs all come through the same envelope, discriminated by wrapperType.
type lookupResult struct {
	WrapperType       string `json:"wrapperType"`
	Kind              string `json:"kind"`
	CollectionType    string `json:"collectionType"`
	ArtistID          int64  `json:"artistId"`
	CollectionID      int64  `json:"collectionId"`
	TrackID           int64  `json:"trackId"`
	ArtistName        string `json:"artistName"`
	CollectionName    string `json:"collectionName"`
	TrackName         string `json:"trackName"`
	ArtistLinkURL     string `json:"artistLinkUrl"`
	ArtistViewURL     string `json:"artistViewUrl"`
	CollectionViewURL string `json:"collectionViewUrl"`
	TrackViewURL      string `json:"trackViewUrl"`
	ArtworkURL100     string `json:"artworkUrl100"`
	ReleaseDate       string `json:"releaseDate"`
	TrackTimeMillis   int    `json:"trackTimeMillis"`
	DiscNumber        int    `json:"discNumber"`
	TrackNumber       int    `json:"trackNumber"`
	TrackCount        int    `json:"trackCount"`
	TrackExplicitness string `json:"trackExplicitness"`
	PrimaryGenreName  string `json:"primaryGenreName"`
}
