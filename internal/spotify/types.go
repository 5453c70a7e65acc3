package spotify

// Artist is an upstream top-list artist with its denormalized stats.
type Artist struct {
	SpotifyID  string
	Name       string
	Genres     string // comma-separated
	ImageURL   string
	URI        string
	Followers  int64
	Popularity int
}

// Track is an upstream top-list track with the metadata served on the
// stats endpoint.
type Track struct {
	SpotifyID  string
	Title      string
	Artists    string // comma-separated artist names
	Album      string
	PreviewURL string
	ImageURL   string
	Popularity int
}
