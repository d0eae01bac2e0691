package models

// Article is one normalized feed entry. Published is the feed's own date text, kept unparsed.
type Article struct {
	Title     string `json:"title"`
	Link      string `json:"link"`
	Published string `json:"published"`
	Summary   string `json:"summary"`
	Source    string `json:"source"`
}
