package source

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nekozuka/imgcatcher/internal/model"
)

// DefaultGelbooruBaseURL is the official Gelbooru instance.
const DefaultGelbooruBaseURL = "https://gelbooru.com"

var gelbooruDefaults = ratelimitDefaults{
	delay:         600 * time.Millisecond,
	maxConcurrent: 3,
}

// gelbooruAPI is the parse/query strategy for Gelbooru. Gelbooru reuses the
// booru client but differs in endpoint, pagination (0-based "pid"), and
// response envelope.
type gelbooruAPI struct{}

// newGelbooru creates the Gelbooru adapter by composing the shared booru
// client with the Gelbooru strategy.
func newGelbooru(opts Options) *booruClient {
	return newBooruClient(model.SourceGelbooru, DefaultGelbooruBaseURL, &gelbooruAPI{}, opts, gelbooruDefaults)
}

func (a *gelbooruAPI) searchPath() string { return "/index.php" }

func (a *gelbooruAPI) maxPageSize() int { return 100 }

func (a *gelbooruAPI) searchParams(query string, criteria model.FilterCriteria, pageSize, page int) url.Values {
	return url.Values{
		"page":  {"dapi"},
		"s":     {"post"},
		"q":     {"index"},
		"json":  {"1"},
		"tags":  {strings.Join(buildTagQuery(query, criteria), " ")},
		"limit": {strconv.Itoa(pageSize)},
		"pid":   {strconv.Itoa(page)},
	}
}

// gelbooruPost is the subset of the upstream post shape we consume.
type gelbooruPost struct {
	ID      int64  `json:"id"`
	FileURL string `json:"file_url"`
	Tags    string `json:"tags"`
	Owner   string `json:"owner"`
	Width   *int   `json:"width"`
	Height  *int   `json:"height"`
	Score   int    `json:"score"`
	Rating  string `json:"rating"`
}

// gelbooruEnvelope is the modern API response wrapper. Older API versions
// return a bare post array instead.
type gelbooruEnvelope struct {
	Post []gelbooruPost `json:"post"`
}

// parsePage normalizes one Gelbooru response, accepting both the enveloped
// and the bare-array shapes.
func (a *gelbooruAPI) parsePage(body []byte) ([]*model.ImageRecord, error) {
	var posts []gelbooruPost

	var envelope gelbooruEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil {
		posts = envelope.Post
	} else if arrErr := json.Unmarshal(body, &posts); arrErr != nil {
		return nil, fmt.Errorf("decode posts: %w", err)
	}

	records := make([]*model.ImageRecord, 0, len(posts))
	for _, post := range posts {
		if post.FileURL == "" {
			continue
		}

		r := model.NewImageRecord(post.FileURL, model.SourceGelbooru)
		r.Tags = splitTags(post.Tags)
		r.Artist = post.Owner
		r.Width = post.Width
		r.Height = post.Height
		r.Score = post.Score
		r.Rating = post.Rating
		records = append(records, r)
	}
	return records, nil
}
