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

// DefaultDanbooruBaseURL is the official Danbooru instance.
const DefaultDanbooruBaseURL = "https://danbooru.donmai.us"

// Danbooru allows 2 requests/second for anonymous users and more with an
// API key. We stay conservatively below the anonymous ceiling.
var danbooruDefaults = ratelimitDefaults{
	delay:         600 * time.Millisecond,
	maxConcurrent: 3,
}

// danbooruAPI is the parse/query strategy for Danbooru-style JSON APIs.
type danbooruAPI struct {
	baseURL string
	login   string
	apiKey  string
}

// newDanbooru creates the Danbooru adapter: the shared booru client plus
// the Danbooru strategy.
func newDanbooru(opts Options) *booruClient {
	baseURL := DefaultDanbooruBaseURL
	if opts.Credentials.BaseURL != "" {
		baseURL = opts.Credentials.BaseURL
	}

	defaults := danbooruDefaults
	if opts.Credentials.APIKey != "" {
		// Authenticated users get a higher upstream budget.
		defaults.delay = 500 * time.Millisecond
	}

	api := &danbooruAPI{
		baseURL: strings.TrimRight(baseURL, "/"),
		login:   opts.Credentials.Username,
		apiKey:  opts.Credentials.APIKey,
	}
	return newBooruClient(model.SourceDanbooru, baseURL, api, opts, defaults)
}

func (a *danbooruAPI) searchPath() string { return "/posts.json" }

func (a *danbooruAPI) maxPageSize() int { return 200 }

// searchParams builds one page's query. Danbooru pages are 1-based and tag
// expressions carry the rating/score/filetype/order qualifiers.
func (a *danbooruAPI) searchParams(query string, criteria model.FilterCriteria, pageSize, page int) url.Values {
	tags := buildTagQuery(query, criteria)
	if criteria.FileExt != "" {
		tags = append(tags, "filetype:"+criteria.FileExt)
	}
	if criteria.Sort != "" {
		tags = append(tags, "order:"+criteria.Sort)
	}

	params := url.Values{
		"tags":  {strings.Join(tags, " ")},
		"limit": {strconv.Itoa(pageSize)},
		"page":  {strconv.Itoa(page + 1)},
	}
	if a.login != "" && a.apiKey != "" {
		params.Set("login", a.login)
		params.Set("api_key", a.apiKey)
	}
	return params
}

// danbooruPost is the subset of the upstream post shape we consume.
type danbooruPost struct {
	ID        int64  `json:"id"`
	FileURL   string `json:"file_url"`
	TagString string `json:"tag_string"`
	Artists   string `json:"tag_string_artist"`
	Width     *int   `json:"image_width"`
	Height    *int   `json:"image_height"`
	FileSize  int64  `json:"file_size"`
	Score     int    `json:"score"`
	Rating    string `json:"rating"`
}

// parsePage normalizes one posts.json response. Posts without a file URL
// (takedowns, restricted posts) are skipped.
func (a *danbooruAPI) parsePage(body []byte) ([]*model.ImageRecord, error) {
	var posts []danbooruPost
	if err := json.Unmarshal(body, &posts); err != nil {
		return nil, fmt.Errorf("decode posts: %w", err)
	}

	records := make([]*model.ImageRecord, 0, len(posts))
	for _, post := range posts {
		if post.FileURL == "" {
			continue
		}

		fileURL := post.FileURL
		if strings.HasPrefix(fileURL, "/") {
			fileURL = a.baseURL + fileURL
		}

		r := model.NewImageRecord(fileURL, model.SourceDanbooru)
		r.Tags = splitTags(post.TagString)
		r.Artist = strings.ReplaceAll(post.Artists, " ", ", ")
		r.Width = post.Width
		r.Height = post.Height
		r.FileSizeBytes = post.FileSize
		r.Score = post.Score
		r.Rating = post.Rating
		records = append(records, r)
	}
	return records, nil
}

// buildTagQuery joins the user query's tags with the rating and score
// qualifiers shared by booru sources.
func buildTagQuery(query string, criteria model.FilterCriteria) []string {
	tags := strings.Fields(query)
	if criteria.Rating != "" {
		tags = append(tags, "rating:"+criteria.Rating)
	}
	if criteria.MinScore > 0 {
		tags = append(tags, fmt.Sprintf("score:>=%d", criteria.MinScore))
	}
	return tags
}

// splitTags splits a space-separated tag string, returning nil for empty
// input.
func splitTags(tagString string) []string {
	if tagString == "" {
		return nil
	}
	return strings.Fields(tagString)
}
