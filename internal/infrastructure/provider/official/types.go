package official

import "encoding/json"

type apiError struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

type userData struct {
	ID              string `json:"id"`
	Username        string `json:"username"`
	ProfileImageURL string `json:"profile_image_url"`
}

type userResponse struct {
	Data   *userData  `json:"data"`
	Errors []apiError `json:"errors"`
}

type referencedTweet struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type tweetData struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	CreatedAt   string `json:"created_at"`
	Attachments *struct {
		MediaKeys []string `json:"media_keys"`
	} `json:"attachments"`
	ReferencedTweets []referencedTweet `json:"referenced_tweets"`
}

func (t tweetData) isRetweet() bool {
	for _, ref := range t.ReferencedTweets {
		if ref.Type == "retweeted" {
			return true
		}
	}
	return false
}

type mediaData struct {
	MediaKey        string          `json:"media_key"`
	Type            string          `json:"type"`
	URL             string          `json:"url"`
	PreviewImageURL string          `json:"preview_image_url"`
	Variants        json.RawMessage `json:"variants"`
}

type timelineResponse struct {
	Data     []tweetData `json:"data"`
	Includes struct {
		Media []mediaData `json:"media"`
	} `json:"includes"`
}
