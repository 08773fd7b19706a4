// internal/models/photo.go
package models

import "time"

// BlobExtension is appended to a photo identifier to form its blob key.
const BlobExtension = ".jpg"

type State string

const (
	StateUploaded  State = "uploaded"
	StateProcessed State = "processed"
)

// Photo is the metadata record kept for every uploaded image. PartitionKey and
// RowKey both carry the identifier.
type Photo struct {
	PartitionKey string    `json:"PartitionKey"`
	RowKey       string    `json:"RowKey"`
	Timestamp    time.Time `json:"Timestamp"`
	URL          string    `json:"Url"`
	State        State     `json:"State"`
	Result       []string  `json:"Result"`
}

// Label is a single tag returned by the image tagging service.
type Label struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

func NewPhoto(id string, uploadedAt time.Time, url string) *Photo {
	return &Photo{
		PartitionKey: id,
		RowKey:       id,
		Timestamp:    uploadedAt.UTC(),
		URL:          url,
		State:        StateUploaded,
		Result:       []string{},
	}
}

func (p *Photo) ID() string {
	return p.RowKey
}

// MarkProcessed stores the tagging result and moves the record to processed.
func (p *Photo) MarkProcessed(url string, tags []string) {
	if tags == nil {
		tags = []string{}
	}
	p.URL = url
	p.Result = tags
	p.State = StateProcessed
}

func BlobKey(id string) string {
	return id + BlobExtension
}
