// Package config loads process settings from the environment and an
// optional YAML file, plus the feed list from the blob store.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-playground/validator/v10"

	"github.com/rbarrimond/rssmill/internal/store"
)

// Settings holds everything the process needs to run. Every name has a
// working default; only credentials and the storage account must come from
// the environment.
type Settings struct {
	// Azure storage account name. Empty selects the local sqlite and
	// filesystem backends.
	StorageAccount string `yaml:"storage_account" env:"STORAGE_ACCOUNT"`
	LocalDB        string `yaml:"local_db" env:"LOCAL_DB" default:"rssmill.db"`
	LocalBlobDir   string `yaml:"local_blob_dir" env:"LOCAL_BLOB_DIR" default:"blobs"`

	FeedsTable       string `yaml:"feeds_table" env:"FEEDS_TABLE" default:"feeds"`
	EntriesTable     string `yaml:"entries_table" env:"ENTRIES_TABLE" default:"entries"`
	EnrichmentsTable string `yaml:"enrichments_table" env:"ENRICHMENTS_TABLE" default:"aienrichment"`
	PostsTable       string `yaml:"posts_table" env:"POSTS_TABLE" default:"posts"`
	EntriesContainer string `yaml:"entries_container" env:"ENTRIES_CONTAINER" default:"entries"`

	FeedQueue  string `yaml:"feed_queue" env:"FEED_QUEUE" default:"feed-urls"`
	EntryQueue string `yaml:"entry_queue" env:"ENTRY_QUEUE" default:"entry-batches"`

	// Feed list location in the blob store.
	ConfigContainer string `yaml:"config_container" env:"CONFIG_CONTAINER" default:"config"`
	FeedsBlob       string `yaml:"feeds_blob" env:"FEEDS_BLOB" default:"feeds.json"`

	OpenAIKey      string `yaml:"openai_key" env:"OPENAI_KEY"`
	OpenAIBaseURL  string `yaml:"openai_base_url" env:"OPENAI_BASE_URL"`
	ChatModel      string `yaml:"chat_model" env:"CHAT_MODEL"`
	EmbeddingModel string `yaml:"embedding_model" env:"EMBEDDING_MODEL"`

	// CascadeBlobs deletes blob-backed content together with its record.
	CascadeBlobs bool `yaml:"cascade_blobs" env:"CASCADE_BLOBS" default:"false"`

	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL" default:"24h"`
}

// Load reads settings from the environment, overlaid on the given YAML
// files. Missing files are skipped.
func Load(files ...string) (Settings, error) {
	present := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}

	var s Settings
	loader := aconfig.LoaderFor(&s, aconfig.Config{
		EnvPrefix:          "RSSMILL",
		SkipFlags:          true,
		AllowUnknownFields: true,
		Files:              present,
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
			".yml":  aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}
	return s, nil
}

// feedList is the JSON document stored in the config blob.
type feedList struct {
	Feeds []string `json:"feeds"`
}

var urlCheck = validator.New()

// LoadFeeds fetches the feed URL list from the blob store. An absent,
// empty, or malformed list is a fatal configuration error.
func LoadFeeds(ctx context.Context, blobs store.BlobClient, s Settings) ([]string, error) {
	data, err := blobs.Get(ctx, s.ConfigContainer, s.FeedsBlob)
	if err != nil {
		return nil, fmt.Errorf("read feed list %s/%s: %w", s.ConfigContainer, s.FeedsBlob, err)
	}

	var list feedList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse feed list %s/%s: %w", s.ConfigContainer, s.FeedsBlob, err)
	}
	if len(list.Feeds) == 0 {
		return nil, fmt.Errorf("feed list %s/%s is empty", s.ConfigContainer, s.FeedsBlob)
	}
	for _, u := range list.Feeds {
		if err := urlCheck.Var(u, "required,http_url"); err != nil {
			return nil, fmt.Errorf("feed list contains invalid URL %q", u)
		}
	}
	return list.Feeds, nil
}
