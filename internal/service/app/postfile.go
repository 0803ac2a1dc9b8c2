package app

import (
	"encoding/json"
	"fmt"
	"os"

	"private_feed/internal/model"
)

// WritePost stores post as JSON at path.
func WritePost(path string, post model.Post) error {
	data, err := json.MarshalIndent(post, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadPost loads a post written by WritePost. The sealed body is not
// checked here; opening it reports bad data.
func ReadPost(path string) (model.Post, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Post{}, err
	}
	var post model.Post
	if err := json.Unmarshal(data, &post); err != nil {
		return model.Post{}, fmt.Errorf("%s: %w", path, err)
	}
	return post, nil
}
